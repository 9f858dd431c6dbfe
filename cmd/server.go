package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"capture-uploader/config"
	server2 "capture-uploader/server"
	"capture-uploader/service"
)

func server(config *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "start the upload broker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return server2.RunHttp(config)
		},
	}
}

func token(config *config.Config) *cobra.Command {
	var (
		organizationId string
		coachId        string
		ttl            time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "issue a device token for a coach",
		RunE: func(cmd *cobra.Command, args []string) error {
			if config.Broker.JwtSecret == "" {
				return fmt.Errorf("broker.jwt_secret is not set")
			}
			tok, err := server2.IssueToken(config.Broker.JwtSecret, service.Identity{
				OrganizationId: organizationId,
				CoachId:        coachId,
			}, ttl, time.Now())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), tok)
			return err
		},
	}
	cmd.Flags().StringVar(&organizationId, "org", "", "organization id")
	cmd.Flags().StringVar(&coachId, "coach", "", "coach id")
	cmd.Flags().DurationVar(&ttl, "ttl", 30*24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("org")
	_ = cmd.MarkFlagRequired("coach")
	return cmd
}
