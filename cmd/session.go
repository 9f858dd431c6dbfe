package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"capture-uploader/config"
	"capture-uploader/entities"
	"capture-uploader/pkg/localstore"
)

func session(config *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "start or end a coaching session",
	}
	cmd.AddCommand(sessionStart(config), sessionEnd(config))
	return cmd
}

func sessionStart(cfg *config.Config) *cobra.Command {
	var params localstore.SessionParams
	cmd := &cobra.Command{
		Use:   "start",
		Short: "start a session for one or more students",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.Agent.CoachId == "" || cfg.Agent.OrganizationId == "" {
				return config.ErrMissingIdentity
			}
			a, err := openAgent(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			params.CoachId = cfg.Agent.CoachId
			params.OrganizationId = cfg.Agent.OrganizationId
			sess, err := a.store.CreateSession(cmd.Context(), params)
			if errors.Is(err, localstore.ErrRemoteRegistration) {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: session kept locally, remote registration failed: %v\n", err)
			} else if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "session %s started for %d student(s)\n", sess.ID, len(sess.StudentIds))
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&params.StudentIds, "students", nil, "student ids")
	cmd.Flags().StringVar(&params.Environment, "environment", "", "environment id")
	cmd.Flags().StringVar(&params.EnvironmentName, "environment-name", "", "environment display name")
	_ = cmd.MarkFlagRequired("students")
	return cmd
}

func sessionEnd(config *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "end",
		Short: "end the active session; its videos stay queued",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openAgent(cmd.Context(), config)
			if err != nil {
				return err
			}
			defer a.Close()

			sess, err := a.store.EndSession(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "session %s ended with %d video(s)\n", sess.ID, len(sess.Videos))
			return nil
		},
	}
}

func capture(config *config.Config) *cobra.Command {
	var (
		file      string
		students  []string
		trick     string
		landed    bool
		comment   string
		location  string
		duration  float64
		voiceNote bool
		saveLater bool
	)
	cmd := &cobra.Command{
		Use:   "capture",
		Short: "queue a recorded clip",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openAgent(ctx, config)
			if err != nil {
				return err
			}
			defer a.Close()

			video := &entities.Video{
				ID:              uuid.NewString(),
				LocalUri:        file,
				DurationSeconds: duration,
				TrickName:       trick,
				Comment:         comment,
				HasVoiceNote:    voiceNote,
				Location:        location,
				StudentIds:      students,
				CoachId:         config.Agent.CoachId,
				OrganizationId:  config.Agent.OrganizationId,
				CreatedAt:       time.Now().UTC(),
			}
			if cmd.Flags().Changed("landed") {
				video.Landed = &landed
			}

			if saveLater {
				if err := a.store.SavePending(ctx, video); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "video %s saved for later upload\n", video.ID)
				return nil
			}

			active, err := a.store.ActiveSession(ctx)
			if err != nil {
				return err
			}
			if active == nil {
				return fmt.Errorf("%w: use --later for a quick capture", localstore.ErrNoActiveSession)
			}
			if len(video.StudentIds) == 0 {
				video.StudentIds = active.StudentIds
			}
			if err := a.store.AddVideo(ctx, video); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "video %s added to session %s\n", video.ID, active.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "path of the recorded clip")
	cmd.Flags().StringSliceVar(&students, "students", nil, "student ids, defaults to the session's")
	cmd.Flags().StringVar(&trick, "trick", "", "trick name")
	cmd.Flags().BoolVar(&landed, "landed", false, "whether the trick was landed")
	cmd.Flags().StringVar(&comment, "comment", "", "coach comment")
	cmd.Flags().StringVar(&location, "location", "", "where the clip was recorded")
	cmd.Flags().Float64Var(&duration, "duration", 0, "clip length in seconds")
	cmd.Flags().BoolVar(&voiceNote, "voice-note", false, "clip carries a voice note")
	cmd.Flags().BoolVar(&saveLater, "later", false, "save outside any session for later upload")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
