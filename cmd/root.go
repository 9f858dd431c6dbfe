package cmd

import (
	"github.com/spf13/cobra"

	"capture-uploader/config"
)

func Root(config *config.Config) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "capture-uploader",
		Short:         "offline-first video capture and upload",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(
		server(config),
		token(config),
		session(config),
		capture(config),
		upload(config),
		status(config),
		deleteVideo(config),
	)
	return rootCmd
}
