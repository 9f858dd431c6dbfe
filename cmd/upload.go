package cmd

import (
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"capture-uploader/config"
	"capture-uploader/constant"
	"capture-uploader/entities"
	"capture-uploader/service"
)

const maxPrintedErrors = 5

func upload(config *config.Config) *cobra.Command {
	var pending bool
	cmd := &cobra.Command{
		Use:   "upload [session-id]",
		Short: "upload an ended session, or the videos saved for later",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !pending && len(args) == 0 {
				return fmt.Errorf("give a session id or --pending")
			}

			// interrupting marks the running video failed; it is retried next time
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			a, err := openAgent(ctx, config)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.requireRemote(); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			progress := func(overall float64, index, total int) {
				fmt.Fprintf(out, "\r[%d/%d] %5.1f%%", index+1, total, overall)
			}

			var result service.BatchResult
			if pending {
				result, err = a.syncService(ctx).UploadPending(ctx, progress)
			} else {
				result, err = a.syncService(ctx).UploadSession(ctx, args[0], progress)
			}
			fmt.Fprintln(out)
			if err != nil {
				return err
			}

			printResult(out, result)
			if result.Failed > 0 {
				return fmt.Errorf("%d video(s) failed to upload", result.Failed)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&pending, "pending", false, "upload videos saved outside sessions")
	return cmd
}

func printResult(out io.Writer, result service.BatchResult) {
	fmt.Fprintf(out, "%d uploaded, %d failed\n", result.Successful, result.Failed)
	for i, msg := range result.Errors {
		if i == maxPrintedErrors {
			fmt.Fprintf(out, "  ... and %d more\n", len(result.Errors)-maxPrintedErrors)
			break
		}
		fmt.Fprintf(out, "  %s\n", msg)
	}
}

func status(config *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "show sessions and the upload state of their videos",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openAgent(ctx, config)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			active, err := a.store.ActiveSession(ctx)
			if err != nil {
				return err
			}
			if active != nil {
				fmt.Fprintf(out, "active   %s  started %s  %s\n", active.ID, active.StartTime.Format("2006-01-02 15:04"), summarize(active.Videos))
			}

			sessions, err := a.store.HistoricalSessions(ctx)
			if err != nil {
				return err
			}
			for _, s := range sessions {
				state := "ended"
				if s.Uploaded {
					state = "synced"
				}
				fmt.Fprintf(out, "%-8s %s  started %s  %s\n", state, s.ID, s.StartTime.Format("2006-01-02 15:04"), summarize(s.Videos))
			}

			pending, err := a.store.PendingVideos(ctx)
			if err != nil {
				return err
			}
			if len(pending) > 0 {
				fmt.Fprintf(out, "later    %s\n", summarize(pending))
			}
			return nil
		},
	}
}

func summarize(videos []*entities.Video) string {
	counts := map[constant.UploadStatus]int{}
	for _, v := range videos {
		counts[v.UploadStatus]++
	}
	return fmt.Sprintf("%d video(s): %d pending, %d uploading, %d uploaded, %d failed",
		len(videos),
		counts[constant.UploadStatusPending],
		counts[constant.UploadStatusUploading],
		counts[constant.UploadStatusUploaded],
		counts[constant.UploadStatusFailed])
}

func deleteVideo(config *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <video-id>",
		Short: "delete a video locally and, once uploaded, remotely",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openAgent(ctx, config)
			if err != nil {
				return err
			}
			defer a.Close()

			video, err := a.store.FindVideo(ctx, args[0])
			if err != nil {
				return err
			}
			if video.UploadStatus == constant.UploadStatusUploaded {
				if err := a.requireRemote(); err != nil {
					return err
				}
			}

			if err := a.deleteService().DeleteVideo(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "video %s deleted\n", args[0])
			return nil
		},
	}
}
