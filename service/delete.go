package service

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"capture-uploader/constant"
	"capture-uploader/entities"
	"capture-uploader/pkg/objectkey"
)

type DeleteService interface {
	// DeleteVideo removes a video on explicit user request. An uploaded
	// video is removed remotely first; the local record only goes once that
	// succeeded.
	DeleteVideo(ctx context.Context, id string) error
}

type deleteService struct {
	store    QueueStore
	broker   GrantBroker
	metadata MetadataStore
	fs       afero.Fs
}

func NewDeleteService(store QueueStore, broker GrantBroker, metadata MetadataStore, fs afero.Fs) DeleteService {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &deleteService{store: store, broker: broker, metadata: metadata, fs: fs}
}

func (s *deleteService) DeleteVideo(ctx context.Context, id string) error {
	video, err := s.store.FindVideo(ctx, id)
	if err != nil {
		return err
	}
	logger := zerolog.Ctx(ctx).With().Str("video_id", id).Logger()
	ctx = logger.WithContext(ctx)

	switch video.UploadStatus {
	case constant.UploadStatusUploading:
		return entities.ErrUploadInProgress
	case constant.UploadStatusUploaded:
		if err := s.deleteRemote(ctx, video); err != nil {
			return err
		}
	case constant.UploadStatusFailed:
		s.sweepFailedAttempt(ctx, video)
	case constant.UploadStatusPending:
	default:
		return fmt.Errorf("unknown upload status %q", video.UploadStatus)
	}

	if err := s.store.RemoveVideo(ctx, id); err != nil {
		return err
	}

	for _, path := range []string{video.LocalUri, video.ThumbnailUrl} {
		if !isLocalPath(path) {
			continue
		}
		if err := s.fs.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			zerolog.Ctx(ctx).Warn().Err(err).Str("path", path).Msg("failed to remove local file")
		}
	}

	zerolog.Ctx(ctx).Info().Msg("video deleted")
	return nil
}

func (s *deleteService) deleteRemote(ctx context.Context, video *entities.Video) error {
	if err := s.broker.DeleteObject(ctx, video.RemoteKey); err != nil {
		return fmt.Errorf("delete remote video: %w", err)
	}
	if video.ThumbnailUrl != "" && !isLocalPath(video.ThumbnailUrl) {
		if err := s.broker.DeleteObject(ctx, objectkey.Thumbnail(video.RemoteKey)); err != nil {
			return fmt.Errorf("delete remote thumbnail: %w", err)
		}
	}
	if err := s.metadata.DeleteVideo(ctx, video.ID); err != nil {
		return fmt.Errorf("delete metadata row: %w", err)
	}
	return nil
}

// sweepFailedAttempt removes whatever a failed attempt may have left at the
// deterministic keys. It never blocks the local deletion.
func (s *deleteService) sweepFailedAttempt(ctx context.Context, video *entities.Video) {
	key, err := objectkey.Video(video)
	if err != nil {
		return
	}
	for _, k := range []string{key, objectkey.Thumbnail(key)} {
		if err := s.broker.DeleteObject(ctx, k); err != nil {
			zerolog.Ctx(ctx).Debug().Err(err).Str("key", k).Msg("sweep of failed attempt skipped")
		}
	}
}
