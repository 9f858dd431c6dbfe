package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/rs/zerolog"

	"capture-uploader/constant"
	"capture-uploader/dto"
	"capture-uploader/entities"
	"capture-uploader/pkg/objectkey"
	"capture-uploader/repository"
)

var ErrNonRetryable = errors.New("non-retryable error")

type VideoStatusUpdater interface {
	FindVideoById(ctx context.Context, id string) (*entities.Video, error)
	UpdateVideoStatus(ctx context.Context, id string, status constant.UploadStatus) error
}

type VerifyService interface {
	// VerifyUploaded checks that a row announced as uploaded points at an
	// object that exists, and downgrades the row to failed when it does not.
	VerifyUploaded(ctx context.Context, message dto.VideoUploadedMessage) error
}

type verifyService struct {
	storage ObjectStorage
	repo    VideoStatusUpdater
	bucket  string
}

func NewVerifyService(storage ObjectStorage, repo VideoStatusUpdater, bucket string) VerifyService {
	return &verifyService{storage: storage, repo: repo, bucket: bucket}
}

func (s *verifyService) VerifyUploaded(ctx context.Context, message dto.VideoUploadedMessage) error {
	logger := zerolog.Ctx(ctx).With().Str("video_id", message.VideoId).Str("key", message.ObjectKey).Logger()
	ctx = logger.WithContext(ctx)

	if err := objectkey.Authorize(message.OrganizationId, message.CoachId, message.ObjectKey); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("upload event references a foreign key")
		return errors.Join(ErrNonRetryable, err)
	}

	row, err := s.repo.FindVideoById(ctx, message.VideoId)
	if errors.Is(err, repository.ErrVideoNotFound) {
		zerolog.Ctx(ctx).Debug().Msg("video deleted before verification")
		return nil
	}
	if err != nil {
		return err
	}
	if row.UploadStatus != constant.UploadStatusUploaded || row.RemoteKey != message.ObjectKey {
		zerolog.Ctx(ctx).Debug().Str("status", row.UploadStatus.String()).Msg("row changed since the event, skipping")
		return nil
	}

	exists, err := s.exists(ctx, message.ObjectKey)
	if err != nil {
		return err
	}
	if !exists {
		zerolog.Ctx(ctx).Error().Msg("uploaded video has no object, downgrading row")
		if err := s.repo.UpdateVideoStatus(ctx, message.VideoId, constant.UploadStatusFailed); err != nil {
			return fmt.Errorf("downgrade video %s: %w", message.VideoId, err)
		}
		return nil
	}

	if message.ThumbnailKey != "" {
		thumbExists, err := s.exists(ctx, message.ThumbnailKey)
		if err != nil {
			return err
		}
		if !thumbExists {
			zerolog.Ctx(ctx).Warn().Str("thumbnail_key", message.ThumbnailKey).Msg("thumbnail missing for uploaded video")
		}
	}

	zerolog.Ctx(ctx).Debug().Msg("upload verified")
	return nil
}

func (s *verifyService) exists(ctx context.Context, key string) (bool, error) {
	_, err := s.storage.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return false, nil
	}
	return false, err
}
