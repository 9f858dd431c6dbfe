package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"capture-uploader/constant"
	"capture-uploader/dto"
	"capture-uploader/entities"
	"capture-uploader/pkg/broker"
	"capture-uploader/pkg/objectkey"
	"capture-uploader/pkg/thumbnail"
	"capture-uploader/pkg/transfer"
	"capture-uploader/pkg/uploaderr"
)

// Progress checkpoints of one attempt. Byte transfer fills the range between
// progressAuthorized and progressTransferred.
const (
	progressThumbnail   = 10
	progressAuthorized  = 25
	progressTransferred = 85
	progressThumbUpload = 90
	progressDone        = 100
)

type GrantBroker interface {
	RequestUploadGrant(ctx context.Context, key, contentType string) (*broker.Grant, error)
	DeleteObject(ctx context.Context, key string) error
}

type ObjectTransfer interface {
	Put(ctx context.Context, grant *broker.Grant, body io.Reader, size int64, contentType string, progress transfer.ProgressFunc) error
}

type MetadataStore interface {
	UpsertVideo(ctx context.Context, video *entities.Video) error
	DeleteVideo(ctx context.Context, id string) error
}

type VideoQueue interface {
	UpdateVideo(ctx context.Context, video *entities.Video) error
}

type UploadNotifier interface {
	VideoUploaded(ctx context.Context, message dto.VideoUploadedMessage) error
}

type ProgressFunc func(progress int)

type UploadService interface {
	// Upload promotes one video from pending or failed to uploaded. The
	// returned video carries the final state, also on error.
	Upload(ctx context.Context, video *entities.Video, onProgress ProgressFunc) (*entities.Video, error)
}

type UploadDependencies struct {
	Broker          GrantBroker
	Transfer        ObjectTransfer
	Metadata        MetadataStore
	Queue           VideoQueue
	Thumbnails      thumbnail.Generator
	Notifier        UploadNotifier
	Fs              afero.Fs
	ThumbnailOffset time.Duration
}

type uploadService struct {
	deps UploadDependencies
}

func NewUploadService(deps UploadDependencies) UploadService {
	if deps.Fs == nil {
		deps.Fs = afero.NewOsFs()
	}
	if deps.ThumbnailOffset <= 0 {
		deps.ThumbnailOffset = thumbnail.DefaultOffset
	}
	return &uploadService{deps: deps}
}

func (s *uploadService) Upload(ctx context.Context, in *entities.Video, onProgress ProgressFunc) (video *entities.Video, err error) {
	video = in.Clone()
	logger := zerolog.Ctx(ctx).With().Str("video_id", video.ID).Logger()
	ctx = logger.WithContext(ctx)

	if err := video.BeginUpload(); err != nil {
		return video, err
	}
	if err := s.deps.Queue.UpdateVideo(ctx, video); err != nil {
		return in.Clone(), fmt.Errorf("mark uploading: %w", err)
	}
	zerolog.Ctx(ctx).Info().Msg("upload started")

	report := func(progress int) {
		if !video.SetProgress(progress) {
			return
		}
		if err := s.deps.Queue.UpdateVideo(ctx, video); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Int("progress", progress).Msg("failed to persist progress")
		}
		if onProgress != nil {
			onProgress(video.UploadProgress)
		}
	}

	var written []string
	defer func() {
		if err == nil {
			return
		}
		// cleanup runs even when the caller gave up on ctx
		cleanupCtx := context.WithoutCancel(ctx)
		zerolog.Ctx(ctx).Error().Err(err).Msg("upload failed")
		video.MarkFailed()
		s.compensate(cleanupCtx, written)
		if updateErr := s.deps.Queue.UpdateVideo(cleanupCtx, video); updateErr != nil {
			zerolog.Ctx(ctx).Error().Err(updateErr).Msg("failed to update upload status")
		}
	}()

	info, err := s.deps.Fs.Stat(video.LocalUri)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return video, fmt.Errorf("%w: %s", uploaderr.ErrFileNotFound, video.LocalUri)
		}
		return video, err
	}

	localThumb := s.localThumbnail(ctx, video)
	report(progressThumbnail)

	key, err := objectkey.Video(video)
	if err != nil {
		return video, err
	}
	grant, err := s.deps.Broker.RequestUploadGrant(ctx, key, constant.ContentTypeVideo)
	if err != nil {
		return video, err
	}
	report(progressAuthorized)

	if err = s.put(ctx, grant, video.LocalUri, info.Size(), constant.ContentTypeVideo, func(sent, total int64) {
		if total > 0 {
			report(progressAuthorized + int((progressTransferred-progressAuthorized)*sent/total))
		}
	}); err != nil {
		return video, err
	}
	written = append(written, grant.Key)
	report(progressTransferred)

	thumbUrl, thumbKey := s.uploadThumbnail(ctx, grant.Key, localThumb)
	if thumbKey != "" {
		written = append(written, thumbKey)
	}
	report(progressThumbUpload)

	uploaded := video.Clone()
	uploaded.MarkUploaded(grant.Key, grant.PublicUrl, thumbUrl)
	if err = s.deps.Metadata.UpsertVideo(ctx, uploaded); err != nil {
		if !errors.Is(err, uploaderr.ErrMetadataPersist) {
			err = errors.Join(uploaderr.ErrMetadataPersist, err)
		}
		return video, err
	}

	video = uploaded
	if err := s.deps.Queue.UpdateVideo(ctx, video); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("metadata persisted but local status update failed")
	}
	if onProgress != nil {
		onProgress(progressDone)
	}

	if localThumb != "" {
		if err := s.deps.Fs.Remove(localThumb); err != nil && !errors.Is(err, os.ErrNotExist) {
			zerolog.Ctx(ctx).Warn().Err(err).Str("path", localThumb).Msg("failed to remove local thumbnail")
		}
	}

	s.notify(ctx, video, thumbKey)
	zerolog.Ctx(ctx).Info().Str("key", video.RemoteKey).Bool("has_thumbnail", thumbKey != "").Msg("upload completed")

	return video, nil
}

// localThumbnail reuses a thumbnail left by an earlier attempt, or generates one.
func (s *uploadService) localThumbnail(ctx context.Context, video *entities.Video) string {
	if isLocalPath(video.ThumbnailUrl) {
		if _, err := s.deps.Fs.Stat(video.ThumbnailUrl); err == nil {
			return video.ThumbnailUrl
		}
	}
	if s.deps.Thumbnails == nil {
		return ""
	}

	path := s.deps.Thumbnails.Generate(ctx, video.LocalUri, s.deps.ThumbnailOffset)
	if path == "" {
		return ""
	}
	video.ThumbnailUrl = path
	return path
}

// uploadThumbnail never fails the video; on any error the record goes on
// without a remote thumbnail.
func (s *uploadService) uploadThumbnail(ctx context.Context, videoKey, localThumb string) (string, string) {
	if localThumb == "" {
		return "", ""
	}

	grant, err := s.deps.Broker.RequestUploadGrant(ctx, objectkey.Thumbnail(videoKey), constant.ContentTypeThumbnail)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("thumbnail grant failed, continuing without thumbnail")
		return "", ""
	}

	info, err := s.deps.Fs.Stat(localThumb)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("thumbnail vanished, continuing without thumbnail")
		return "", ""
	}
	if err := s.put(ctx, grant, localThumb, info.Size(), constant.ContentTypeThumbnail, nil); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("thumbnail upload failed, continuing without thumbnail")
		return "", ""
	}
	return grant.PublicUrl, grant.Key
}

func (s *uploadService) put(ctx context.Context, grant *broker.Grant, path string, size int64, contentType string, progress transfer.ProgressFunc) error {
	f, err := s.deps.Fs.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", uploaderr.ErrFileNotFound, path)
		}
		return err
	}
	defer func() { _ = f.Close() }()

	return s.deps.Transfer.Put(ctx, grant, f, size, contentType, progress)
}

func (s *uploadService) compensate(ctx context.Context, keys []string) {
	for _, key := range keys {
		if err := s.deps.Broker.DeleteObject(ctx, key); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("compensating delete failed")
			continue
		}
		zerolog.Ctx(ctx).Info().Str("key", key).Msg("removed object written by failed attempt")
	}
}

func (s *uploadService) notify(ctx context.Context, video *entities.Video, thumbKey string) {
	if s.deps.Notifier == nil {
		return
	}
	err := s.deps.Notifier.VideoUploaded(ctx, dto.VideoUploadedMessage{
		VideoId:        video.ID,
		OrganizationId: video.OrganizationId,
		CoachId:        video.CoachId,
		ObjectKey:      video.RemoteKey,
		ThumbnailKey:   thumbKey,
	})
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("failed to publish upload event")
	}
}

func isLocalPath(uri string) bool {
	return uri != "" && !strings.HasPrefix(uri, "http://") && !strings.HasPrefix(uri, "https://")
}
