package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"capture-uploader/entities"
)

var ErrSessionStillActive = errors.New("session must be ended before batch upload")

type QueueStore interface {
	VideoQueue
	FindVideo(ctx context.Context, id string) (*entities.Video, error)
	RemoveVideo(ctx context.Context, id string) error
	FindSession(ctx context.Context, id string) (*entities.Session, error)
	PendingVideos(ctx context.Context) ([]*entities.Video, error)
	MarkSessionUploaded(ctx context.Context, sessionId string) error
}

type SyncService interface {
	// UploadSession runs one batch pass over an ended session and then flags
	// the session as uploaded, whatever the per-video outcomes. A pass cut
	// short by cancellation leaves the flag unset.
	UploadSession(ctx context.Context, sessionId string, onProgress BatchProgressFunc) (BatchResult, error)
	UploadPending(ctx context.Context, onProgress BatchProgressFunc) (BatchResult, error)
}

type syncService struct {
	store QueueStore
	batch BatchService
}

func NewSyncService(store QueueStore, batch BatchService) SyncService {
	return &syncService{store: store, batch: batch}
}

func (s *syncService) UploadSession(ctx context.Context, sessionId string, onProgress BatchProgressFunc) (BatchResult, error) {
	session, err := s.store.FindSession(ctx, sessionId)
	if err != nil {
		return BatchResult{}, err
	}
	if session.IsActive {
		return BatchResult{}, fmt.Errorf("%w: %s", ErrSessionStillActive, sessionId)
	}

	videos := session.VideosToUpload()
	zerolog.Ctx(ctx).Info().Str("session_id", sessionId).Int("videos", len(videos)).Msg("uploading session")

	result := s.batch.UploadMany(ctx, videos, onProgress)
	if ctx.Err() != nil {
		zerolog.Ctx(ctx).Warn().Str("session_id", sessionId).Msg("session upload interrupted")
		return result, nil
	}
	if err := s.store.MarkSessionUploaded(ctx, sessionId); err != nil {
		return result, fmt.Errorf("mark session uploaded: %w", err)
	}
	return result, nil
}

func (s *syncService) UploadPending(ctx context.Context, onProgress BatchProgressFunc) (BatchResult, error) {
	pending, err := s.store.PendingVideos(ctx)
	if err != nil {
		return BatchResult{}, err
	}

	var videos []*entities.Video
	for _, v := range pending {
		if v.UploadStatus.CanBeginUpload() {
			videos = append(videos, v)
		}
	}
	zerolog.Ctx(ctx).Info().Int("videos", len(videos)).Msg("uploading pending captures")

	return s.batch.UploadMany(ctx, videos, onProgress), nil
}
