package localstore

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"capture-uploader/constant"
	"capture-uploader/entities"
)

// SavePending stores a quick capture that belongs to no session.
func (s *Store) SavePending(ctx context.Context, video *entities.Video) error {
	if err := video.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.load()
	if err != nil {
		return err
	}
	if st.findVideo(video.ID) != nil {
		return fmt.Errorf("%w: %s", ErrDuplicateVideo, video.ID)
	}

	v := video.Clone()
	v.SessionId = ""
	v.UploadStatus = constant.UploadStatusPending
	v.UploadProgress = 0
	st.pending = append(st.pending, v)

	if err := s.save(st); err != nil {
		return err
	}
	zerolog.Ctx(ctx).Debug().Str("video_id", v.ID).Msg("video saved for later upload")
	return nil
}

func (s *Store) PendingVideos(ctx context.Context) ([]*entities.Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.load()
	if err != nil {
		return nil, err
	}
	out := make([]*entities.Video, 0, len(st.pending))
	for _, v := range st.pending {
		out = append(out, v.Clone())
	}
	return out, nil
}
