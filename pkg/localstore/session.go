package localstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"capture-uploader/constant"
	"capture-uploader/entities"
)

type SessionParams struct {
	Environment     string
	EnvironmentName string
	StudentIds      []string
	CoachId         string
	OrganizationId  string
}

// CreateSession starts a session locally first. When only the remote
// registration fails, the session is returned together with an error
// wrapping ErrRemoteRegistration and the caller decides what to surface.
func (s *Store) CreateSession(ctx context.Context, params SessionParams) (*entities.Session, error) {
	s.mu.Lock()
	st, err := s.load()
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if st.active != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrSessionActive, st.active.ID)
	}

	session := &entities.Session{
		ID:              uuid.NewString(),
		Environment:     params.Environment,
		EnvironmentName: params.EnvironmentName,
		StudentIds:      append([]string(nil), params.StudentIds...),
		CoachId:         params.CoachId,
		OrganizationId:  params.OrganizationId,
		StartTime:       s.now().UTC(),
		IsActive:        true,
		Videos:          []*entities.Video{},
	}
	st.active = session
	err = s.save(st)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	zerolog.Ctx(ctx).Info().Str("session_id", session.ID).Int("students", len(session.StudentIds)).Msg("session started")

	if err := s.register(ctx, cloneSession(session)); err != nil {
		return session, errors.Join(ErrRemoteRegistration, err)
	}
	return session, nil
}

// ActiveSession returns nil when no session is running.
func (s *Store) ActiveSession(ctx context.Context) (*entities.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.load()
	if err != nil {
		return nil, err
	}
	if st.active == nil {
		return nil, nil
	}
	return cloneSession(st.active), nil
}

// AddVideo appends a captured video to the active session.
func (s *Store) AddVideo(ctx context.Context, video *entities.Video) error {
	if err := video.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.load()
	if err != nil {
		return err
	}
	if st.active == nil {
		return ErrNoActiveSession
	}
	if st.findVideo(video.ID) != nil {
		return fmt.Errorf("%w: %s", ErrDuplicateVideo, video.ID)
	}

	v := video.Clone()
	v.SessionId = st.active.ID
	if v.UploadStatus == "" {
		v.UploadStatus = constant.UploadStatusPending
	}
	st.active.Videos = append(st.active.Videos, v)

	if err := s.save(st); err != nil {
		return err
	}
	zerolog.Ctx(ctx).Debug().Str("video_id", v.ID).Str("session_id", v.SessionId).Msg("video queued")
	return nil
}

// EndSession archives the active session. Video upload states are untouched.
func (s *Store) EndSession(ctx context.Context) (*entities.Session, error) {
	s.mu.Lock()
	st, err := s.load()
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if st.active == nil {
		s.mu.Unlock()
		return nil, ErrNoActiveSession
	}

	ended := st.active
	end := s.now().UTC()
	ended.EndTime = &end
	ended.IsActive = false
	st.historical = append(st.historical, ended)
	st.active = nil
	err = s.save(st)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	zerolog.Ctx(ctx).Info().Str("session_id", ended.ID).Int("videos", len(ended.Videos)).Msg("session ended")
	if err := s.register(ctx, cloneSession(ended)); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("session_id", ended.ID).Msg("failed to sync ended session")
	}
	return cloneSession(ended), nil
}

// MarkSessionUploaded records that a batch pass over the session has run,
// whatever the individual outcomes were.
func (s *Store) MarkSessionUploaded(ctx context.Context, sessionId string) error {
	s.mu.Lock()
	st, err := s.load()
	if err != nil {
		s.mu.Unlock()
		return err
	}

	var target *entities.Session
	for _, sess := range st.sessions() {
		if sess.ID == sessionId {
			target = sess
			break
		}
	}
	if target == nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionId)
	}
	target.Uploaded = true
	err = s.save(st)
	snapshot := cloneSession(target)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	if err := s.register(ctx, snapshot); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("session_id", sessionId).Msg("failed to sync uploaded flag")
	}
	return nil
}

func (s *Store) HistoricalSessions(ctx context.Context) ([]*entities.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.load()
	if err != nil {
		return nil, err
	}
	out := make([]*entities.Session, 0, len(st.historical))
	for _, sess := range st.historical {
		out = append(out, cloneSession(sess))
	}
	return out, nil
}

// FindSession looks in the active slot first, then the archive.
func (s *Store) FindSession(ctx context.Context, id string) (*entities.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.load()
	if err != nil {
		return nil, err
	}
	for _, sess := range st.sessions() {
		if sess.ID == id {
			return cloneSession(sess), nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
}

func (s *Store) register(ctx context.Context, session *entities.Session) error {
	if s.registrar == nil {
		return nil
	}
	return s.registrar.UpsertSession(ctx, session)
}

func cloneSession(sess *entities.Session) *entities.Session {
	c := *sess
	c.StudentIds = append(c.StudentIds[:0:0], sess.StudentIds...)
	if sess.EndTime != nil {
		end := *sess.EndTime
		c.EndTime = &end
	}
	c.Videos = make([]*entities.Video, 0, len(sess.Videos))
	for _, v := range sess.Videos {
		c.Videos = append(c.Videos, v.Clone())
	}
	return &c
}
