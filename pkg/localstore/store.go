// Package localstore is the device-side durable queue: the active coaching
// session, the archive of ended sessions, and quick captures saved for a
// later upload. Every record is a JSON file written atomically, so the store
// is the source of truth for upload state across process restarts.
package localstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"capture-uploader/entities"
)

const (
	activeSessionFile      = "active_session.json"
	historicalSessionsFile = "historical_sessions.json"
	pendingVideosFile      = "pending_videos.json"
)

var (
	ErrSessionActive      = errors.New("a session is already active")
	ErrNoActiveSession    = errors.New("no active session")
	ErrSessionNotFound    = errors.New("session not found")
	ErrVideoNotFound      = errors.New("video not found")
	ErrDuplicateVideo     = errors.New("video already queued")
	ErrRemoteRegistration = errors.New("session saved locally but remote registration failed")
)

// SessionRegistrar mirrors sessions to the backend datastore.
type SessionRegistrar interface {
	UpsertSession(ctx context.Context, session *entities.Session) error
}

type Store struct {
	fs        afero.Fs
	dir       string
	registrar SessionRegistrar
	now       func() time.Time

	mu sync.Mutex
}

// Open prepares the store in dir and downgrades any upload that was still
// marked uploading, since no operation survives a restart. A session left
// both active and archived by an interrupted EndSession is settled as ended.
func Open(ctx context.Context, fs afero.Fs, dir string, registrar SessionRegistrar) (*Store, error) {
	if err := fs.MkdirAll(dir, os.ModePerm); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	s := &Store{
		fs:        fs,
		dir:       dir,
		registrar: registrar,
		now:       time.Now,
	}

	recovered, err := s.recover()
	if err != nil {
		return nil, err
	}
	if recovered > 0 {
		zerolog.Ctx(ctx).Warn().Int("videos", recovered).Msg("requeued interrupted uploads as failed")
	}

	return s, nil
}

func (s *Store) recover() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.load()
	if err != nil {
		return 0, err
	}

	count := 0
	st.eachVideo(func(v *entities.Video) {
		if v.RecoverInterrupted() {
			count++
		}
	})
	if count == 0 && !st.repaired {
		return 0, nil
	}
	return count, s.save(st)
}

// FindVideo looks a video up in the active session, the archive and the pending list.
func (s *Store) FindVideo(ctx context.Context, id string) (*entities.Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.load()
	if err != nil {
		return nil, err
	}
	v := st.findVideo(id)
	if v == nil {
		return nil, fmt.Errorf("%w: %s", ErrVideoNotFound, id)
	}
	return v.Clone(), nil
}

// UpdateVideo replaces the stored record with the same id.
func (s *Store) UpdateVideo(ctx context.Context, video *entities.Video) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.load()
	if err != nil {
		return err
	}
	if !st.replaceVideo(video.Clone()) {
		return fmt.Errorf("%w: %s", ErrVideoNotFound, video.ID)
	}
	return s.save(st)
}

// RemoveVideo drops the record. Remote cleanup is the caller's job and must
// already have succeeded.
func (s *Store) RemoveVideo(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.load()
	if err != nil {
		return err
	}
	if !st.removeVideo(id) {
		return fmt.Errorf("%w: %s", ErrVideoNotFound, id)
	}
	return s.save(st)
}

type state struct {
	active     *entities.Session
	historical []*entities.Session
	pending    []*entities.Video

	// repaired is set when load dropped an active session that was already archived.
	repaired bool
}

func (st *state) sessions() []*entities.Session {
	out := make([]*entities.Session, 0, len(st.historical)+1)
	if st.active != nil {
		out = append(out, st.active)
	}
	return append(out, st.historical...)
}

func (st *state) eachVideo(fn func(v *entities.Video)) {
	for _, sess := range st.sessions() {
		for _, v := range sess.Videos {
			fn(v)
		}
	}
	for _, v := range st.pending {
		fn(v)
	}
}

func (st *state) findVideo(id string) *entities.Video {
	var found *entities.Video
	st.eachVideo(func(v *entities.Video) {
		if found == nil && v.ID == id {
			found = v
		}
	})
	return found
}

func (st *state) replaceVideo(video *entities.Video) bool {
	for _, sess := range st.sessions() {
		if i, _ := sess.FindVideo(video.ID); i >= 0 {
			sess.Videos[i] = video
			return true
		}
	}
	for i, v := range st.pending {
		if v.ID == video.ID {
			st.pending[i] = video
			return true
		}
	}
	return false
}

func (st *state) removeVideo(id string) bool {
	for _, sess := range st.sessions() {
		if i, _ := sess.FindVideo(id); i >= 0 {
			sess.Videos = append(sess.Videos[:i], sess.Videos[i+1:]...)
			return true
		}
	}
	for i, v := range st.pending {
		if v.ID == id {
			st.pending = append(st.pending[:i], st.pending[i+1:]...)
			return true
		}
	}
	return false
}

func (s *Store) load() (*state, error) {
	st := &state{}
	if err := s.readJSON(activeSessionFile, &st.active); err != nil {
		return nil, err
	}
	if err := s.readJSON(historicalSessionsFile, &st.historical); err != nil {
		return nil, err
	}
	if err := s.readJSON(pendingVideosFile, &st.pending); err != nil {
		return nil, err
	}

	// an interrupted EndSession leaves the session both archived and active;
	// the archived copy is the newer one
	if st.active != nil {
		for _, sess := range st.historical {
			if sess.ID == st.active.ID {
				st.active = nil
				st.repaired = true
				break
			}
		}
	}
	return st, nil
}

// save writes the archive before the active slot, so a failure between the
// two files can only leave a session in both, never in neither.
func (s *Store) save(st *state) error {
	if err := s.writeJSON(historicalSessionsFile, st.historical); err != nil {
		return err
	}
	if err := s.writeJSON(pendingVideosFile, st.pending); err != nil {
		return err
	}
	return s.writeJSON(activeSessionFile, st.active)
}

func (s *Store) readJSON(name string, v any) error {
	data, err := afero.ReadFile(s.fs, filepath.Join(s.dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}

func (s *Store) writeJSON(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}

	path := filepath.Join(s.dir, name)
	tmp := path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := s.fs.Rename(tmp, path); err != nil {
		return fmt.Errorf("commit %s: %w", name, err)
	}
	return nil
}
