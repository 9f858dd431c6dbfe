package localstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"

	"capture-uploader/constant"
	"capture-uploader/entities"
)

const storeDir = "/data/queue"

type fakeRegistrar struct {
	err      error
	sessions []*entities.Session
	// rewrite mimics a datastore that writes column values back into the struct
	rewrite func(*entities.Session)
}

func (f *fakeRegistrar) UpsertSession(ctx context.Context, session *entities.Session) error {
	if f.rewrite != nil {
		f.rewrite(session)
	}
	f.sessions = append(f.sessions, session)
	return f.err
}

func openStore(t *testing.T, fs afero.Fs, registrar SessionRegistrar) *Store {
	t.Helper()
	s, err := Open(context.Background(), fs, storeDir, registrar)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return s
}

func capture(id string) *entities.Video {
	landed := false
	return &entities.Video{
		ID:              id,
		LocalUri:        "/captures/" + id + ".mp4",
		ThumbnailUrl:    "/captures/" + id + "_thumbnail.jpg",
		DurationSeconds: 7.5,
		TrickName:       "kickflip",
		Landed:          &landed,
		Comment:         "almost",
		HasVoiceNote:    true,
		Location:        "skatepark",
		StudentIds:      []string{"student-1", "student-2"},
		CoachId:         "coach-1",
		OrganizationId:  "org-1",
		CreatedAt:       time.Date(2026, 4, 1, 9, 30, 0, 0, time.UTC),
	}
}

func startSession(t *testing.T, s *Store) *entities.Session {
	t.Helper()
	sess, err := s.CreateSession(context.Background(), SessionParams{
		Environment:     "outdoor",
		EnvironmentName: "Riverside park",
		StudentIds:      []string{"student-1", "student-2"},
		CoachId:         "coach-1",
		OrganizationId:  "org-1",
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return sess
}

func TestCreateSessionOnlyOneActive(t *testing.T) {
	fs := afero.NewMemMapFs()
	reg := &fakeRegistrar{}
	s := openStore(t, fs, reg)

	sess := startSession(t, s)
	if !sess.IsActive || sess.ID == "" {
		t.Fatalf("unexpected session %+v", sess)
	}
	if len(reg.sessions) != 1 {
		t.Errorf("expected remote registration, got %d calls", len(reg.sessions))
	}

	_, err := s.CreateSession(context.Background(), SessionParams{StudentIds: []string{"x"}})
	if !errors.Is(err, ErrSessionActive) {
		t.Errorf("expected ErrSessionActive, got %v", err)
	}
}

func TestCreateSessionSurvivesRemoteFailure(t *testing.T) {
	s := openStore(t, afero.NewMemMapFs(), &fakeRegistrar{err: errors.New("offline")})

	sess, err := s.CreateSession(context.Background(), SessionParams{StudentIds: []string{"student-1"}, CoachId: "c", OrganizationId: "o"})
	if !errors.Is(err, ErrRemoteRegistration) {
		t.Fatalf("expected ErrRemoteRegistration, got %v", err)
	}
	if sess == nil {
		t.Fatal("expected local session despite remote failure")
	}

	active, _ := s.ActiveSession(context.Background())
	if active == nil || active.ID != sess.ID {
		t.Errorf("expected session %s to be active", sess.ID)
	}
}

func TestAddVideoValidation(t *testing.T) {
	s := openStore(t, afero.NewMemMapFs(), nil)

	if err := s.AddVideo(context.Background(), capture("v1")); !errors.Is(err, ErrNoActiveSession) {
		t.Errorf("expected ErrNoActiveSession, got %v", err)
	}

	startSession(t, s)
	untagged := capture("v2")
	untagged.StudentIds = nil
	if err := s.AddVideo(context.Background(), untagged); !errors.Is(err, entities.ErrMissingStudents) {
		t.Errorf("expected ErrMissingStudents, got %v", err)
	}

	if err := s.AddVideo(context.Background(), capture("v3")); err != nil {
		t.Fatalf("add video: %v", err)
	}
	if err := s.AddVideo(context.Background(), capture("v3")); !errors.Is(err, ErrDuplicateVideo) {
		t.Errorf("expected ErrDuplicateVideo, got %v", err)
	}
}

func TestQueueSurvivesRestart(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := openStore(t, fs, nil)
	sess := startSession(t, s)

	original := capture("v1")
	if err := s.AddVideo(context.Background(), original); err != nil {
		t.Fatalf("add video: %v", err)
	}

	inflight := capture("v2")
	if err := s.AddVideo(context.Background(), inflight); err != nil {
		t.Fatalf("add video: %v", err)
	}
	inflight.SessionId = sess.ID
	_ = inflight.BeginUpload()
	inflight.SetProgress(42)
	if err := s.UpdateVideo(context.Background(), inflight); err != nil {
		t.Fatalf("update video: %v", err)
	}

	restarted := openStore(t, fs, nil)
	active, err := restarted.ActiveSession(context.Background())
	if err != nil || active == nil {
		t.Fatalf("active session after restart: %v", err)
	}
	if len(active.Videos) != 2 {
		t.Fatalf("expected 2 videos, got %d", len(active.Videos))
	}

	got := active.Videos[0]
	want := original.Clone()
	want.SessionId = sess.ID
	want.UploadStatus = constant.UploadStatusPending
	if !got.CreatedAt.Equal(want.CreatedAt) {
		t.Errorf("created_at changed: %v vs %v", got.CreatedAt, want.CreatedAt)
	}
	got.CreatedAt, want.CreatedAt = time.Time{}, time.Time{}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("video changed across restart:\n got %+v\nwant %+v", got, want)
	}

	recovered := active.Videos[1]
	if recovered.UploadStatus != constant.UploadStatusFailed || recovered.UploadProgress != 0 {
		t.Errorf("expected in-flight upload downgraded, got status=%s progress=%d", recovered.UploadStatus, recovered.UploadProgress)
	}
	if !recovered.UploadStatus.CanBeginUpload() {
		t.Error("recovered video must be retryable")
	}
}

func TestEndSessionArchivesWithoutTouchingVideos(t *testing.T) {
	reg := &fakeRegistrar{}
	s := openStore(t, afero.NewMemMapFs(), reg)
	sess := startSession(t, s)
	_ = s.AddVideo(context.Background(), capture("v1"))

	ended, err := s.EndSession(context.Background())
	if err != nil {
		t.Fatalf("end session: %v", err)
	}
	if ended.IsActive || ended.EndTime == nil {
		t.Errorf("expected inactive session with end time, got %+v", ended)
	}
	if ended.Videos[0].UploadStatus != constant.UploadStatusPending {
		t.Errorf("video status changed to %s", ended.Videos[0].UploadStatus)
	}

	active, _ := s.ActiveSession(context.Background())
	if active != nil {
		t.Error("expected no active session")
	}
	history, _ := s.HistoricalSessions(context.Background())
	if len(history) != 1 || history[0].ID != sess.ID {
		t.Fatalf("expected session in history, got %d", len(history))
	}

	if _, err := s.EndSession(context.Background()); !errors.Is(err, ErrNoActiveSession) {
		t.Errorf("expected ErrNoActiveSession, got %v", err)
	}

	if err := s.MarkSessionUploaded(context.Background(), sess.ID); err != nil {
		t.Fatalf("mark uploaded: %v", err)
	}
	found, _ := s.FindSession(context.Background(), sess.ID)
	if !found.Uploaded {
		t.Error("expected uploaded flag")
	}
	if last := reg.sessions[len(reg.sessions)-1]; !last.Uploaded {
		t.Error("expected uploaded flag mirrored remotely")
	}
}

func TestUpdateVideoInArchivedSession(t *testing.T) {
	s := openStore(t, afero.NewMemMapFs(), nil)
	startSession(t, s)
	_ = s.AddVideo(context.Background(), capture("v1"))
	_, _ = s.EndSession(context.Background())

	v, err := s.FindVideo(context.Background(), "v1")
	if err != nil {
		t.Fatalf("find video: %v", err)
	}
	v.MarkUploaded("videos/k.mp4", "http://store/k.mp4", "")
	if err := s.UpdateVideo(context.Background(), v); err != nil {
		t.Fatalf("update archived video: %v", err)
	}

	again, _ := s.FindVideo(context.Background(), "v1")
	if again.UploadStatus != constant.UploadStatusUploaded || again.RemoteKey != "videos/k.mp4" {
		t.Errorf("update not persisted: %+v", again)
	}

	if err := s.UpdateVideo(context.Background(), capture("missing")); !errors.Is(err, ErrVideoNotFound) {
		t.Errorf("expected ErrVideoNotFound, got %v", err)
	}
}

func TestPendingStore(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := openStore(t, fs, nil)

	quick := capture("q1")
	quick.SessionId = "ignored"
	if err := s.SavePending(context.Background(), quick); err != nil {
		t.Fatalf("save pending: %v", err)
	}

	pending, _ := openStore(t, fs, nil).PendingVideos(context.Background())
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending video, got %d", len(pending))
	}
	if pending[0].SessionId != "" || pending[0].UploadStatus != constant.UploadStatusPending || pending[0].RemoteUrl != "" {
		t.Errorf("unexpected pending record %+v", pending[0])
	}

	if err := s.RemoveVideo(context.Background(), "q1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	pending, _ = s.PendingVideos(context.Background())
	if len(pending) != 0 {
		t.Errorf("expected empty pending store, got %d", len(pending))
	}
	if err := s.RemoveVideo(context.Background(), "q1"); !errors.Is(err, ErrVideoNotFound) {
		t.Errorf("expected ErrVideoNotFound, got %v", err)
	}
}

func TestReadersReturnCopies(t *testing.T) {
	s := openStore(t, afero.NewMemMapFs(), nil)
	startSession(t, s)
	_ = s.AddVideo(context.Background(), capture("v1"))

	active, _ := s.ActiveSession(context.Background())
	active.Videos[0].TrickName = "mutated"

	v, _ := s.FindVideo(context.Background(), "v1")
	if v.TrickName != "kickflip" {
		t.Error("store state leaked through reader")
	}
}

var errDiskFull = errors.New("disk full")

// brokenFs refuses to open files for writing whose name starts with failWrites.
type brokenFs struct {
	afero.Fs
	failWrites string
}

func (b *brokenFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	if b.failWrites != "" && flag&(os.O_WRONLY|os.O_RDWR) != 0 && strings.HasPrefix(filepath.Base(name), b.failWrites) {
		return nil, errDiskFull
	}
	return b.Fs.OpenFile(name, flag, perm)
}

func TestEndSessionNeverLosesVideos(t *testing.T) {
	cases := []struct {
		name         string
		failWrites   string
		wantActive   bool
		wantArchived int
	}{
		{name: "archive write fails", failWrites: historicalSessionsFile, wantActive: true, wantArchived: 0},
		{name: "active write fails", failWrites: activeSessionFile, wantActive: false, wantArchived: 1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			mem := afero.NewMemMapFs()
			s := openStore(t, mem, nil)
			sess := startSession(t, s)
			if err := s.AddVideo(ctx, capture("vid-1")); err != nil {
				t.Fatal(err)
			}

			broken := openStore(t, &brokenFs{Fs: mem, failWrites: tc.failWrites}, nil)
			if _, err := broken.EndSession(ctx); !errors.Is(err, errDiskFull) {
				t.Fatalf("expected write failure, got %v", err)
			}

			reopened := openStore(t, mem, nil)
			active, err := reopened.ActiveSession(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if (active != nil) != tc.wantActive {
				t.Fatalf("active session present=%v, want %v", active != nil, tc.wantActive)
			}
			archived, err := reopened.HistoricalSessions(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if len(archived) != tc.wantArchived {
				t.Fatalf("expected %d archived sessions, got %d", tc.wantArchived, len(archived))
			}
			if tc.wantArchived == 1 && (archived[0].ID != sess.ID || archived[0].IsActive || archived[0].EndTime == nil) {
				t.Fatalf("archived session not ended: %+v", archived[0])
			}

			v, err := reopened.FindVideo(ctx, "vid-1")
			if err != nil {
				t.Fatalf("video lost after failed end: %v", err)
			}
			if v.SessionId != sess.ID {
				t.Errorf("video moved to session %q", v.SessionId)
			}
		})
	}
}

func TestOpenRepairsHalfEndedSession(t *testing.T) {
	ctx := context.Background()
	mem := afero.NewMemMapFs()
	s := openStore(t, mem, nil)
	startSession(t, s)

	broken := openStore(t, &brokenFs{Fs: mem, failWrites: activeSessionFile}, nil)
	if _, err := broken.EndSession(ctx); err == nil {
		t.Fatal("expected write failure")
	}

	openStore(t, mem, nil)
	data, err := afero.ReadFile(mem, filepath.Join(storeDir, activeSessionFile))
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(string(data)) != "null" {
		t.Fatalf("active slot not cleared on open: %s", data)
	}
}

func TestEndSessionRegistersEndedCopy(t *testing.T) {
	reg := &fakeRegistrar{rewrite: func(sess *entities.Session) { sess.IsActive = true }}
	s := openStore(t, afero.NewMemMapFs(), reg)
	startSession(t, s)

	ended, err := s.EndSession(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if ended.IsActive {
		t.Fatal("registrar changes leaked into the returned session")
	}
	archived, err := s.HistoricalSessions(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if archived[0].IsActive {
		t.Fatal("registrar changes leaked into the store")
	}
}
