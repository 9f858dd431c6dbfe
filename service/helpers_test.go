package service

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"

	"capture-uploader/constant"
	"capture-uploader/dto"
	"capture-uploader/entities"
	"capture-uploader/pkg/broker"
	"capture-uploader/pkg/localstore"
	"capture-uploader/pkg/transfer"
)

const publicBase = "https://cdn.test/"

type fakeObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    map[string]int
	deletes []string
	putErr  map[string]error
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{
		objects: map[string][]byte{},
		puts:    map[string]int{},
		putErr:  map[string]error{},
	}
}

func (s *fakeObjectStore) has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok
}

type fakeBroker struct {
	objects   *fakeObjectStore
	mu        sync.Mutex
	grants    []string
	grantErr  map[string]error
	deleteErr error
}

func (b *fakeBroker) RequestUploadGrant(ctx context.Context, key, contentType string) (*broker.Grant, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.grantErr[contentType]; err != nil {
		return nil, err
	}
	b.grants = append(b.grants, key)
	return &broker.Grant{
		WriteUrl:         "mem://" + key,
		PublicUrl:        publicBase + key,
		Key:              key,
		ExpiresInSeconds: 300,
		IssuedAt:         time.Now(),
	}, nil
}

func (b *fakeBroker) DeleteObject(ctx context.Context, key string) error {
	if b.deleteErr != nil {
		return b.deleteErr
	}
	b.objects.mu.Lock()
	defer b.objects.mu.Unlock()
	delete(b.objects.objects, key)
	b.objects.deletes = append(b.objects.deletes, key)
	return nil
}

type fakeTransfer struct {
	objects *fakeObjectStore
}

func (f *fakeTransfer) Put(ctx context.Context, grant *broker.Grant, body io.Reader, size int64, contentType string, progress transfer.ProgressFunc) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}

	f.objects.mu.Lock()
	putErr := f.objects.putErr[grant.Key]
	f.objects.mu.Unlock()
	if putErr != nil {
		return putErr
	}

	for _, part := range []int64{1, 2, 3, 4} {
		if progress != nil {
			progress(size*part/4, size)
		}
	}

	f.objects.mu.Lock()
	defer f.objects.mu.Unlock()
	f.objects.objects[grant.Key] = data
	f.objects.puts[grant.Key]++
	return nil
}

type fakeMetadata struct {
	mu       sync.Mutex
	rows     map[string]*entities.Video
	upserts  int
	failNext int
	deleted  []string
}

func newFakeMetadata() *fakeMetadata {
	return &fakeMetadata{rows: map[string]*entities.Video{}}
}

func (m *fakeMetadata) UpsertVideo(ctx context.Context, video *entities.Video) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts++
	if m.failNext > 0 {
		m.failNext--
		return errors.New("connection reset by peer")
	}
	m.rows[video.ID] = video.Clone()
	return nil
}

func (m *fakeMetadata) DeleteVideo(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, id)
	m.deleted = append(m.deleted, id)
	return nil
}

type fakeThumbnails struct {
	fs   afero.Fs
	fail bool
}

func (f *fakeThumbnails) Generate(ctx context.Context, localUri string, atOffset time.Duration) string {
	if f.fail {
		return ""
	}
	base := strings.TrimSuffix(filepath.Base(localUri), filepath.Ext(localUri))
	path := "/thumbs/" + base + "_thumbnail.jpg"
	if err := afero.WriteFile(f.fs, path, []byte("jpeg"), 0o644); err != nil {
		return ""
	}
	return path
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []dto.VideoUploadedMessage
}

func (n *fakeNotifier) VideoUploaded(ctx context.Context, message dto.VideoUploadedMessage) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
	return nil
}

type testEnv struct {
	fs       afero.Fs
	store    *localstore.Store
	objects  *fakeObjectStore
	broker   *fakeBroker
	metadata *fakeMetadata
	thumbs   *fakeThumbnails
	notifier *fakeNotifier
	uploader UploadService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	fs := afero.NewMemMapFs()
	store, err := localstore.Open(context.Background(), fs, "/data", nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	objects := newFakeObjectStore()
	env := &testEnv{
		fs:       fs,
		store:    store,
		objects:  objects,
		broker:   &fakeBroker{objects: objects, grantErr: map[string]error{}},
		metadata: newFakeMetadata(),
		thumbs:   &fakeThumbnails{fs: fs},
		notifier: &fakeNotifier{},
	}
	env.uploader = NewUploadService(UploadDependencies{
		Broker:     env.broker,
		Transfer:   &fakeTransfer{objects: objects},
		Metadata:   env.metadata,
		Queue:      store,
		Thumbnails: env.thumbs,
		Notifier:   env.notifier,
		Fs:         fs,
	})
	return env
}

// capture writes a clip to the fake disk and saves it for later upload.
func (e *testEnv) capture(t *testing.T, id string) *entities.Video {
	t.Helper()
	video := &entities.Video{
		ID:              id,
		LocalUri:        "/captures/" + id + ".mp4",
		DurationSeconds: 4,
		TrickName:       "ollie",
		StudentIds:      []string{"student-1"},
		CoachId:         "coach-1",
		OrganizationId:  "org-1",
		UploadStatus:    constant.UploadStatusPending,
		CreatedAt:       time.Date(2026, 6, 1, 15, 0, 0, 0, time.UTC),
	}
	if err := afero.WriteFile(e.fs, video.LocalUri, []byte("mp4-bytes-"+id), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := e.store.SavePending(context.Background(), video); err != nil {
		t.Fatalf("save pending: %v", err)
	}
	return video
}

func (e *testEnv) stored(t *testing.T, id string) *entities.Video {
	t.Helper()
	v, err := e.store.FindVideo(context.Background(), id)
	if err != nil {
		t.Fatalf("find video %s: %v", id, err)
	}
	return v
}

func expectedKey(id string) string {
	return "videos/org-1/coach-1/student-1/2026-06-01_" + id + ".mp4"
}
