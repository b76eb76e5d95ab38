package simplelessons_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-lessons/pkg/simplelessons"
	memoryrepo "github.com/tendant/simple-lessons/pkg/simplelessons/repo/memory"
	memorystorage "github.com/tendant/simple-lessons/pkg/simplelessons/storage/memory"
)

var errInjected = errors.New("injected failure")

// testStore wraps the memory backend with failure injection and counters.
type testStore struct {
	*memorystorage.Backend

	mu         sync.Mutex
	puts       int
	failPut    bool
	failDelete map[string]int // key -> remaining failures, -1 means always
	afterPut   func(key string)
}

func newTestStore() *testStore {
	return &testStore{Backend: memorystorage.New(), failDelete: map[string]int{}}
}

func (s *testStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	s.mu.Lock()
	s.puts++
	fail := s.failPut
	hook := s.afterPut
	s.mu.Unlock()
	if fail {
		return errInjected
	}
	if err := s.Backend.Put(ctx, key, data, contentType); err != nil {
		return err
	}
	if hook != nil {
		hook(key)
	}
	return nil
}

func (s *testStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	n, ok := s.failDelete[key]
	if ok && n != 0 {
		if n > 0 {
			s.failDelete[key] = n - 1
		}
		s.mu.Unlock()
		return errInjected
	}
	s.mu.Unlock()
	return s.Backend.Delete(ctx, key)
}

func (s *testStore) putCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puts
}

func (s *testStore) exists(t *testing.T, key string) bool {
	t.Helper()
	_, err := s.Backend.Get(context.Background(), key)
	if errors.Is(err, simplelessons.ErrBlobNotFound) {
		return false
	}
	require.NoError(t, err)
	return true
}

// recordingSink remembers every event it receives.
type recordingSink struct {
	mu       sync.Mutex
	created  []string
	updated  []string
	deleted  []string
	orphaned []string
}

func (r *recordingSink) DocumentCreated(ctx context.Context, kind simplelessons.DocumentKind, id uuid.UUID, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created = append(r.created, key)
	return nil
}

func (r *recordingSink) DocumentUpdated(ctx context.Context, kind simplelessons.DocumentKind, id uuid.UUID, oldKey, newKey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updated = append(r.updated, newKey)
	return nil
}

func (r *recordingSink) DocumentDeleted(ctx context.Context, kind simplelessons.DocumentKind, id uuid.UUID, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted = append(r.deleted, key)
	return nil
}

func (r *recordingSink) BlobOrphaned(ctx context.Context, key string, cause error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orphaned = append(r.orphaned, key)
	return errors.New("sink errors are only logged")
}

// failingRepo makes selected mutations fail with an integrity error.
type failingRepo struct {
	simplelessons.Repository
	failCreateLesson   bool
	failUpdateTemplate bool
}

func (f *failingRepo) CreateLesson(ctx context.Context, lesson *simplelessons.Lesson) error {
	if f.failCreateLesson {
		return simplelessons.ErrIntegrity
	}
	return f.Repository.CreateLesson(ctx, lesson)
}

func (f *failingRepo) UpdateTemplate(ctx context.Context, id uuid.UUID, upd simplelessons.TemplateUpdate) (bool, error) {
	if f.failUpdateTemplate {
		return false, simplelessons.ErrIntegrity
	}
	return f.Repository.UpdateTemplate(ctx, id, upd)
}

type harness struct {
	svc   simplelessons.Service
	repo  *memoryrepo.Repository
	store *testStore
	sink  *recordingSink
}

func newHarness(t *testing.T, opts ...simplelessons.Option) *harness {
	t.Helper()
	h := &harness{repo: memoryrepo.New(), store: newTestStore(), sink: &recordingSink{}}
	base := []simplelessons.Option{
		simplelessons.WithRepository(h.repo),
		simplelessons.WithBlobStore(h.store),
		simplelessons.WithEventSink(h.sink),
	}
	svc, err := simplelessons.New(append(base, opts...)...)
	require.NoError(t, err)
	h.svc = svc
	return h
}

func (h *harness) user(t *testing.T, nick string) *simplelessons.User {
	t.Helper()
	u, err := h.svc.CreateUser(context.Background(), simplelessons.CreateUserRequest{
		ExternalNick: nick,
		ExternalID:   nick + "-id",
	})
	require.NoError(t, err)
	return u
}

func (h *harness) template(t *testing.T, author uuid.UUID, title, content string) *simplelessons.Template {
	t.Helper()
	tmpl, err := h.svc.CreateTemplate(context.Background(), simplelessons.CreateTemplateRequest{
		Title:    title,
		AuthorID: author,
		Content:  content,
	})
	require.NoError(t, err)
	return tmpl
}

func (h *harness) lesson(t *testing.T, author, tmpl uuid.UUID, module *uuid.UUID, content string) *simplelessons.Lesson {
	t.Helper()
	l, err := h.svc.CreateLesson(context.Background(), simplelessons.CreateLessonRequest{
		Title:      "Lesson",
		AuthorID:   author,
		TemplateID: tmpl,
		ModuleID:   module,
		Content:    content,
	})
	require.NoError(t, err)
	return l
}
