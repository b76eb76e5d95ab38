package simplelessons

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Template documents

func (s *service) CreateTemplate(ctx context.Context, req CreateTemplateRequest) (*Template, error) {
	if strings.TrimSpace(req.Title) == "" {
		return nil, fmt.Errorf("%w: template title is required", ErrInvalidRequest)
	}
	if err := s.requireUser(ctx, req.AuthorID); err != nil {
		return nil, err
	}

	tmpl := &Template{
		ID:        uuid.New(),
		Title:     req.Title,
		AuthorID:  req.AuthorID,
		CreatedAt: s.now(),
	}
	key, err := s.putDocument(ctx, KindTemplate, req.Content)
	if err != nil {
		return nil, err
	}
	tmpl.BlobKey = key

	if err := s.repository.CreateTemplate(ctx, tmpl); err != nil {
		s.orphaned(ctx, key, err)
		return nil, rowError(string(KindTemplate), tmpl.ID, "create", err)
	}

	s.fire(ctx, "DocumentCreated", s.eventSink.DocumentCreated(ctx, KindTemplate, tmpl.ID, key))
	return tmpl, nil
}

func (s *service) GetTemplate(ctx context.Context, id uuid.UUID) (*Template, error) {
	return s.repository.GetTemplate(ctx, id)
}

func (s *service) ListTemplates(ctx context.Context, filter TemplateFilter) ([]*Template, error) {
	return s.repository.ListTemplates(ctx, filter)
}

func (s *service) GetTemplateContent(ctx context.Context, id uuid.UUID) ([]byte, error) {
	tmpl, err := s.repository.GetTemplate(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.readDocument(ctx, KindTemplate, id, tmpl.BlobKey)
}

func (s *service) UpdateTemplate(ctx context.Context, req UpdateTemplateRequest) (*Template, *Revision, error) {
	if req.Title != nil && strings.TrimSpace(*req.Title) == "" {
		return nil, nil, fmt.Errorf("%w: template title is required", ErrInvalidRequest)
	}

	current, err := s.repository.GetTemplate(ctx, req.ID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, &DocumentError{Kind: KindTemplate, ID: req.ID, Op: "update", Err: err}
	}

	upd := TemplateUpdate{Title: req.Title}
	var rev *Revision
	if req.Content != nil {
		key, err := s.putDocument(ctx, KindTemplate, *req.Content)
		if err != nil {
			return nil, nil, err
		}
		upd.BlobKey = &key
		rev = &Revision{OldKey: current.BlobKey, NewKey: key}
	}

	ok, err := s.repository.UpdateTemplate(ctx, req.ID, upd)
	if err != nil {
		if rev != nil {
			s.orphaned(ctx, rev.NewKey, err)
		}
		return nil, nil, rowError(string(KindTemplate), req.ID, "update", err)
	}
	if !ok {
		if rev != nil {
			s.orphaned(ctx, rev.NewKey, ErrTemplateNotFound)
		}
		return nil, nil, nil
	}

	updated := *current
	if upd.Title != nil {
		updated.Title = *upd.Title
	}
	if rev != nil {
		updated.BlobKey = rev.NewKey
		rev.CleanupErr = s.cleanup(ctx, rev.OldKey)
		s.fire(ctx, "DocumentUpdated", s.eventSink.DocumentUpdated(ctx, KindTemplate, req.ID, rev.OldKey, rev.NewKey))
	}
	return &updated, rev, nil
}

func (s *service) DeleteTemplate(ctx context.Context, id uuid.UUID) error {
	tmpl, err := s.repository.GetTemplate(ctx, id)
	if err != nil {
		return ignoreNotFound(err)
	}
	lessons, err := s.repository.ListLessons(ctx, LessonFilter{TemplateID: id})
	if err != nil {
		return &DocumentError{Kind: KindTemplate, ID: id, Op: "delete", Err: err}
	}

	docs := cascadeSet([]*Template{tmpl}, lessons)
	if err := s.deleteBlobs(ctx, docs.keys()); err != nil {
		return &DocumentError{Kind: KindTemplate, ID: id, Op: "delete", Err: err}
	}
	if err := s.repository.DeleteTemplate(ctx, id); err != nil {
		return &DocumentError{Kind: KindTemplate, ID: id, Op: "delete", Err: err}
	}
	s.fireDeleted(ctx, docs)
	return nil
}

// Lesson documents

func (s *service) CreateLesson(ctx context.Context, req CreateLessonRequest) (*Lesson, error) {
	if strings.TrimSpace(req.Title) == "" {
		return nil, fmt.Errorf("%w: lesson title is required", ErrInvalidRequest)
	}
	if err := s.requireUser(ctx, req.AuthorID); err != nil {
		return nil, err
	}
	if err := s.requireTemplate(ctx, req.TemplateID); err != nil {
		return nil, err
	}
	if req.ModuleID != nil {
		if err := s.requireModule(ctx, *req.ModuleID); err != nil {
			return nil, err
		}
	}

	lesson := &Lesson{
		ID:             uuid.New(),
		Title:          req.Title,
		ModuleID:       req.ModuleID,
		AuthorID:       req.AuthorID,
		CreatedAt:      s.now(),
		CreationPrompt: req.CreationPrompt,
		TemplateID:     req.TemplateID,
	}
	key, err := s.putDocument(ctx, KindLesson, req.Content)
	if err != nil {
		return nil, err
	}
	lesson.BlobKey = key

	if err := s.repository.CreateLesson(ctx, lesson); err != nil {
		s.orphaned(ctx, key, err)
		return nil, rowError(string(KindLesson), lesson.ID, "create", err)
	}

	s.fire(ctx, "DocumentCreated", s.eventSink.DocumentCreated(ctx, KindLesson, lesson.ID, key))
	return lesson, nil
}

func (s *service) GetLesson(ctx context.Context, id uuid.UUID) (*Lesson, error) {
	return s.repository.GetLesson(ctx, id)
}

func (s *service) ListLessons(ctx context.Context, filter LessonFilter) ([]*Lesson, error) {
	return s.repository.ListLessons(ctx, filter)
}

func (s *service) GetLessonContent(ctx context.Context, id uuid.UUID) ([]byte, error) {
	lesson, err := s.repository.GetLesson(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.readDocument(ctx, KindLesson, id, lesson.BlobKey)
}

func (s *service) UpdateLesson(ctx context.Context, req UpdateLessonRequest) (*Lesson, *Revision, error) {
	if req.Title != nil && strings.TrimSpace(*req.Title) == "" {
		return nil, nil, fmt.Errorf("%w: lesson title is required", ErrInvalidRequest)
	}

	current, err := s.repository.GetLesson(ctx, req.ID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, &DocumentError{Kind: KindLesson, ID: req.ID, Op: "update", Err: err}
	}
	if req.ModuleID != nil && !req.ClearModule {
		if err := s.requireModule(ctx, *req.ModuleID); err != nil {
			return nil, nil, err
		}
	}

	upd := LessonUpdate{
		Title:          req.Title,
		ModuleID:       req.ModuleID,
		ClearModule:    req.ClearModule,
		CreationPrompt: req.CreationPrompt,
	}
	var rev *Revision
	if req.Content != nil {
		key, err := s.putDocument(ctx, KindLesson, *req.Content)
		if err != nil {
			return nil, nil, err
		}
		upd.BlobKey = &key
		rev = &Revision{OldKey: current.BlobKey, NewKey: key}
	}

	ok, err := s.repository.UpdateLesson(ctx, req.ID, upd)
	if err != nil {
		if rev != nil {
			s.orphaned(ctx, rev.NewKey, err)
		}
		return nil, nil, rowError(string(KindLesson), req.ID, "update", err)
	}
	if !ok {
		if rev != nil {
			s.orphaned(ctx, rev.NewKey, ErrLessonNotFound)
		}
		return nil, nil, nil
	}

	updated := *current
	if upd.Title != nil {
		updated.Title = *upd.Title
	}
	if upd.ClearModule {
		updated.ModuleID = nil
	} else if upd.ModuleID != nil {
		moduleID := *upd.ModuleID
		updated.ModuleID = &moduleID
	}
	if upd.CreationPrompt != nil {
		updated.CreationPrompt = *upd.CreationPrompt
	}
	if rev != nil {
		updated.BlobKey = rev.NewKey
		rev.CleanupErr = s.cleanup(ctx, rev.OldKey)
		s.fire(ctx, "DocumentUpdated", s.eventSink.DocumentUpdated(ctx, KindLesson, req.ID, rev.OldKey, rev.NewKey))
	}
	return &updated, rev, nil
}

func (s *service) DeleteLesson(ctx context.Context, id uuid.UUID) error {
	lesson, err := s.repository.GetLesson(ctx, id)
	if err != nil {
		return ignoreNotFound(err)
	}

	docs := cascadeSet(nil, []*Lesson{lesson})
	if err := s.deleteBlobs(ctx, docs.keys()); err != nil {
		return &DocumentError{Kind: KindLesson, ID: id, Op: "delete", Err: err}
	}
	if err := s.repository.DeleteLesson(ctx, id); err != nil {
		return &DocumentError{Kind: KindLesson, ID: id, Op: "delete", Err: err}
	}
	s.fireDeleted(ctx, docs)
	return nil
}

// Blob helpers

func (s *service) putDocument(ctx context.Context, kind DocumentKind, content string) (string, error) {
	key := s.keys.GenerateKey(kind.Folder())
	if err := s.blobStore.Put(ctx, key, []byte(content), HTMLContentType); err != nil {
		return "", &StorageError{Key: key, Op: "put", Err: err}
	}
	return key, nil
}

func (s *service) readDocument(ctx context.Context, kind DocumentKind, id uuid.UUID, key string) ([]byte, error) {
	data, err := s.blobStore.Get(ctx, key)
	if errors.Is(err, ErrBlobNotFound) {
		return nil, &DocumentError{Kind: kind, ID: id, Op: "read", Err: ErrContentUnavailable}
	}
	if err != nil {
		return nil, &StorageError{Key: key, Op: "get", Err: err}
	}
	return data, nil
}

// cleanup deletes a blob that a committed update no longer references. A
// failure leaves an orphan and is reported, not returned to the caller as an
// operation error.
func (s *service) cleanup(ctx context.Context, key string) error {
	var err error
	for attempt := 1; ; attempt++ {
		err = s.blobStore.Delete(ctx, key)
		if err == nil || errors.Is(err, ErrBlobNotFound) {
			return nil
		}
		s.logger.WarnContext(ctx, "Failed to delete replaced blob", "key", key, "attempt", attempt, "err", err)
		if attempt >= s.cleanupAttempts || !sleepCtx(ctx, time.Duration(attempt)*cleanupBackoff) {
			break
		}
	}
	s.orphaned(ctx, key, err)
	return &StorageError{Key: key, Op: "delete", Err: err}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// deleteBlobs removes keys in parallel. Missing blobs count as deleted.
func (s *service) deleteBlobs(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.deleteConcurrency)
	for _, key := range keys {
		g.Go(func() error {
			err := s.blobStore.Delete(gctx, key)
			if err != nil && !errors.Is(err, ErrBlobNotFound) {
				return &StorageError{Key: key, Op: "delete", Err: err}
			}
			return nil
		})
	}
	return g.Wait()
}

func (s *service) orphaned(ctx context.Context, key string, cause error) {
	s.logger.WarnContext(ctx, "Blob left without a referencing row", "key", key, "err", cause)
	s.fire(ctx, "BlobOrphaned", s.eventSink.BlobOrphaned(ctx, key, cause))
}

func (s *service) fire(ctx context.Context, event string, err error) {
	if err != nil {
		s.logger.ErrorContext(ctx, "Event sink failed", "event", event, "err", err)
	}
}

func (s *service) fireDeleted(ctx context.Context, docs cascade) {
	for _, d := range docs {
		s.fire(ctx, "DocumentDeleted", s.eventSink.DocumentDeleted(ctx, d.kind, d.id, d.key))
	}
}

type cascadeDoc struct {
	kind DocumentKind
	id   uuid.UUID
	key  string
}

// cascade is the set of documents removed together by one delete.
type cascade []cascadeDoc

// cascadeSet merges templates and lessons into one list, dropping duplicate
// ids.
func cascadeSet(templates []*Template, lessons []*Lesson) cascade {
	seen := make(map[uuid.UUID]bool, len(templates)+len(lessons))
	var docs cascade
	for _, t := range templates {
		if seen[t.ID] {
			continue
		}
		seen[t.ID] = true
		docs = append(docs, cascadeDoc{kind: KindTemplate, id: t.ID, key: t.BlobKey})
	}
	for _, l := range lessons {
		if seen[l.ID] {
			continue
		}
		seen[l.ID] = true
		docs = append(docs, cascadeDoc{kind: KindLesson, id: l.ID, key: l.BlobKey})
	}
	return docs
}

func (c cascade) keys() []string {
	keys := make([]string, 0, len(c))
	for _, d := range c {
		keys = append(keys, d.key)
	}
	return keys
}
