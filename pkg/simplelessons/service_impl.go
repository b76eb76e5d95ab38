package simplelessons

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-lessons/pkg/simplelessons/objectkey"
)

const (
	defaultCleanupAttempts   = 1
	defaultDeleteConcurrency = 8
	cleanupBackoff           = 100 * time.Millisecond
)

// service implements the Service interface
type service struct {
	repository        Repository
	blobStore         BlobStore
	keys              objectkey.Generator
	eventSink         EventSink
	logger            *slog.Logger
	cleanupAttempts   int
	deleteConcurrency int
	now               func() time.Time
}

// Option represents a functional option for configuring the service
type Option func(*service)

// WithRepository sets the entity store for the service
func WithRepository(repo Repository) Option {
	return func(s *service) {
		s.repository = repo
	}
}

// WithBlobStore sets the blob store holding document bodies
func WithBlobStore(store BlobStore) Option {
	return func(s *service) {
		s.blobStore = store
	}
}

// WithKeyGenerator overrides the object key strategy
func WithKeyGenerator(g objectkey.Generator) Option {
	return func(s *service) {
		s.keys = g
	}
}

// WithEventSink sets the event sink for the service
func WithEventSink(sink EventSink) Option {
	return func(s *service) {
		s.eventSink = sink
	}
}

// WithLogger sets the logger used for warnings about orphaned blobs
func WithLogger(logger *slog.Logger) Option {
	return func(s *service) {
		s.logger = logger
	}
}

// WithCleanupAttempts sets how many times the delete of a replaced blob is
// tried after an update commits. Values below one mean one.
func WithCleanupAttempts(n int) Option {
	return func(s *service) {
		s.cleanupAttempts = n
	}
}

// WithDeleteConcurrency bounds the number of parallel blob deletes issued by
// cascading deletes.
func WithDeleteConcurrency(n int) Option {
	return func(s *service) {
		s.deleteConcurrency = n
	}
}

// New creates a new service instance with the given options
func New(options ...Option) (Service, error) {
	s := &service{
		keys:              objectkey.NewRandomGenerator(),
		cleanupAttempts:   defaultCleanupAttempts,
		deleteConcurrency: defaultDeleteConcurrency,
		now:               func() time.Time { return time.Now().UTC() },
	}

	for _, option := range options {
		option(s)
	}

	if s.repository == nil {
		return nil, fmt.Errorf("repository is required")
	}
	if s.blobStore == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if s.eventSink == nil {
		s.eventSink = NewNoopEventSink()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.cleanupAttempts < 1 {
		s.cleanupAttempts = 1
	}
	if s.deleteConcurrency < 1 {
		s.deleteConcurrency = 1
	}

	return s, nil
}

// SessionToken derives the session token of a user from the external
// identity id. The same id always yields the same token.
func SessionToken(externalID string) string {
	sum := sha256.Sum256([]byte(externalID))
	return hex.EncodeToString(sum[:])
}

// DefaultLessonTitle returns the first 20 characters of prompt, or
// "New lesson" for an empty prompt.
func DefaultLessonTitle(prompt string) string {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "New lesson"
	}
	runes := []rune(prompt)
	if len(runes) > 20 {
		return strings.TrimSpace(string(runes[:20]))
	}
	return prompt
}

// User operations

func (s *service) CreateUser(ctx context.Context, req CreateUserRequest) (*User, error) {
	if strings.TrimSpace(req.ExternalNick) == "" || strings.TrimSpace(req.ExternalID) == "" {
		return nil, fmt.Errorf("%w: external nick and id are required", ErrInvalidRequest)
	}
	lastSeen := req.LastSeenAt
	if lastSeen.IsZero() {
		lastSeen = s.now()
	}
	user := &User{
		ID:             uuid.New(),
		ExternalNick:   req.ExternalNick,
		ExternalID:     req.ExternalID,
		CredentialHash: req.CredentialHash,
		SessionToken:   SessionToken(req.ExternalID),
		LastSeenAt:     lastSeen,
	}
	if user.CredentialHash == "" {
		user.CredentialHash = user.SessionToken
	}

	if err := s.repository.CreateUser(ctx, user); err != nil {
		return nil, rowError("user", user.ID, "create", err)
	}
	return user, nil
}

func (s *service) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.repository.GetUser(ctx, id)
}

func (s *service) GetUserByExternalID(ctx context.Context, externalID string) (*User, error) {
	return s.repository.GetUserByExternalID(ctx, externalID)
}

func (s *service) GetUserBySessionToken(ctx context.Context, token string) (*User, error) {
	if token == "" {
		return nil, ErrUserNotFound
	}
	return s.repository.GetUserBySessionToken(ctx, token)
}

func (s *service) UpdateUser(ctx context.Context, id uuid.UUID, upd UserUpdate) (*User, error) {
	if upd.ExternalID != nil {
		token := SessionToken(*upd.ExternalID)
		upd.SessionToken = &token
	}
	ok, err := s.repository.UpdateUser(ctx, id, upd)
	if err != nil {
		return nil, rowError("user", id, "update", err)
	}
	if !ok {
		return nil, nil
	}
	return s.repository.GetUser(ctx, id)
}

func (s *service) DeleteUser(ctx context.Context, id uuid.UUID) error {
	if _, err := s.repository.GetUser(ctx, id); err != nil {
		return ignoreNotFound(err)
	}

	templates, err := s.repository.ListTemplates(ctx, TemplateFilter{AuthorID: id})
	if err != nil {
		return fmt.Errorf("list templates of user %s: %w", id, err)
	}
	lessons, err := s.repository.ListLessons(ctx, LessonFilter{AuthorID: id})
	if err != nil {
		return fmt.Errorf("list lessons of user %s: %w", id, err)
	}
	// Lessons of other authors built from this user's templates go too.
	for _, t := range templates {
		derived, err := s.repository.ListLessons(ctx, LessonFilter{TemplateID: t.ID})
		if err != nil {
			return fmt.Errorf("list lessons of template %s: %w", t.ID, err)
		}
		lessons = append(lessons, derived...)
	}

	docs := cascadeSet(templates, lessons)
	if err := s.deleteBlobs(ctx, docs.keys()); err != nil {
		return fmt.Errorf("delete user %s: %w", id, err)
	}
	if err := s.repository.DeleteUser(ctx, id); err != nil {
		return fmt.Errorf("delete user %s: %w", id, err)
	}
	s.fireDeleted(ctx, docs)
	return nil
}

// Course operations

func (s *service) CreateCourse(ctx context.Context, req CreateCourseRequest) (*Course, error) {
	if strings.TrimSpace(req.Title) == "" {
		return nil, fmt.Errorf("%w: course title is required", ErrInvalidRequest)
	}
	course := &Course{
		ID:          uuid.New(),
		Title:       req.Title,
		Description: req.Description,
		CreatedAt:   s.now(),
	}
	if err := s.repository.CreateCourse(ctx, course); err != nil {
		return nil, rowError("course", course.ID, "create", err)
	}
	return course, nil
}

func (s *service) GetCourse(ctx context.Context, id uuid.UUID) (*Course, error) {
	return s.repository.GetCourse(ctx, id)
}

func (s *service) ListCourses(ctx context.Context) ([]*Course, error) {
	return s.repository.ListCourses(ctx)
}

func (s *service) UpdateCourse(ctx context.Context, id uuid.UUID, upd CourseUpdate) (*Course, error) {
	ok, err := s.repository.UpdateCourse(ctx, id, upd)
	if err != nil {
		return nil, rowError("course", id, "update", err)
	}
	if !ok {
		return nil, nil
	}
	return s.repository.GetCourse(ctx, id)
}

func (s *service) DeleteCourse(ctx context.Context, id uuid.UUID) error {
	if _, err := s.repository.GetCourse(ctx, id); err != nil {
		return ignoreNotFound(err)
	}
	lessons, err := s.repository.ListLessons(ctx, LessonFilter{CourseID: id})
	if err != nil {
		return fmt.Errorf("list lessons of course %s: %w", id, err)
	}
	docs := cascadeSet(nil, lessons)
	if err := s.deleteBlobs(ctx, docs.keys()); err != nil {
		return fmt.Errorf("delete course %s: %w", id, err)
	}
	if err := s.repository.DeleteCourse(ctx, id); err != nil {
		return fmt.Errorf("delete course %s: %w", id, err)
	}
	s.fireDeleted(ctx, docs)
	return nil
}

// Module operations

func (s *service) CreateModule(ctx context.Context, req CreateModuleRequest) (*Module, error) {
	if strings.TrimSpace(req.Title) == "" {
		return nil, fmt.Errorf("%w: module title is required", ErrInvalidRequest)
	}
	if req.CourseID != nil {
		if err := s.requireCourse(ctx, *req.CourseID); err != nil {
			return nil, err
		}
	}
	module := &Module{
		ID:       uuid.New(),
		CourseID: req.CourseID,
		Title:    req.Title,
		Order:    req.Order,
	}
	if err := s.repository.CreateModule(ctx, module); err != nil {
		return nil, rowError("module", module.ID, "create", err)
	}
	return module, nil
}

func (s *service) GetModule(ctx context.Context, id uuid.UUID) (*Module, error) {
	return s.repository.GetModule(ctx, id)
}

func (s *service) ListModules(ctx context.Context, courseID uuid.UUID) ([]*Module, error) {
	return s.repository.ListModules(ctx, courseID)
}

func (s *service) UpdateModule(ctx context.Context, id uuid.UUID, upd ModuleUpdate) (*Module, error) {
	if _, err := s.repository.GetModule(ctx, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if upd.CourseID != nil {
		if err := s.requireCourse(ctx, *upd.CourseID); err != nil {
			return nil, err
		}
	}
	ok, err := s.repository.UpdateModule(ctx, id, upd)
	if err != nil {
		return nil, rowError("module", id, "update", err)
	}
	if !ok {
		return nil, nil
	}
	return s.repository.GetModule(ctx, id)
}

func (s *service) DeleteModule(ctx context.Context, id uuid.UUID) error {
	if _, err := s.repository.GetModule(ctx, id); err != nil {
		return ignoreNotFound(err)
	}
	lessons, err := s.repository.ListLessons(ctx, LessonFilter{ModuleID: id})
	if err != nil {
		return fmt.Errorf("list lessons of module %s: %w", id, err)
	}
	docs := cascadeSet(nil, lessons)
	if err := s.deleteBlobs(ctx, docs.keys()); err != nil {
		return fmt.Errorf("delete module %s: %w", id, err)
	}
	if err := s.repository.DeleteModule(ctx, id); err != nil {
		return fmt.Errorf("delete module %s: %w", id, err)
	}
	s.fireDeleted(ctx, docs)
	return nil
}

// Prompt history operations

func (s *service) AddPrompt(ctx context.Context, lessonID uuid.UUID, promptText string) (*PromptHistory, error) {
	if err := s.requireLesson(ctx, lessonID); err != nil {
		return nil, err
	}
	entry := &PromptHistory{
		ID:         uuid.New(),
		LessonID:   lessonID,
		PromptText: promptText,
		UpdatedAt:  s.now(),
	}
	if err := s.repository.CreatePromptHistory(ctx, entry); err != nil {
		return nil, rowError("prompt_history", entry.ID, "create", err)
	}
	return entry, nil
}

func (s *service) GetPromptHistory(ctx context.Context, id uuid.UUID) (*PromptHistory, error) {
	return s.repository.GetPromptHistory(ctx, id)
}

func (s *service) ListPromptHistory(ctx context.Context, lessonID uuid.UUID) ([]*PromptHistory, error) {
	return s.repository.ListPromptHistory(ctx, lessonID)
}

func (s *service) UpdatePromptHistory(ctx context.Context, id uuid.UUID, promptText string) (*PromptHistory, error) {
	ok, err := s.repository.UpdatePromptHistory(ctx, id, promptText)
	if err != nil {
		return nil, rowError("prompt_history", id, "update", err)
	}
	if !ok {
		return nil, nil
	}
	return s.repository.GetPromptHistory(ctx, id)
}

func (s *service) DeletePromptHistory(ctx context.Context, id uuid.UUID) error {
	return s.repository.DeletePromptHistory(ctx, id)
}

// Derived view

func (s *service) ListLessonDetails(ctx context.Context, filter LessonDetailFilter) ([]*LessonDetail, error) {
	return s.repository.ListLessonDetails(ctx, filter)
}

// Helper methods

func (s *service) requireUser(ctx context.Context, id uuid.UUID) error {
	_, err := s.repository.GetUser(ctx, id)
	return validationError("author_id", id, err)
}

func (s *service) requireCourse(ctx context.Context, id uuid.UUID) error {
	_, err := s.repository.GetCourse(ctx, id)
	return validationError("course_id", id, err)
}

func (s *service) requireModule(ctx context.Context, id uuid.UUID) error {
	_, err := s.repository.GetModule(ctx, id)
	return validationError("module_id", id, err)
}

func (s *service) requireTemplate(ctx context.Context, id uuid.UUID) error {
	_, err := s.repository.GetTemplate(ctx, id)
	return validationError("template_id", id, err)
}

func (s *service) requireLesson(ctx context.Context, id uuid.UUID) error {
	_, err := s.repository.GetLesson(ctx, id)
	return validationError("lesson_id", id, err)
}

// validationError turns a lookup failure into a ValidationError when the
// referenced row is missing and passes other errors through.
func validationError(field string, id uuid.UUID, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) {
		return &ValidationError{Field: field, ID: id, Err: err}
	}
	return fmt.Errorf("lookup %s %s: %w", field, id, err)
}

// rowError classifies an entity store failure.
func rowError(kind string, id uuid.UUID, op string, err error) error {
	if errors.Is(err, ErrIntegrity) {
		return &IntegrityError{Kind: kind, ID: id, Op: op, Err: err}
	}
	return fmt.Errorf("%s %s of %s: %w", kind, op, id, err)
}

func ignoreNotFound(err error) error {
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}
