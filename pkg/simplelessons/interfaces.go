package simplelessons

import (
	"context"

	"github.com/google/uuid"
)

// BlobStore stores opaque document bodies by key.
//
// Implementations do no caching and no retries.
type BlobStore interface {
	// Put stores data under key, replacing anything already there.
	Put(ctx context.Context, key string, data []byte, contentType string) error

	// Get returns the bytes stored under key, or ErrBlobNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes key. A missing key may be reported as ErrBlobNotFound;
	// callers treat that as success.
	Delete(ctx context.Context, key string) error

	// List returns every key that starts with prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Repository is the relational entity store.
//
// Every mutating call runs in its own transaction. Update methods apply only
// the non-nil fields and report false when the id does not exist. Delete
// methods are idempotent and cascade to dependent rows. Constraint violations
// are returned wrapped around ErrIntegrity.
type Repository interface {
	// Users
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id uuid.UUID) (*User, error)
	GetUserByExternalID(ctx context.Context, externalID string) (*User, error)
	GetUserByNick(ctx context.Context, nick string) (*User, error)
	GetUserBySessionToken(ctx context.Context, token string) (*User, error)
	UpdateUser(ctx context.Context, id uuid.UUID, upd UserUpdate) (bool, error)
	DeleteUser(ctx context.Context, id uuid.UUID) error

	// Courses
	CreateCourse(ctx context.Context, course *Course) error
	GetCourse(ctx context.Context, id uuid.UUID) (*Course, error)
	ListCourses(ctx context.Context) ([]*Course, error)
	UpdateCourse(ctx context.Context, id uuid.UUID, upd CourseUpdate) (bool, error)
	DeleteCourse(ctx context.Context, id uuid.UUID) error

	// Modules
	CreateModule(ctx context.Context, module *Module) error
	GetModule(ctx context.Context, id uuid.UUID) (*Module, error)
	ListModules(ctx context.Context, courseID uuid.UUID) ([]*Module, error)
	UpdateModule(ctx context.Context, id uuid.UUID, upd ModuleUpdate) (bool, error)
	DeleteModule(ctx context.Context, id uuid.UUID) error

	// Templates
	CreateTemplate(ctx context.Context, tmpl *Template) error
	GetTemplate(ctx context.Context, id uuid.UUID) (*Template, error)
	ListTemplates(ctx context.Context, filter TemplateFilter) ([]*Template, error)
	UpdateTemplate(ctx context.Context, id uuid.UUID, upd TemplateUpdate) (bool, error)
	DeleteTemplate(ctx context.Context, id uuid.UUID) error

	// Lessons
	CreateLesson(ctx context.Context, lesson *Lesson) error
	GetLesson(ctx context.Context, id uuid.UUID) (*Lesson, error)
	ListLessons(ctx context.Context, filter LessonFilter) ([]*Lesson, error)
	UpdateLesson(ctx context.Context, id uuid.UUID, upd LessonUpdate) (bool, error)
	DeleteLesson(ctx context.Context, id uuid.UUID) error

	// Prompt history
	CreatePromptHistory(ctx context.Context, entry *PromptHistory) error
	GetPromptHistory(ctx context.Context, id uuid.UUID) (*PromptHistory, error)
	ListPromptHistory(ctx context.Context, lessonID uuid.UUID) ([]*PromptHistory, error)
	UpdatePromptHistory(ctx context.Context, id uuid.UUID, promptText string) (bool, error)
	DeletePromptHistory(ctx context.Context, id uuid.UUID) error

	// ListLessonDetails reads the joined lesson/author/module/course/template view.
	ListLessonDetails(ctx context.Context, filter LessonDetailFilter) ([]*LessonDetail, error)

	// ListBlobKeys returns the blob key of every live template and lesson.
	ListBlobKeys(ctx context.Context) ([]string, error)
}

// EventSink receives document lifecycle notifications.
//
// Errors returned by a sink are logged and never fail the operation.
type EventSink interface {
	DocumentCreated(ctx context.Context, kind DocumentKind, id uuid.UUID, key string) error
	DocumentUpdated(ctx context.Context, kind DocumentKind, id uuid.UUID, oldKey, newKey string) error
	DocumentDeleted(ctx context.Context, kind DocumentKind, id uuid.UUID, key string) error

	// BlobOrphaned is fired when a blob is left without a referencing row.
	BlobOrphaned(ctx context.Context, key string, cause error) error
}
