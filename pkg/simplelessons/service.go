package simplelessons

import (
	"context"

	"github.com/google/uuid"
)

// Service defines the main interface for the simple-lessons library
type Service interface {
	// User operations. DeleteUser also removes the blobs of every template
	// and lesson the user owns.
	CreateUser(ctx context.Context, req CreateUserRequest) (*User, error)
	GetUser(ctx context.Context, id uuid.UUID) (*User, error)
	GetUserByExternalID(ctx context.Context, externalID string) (*User, error)
	GetUserBySessionToken(ctx context.Context, token string) (*User, error)
	UpdateUser(ctx context.Context, id uuid.UUID, upd UserUpdate) (*User, error)
	DeleteUser(ctx context.Context, id uuid.UUID) error

	// Course operations. DeleteCourse removes the blobs of lessons in its modules.
	CreateCourse(ctx context.Context, req CreateCourseRequest) (*Course, error)
	GetCourse(ctx context.Context, id uuid.UUID) (*Course, error)
	ListCourses(ctx context.Context) ([]*Course, error)
	UpdateCourse(ctx context.Context, id uuid.UUID, upd CourseUpdate) (*Course, error)
	DeleteCourse(ctx context.Context, id uuid.UUID) error

	// Module operations. DeleteModule removes the blobs of its lessons.
	CreateModule(ctx context.Context, req CreateModuleRequest) (*Module, error)
	GetModule(ctx context.Context, id uuid.UUID) (*Module, error)
	ListModules(ctx context.Context, courseID uuid.UUID) ([]*Module, error)
	UpdateModule(ctx context.Context, id uuid.UUID, upd ModuleUpdate) (*Module, error)
	DeleteModule(ctx context.Context, id uuid.UUID) error

	// Template documents
	CreateTemplate(ctx context.Context, req CreateTemplateRequest) (*Template, error)
	GetTemplate(ctx context.Context, id uuid.UUID) (*Template, error)
	ListTemplates(ctx context.Context, filter TemplateFilter) ([]*Template, error)
	GetTemplateContent(ctx context.Context, id uuid.UUID) ([]byte, error)
	UpdateTemplate(ctx context.Context, req UpdateTemplateRequest) (*Template, *Revision, error)
	DeleteTemplate(ctx context.Context, id uuid.UUID) error

	// Lesson documents
	CreateLesson(ctx context.Context, req CreateLessonRequest) (*Lesson, error)
	GetLesson(ctx context.Context, id uuid.UUID) (*Lesson, error)
	ListLessons(ctx context.Context, filter LessonFilter) ([]*Lesson, error)
	GetLessonContent(ctx context.Context, id uuid.UUID) ([]byte, error)
	UpdateLesson(ctx context.Context, req UpdateLessonRequest) (*Lesson, *Revision, error)
	DeleteLesson(ctx context.Context, id uuid.UUID) error

	// Prompt history
	AddPrompt(ctx context.Context, lessonID uuid.UUID, promptText string) (*PromptHistory, error)
	GetPromptHistory(ctx context.Context, id uuid.UUID) (*PromptHistory, error)
	ListPromptHistory(ctx context.Context, lessonID uuid.UUID) ([]*PromptHistory, error)
	UpdatePromptHistory(ctx context.Context, id uuid.UUID, promptText string) (*PromptHistory, error)
	DeletePromptHistory(ctx context.Context, id uuid.UUID) error

	// Derived view
	ListLessonDetails(ctx context.Context, filter LessonDetailFilter) ([]*LessonDetail, error)
}
