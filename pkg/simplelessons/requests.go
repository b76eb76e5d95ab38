package simplelessons

import (
	"time"

	"github.com/google/uuid"
)

// Request/Response DTOs

// CreateUserRequest contains parameters for registering a user
type CreateUserRequest struct {
	ExternalNick   string
	ExternalID     string
	CredentialHash string
	LastSeenAt     time.Time
}

// CreateCourseRequest contains parameters for creating a course
type CreateCourseRequest struct {
	Title       string
	Description *string
}

// CreateModuleRequest contains parameters for creating a module
type CreateModuleRequest struct {
	CourseID *uuid.UUID
	Title    string
	Order    *int
}

// CreateTemplateRequest contains parameters for creating a template document
type CreateTemplateRequest struct {
	Title    string
	AuthorID uuid.UUID
	Content  string
}

// UpdateTemplateRequest contains parameters for updating a template. Content
// is replaced only when non-nil.
type UpdateTemplateRequest struct {
	ID      uuid.UUID
	Title   *string
	Content *string
}

// CreateLessonRequest contains parameters for creating a lesson document
type CreateLessonRequest struct {
	Title          string
	AuthorID       uuid.UUID
	TemplateID     uuid.UUID
	ModuleID       *uuid.UUID
	CreationPrompt string
	Content        string
}

// UpdateLessonRequest contains parameters for updating a lesson. Content is
// replaced only when non-nil.
type UpdateLessonRequest struct {
	ID             uuid.UUID
	Title          *string
	ModuleID       *uuid.UUID
	ClearModule    bool
	CreationPrompt *string
	Content        *string
}

// Revision describes a content swap performed by an update.
type Revision struct {
	OldKey string
	NewKey string

	// CleanupErr is set when deleting OldKey failed after the row was
	// committed. The update still succeeded; OldKey is now an orphan.
	CleanupErr error
}
