package simplelessons

import (
	"time"

	"github.com/google/uuid"
)

// DocumentKind names the two document-backed entity kinds.
type DocumentKind string

const (
	KindTemplate DocumentKind = "template"
	KindLesson   DocumentKind = "lesson"
)

// Blob folders, one per document kind.
const (
	FolderTemplates = "templates"
	FolderLessons   = "lessons"
)

// HTMLContentType is the content type of every stored document.
const HTMLContentType = "text/html"

// Folder returns the blob folder used for documents of kind k.
func (k DocumentKind) Folder() string {
	if k == KindLesson {
		return FolderLessons
	}
	return FolderTemplates
}

// User is an account created from the external login widget.
type User struct {
	ID             uuid.UUID `json:"id"`
	ExternalNick   string    `json:"external_nick"`
	ExternalID     string    `json:"external_id"`
	CredentialHash string    `json:"-"`
	SessionToken   string    `json:"-"`
	LastSeenAt     time.Time `json:"last_seen_at"`
}

// Course groups modules.
type Course struct {
	ID          uuid.UUID `json:"id"`
	Title       string    `json:"title"`
	Description *string   `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Module groups lessons. CourseID is optional.
type Module struct {
	ID       uuid.UUID  `json:"id"`
	CourseID *uuid.UUID `json:"course_id,omitempty"`
	Title    string     `json:"title"`
	Order    *int       `json:"order,omitempty"`
}

// Template is a document-backed style sample that lessons are generated from.
type Template struct {
	ID        uuid.UUID `json:"id"`
	Title     string    `json:"title"`
	AuthorID  uuid.UUID `json:"author_id"`
	BlobKey   string    `json:"blob_key"`
	CreatedAt time.Time `json:"created_at"`
}

// Lesson is a document-backed lesson generated from a Template.
type Lesson struct {
	ID             uuid.UUID  `json:"id"`
	Title          string     `json:"title"`
	ModuleID       *uuid.UUID `json:"module_id,omitempty"`
	AuthorID       uuid.UUID  `json:"author_id"`
	BlobKey        string     `json:"blob_key"`
	CreatedAt      time.Time  `json:"created_at"`
	CreationPrompt string     `json:"creation_prompt"`
	TemplateID     uuid.UUID  `json:"template_id"`
}

// PromptHistory is one revision of the prompt used for a lesson.
type PromptHistory struct {
	ID         uuid.UUID `json:"id"`
	LessonID   uuid.UUID `json:"lesson_id"`
	PromptText string    `json:"prompt_text"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// LessonDetail is one row of the view_lessons_detailed projection.
//
// Lessons without a module, or whose module has no course, never appear in
// the view: the projection uses inner joins on the whole chain.
type LessonDetail struct {
	LessonID      uuid.UUID `json:"lesson_id"`
	LessonTitle   string    `json:"lesson_title"`
	CreatedAt     time.Time `json:"created_at"`
	AuthorNick    string    `json:"author_nick"`
	ModuleTitle   string    `json:"module_title"`
	CourseTitle   string    `json:"course_title"`
	TemplateTitle string    `json:"template_title"`
}

// Partial updates. Nil fields are left untouched.

// UserUpdate lists the mutable user fields.
type UserUpdate struct {
	ExternalNick   *string
	ExternalID     *string
	CredentialHash *string
	SessionToken   *string
	LastSeenAt     *time.Time
}

// CourseUpdate lists the mutable course fields.
type CourseUpdate struct {
	Title       *string
	Description *string
}

// ModuleUpdate lists the mutable module fields.
type ModuleUpdate struct {
	CourseID    *uuid.UUID
	ClearCourse bool
	Title       *string
	Order       *int
}

// TemplateUpdate lists the mutable template columns.
type TemplateUpdate struct {
	Title   *string
	BlobKey *string
}

// LessonUpdate lists the mutable lesson columns.
type LessonUpdate struct {
	Title          *string
	ModuleID       *uuid.UUID
	ClearModule    bool
	BlobKey        *string
	CreationPrompt *string
}

// Filters.

// TemplateFilter narrows ListTemplates. Zero values match everything.
type TemplateFilter struct {
	AuthorID uuid.UUID
}

// LessonFilter narrows ListLessons. Zero values match everything.
type LessonFilter struct {
	AuthorID   uuid.UUID
	TemplateID uuid.UUID
	ModuleID   uuid.UUID
	CourseID   uuid.UUID
}

// LessonDetailFilter narrows ListLessonDetails.
type LessonDetailFilter struct {
	AuthorNick string
}
