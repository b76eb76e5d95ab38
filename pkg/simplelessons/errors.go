package simplelessons

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Error types
var (
	// ErrNotFound is wrapped by every entity not-found error
	ErrNotFound = errors.New("not found")

	ErrUserNotFound          = fmt.Errorf("user %w", ErrNotFound)
	ErrCourseNotFound        = fmt.Errorf("course %w", ErrNotFound)
	ErrModuleNotFound        = fmt.Errorf("module %w", ErrNotFound)
	ErrTemplateNotFound      = fmt.Errorf("template %w", ErrNotFound)
	ErrLessonNotFound        = fmt.Errorf("lesson %w", ErrNotFound)
	ErrPromptHistoryNotFound = fmt.Errorf("prompt history %w", ErrNotFound)

	// ErrIntegrity indicates a relational constraint violation; the
	// transaction was rolled back
	ErrIntegrity = errors.New("integrity constraint violated")

	// ErrBlobNotFound indicates the blob store has no object under the key
	ErrBlobNotFound = errors.New("blob not found")

	// ErrContentUnavailable indicates a live row references a blob that no
	// longer exists
	ErrContentUnavailable = errors.New("document content unavailable")

	// ErrInvalidRequest indicates a malformed request
	ErrInvalidRequest = errors.New("invalid request")
)

// ValidationError reports a missing referenced entity. It is returned before
// any blob I/O happens.
type ValidationError struct {
	Field string
	ID    uuid.UUID
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s %s: %v", e.Field, e.ID, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// IntegrityError reports a failed row insert or update.
type IntegrityError struct {
	Kind string
	ID   uuid.UUID
	Op   string
	Err  error
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("%s %s of %s failed: %v", e.Kind, e.Op, e.ID, e.Err)
}

func (e *IntegrityError) Unwrap() error {
	return e.Err
}

// StorageError represents an error related to blob storage operations
type StorageError struct {
	Key string
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage operation %s failed for key %s: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// DocumentError wraps any other failure of a document operation
type DocumentError struct {
	Kind DocumentKind
	ID   uuid.UUID
	Op   string
	Err  error
}

func (e *DocumentError) Error() string {
	return fmt.Sprintf("%s operation %s failed for %s: %v", e.Kind, e.Op, e.ID, e.Err)
}

func (e *DocumentError) Unwrap() error {
	return e.Err
}
