package simplelessons

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// NoopEventSink is a no-operation implementation of EventSink
type NoopEventSink struct{}

// NewNoopEventSink creates a new no-operation event sink
func NewNoopEventSink() EventSink {
	return &NoopEventSink{}
}

func (n *NoopEventSink) DocumentCreated(ctx context.Context, kind DocumentKind, id uuid.UUID, key string) error {
	return nil
}

func (n *NoopEventSink) DocumentUpdated(ctx context.Context, kind DocumentKind, id uuid.UUID, oldKey, newKey string) error {
	return nil
}

func (n *NoopEventSink) DocumentDeleted(ctx context.Context, kind DocumentKind, id uuid.UUID, key string) error {
	return nil
}

func (n *NoopEventSink) BlobOrphaned(ctx context.Context, key string, cause error) error {
	return nil
}

// LogEventSink writes lifecycle events to a structured logger.
type LogEventSink struct {
	logger *slog.Logger
}

// NewLogEventSink creates an event sink that logs through logger, or
// slog.Default() when logger is nil.
func NewLogEventSink(logger *slog.Logger) EventSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogEventSink{logger: logger}
}

func (l *LogEventSink) DocumentCreated(ctx context.Context, kind DocumentKind, id uuid.UUID, key string) error {
	l.logger.InfoContext(ctx, "Document created", "kind", kind, "id", id, "key", key)
	return nil
}

func (l *LogEventSink) DocumentUpdated(ctx context.Context, kind DocumentKind, id uuid.UUID, oldKey, newKey string) error {
	l.logger.InfoContext(ctx, "Document content replaced", "kind", kind, "id", id, "old_key", oldKey, "new_key", newKey)
	return nil
}

func (l *LogEventSink) DocumentDeleted(ctx context.Context, kind DocumentKind, id uuid.UUID, key string) error {
	l.logger.InfoContext(ctx, "Document deleted", "kind", kind, "id", id, "key", key)
	return nil
}

func (l *LogEventSink) BlobOrphaned(ctx context.Context, key string, cause error) error {
	l.logger.WarnContext(ctx, "Blob orphaned", "key", key, "err", cause)
	return nil
}
