package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/tendant/simple-lessons/pkg/simplelessons"
)

// Config options for the Google Cloud Storage backend
type Config struct {
	Bucket string

	// CredentialsJSON is either inline service account JSON or a path to a
	// credentials file. Empty means application default credentials.
	CredentialsJSON string

	// Endpoint overrides the API endpoint, for example a local emulator.
	// Requests to a custom endpoint are sent without authentication.
	Endpoint string
}

// Backend stores documents in a GCS bucket
type Backend struct {
	client *storage.Client
	bucket *storage.BucketHandle
}

// New creates a new GCS storage backend
func New(ctx context.Context, config Config) (*Backend, error) {
	if config.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}

	client, err := storage.NewClient(ctx, clientOptions(config)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &Backend{client: client, bucket: client.Bucket(config.Bucket)}, nil
}

func clientOptions(config Config) []option.ClientOption {
	opts := []option.ClientOption{option.WithScopes(storage.ScopeReadWrite)}
	if config.Endpoint != "" {
		return append(opts, option.WithEndpoint(config.Endpoint), option.WithoutAuthentication())
	}
	creds := strings.TrimSpace(config.CredentialsJSON)
	switch {
	case creds == "":
	case strings.HasPrefix(creds, "{"):
		opts = append(opts, option.WithCredentialsJSON([]byte(creds)))
	default:
		opts = append(opts, option.WithCredentialsFile(creds))
	}
	return opts
}

// Put writes data under key
func (b *Backend) Put(ctx context.Context, key string, data []byte, contentType string) error {
	w := b.bucket.Object(key).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write data to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer: %w", err)
	}
	return nil
}

// Get reads the object stored under key
func (b *Backend) Get(ctx context.Context, key string) ([]byte, error) {
	r, err := b.bucket.Object(key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, simplelessons.ErrBlobNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to open GCS reader: %w", err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read GCS object: %w", err)
	}
	return data, nil
}

// Delete removes the object stored under key
func (b *Backend) Delete(ctx context.Context, key string) error {
	err := b.bucket.Object(key).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return simplelessons.ErrBlobNotFound
	} else if err != nil {
		return fmt.Errorf("failed to delete GCS object %q: %w", key, err)
	}
	return nil
}

// List returns the keys starting with prefix
func (b *Backend) List(ctx context.Context, prefix string) ([]string, error) {
	it := b.bucket.Objects(ctx, &storage.Query{Prefix: prefix})
	var keys []string
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list GCS objects: %w", err)
		}
		keys = append(keys, attrs.Name)
	}
	return keys, nil
}

// Close releases the underlying client
func (b *Backend) Close() error {
	return b.client.Close()
}

var _ simplelessons.BlobStore = (*Backend)(nil)
