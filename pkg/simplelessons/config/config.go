package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/simple-lessons/pkg/simplelessons"
	"github.com/tendant/simple-lessons/pkg/simplelessons/generation"
	memoryrepo "github.com/tendant/simple-lessons/pkg/simplelessons/repo/memory"
	repopg "github.com/tendant/simple-lessons/pkg/simplelessons/repo/postgres"
	fsstorage "github.com/tendant/simple-lessons/pkg/simplelessons/storage/fs"
	gcsstorage "github.com/tendant/simple-lessons/pkg/simplelessons/storage/gcs"
	memorystorage "github.com/tendant/simple-lessons/pkg/simplelessons/storage/memory"
	miniostorage "github.com/tendant/simple-lessons/pkg/simplelessons/storage/minio"
	s3storage "github.com/tendant/simple-lessons/pkg/simplelessons/storage/s3"
)

// Storage backend types.
const (
	StorageMemory = "memory"
	StorageFS     = "fs"
	StorageS3     = "s3"
	StorageMinIO  = "minio"
	StorageGCS    = "gcs"
)

// Option applies configuration to a ServerConfig instance.
type Option func(*ServerConfig) error

// Load constructs a ServerConfig by applying the supplied options on top of library defaults.
func Load(opts ...Option) (*ServerConfig, error) {
	cfg := defaults()

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func defaults() ServerConfig {
	return ServerConfig{
		Environment:        "development",
		LogLevel:           "info",
		DatabaseType:       "memory",
		Storage:            StorageConfig{Type: StorageMemory},
		GenerationTimeout:  generation.DefaultTimeout,
		CleanupAttempts:    3,
		DeleteConcurrency:  4,
		EnableEventLogging: true,
	}
}

// ServerConfig is the configuration of the lessons server and admin tool.
type ServerConfig struct {
	Environment string // development, production, testing
	LogLevel    string

	// Database configuration
	DatabaseURL  string
	DatabaseType string // "memory", "postgres"
	DBSchema     string // Postgres schema for search_path, empty keeps the server default

	Storage StorageConfig

	// GenerationURL is the base URL of the HTML generation service. Empty
	// disables generation: documents must then be created with content.
	GenerationURL     string
	GenerationTimeout time.Duration

	// Override the service paths, empty keeps the client defaults.
	GenerationStylePath   string
	GenerationContentPath string

	CleanupAttempts    int
	DeleteConcurrency  int
	EnableEventLogging bool
}

// StorageConfig selects and configures the blob store.
type StorageConfig struct {
	Type string // memory, fs, s3, minio, gcs

	BaseDir string // fs

	Bucket          string // s3, minio, gcs
	Region          string // s3, minio
	Endpoint        string // s3 (optional), minio (host:port), gcs (optional emulator)
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool   // minio
	UsePathStyle    bool   // s3
	CreateBucket    bool   // s3, minio
	SSEAlgorithm    string // s3: AES256 or aws:kms
	SSEKMSKeyID     string // s3
	CredentialsJSON string // gcs
}

// Validate validates the server configuration
func (c *ServerConfig) Validate() error {
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}

	if c.DatabaseType != "memory" && c.DatabaseType != "postgres" {
		return errors.New("database_type must be 'memory' or 'postgres'")
	}

	if c.DatabaseType == "postgres" && c.DatabaseURL == "" {
		return errors.New("database_url is required when using postgres")
	}

	switch c.Storage.Type {
	case StorageMemory:
	case StorageFS:
		if c.Storage.BaseDir == "" {
			return errors.New("filesystem storage requires a base directory")
		}
	case StorageS3, StorageGCS:
		if c.Storage.Bucket == "" {
			return fmt.Errorf("%s storage requires a bucket", c.Storage.Type)
		}
		switch c.Storage.SSEAlgorithm {
		case "", "AES256", "aws:kms":
		default:
			return fmt.Errorf("unsupported sse algorithm: %q", c.Storage.SSEAlgorithm)
		}
	case StorageMinIO:
		if c.Storage.Endpoint == "" || c.Storage.Bucket == "" {
			return errors.New("minio storage requires an endpoint and a bucket")
		}
	default:
		return fmt.Errorf("unsupported storage type: %q", c.Storage.Type)
	}

	if c.CleanupAttempts < 1 {
		return errors.New("cleanup_attempts must be at least 1")
	}
	if c.DeleteConcurrency < 1 {
		return errors.New("delete_concurrency must be at least 1")
	}
	if c.GenerationTimeout <= 0 {
		return errors.New("generation_timeout must be positive")
	}

	return nil
}

// Backends holds the stores built from a configuration. Pool is nil unless
// the database is Postgres.
type Backends struct {
	Repository simplelessons.Repository
	BlobStore  simplelessons.BlobStore
	Pool       *pgxpool.Pool
}

// Close releases the database pool, if any.
func (b *Backends) Close() {
	if b.Pool != nil {
		b.Pool.Close()
	}
}

// Migrate applies the schema when the database is Postgres.
func (b *Backends) Migrate(ctx context.Context) error {
	if b.Pool == nil {
		return nil
	}
	return repopg.Migrate(ctx, b.Pool)
}

// BuildBackends opens the repository and blob store.
func (c *ServerConfig) BuildBackends(ctx context.Context) (*Backends, error) {
	b := &Backends{}

	switch c.DatabaseType {
	case "memory":
		b.Repository = memoryrepo.New()
	case "postgres":
		pool, err := c.openPool(ctx)
		if err != nil {
			return nil, err
		}
		b.Pool = pool
		b.Repository = repopg.NewWithPool(pool)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", c.DatabaseType)
	}

	store, err := c.buildBlobStore(ctx)
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("failed to build storage backend %s: %w", c.Storage.Type, err)
	}
	b.BlobStore = store
	return b, nil
}

// BuildService creates a Service over freshly built backends. The caller
// owns the returned Backends and must Close them.
func (c *ServerConfig) BuildService(ctx context.Context, logger *slog.Logger) (simplelessons.Service, *Backends, error) {
	if logger == nil {
		logger = slog.Default()
	}
	b, err := c.BuildBackends(ctx)
	if err != nil {
		return nil, nil, err
	}

	options := []simplelessons.Option{
		simplelessons.WithRepository(b.Repository),
		simplelessons.WithBlobStore(b.BlobStore),
		simplelessons.WithLogger(logger),
		simplelessons.WithCleanupAttempts(c.CleanupAttempts),
		simplelessons.WithDeleteConcurrency(c.DeleteConcurrency),
	}
	if c.EnableEventLogging {
		options = append(options, simplelessons.WithEventSink(simplelessons.NewLogEventSink(logger)))
	}

	svc, err := simplelessons.New(options...)
	if err != nil {
		b.Close()
		return nil, nil, err
	}
	return svc, b, nil
}

// BuildGenerator returns the generation client, or nil when generation is
// not configured.
func (c *ServerConfig) BuildGenerator(logger *slog.Logger) generation.Generator {
	if c.GenerationURL == "" {
		return nil
	}
	opts := []generation.ClientOption{
		generation.WithTimeout(c.GenerationTimeout),
		generation.WithEndpoints(c.GenerationStylePath, c.GenerationContentPath),
	}
	if logger != nil {
		opts = append(opts, generation.WithLogger(logger))
	}
	return generation.NewClient(c.GenerationURL, opts...)
}

func (c *ServerConfig) openPool(ctx context.Context) (*pgxpool.Pool, error) {
	if c.DatabaseURL == "" {
		return nil, errors.New("database_url is required for postgres")
	}
	cfg, err := pgxpool.ParseConfig(c.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
	}
	if schema := c.DBSchema; schema != "" {
		cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			_, err := conn.Exec(ctx, "SET search_path TO "+pgx.Identifier{schema}.Sanitize())
			return err
		}
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}
	return pool, nil
}

// PingPostgres verifies connectivity to Postgres.
func (c *ServerConfig) PingPostgres(ctx context.Context) error {
	pool, err := c.openPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

func (c *ServerConfig) buildBlobStore(ctx context.Context) (simplelessons.BlobStore, error) {
	s := c.Storage
	switch s.Type {
	case StorageMemory:
		return memorystorage.New(), nil

	case StorageFS:
		return fsstorage.New(fsstorage.Config{BaseDir: s.BaseDir})

	case StorageS3:
		return s3storage.New(s3storage.Config{
			Region:                 s.Region,
			Bucket:                 s.Bucket,
			AccessKeyID:            s.AccessKeyID,
			SecretAccessKey:        s.SecretAccessKey,
			Endpoint:               s.Endpoint,
			UsePathStyle:           s.UsePathStyle,
			SSEAlgorithm:           s.SSEAlgorithm,
			SSEKMSKeyID:            s.SSEKMSKeyID,
			CreateBucketIfNotExist: s.CreateBucket,
		})

	case StorageMinIO:
		return miniostorage.New(miniostorage.Config{
			Endpoint:               s.Endpoint,
			AccessKeyID:            s.AccessKeyID,
			SecretAccessKey:        s.SecretAccessKey,
			Bucket:                 s.Bucket,
			Region:                 s.Region,
			UseSSL:                 s.UseSSL,
			CreateBucketIfNotExist: s.CreateBucket,
		})

	case StorageGCS:
		return gcsstorage.New(ctx, gcsstorage.Config{
			Bucket:          s.Bucket,
			CredentialsJSON: s.CredentialsJSON,
			Endpoint:        s.Endpoint,
		})

	default:
		return nil, fmt.Errorf("unsupported storage backend type: %s", s.Type)
	}
}
