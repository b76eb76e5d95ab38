package config

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-lessons/pkg/simplelessons"
	"github.com/tendant/simple-lessons/pkg/simplelessons/generation"
	fsstorage "github.com/tendant/simple-lessons/pkg/simplelessons/storage/fs"
	memorystorage "github.com/tendant/simple-lessons/pkg/simplelessons/storage/memory"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.DatabaseType)
	assert.Equal(t, StorageMemory, cfg.Storage.Type)
	assert.Equal(t, generation.DefaultTimeout, cfg.GenerationTimeout)
	assert.Empty(t, cfg.GenerationURL)
	assert.Nil(t, cfg.BuildGenerator(nil))
}

func TestLoad_OptionErrors(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
	}{
		{"empty environment", []Option{WithEnvironment("")}},
		{"unknown database", []Option{WithDatabase("mysql", "x")}},
		{"postgres without url", []Option{WithDatabase("postgres", "")}},
		{"unknown log level", []Option{WithLogLevel("loud")}},
		{"empty fs dir", []Option{WithFilesystemStorage("")}},
		{"s3 endpoint without s3", []Option{WithS3Endpoint("http://localhost:9000", true)}},
		{"minio without bucket", []Option{WithMinIOStorage("localhost:9000", "", false)}},
		{"zero cleanup attempts", []Option{WithCleanupAttempts(0)}},
		{"zero delete concurrency", []Option{WithDeleteConcurrency(0)}},
		{"bad storage url", []Option{WithStorageURL("ftp://host/x")}},
		{"unknown sse", []Option{WithStorageURL("s3://b?sse=rot13")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.opts...)
			assert.Error(t, err)
		})
	}
}

func TestLoad_Options(t *testing.T) {
	cfg, err := Load(
		WithEnvironment("production"),
		WithLogLevel("debug"),
		WithS3Storage("lessons", "eu-west-1"),
		WithS3Endpoint("http://localhost:9000", true),
		WithStorageCredentials("key", "secret"),
		WithCreateBucket(true),
		WithGeneration("http://gen:8000", 30*time.Second),
		WithEventLogging(false),
	)
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, StorageConfig{
		Type:            StorageS3,
		Bucket:          "lessons",
		Region:          "eu-west-1",
		Endpoint:        "http://localhost:9000",
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
		UsePathStyle:    true,
		CreateBucket:    true,
	}, cfg.Storage)
	assert.Equal(t, 30*time.Second, cfg.GenerationTimeout)
	assert.False(t, cfg.EnableEventLogging)
	assert.NotNil(t, cfg.BuildGenerator(nil))
}

func TestWithStorageURL_KeepsCredentials(t *testing.T) {
	cfg, err := Load(
		WithStorageCredentials("key", "secret"),
		WithStorageURL("minio://localhost:9000/lessons?ssl=false"),
	)
	require.NoError(t, err)

	assert.Equal(t, StorageMinIO, cfg.Storage.Type)
	assert.Equal(t, "key", cfg.Storage.AccessKeyID)
	assert.Equal(t, "secret", cfg.Storage.SecretAccessKey)
	assert.False(t, cfg.Storage.UseSSL)
}

func TestBuildService_Memory(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	ctx := context.Background()
	svc, backends, err := cfg.BuildService(ctx, nil)
	require.NoError(t, err)
	defer backends.Close()
	require.NoError(t, backends.Migrate(ctx))
	assert.Nil(t, backends.Pool)
	assert.IsType(t, &memorystorage.Backend{}, backends.BlobStore)

	user, err := svc.CreateUser(ctx, simplelessons.CreateUserRequest{ExternalNick: "nina", ExternalID: "7"})
	require.NoError(t, err)
	tmpl, err := svc.CreateTemplate(ctx, simplelessons.CreateTemplateRequest{Title: "t", AuthorID: user.ID, Content: "<p>x</p>"})
	require.NoError(t, err)

	keys, err := backends.Repository.ListBlobKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{tmpl.BlobKey}, keys)
}

func TestBuildBackends_Filesystem(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(WithStorageURL("file://" + dir))
	require.NoError(t, err)

	backends, err := cfg.BuildBackends(context.Background())
	require.NoError(t, err)
	defer backends.Close()
	assert.IsType(t, &fsstorage.Backend{}, backends.BlobStore)
}
