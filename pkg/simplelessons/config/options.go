package config

import (
	"fmt"
	"time"
)

// WithEnvironment sets the environment (development, production, testing)
func WithEnvironment(env string) Option {
	return func(c *ServerConfig) error {
		if env == "" {
			return fmt.Errorf("environment cannot be empty")
		}
		c.Environment = env
		return nil
	}
}

// WithLogLevel sets the minimum log level (debug, info, warn, error).
func WithLogLevel(level string) Option {
	return func(c *ServerConfig) error {
		if _, err := ParseLevel(level); err != nil {
			return err
		}
		c.LogLevel = level
		return nil
	}
}

// WithDatabase configures the database backend
func WithDatabase(dbType, url string) Option {
	return func(c *ServerConfig) error {
		if dbType != "memory" && dbType != "postgres" {
			return fmt.Errorf("database type must be 'memory' or 'postgres', got: %s", dbType)
		}
		if dbType == "postgres" && url == "" {
			return fmt.Errorf("database URL is required for postgres")
		}
		c.DatabaseType = dbType
		c.DatabaseURL = url
		return nil
	}
}

// WithDatabaseSchema sets the Postgres search_path schema
func WithDatabaseSchema(schema string) Option {
	return func(c *ServerConfig) error {
		c.DBSchema = schema
		return nil
	}
}

// WithStorageURL configures the blob store from a storage URL such as
// file:///var/lib/lessons or s3://bucket?region=eu-west-1.
func WithStorageURL(raw string) Option {
	return func(c *ServerConfig) error {
		storage, err := ParseStorageURL(raw)
		if err != nil {
			return err
		}
		// credentials are not part of the URL; keep any already configured
		storage.AccessKeyID = c.Storage.AccessKeyID
		storage.SecretAccessKey = c.Storage.SecretAccessKey
		storage.CredentialsJSON = c.Storage.CredentialsJSON
		c.Storage = storage
		return nil
	}
}

// WithMemoryStorage keeps documents in process memory
func WithMemoryStorage() Option {
	return func(c *ServerConfig) error {
		c.Storage = StorageConfig{Type: StorageMemory}
		return nil
	}
}

// WithFilesystemStorage stores documents under baseDir
func WithFilesystemStorage(baseDir string) Option {
	return func(c *ServerConfig) error {
		if baseDir == "" {
			return fmt.Errorf("filesystem base directory cannot be empty")
		}
		c.Storage = StorageConfig{Type: StorageFS, BaseDir: baseDir}
		return nil
	}
}

// WithS3Storage stores documents in an S3 bucket
func WithS3Storage(bucket, region string) Option {
	return func(c *ServerConfig) error {
		if bucket == "" {
			return fmt.Errorf("S3 bucket cannot be empty")
		}
		c.Storage = StorageConfig{Type: StorageS3, Bucket: bucket, Region: region}
		return nil
	}
}

// WithS3Endpoint points the S3 client at an S3-compatible service
func WithS3Endpoint(endpoint string, usePathStyle bool) Option {
	return func(c *ServerConfig) error {
		if c.Storage.Type != StorageS3 {
			return fmt.Errorf("S3 endpoint requires S3 storage, got %q", c.Storage.Type)
		}
		c.Storage.Endpoint = endpoint
		c.Storage.UsePathStyle = usePathStyle
		return nil
	}
}

// WithMinIOStorage stores documents in a MinIO bucket
func WithMinIOStorage(endpoint, bucket string, useSSL bool) Option {
	return func(c *ServerConfig) error {
		if endpoint == "" || bucket == "" {
			return fmt.Errorf("MinIO endpoint and bucket cannot be empty")
		}
		c.Storage = StorageConfig{Type: StorageMinIO, Endpoint: endpoint, Bucket: bucket, UseSSL: useSSL}
		return nil
	}
}

// WithGCSStorage stores documents in a Google Cloud Storage bucket
func WithGCSStorage(bucket, credentialsJSON string) Option {
	return func(c *ServerConfig) error {
		if bucket == "" {
			return fmt.Errorf("GCS bucket cannot be empty")
		}
		c.Storage = StorageConfig{Type: StorageGCS, Bucket: bucket, CredentialsJSON: credentialsJSON}
		return nil
	}
}

// WithStorageCredentials sets the access keys for S3 or MinIO
func WithStorageCredentials(accessKeyID, secretAccessKey string) Option {
	return func(c *ServerConfig) error {
		c.Storage.AccessKeyID = accessKeyID
		c.Storage.SecretAccessKey = secretAccessKey
		return nil
	}
}

// WithCreateBucket creates the S3 or MinIO bucket on start when missing
func WithCreateBucket(enabled bool) Option {
	return func(c *ServerConfig) error {
		c.Storage.CreateBucket = enabled
		return nil
	}
}

// WithGeneration enables the generation service at baseURL
func WithGeneration(baseURL string, timeout time.Duration) Option {
	return func(c *ServerConfig) error {
		c.GenerationURL = baseURL
		if timeout > 0 {
			c.GenerationTimeout = timeout
		}
		return nil
	}
}

// WithCleanupAttempts sets how often a replaced blob delete is tried
func WithCleanupAttempts(n int) Option {
	return func(c *ServerConfig) error {
		c.CleanupAttempts = n
		return nil
	}
}

// WithDeleteConcurrency bounds parallel blob deletes in cascades
func WithDeleteConcurrency(n int) Option {
	return func(c *ServerConfig) error {
		c.DeleteConcurrency = n
		return nil
	}
}

// WithEventLogging enables or disables document event logging
func WithEventLogging(enabled bool) Option {
	return func(c *ServerConfig) error {
		c.EnableEventLogging = enabled
		return nil
	}
}

// WithDefaults returns options for a development setup: memory database
// and storage, no generation.
func WithDefaults() Option {
	return func(c *ServerConfig) error {
		*c = defaults()
		return nil
	}
}
