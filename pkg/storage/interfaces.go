package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"
)

// ErrObjectNotFound is returned by GetObject when the key does not exist
var ErrObjectNotFound = errors.New("object not found")

// ObjectStore holds picture bytes under content-addressed keys
type ObjectStore interface {
	PutObject(ctx context.Context, key string, content io.Reader, size int64, contentType string) error
	GetObject(ctx context.Context, key string) (io.ReadCloser, error)
	ObjectExists(ctx context.Context, key string) (bool, error)
	DeleteObject(ctx context.Context, key string) error
	HealthCheck(ctx context.Context) error
}

// ContentKey returns the storage key for content with the given SHA-256
// digest: pictures/sha256/ab/cdef...
func ContentKey(sum [sha256.Size]byte) string {
	hash := hex.EncodeToString(sum[:])
	return fmt.Sprintf("pictures/sha256/%s/%s", hash[:2], hash[2:])
}

// Config for storage backends
type Config struct {
	ObjectStore string // "s3" or "filesystem"

	// Filesystem config
	FilesystemRoot string

	// PostgreSQL config
	PostgresURL         string
	PostgresReplicaURLs string
	PostgresMaxConns    int
	PostgresMinConns    int
	PostgresTimeout     time.Duration

	// S3 config
	S3Endpoint     string
	S3Region       string
	S3Bucket       string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool

	// Redis config
	RedisURL        string
	RedisPassword   string
	RedisDB         int
	RedisMaxRetries int
	RedisPoolSize   int
}

// DefaultConfig returns configuration suitable for local development
func DefaultConfig() Config {
	return Config{
		ObjectStore:      "filesystem",
		FilesystemRoot:   "/tmp/gallery",
		PostgresMaxConns: 20,
		PostgresMinConns: 2,
		PostgresTimeout:  10 * time.Second,
		S3Region:         "us-east-1",
		S3Bucket:         "gallery",
		RedisURL:         "redis://localhost:6379/0",
		RedisDB:          -1,
		RedisMaxRetries:  3,
		RedisPoolSize:    10,
	}
}
