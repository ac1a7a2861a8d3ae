package store

import (
	"context"
	"os"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	TypeFilesystem = "filesystem"
	TypeBlob       = "blob"
)

// ErrNotExist is returned by Storage.Read for unknown keys.
var ErrNotExist = os.ErrNotExist

// Storage persists local state versions by key.
// Implementations must be safe for concurrent use.
type Storage interface {
	// Write stores data with the given key, replacing previous data.
	Write(ctx context.Context, key string, data []byte) error

	// Read returns ErrNotExist if the key does not exist.
	Read(ctx context.Context, key string) ([]byte, error)

	// List returns keys matching the given prefix, sorted descending.
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete is idempotent.
	Delete(ctx context.Context, key string) error

	Close() error
}

// Config selects and configures a Storage backend.
type Config struct {
	Type       string
	Dir        string
	BlobBucket string
	BlobPrefix string
}

// supportedBlobSchemes lists the bucket url schemes with a registered driver
var supportedBlobSchemes = []string{"gs://", "s3://", "azblob://", "file://", "mem://"}

// Open creates the storage backend described by c.
func Open(ctx context.Context, l *zap.Logger, c Config) (Storage, error) {
	if c.Type != TypeBlob && (c.BlobBucket != "" || c.BlobPrefix != "") {
		l.Warn("blob storage flags are set but storage type is not 'blob'; blob config will be ignored",
			zap.String("type", c.Type),
			zap.String("bucket", c.BlobBucket),
			zap.String("prefix", c.BlobPrefix),
		)
	}

	switch c.Type {
	case TypeFilesystem, "":
		l.Info("using filesystem storage", zap.String("dir", c.Dir))
		return NewFilesystemStorage(c.Dir)
	case TypeBlob:
		if c.BlobBucket == "" {
			return nil, errors.New("blob bucket url is required for blob storage")
		}
		if !isValidBlobScheme(c.BlobBucket) {
			return nil, errors.Errorf("unsupported blob storage url scheme in %q; supported schemes: %s",
				c.BlobBucket, strings.Join(supportedBlobSchemes, ", "))
		}
		l.Info("using blob storage",
			zap.String("bucket", c.BlobBucket),
			zap.String("prefix", c.BlobPrefix),
			zap.String("provider", blobProvider(c.BlobBucket)),
		)
		return NewBlobStorage(ctx, c.BlobBucket, c.BlobPrefix)
	default:
		return nil, errors.Errorf("unknown storage type: %s (supported: %s, %s)", c.Type, TypeFilesystem, TypeBlob)
	}
}

func isValidBlobScheme(bucketURL string) bool {
	for _, scheme := range supportedBlobSchemes {
		if strings.HasPrefix(bucketURL, scheme) {
			return true
		}
	}
	return false
}

func blobProvider(bucketURL string) string {
	switch {
	case strings.HasPrefix(bucketURL, "gs://"):
		return "Google Cloud Storage"
	case strings.HasPrefix(bucketURL, "s3://"):
		return "Amazon S3"
	case strings.HasPrefix(bucketURL, "azblob://"):
		return "Azure Blob Storage"
	case strings.HasPrefix(bucketURL, "file://"):
		return "Local Directory"
	default:
		return "In Memory"
	}
}
