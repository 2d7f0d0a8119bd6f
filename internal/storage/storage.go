// Package storage reads the documents (invoice, quote and contract PDFs)
// that sequence steps attach to outbound email.
//
// The CRM writes documents; this package mostly reads them. Two backends
// exist:
// - LocalStorage: a directory on disk, for development
// - R2Storage: Cloudflare R2 (S3-compatible), for production
package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"time"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Storage is a flat key/value object store.
type Storage interface {
	// Put stores data at key. Existing objects are replaced only when
	// opts.Overwrite is set.
	Put(ctx context.Context, key string, data io.Reader, opts PutOptions) error

	// Get opens the object at key. The caller must close the reader.
	// Returns ErrNotFound if the key doesn't exist.
	Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error)

	// Exists reports whether an object exists at key.
	Exists(ctx context.Context, key string) (bool, error)
}

// =============================================================================
// Data Types
// =============================================================================

// PutOptions configures how an object is stored.
type PutOptions struct {
	// ContentType is detected from the key when empty.
	ContentType string

	// MaxSize rejects larger objects with ErrTooLarge. 0 means no limit.
	MaxSize int64

	// Overwrite allows replacing an existing object at the same key.
	Overwrite bool
}

// ObjectInfo contains metadata about a stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// Document is a stored file loaded into memory for attaching to an email.
type Document struct {
	Filename    string
	ContentType string
	Data        []byte
}

// MaxAttachmentSize caps a single attachment. Most mail servers reject
// messages above 25 MB once base64 overhead is added.
const MaxAttachmentSize = 15 << 20

// ReadDocument loads the object at key for use as an attachment. Objects
// larger than MaxAttachmentSize fail with ErrTooLarge.
func ReadDocument(ctx context.Context, s Storage, key string) (Document, error) {
	rc, info, err := s.Get(ctx, key)
	if err != nil {
		return Document{}, err
	}
	defer rc.Close()

	if info.Size > MaxAttachmentSize {
		return Document{}, &StorageError{Op: "ReadDocument", Key: key, Err: ErrTooLarge}
	}
	data, err := io.ReadAll(io.LimitReader(rc, MaxAttachmentSize+1))
	if err != nil {
		return Document{}, &StorageError{Op: "ReadDocument", Key: key, Err: fmt.Errorf("read object: %w", err)}
	}
	if len(data) > MaxAttachmentSize {
		return Document{}, &StorageError{Op: "ReadDocument", Key: key, Err: ErrTooLarge}
	}

	contentType := info.ContentType
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = DetectContentType("", key, nil)
	}
	return Document{
		Filename:    path.Base(key),
		ContentType: contentType,
		Data:        data,
	}, nil
}

// =============================================================================
// Configuration Types
// =============================================================================

// LocalConfig holds configuration for local filesystem storage.
type LocalConfig struct {
	// BasePath is the root directory where documents live.
	// Example: "./storage"
	BasePath string
}

// R2Config holds configuration for Cloudflare R2 storage.
type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string

	// Region is required by the AWS SDK. R2 accepts "auto".
	Region string
}

// =============================================================================
// Provider Constants
// =============================================================================

const (
	// ProviderLocal identifies the local filesystem storage provider.
	ProviderLocal = "local"

	// ProviderR2 identifies the Cloudflare R2 storage provider.
	ProviderR2 = "r2"
)

// Config selects and configures a backend.
type Config struct {
	Provider string
	Local    LocalConfig
	R2       R2Config
}

// New builds the configured backend.
func New(cfg Config, logger *slog.Logger) (Storage, error) {
	switch cfg.Provider {
	case ProviderLocal, "":
		return NewLocalStorage(cfg.Local, logger)
	case ProviderR2:
		return NewR2Storage(cfg.R2, logger)
	}
	return nil, fmt.Errorf("unknown storage provider %q", cfg.Provider)
}
