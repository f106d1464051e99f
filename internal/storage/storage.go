// Package storage provides object storage abstractions for generation data
// files: the materialized parquet outputs of a swap, the JSON-lines sources
// they are derived from, and the scrubbing of abandoned generation paths.
package storage

import (
	"context"
	"errors"
)

// Common errors for storage operations.
var (
	ErrObjectNotFound  = errors.New("object not found")
	ErrUploadFailed    = errors.New("upload failed")
	ErrDownloadFailed  = errors.New("download failed")
	ErrDeleteFailed    = errors.New("delete failed")
	ErrForeignLocation = errors.New("location outside this store")
)

// ObjectStorage abstracts object storage operations.
// Implementations include S3 and the local filesystem for testing.
type ObjectStorage interface {
	// Upload uploads a file to object storage.
	// localPath is the path to the local file to upload.
	// objectPath is the destination path in object storage.
	Upload(ctx context.Context, localPath, objectPath string) error

	// UploadMultipart uploads using multipart for large files.
	// Returns the ETag of the uploaded object for validation.
	UploadMultipart(ctx context.Context, localPath, objectPath string) (string, error)

	// Download downloads a file from object storage.
	// objectPath is the source path in object storage.
	// localPath is the destination path on the local filesystem.
	Download(ctx context.Context, objectPath, localPath string) error

	// Delete removes an object from storage. Deleting an object that is
	// already gone is not an error.
	Delete(ctx context.Context, objectPath string) error

	// Exists checks if an object exists in storage.
	Exists(ctx context.Context, objectPath string) (bool, error)

	// ListObjects returns all object paths under the given prefix.
	// Used to scrub abandoned generation paths before they are rewritten.
	ListObjects(ctx context.Context, prefix string) ([]string, error)

	// KeyFor maps a catalog location URI (e.g. s3://bucket/db/table/version_4/)
	// to an object path prefix within this store. Fails with
	// ErrForeignLocation when the URI points somewhere this store cannot
	// reach, such as a different bucket.
	KeyFor(locationURI string) (string, error)
}

// MultipartUploadConfig holds configuration for multipart uploads.
type MultipartUploadConfig struct {
	// PartSize is the size of each part in bytes (default: 5MB).
	PartSize int64
	// Concurrency is the number of concurrent part uploads (default: 5).
	Concurrency int
}

// DefaultMultipartConfig returns the default multipart upload configuration.
func DefaultMultipartConfig() MultipartUploadConfig {
	return MultipartUploadConfig{
		PartSize:    5 * 1024 * 1024, // 5MB
		Concurrency: 5,
	}
}
