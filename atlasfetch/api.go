// Package atlasfetch fetches publicly hosted atlas imagery and metadata from
// object storage into a deterministic local cache.
//
// The package centers on the Fetcher: given a resource key it computes a
// stable local path, returns that path immediately when the file is already
// present, and otherwise performs exactly one download. Cache entries are
// never mutated or deleted by this package; cleanup is the caller's
// responsibility.
package atlasfetch

import (
	"context"
	"io"
)

// -----------------------------------------------------------------------------
// Store interface
// -----------------------------------------------------------------------------

// ObjectInfo describes a remote object without fetching its contents.
type ObjectInfo struct {
	// Size is the object size in bytes.
	Size int64

	// ETag is the storage-assigned entity tag. For objects uploaded in a
	// single part this is the hex MD5 of the contents; multipart uploads
	// produce ETags that are not plain MD5s.
	ETag string

	// ContentType is the stored MIME type, if the backend records one.
	ContentType string
}

// Store abstracts read-only access to an object storage bucket.
//
// Implementations may target S3-compatible services or in-memory fakes.
// The interface is intentionally read-only: atlas buckets are published
// datasets and nothing in this module writes to them.
type Store interface {
	// Get retrieves the object at the given key.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Head returns object metadata without transferring the body.
	Head(ctx context.Context, key string) (ObjectInfo, error)

	// Exists checks whether a key exists.
	Exists(ctx context.Context, key string) (bool, error)

	// List returns keys under the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

// Error sentinel values for common conditions.
var (
	// ErrNotFound indicates a requested remote object does not exist.
	ErrNotFound = errNotFound{}

	// ErrAccessDenied indicates missing, invalid, or expired credentials.
	ErrAccessDenied = errAccessDenied{}

	// ErrInvalidKey indicates a resource key that is empty or would escape
	// the cache root.
	ErrInvalidKey = errInvalidKey{}

	// ErrChecksumMismatch indicates a cached file whose MD5 no longer
	// matches the remote ETag. The cached file is left untouched.
	ErrChecksumMismatch = errChecksumMismatch{}

	// ErrSchemaViolation indicates a record that does not conform to a
	// table schema during Parquet export.
	ErrSchemaViolation = errSchemaViolation{}

	// ErrInvalidFormat indicates data that cannot be parsed in the
	// expected format.
	ErrInvalidFormat = errInvalidFormat{}
)

type errNotFound struct{}

func (errNotFound) Error() string { return "not found" }

type errAccessDenied struct{}

func (errAccessDenied) Error() string { return "access denied" }

type errInvalidKey struct{}

func (errInvalidKey) Error() string { return "invalid key" }

type errChecksumMismatch struct{}

func (errChecksumMismatch) Error() string { return "checksum mismatch" }

type errSchemaViolation struct{}

func (errSchemaViolation) Error() string { return "schema violation" }

type errInvalidFormat struct{}

func (errInvalidFormat) Error() string { return "invalid format" }
