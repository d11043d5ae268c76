// Package blob abstracts the object store holding uploaded sources and
// processing artifacts. Keys are opaque slash-separated paths derived by the
// callers; drivers never interpret them.
package blob

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned when no object exists at a key.
var ErrNotFound = errors.New("blob: object not found")

// ErrPresignUnsupported is returned by PresignPut on drivers that cannot
// mint direct-upload URLs. Callers fall back to proxied uploads.
var ErrPresignUnsupported = errors.New("blob: presigned uploads not supported")

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key       string
	SizeBytes int64
}

// Store is the object-store driver contract.
type Store interface {
	// Put streams r to the object at key, replacing any existing object.
	Put(ctx context.Context, key string, r io.Reader) (int64, error)
	// Get opens the object at key for reading. The caller closes it.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Stat returns object metadata, or ErrNotFound.
	Stat(ctx context.Context, key string) (*ObjectInfo, error)
	// Delete removes the object at key. Deleting a missing key is not an
	// error.
	Delete(ctx context.Context, key string) error
	// PresignPut returns a URL a client can PUT the object bytes to
	// directly, valid for the given duration, or ErrPresignUnsupported.
	PresignPut(ctx context.Context, key string, expiry time.Duration) (string, error)
	// Provider names the driver for file records.
	Provider() string
	// HealthCheck verifies the backing storage is usable.
	HealthCheck(ctx context.Context) error
}
