// Package objectstore defines the storage abstraction that original
// containers are archived to before the pruner rewrites or deletes them.
//
// Two implementations exist: [fs.Store] keeps archives under a local
// directory and [s3.Store] writes them to an S3-compatible bucket.
//
//	store, err := s3.New(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	err = store.Put(ctx, "anvilprune/<run>/region/r.0.0.mca.zst", body, size, objectstore.PutOptions{
//	    ContentType: "application/zstd",
//	    IfAbsent:    true,
//	})
//	if errors.Is(err, objectstore.ErrPreconditionFailed) {
//	    // an archive of this container already exists for the run
//	}
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrNotFound is returned when the requested object does not exist.
	ErrNotFound = errors.New("object not found")

	// ErrPreconditionFailed is returned when a Put with IfAbsent finds an
	// existing object at the key.
	ErrPreconditionFailed = errors.New("precondition failed")

	// ErrBucketNotFound is returned when the configured bucket or base
	// directory does not exist.
	ErrBucketNotFound = errors.New("bucket not found")

	// ErrAccessDenied is returned when the credentials lack permission for the operation.
	ErrAccessDenied = errors.New("access denied")

	// ErrInvalidKey is returned for keys that are empty or escape the store root.
	ErrInvalidKey = errors.New("invalid key")

	// ErrClosed is returned by every method after Close.
	ErrClosed = errors.New("store is closed")
)

// ObjectError wraps an error with the object key for context.
type ObjectError struct {
	Op  string // Operation that failed (e.g., "Put", "Get", "Delete")
	Key string
	Err error
}

func (e *ObjectError) Error() string {
	return fmt.Sprintf("objectstore: %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *ObjectError) Unwrap() error {
	return e.Err
}

// ObjectMeta describes a stored object.
type ObjectMeta struct {
	Key  string
	Size int64

	// ContentType is empty for stores that do not keep it.
	ContentType string
	ETag        string

	// LastModified is a Unix timestamp in milliseconds.
	LastModified int64

	Metadata map[string]string
}

// PutOptions configures a Put.
type PutOptions struct {
	ContentType string

	// Metadata is stored with the object where the backend supports it.
	Metadata map[string]string

	// IfAbsent makes Put fail with ErrPreconditionFailed when an object
	// already exists at the key.
	IfAbsent bool
}

// Store is the interface archive backends implement. Implementations must be
// safe for concurrent use; every pruning worker shares one Store.
type Store interface {
	// Put stores size bytes read from r at key. The object becomes visible
	// only once it has been written completely.
	Put(ctx context.Context, key string, r io.Reader, size int64, opts PutOptions) error

	// Get retrieves an entire object. The caller closes the returned reader.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Head retrieves object metadata without the body.
	Head(ctx context.Context, key string) (ObjectMeta, error)

	// Delete removes an object. Deleting a missing object succeeds.
	Delete(ctx context.Context, key string) error

	// List returns the objects whose key starts with prefix, ordered by key.
	List(ctx context.Context, prefix string) ([]ObjectMeta, error)

	// Close releases resources. Later calls on the store return ErrClosed.
	Close() error
}
