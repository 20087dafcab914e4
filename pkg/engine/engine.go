// Package engine defines the boundary between the gateway's in-memory
// identity/cache layer and the request-execution framework that performs
// bucket and object CRUD against the storage cluster.
//
// The cache layer never blocks inside its own locks on engine calls; all
// engine invocations happen synchronously on the caller's goroutine with
// no cache latch held. Engine errors pass through the cache layer
// unchanged, beyond releasing any reference the cache had taken.
package engine

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned by Head/Get/Delete operations when the named
// bucket or object does not exist.
var ErrNotFound = errors.New("engine: not found")

// ListFunc consumes one listing entry. name is the backend-native entry
// name (a full object key, or a common prefix when isPrefix is true);
// marker is the backend's opaque continuation token positioned at this
// entry, suitable for resuming the listing after it. Returning false
// stops the iteration early.
type ListFunc func(name, marker string, isPrefix bool) bool

// ObjectInfo is the attribute projection of a stored object.
type ObjectInfo struct {
	Size  int64
	Mtime time.Time
}

// Engine executes bucket and object operations against the backing store.
//
// Implementations must be safe for concurrent use; the gateway invokes
// them from many worker goroutines at once.
type Engine interface {
	// ListBuckets streams bucket names in backend order, starting after
	// marker (empty for the beginning). Returns whether the listing was
	// truncated.
	ListBuckets(ctx context.Context, marker string, fn ListFunc) (truncated bool, err error)

	// ListObjects streams object keys and common prefixes under
	// bucket, restricted by prefix and grouped by delimiter, starting
	// after marker. max bounds the number of entries yielded.
	ListObjects(ctx context.Context, bucket, prefix, delimiter, marker string, max int32, fn ListFunc) (truncated bool, err error)

	// HeadBucket reports whether the bucket exists.
	HeadBucket(ctx context.Context, bucket string) (bool, error)

	// CreateBucket creates a bucket.
	CreateBucket(ctx context.Context, bucket string) error

	// DeleteBucket removes an empty bucket.
	DeleteBucket(ctx context.Context, bucket string) error

	// HeadObject returns attributes of an object, or ErrNotFound.
	HeadObject(ctx context.Context, bucket, key string) (ObjectInfo, error)

	// PutObject stores an object from body.
	PutObject(ctx context.Context, bucket, key string, body io.Reader, size int64) error

	// GetObject opens an object for reading. The caller must close the
	// returned reader.
	GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error)

	// DeleteObject removes an object.
	DeleteObject(ctx context.Context, bucket, key string) error
}
