package gateway

import "errors"

// Errors surfaced at the gateway boundary.
//
// Resolve misses are deliberately NOT errors: LookupChild and LookupHandle
// return nil handles and the protocol layer above maps nil to its own
// stale/invalid-handle response. These sentinels cover the operations that
// do have an error surface (open, write, readdir, bucket/object CRUD).
var (
	// ErrBusy indicates an advisory open conflict: the handle already
	// has the open flag set.
	ErrBusy = errors.New("handle already open")

	// ErrClosed indicates the filesystem has been closed; no new
	// operations are accepted.
	ErrClosed = errors.New("filesystem closed")

	// ErrNotDirectory indicates a directory operation was invoked on a
	// file handle.
	ErrNotDirectory = errors.New("not a directory")

	// ErrNotFile indicates a file operation was invoked on a directory
	// handle.
	ErrNotFile = errors.New("not a file")

	// ErrDepthExceeded indicates a lookup would nest deeper than
	// MaxDepth.
	ErrDepthExceeded = errors.New("maximum path depth exceeded")

	// ErrStaleWrite indicates a write arrived for an offset other than
	// the current end of the in-flight upload.
	ErrStaleWrite = errors.New("non-sequential write offset")
)
