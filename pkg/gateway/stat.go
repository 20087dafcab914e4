package gateway

import (
	"context"
	"errors"
	"io"

	"github.com/objgw/objgw/internal/logger"
	"github.com/objgw/objgw/pkg/engine"
)

// makeURI builds the REST-style path for a bucket/object pair, used when
// shaping and logging backend requests.
func makeURI(bucket, object string) string {
	if object == "" {
		return "/" + bucket
	}
	return "/" + bucket + "/" + object
}

// StatBucket probes the backend for a bucket and returns its handle (a
// counted reference) when it exists. Returns nil when the bucket does not
// exist; backend failures pass through unchanged.
func (fs *Filesystem) StatBucket(ctx context.Context, name string) (*Handle, error) {
	if err := fs.checkOpen(); err != nil {
		return nil, err
	}
	ok, err := fs.eng.HeadBucket(ctx, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	h, _ := fs.LookupChild(fs.root, name, FlagDirectory)
	return h, nil
}

// StatLeaf probes whether parent has a child named leaf, using a bounded
// prefix+delimiter listing so the backend does the matching. An exact
// object match yields a file handle with refreshed attributes; a common
// prefix match yields a pseudo directory handle (inferred, no explicit
// backend object). Returns nil when nothing matches.
//
// The returned handle carries a counted reference the caller must
// release.
func (fs *Filesystem) StatLeaf(ctx context.Context, parent *Handle, leaf string) (*Handle, error) {
	if err := fs.checkOpen(); err != nil {
		return nil, err
	}
	if parent == nil || !parent.IsDir() {
		return nil, ErrNotDirectory
	}
	if parent.Depth()+1 > MaxDepth {
		return nil, ErrDepthExceeded
	}
	if parent.IsRoot() {
		return fs.StatBucket(ctx, leaf)
	}

	probe := parent.MakeKeyName(leaf)
	var isObject, isDir bool
	_, err := fs.eng.ListObjects(ctx, parent.BucketName(), probe, "/", "", 2,
		func(name, _ string, isPrefix bool) bool {
			if isPrefix && name == probe+"/" {
				isDir = true
			}
			if !isPrefix && name == probe {
				isObject = true
			}
			return !(isObject || isDir)
		})
	if err != nil {
		return nil, err
	}

	switch {
	case isObject:
		h, _ := fs.LookupChild(parent, leaf, FlagNone)
		if h == nil {
			return nil, nil
		}
		if info, herr := fs.eng.HeadObject(ctx, parent.BucketName(), probe); herr == nil {
			h.SetSize(uint64(info.Size))
			h.SetMtime(info.Mtime)
		}
		return h, nil
	case isDir:
		h, _ := fs.LookupChild(parent, leaf, FlagDirectory)
		if h == nil {
			return nil, nil
		}
		h.SetPseudo()
		return h, nil
	default:
		return nil, nil
	}
}

// GetAttr refreshes a file handle's attributes from the backend and
// returns the POSIX-like projection. Directory and bucket handles are
// synthetic and served from the cache alone. A backend miss for a
// create-pending file is not an error; the attributes simply stay as
// written so far.
func (fs *Filesystem) GetAttr(ctx context.Context, h *Handle) (FileStat, error) {
	if h.IsObject() && h.IsFile() && !h.Creating() {
		info, err := fs.eng.HeadObject(ctx, h.BucketName(), h.FullPath(1))
		switch {
		case err == nil:
			h.SetSize(uint64(info.Size))
			h.SetMtime(info.Mtime)
		case errors.Is(err, engine.ErrNotFound):
			// removed behind our back; serve cached attributes
		default:
			return FileStat{}, err
		}
	}
	return h.Stat(), nil
}

// CreateBucket creates a bucket in the backend and returns its handle
// with a counted reference.
func (fs *Filesystem) CreateBucket(ctx context.Context, name string) (*Handle, error) {
	if err := fs.checkOpen(); err != nil {
		return nil, err
	}
	if name == "" || name == RootName || name == fs.fsid {
		return nil, errors.New("invalid bucket name")
	}
	logger.Debug("create bucket %s", makeURI(name, ""))
	if err := fs.eng.CreateBucket(ctx, name); err != nil {
		return nil, err
	}
	h, _ := fs.LookupChild(fs.root, name, FlagDirectory)
	return h, nil
}

// DeleteBucket removes a bucket from the backend and invalidates its
// cached handle. The caller's reference remains valid until released.
func (fs *Filesystem) DeleteBucket(ctx context.Context, h *Handle) error {
	if !h.IsBucket() {
		return ErrNotDirectory
	}
	logger.Debug("delete bucket %s", makeURI(h.Name(), ""))
	if err := fs.eng.DeleteBucket(ctx, h.Name()); err != nil {
		return err
	}
	fs.index.Remove(h)
	return nil
}

// Delete removes an object from the backend and invalidates its cached
// handle so future lookups re-probe the backend.
func (fs *Filesystem) Delete(ctx context.Context, h *Handle) error {
	if !h.IsObject() {
		return ErrNotFile
	}
	path := h.FullPath(1)
	logger.Debug("delete object %s", makeURI(h.BucketName(), path))
	if err := fs.eng.DeleteObject(ctx, h.BucketName(), path); err != nil {
		return err
	}
	fs.index.Remove(h)
	return nil
}

// ReadObject opens a file handle's backing object for reading. The call
// passes straight through to the engine; the caller must close the
// returned reader.
func (fs *Filesystem) ReadObject(ctx context.Context, h *Handle) (io.ReadCloser, error) {
	if !h.IsFile() {
		return nil, ErrNotFile
	}
	return fs.eng.GetObject(ctx, h.BucketName(), h.FullPath(1))
}
