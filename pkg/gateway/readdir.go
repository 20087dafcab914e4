package gateway

import (
	"context"
	"strings"

	"github.com/objgw/objgw/internal/logger"
)

// readdirMaxEntries bounds a single backend listing call.
const readdirMaxEntries = 1000

// ReadDirFunc consumes one directory entry during ReadDir. cookie is the
// small integer the client may later present to resume the listing at the
// entry following this one. Returning false stops the iteration.
type ReadDirFunc func(name string, cookie uint64, isDir bool) bool

// ReadDir enumerates the children of dir, resuming after the entry
// identified by cookie (zero starts from the beginning).
//
// Cookies are the seeded hash of the entry's leaf name. For every emitted
// entry the backend's opaque continuation marker is recorded in the
// directory's marker cache, so a later call can translate the cookie back
// into the backend cursor without the client ever seeing it. Cookie
// collisions alias markers; like key collisions this is accepted residual
// risk.
//
// The root directory enumerates buckets; any other directory enumerates
// the backend listing under prefix FullPath()+"/" with "/" as delimiter,
// so backend-side prefix filtering does the heavy lifting. Entry names
// are reduced to their leaf component; common prefixes surface as
// directories, and the directory's own trailing-slash placeholder object
// is skipped.
//
// Returns eof=true when the backend reported an untruncated listing and
// the callback consumed every entry.
func (fs *Filesystem) ReadDir(ctx context.Context, dir *Handle, cookie uint64, fn ReadDirFunc) (eof bool, err error) {
	if err := fs.checkOpen(); err != nil {
		return false, err
	}
	if dir == nil || !dir.IsDir() {
		return false, ErrNotDirectory
	}

	var marker string
	if cookie != 0 {
		marker = dir.FindMarker(cookie)
	}

	stopped := false
	emit := func(leaf, backendMarker string, isDir bool) bool {
		off := Hash64(leaf)
		dir.AddMarker(off, backendMarker)
		if !fn(leaf, off, isDir) {
			stopped = true
			return false
		}
		return true
	}

	var truncated bool
	if dir.IsRoot() {
		truncated, err = fs.eng.ListBuckets(ctx, marker, func(name, m string, _ bool) bool {
			return emit(name, m, true)
		})
	} else {
		prefix := dir.FullPath(1)
		if prefix != "" {
			prefix += "/"
		}
		logger.Debug("readdir %s prefix=%q marker=%q", makeURI(dir.BucketName(), ""), prefix, marker)

		truncated, err = fs.eng.ListObjects(ctx, dir.BucketName(), prefix, "/", marker, readdirMaxEntries,
			func(name, m string, isPrefix bool) bool {
				if isPrefix {
					leaf := leafComponent(strings.TrimSuffix(name, "/"))
					if leaf == "" {
						return true
					}
					return emit(leaf, m, true)
				}
				leaf := leafComponent(name)
				if leaf == "" {
					// A bare trailing slash in a listing marks the
					// parent as an (empty) explicit directory object.
					return true
				}
				return emit(leaf, m, false)
			})
	}
	if err != nil {
		return false, err
	}
	return !truncated && !stopped, nil
}

// leafComponent returns the path segment after the last slash.
func leafComponent(name string) string {
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		return name[i+1:]
	}
	return name
}
