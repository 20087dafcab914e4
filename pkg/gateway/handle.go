package gateway

import (
	"io/fs"
	"strings"
	"sync"
	"time"

	"github.com/google/btree"

	"github.com/objgw/objgw/pkg/lru"
)

// RootName is the distinguished name of the filesystem root. No bucket may
// carry this name.
const RootName = "/"

// MaxDepth bounds the nesting depth of the hierarchical view. Lookups that
// would exceed it are rejected.
const MaxDepth uint16 = 256

// Flags describe the kind and transient state of a handle.
type Flags uint32

const (
	FlagNone Flags = 0x0000

	// FlagOpen is the advisory single-opener flag. It does not enforce
	// exclusive access to content.
	FlagOpen Flags = 0x0001

	// FlagRoot marks the distinguished root handle.
	FlagRoot Flags = 0x0002

	// FlagCreate marks a handle whose backing object is being created
	// and does not exist in the backend yet.
	FlagCreate Flags = 0x0004

	// FlagPseudo marks a directory inferred from a common listing
	// prefix rather than an explicit backend object.
	FlagPseudo Flags = 0x0008

	// FlagDirectory selects the directory payload at construction.
	FlagDirectory Flags = 0x0010

	// FlagBucket marks a bucket-level handle. Set automatically for
	// children of the root.
	FlagBucket Flags = 0x0020
)

// Attrs is the mutable attribute block of a handle, guarded by the
// handle's own lock.
type Attrs struct {
	Dev   uint32
	Size  uint64
	Nlink uint64
	Ctime time.Time
	Mtime time.Time
	Atime time.Time
}

// FileStat is the POSIX-like projection of a handle's attributes handed to
// the protocol layer.
type FileStat struct {
	Dev     uint32
	Ino     uint64
	Mode    fs.FileMode
	Nlink   uint64
	Size    uint64
	Blksize uint32
	Blocks  uint64
	Atime   time.Time
	Mtime   time.Time
	Ctime   time.Time
}

// HandleType tags the external opaque handle record.
type HandleType uint8

const (
	TypeFile HandleType = iota
	TypeDirectory
)

// RawHandle is the fixed-size opaque record exposed to the calling
// protocol layer. The identity pair is the only part that survives a
// LookupHandle round trip; it is valid only while the issuing filesystem
// is alive (identities are not persistent across restarts).
type RawHandle struct {
	Type   HandleType
	Bucket uint64
	Object uint64
}

// payload is the type-tagged per-kind state of a handle. Exactly one
// variant is attached at construction; callers type-switch rather than
// downcast.
type payload interface {
	isPayload()
}

// filePayload backs file handles: a pointer to the in-flight write
// request, if any.
type filePayload struct {
	write *WriteRequest
}

// dirPayload backs directory handles: the cookie to continuation-marker
// cache for resumable listings, ordered by cookie.
type dirPayload struct {
	markers *btree.BTree
}

func (*filePayload) isPayload() {}
func (*dirPayload) isPayload()  {}

// markerItem is one cookie to marker binding in a directory payload.
type markerItem struct {
	cookie uint64
	marker string
}

func (m markerItem) Less(than btree.Item) bool {
	return m.cookie < than.(markerItem).cookie
}

// Handle is the cached entity of the gateway: a stable, reference-counted
// identity for one node (bucket, directory or file) of the hierarchical
// view over the flat bucket/object namespace.
//
// Hierarchy links (parent, bucket, depth) and the key are set once at
// construction and never mutated, so they are safe to read without
// locking once the handle is visible. The attribute block, flags and
// payload require the handle's own lock. The reference count and recency
// linkage inside the embedded hook are owned exclusively by the eviction
// ring.
type Handle struct {
	hook lru.Hook

	key    Key
	name   string
	fsys   *Filesystem
	parent *Handle // nil only for the root
	bucket *Handle // nearest bucket ancestor; nil for root and buckets
	depth  uint16

	mu      sync.Mutex
	flags   Flags
	attrs   Attrs
	payload payload
}

// LRUHook implements lru.Object.
func (h *Handle) LRUHook() *lru.Hook {
	return &h.hook
}

// newRootHandle constructs the distinguished root. The root is keyed by
// the filesystem instance id so that no bucket key can collide with it.
func newRootHandle(fsys *Filesystem, fsid string, dev uint32) *Handle {
	h := &Handle{
		key:   DeriveKey(fsid, RootName),
		name:  RootName,
		fsys:  fsys,
		flags: FlagRoot | FlagDirectory,
	}
	h.attrs.Dev = dev
	h.attrs.Nlink = 1
	h.payload = &dirPayload{markers: btree.New(2)}
	return h
}

// newHandle constructs a non-root handle under parent. Children of the
// root become buckets (and directories); everything else inherits its
// owning bucket from the parent chain and picks its payload from
// FlagDirectory.
func newHandle(fsys *Filesystem, parent *Handle, key Key, name string, flags Flags) *Handle {
	h := &Handle{}
	h.init(fsys, parent, key, name, flags)
	return h
}

// init populates a handle in place. Called by newHandle and by the
// recycling factory when reclaimed storage is reborn with a new identity.
func (h *Handle) init(fsys *Filesystem, parent *Handle, key Key, name string, flags Flags) {
	h.key = key
	h.name = name
	h.fsys = fsys
	h.parent = parent
	h.bucket = nil
	h.depth = parent.depth + 1
	h.flags = flags &^ (FlagRoot | FlagBucket)
	h.attrs = Attrs{Dev: fsys.dev, Nlink: 1}

	isDir := false
	if parent.IsRoot() {
		h.flags |= FlagBucket | FlagDirectory
		isDir = true
	} else {
		if parent.IsBucket() {
			h.bucket = parent
		} else {
			h.bucket = parent.bucket
		}
		isDir = h.flags&FlagDirectory != 0
	}

	if isDir {
		h.payload = &dirPayload{markers: btree.New(2)}
	} else {
		h.payload = &filePayload{}
	}
}

// Key returns the immutable cache identity.
func (h *Handle) Key() Key {
	return h.key
}

// Name returns the leaf component name.
func (h *Handle) Name() string {
	return h.name
}

// Parent returns the parent handle, nil for the root. Non-owning: the
// parent's liveness in the cache is tracked by the index, not by this
// link.
func (h *Handle) Parent() *Handle {
	return h.parent
}

// OwningBucket returns the nearest bucket-level ancestor, nil for the root
// and for bucket handles themselves.
func (h *Handle) OwningBucket() *Handle {
	return h.bucket
}

// Depth returns the nesting depth; the root is 0.
func (h *Handle) Depth() uint16 {
	return h.depth
}

func (h *Handle) IsRoot() bool   { return h.flags&FlagRoot != 0 }
func (h *Handle) IsBucket() bool { return h.flags&FlagBucket != 0 }
func (h *Handle) IsDir() bool    { return h.flags&FlagDirectory != 0 }
func (h *Handle) IsFile() bool   { return h.flags&FlagDirectory == 0 && !h.IsRoot() }

// IsObject reports whether the handle names an object within a bucket, as
// opposed to a bucket or the root.
func (h *Handle) IsObject() bool {
	return !h.IsRoot() && !h.IsBucket()
}

// IsOpen reports the advisory open flag.
func (h *Handle) IsOpen() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.flags&FlagOpen != 0
}

// Creating reports whether the handle's backing object is still being
// created.
func (h *Handle) Creating() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.flags&FlagCreate != 0
}

// Pseudo reports whether this directory was inferred from a common
// listing prefix rather than an explicit backend object.
func (h *Handle) Pseudo() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.flags&FlagPseudo != 0
}

// SetPseudo marks the handle as an inferred directory.
func (h *Handle) SetPseudo() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.flags |= FlagPseudo
}

// OpenForCreate marks the handle as create-pending.
func (h *Handle) OpenForCreate() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.flags |= FlagCreate
}

// clearCreate drops the create-pending flag once the backend object
// exists.
func (h *Handle) clearCreate() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.flags &^= FlagCreate
}

// BucketName returns the name of the bucket this handle lives in: the
// root name for the root, the handle's own name for buckets, and the
// owning bucket's name otherwise.
func (h *Handle) BucketName() string {
	if h.IsRoot() {
		return RootName
	}
	if h.IsBucket() {
		return h.name
	}
	return h.bucket.name
}

// FullPath walks the parent chain up to (but not including) the bucket
// level, reverses the collected segments and joins them with "/". It
// returns the empty string when the handle is already at or above
// minDepth. For object handles this yields the bucket-relative object
// path used as prefix in backend listing calls.
func (h *Handle) FullPath(minDepth uint16) string {
	if h.depth <= minDepth {
		return ""
	}
	var segments []string
	for n := h; n != nil && !n.IsBucket() && !n.IsRoot(); n = n.parent {
		segments = append(segments, n.name)
	}
	// segments were collected leaf-first
	var b strings.Builder
	for i := len(segments) - 1; i >= 0; i-- {
		if b.Len() > 0 {
			b.WriteByte('/')
		}
		b.WriteString(segments[i])
	}
	return b.String()
}

// MakeKeyName builds the bucket-relative path of a prospective child.
func (h *Handle) MakeKeyName(leaf string) string {
	p := h.FullPath(1)
	if p == "" {
		return leaf
	}
	return p + "/" + leaf
}

// ChildKey derives the cache key of a child by name, reusing this handle's
// hash context for the bucket component.
func (h *Handle) ChildKey(leaf string) Key {
	return DeriveChildKey(h.key.Object, h.MakeKeyName(leaf))
}

// Raw returns the opaque protocol-facing record for this handle. The
// identity pair can later be presented to LookupHandle; it is only valid
// while the caller holds a counted reference.
func (h *Handle) Raw() RawHandle {
	t := TypeFile
	if h.IsDir() {
		t = TypeDirectory
	}
	return RawHandle{Type: t, Bucket: h.key.Bucket, Object: h.key.Object}
}

// Stat projects the attribute block into a POSIX-like metadata record.
// Directories report a fixed synthetic link count; files report the
// stored size and 512-byte block count.
func (h *Handle) Stat() FileStat {
	h.mu.Lock()
	defer h.mu.Unlock()

	st := FileStat{
		Dev:   h.attrs.Dev,
		Ino:   h.key.Object,
		Atime: h.attrs.Atime,
		Mtime: h.attrs.Mtime,
		Ctime: h.attrs.Ctime,
	}
	if h.flags&FlagDirectory != 0 {
		st.Mode = fs.ModeDir | 0o777
		st.Nlink = 3
	} else {
		st.Mode = 0o666
		st.Nlink = 1
		st.Size = h.attrs.Size
		st.Blksize = 4096
		st.Blocks = h.attrs.Size / 512
	}
	return st
}

// Size returns the stored object size.
func (h *Handle) Size() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.attrs.Size
}

// SetSize updates the stored object size.
func (h *Handle) SetSize(size uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.attrs.Size = size
}

// SetNlink updates the stored link count.
func (h *Handle) SetNlink(n uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.attrs.Nlink = n
}

// SetTimes sets ctime, mtime and atime to the same instant.
func (h *Handle) SetTimes(t time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.attrs.Ctime = t
	h.attrs.Mtime = t
	h.attrs.Atime = t
}

// SetMtime updates the modification time.
func (h *Handle) SetMtime(t time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.attrs.Mtime = t
}

// Open sets the advisory open flag. Returns ErrBusy if the handle is
// already open. This is a single-opener hint, not exclusive-access
// enforcement over content.
func (h *Handle) Open(_ uint32) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.flags&FlagOpen != 0 {
		return ErrBusy
	}
	h.flags |= FlagOpen
	return nil
}

// clearOpen drops the advisory open flag.
func (h *Handle) clearOpen() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.flags &^= FlagOpen
}

// AddMarker records the backend continuation marker observed for the
// directory entry hashed to cookie. Files and directories share this call
// surface; on a file-payload handle AddMarker is a silent no-op.
func (h *Handle) AddMarker(cookie uint64, marker string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if d, ok := h.payload.(*dirPayload); ok {
		d.markers.ReplaceOrInsert(markerItem{cookie: cookie, marker: marker})
	}
}

// FindMarker returns the continuation marker recorded for cookie, or the
// empty string when the cookie is unknown or the handle is not a
// directory.
func (h *Handle) FindMarker(cookie uint64) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	d, ok := h.payload.(*dirPayload)
	if !ok {
		return ""
	}
	if item := d.markers.Get(markerItem{cookie: cookie}); item != nil {
		return item.(markerItem).marker
	}
	return ""
}

// writeRequest returns the in-flight write for a file handle, creating it
// through mk on first use. Returns nil for directories.
func (h *Handle) writeRequest(mk func() *WriteRequest) *WriteRequest {
	h.mu.Lock()
	defer h.mu.Unlock()
	fp, ok := h.payload.(*filePayload)
	if !ok {
		return nil
	}
	if fp.write == nil && mk != nil {
		fp.write = mk()
	}
	return fp.write
}

// clearWriteRequest detaches the in-flight write after commit or abort.
func (h *Handle) clearWriteRequest() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if fp, ok := h.payload.(*filePayload); ok {
		fp.write = nil
	}
}

// reclaim is invoked by the eviction ring before the handle's storage is
// repurposed or dropped. Any in-flight write held by a file payload is
// aborted so backend upload state is not leaked.
func (h *Handle) reclaim() {
	h.mu.Lock()
	var wr *WriteRequest
	if fp, ok := h.payload.(*filePayload); ok {
		wr = fp.write
		fp.write = nil
	}
	h.mu.Unlock()

	if wr != nil {
		wr.abort()
	}
}

// Less orders handles by key inside an index partition. It accepts both
// *Handle and keyItem probes so lookups by bare key need no handle
// construction.
func (h *Handle) Less(than btree.Item) bool {
	return h.key.Less(itemKey(than))
}
