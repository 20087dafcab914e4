// Package gateway implements the file-handle identity and caching layer of
// an object-storage gateway: the component that lets a hierarchical,
// handle-based file-access protocol address objects living in a flat
// bucket/object namespace.
//
// A Filesystem owns a partitioned index (key to live handle) and a
// lane-partitioned eviction ring (LRU over reference-counted handles).
// Lookups derive a collision-resistant key from the bucket/object path,
// find-or-create the handle under a short-held partition latch, and hand
// the caller a counted reference that must be released with Unref.
//
// The layer is a pure in-memory cache: identities do not survive a
// restart. A client presenting a handle issued before a restart receives
// a nil result (stale handle), never a hard failure.
package gateway

import (
	"runtime"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/objgw/objgw/internal/logger"
	"github.com/objgw/objgw/pkg/engine"
	"github.com/objgw/objgw/pkg/lru"
)

// maxLookupRetries caps the lost-race retry loop in the lookup protocol.
// Each retry either succeeds or observes a structurally different cache
// state, so the cap is a defensive bound, not a correctness requirement.
const maxLookupRetries = 16

// fsInstance numbers filesystem instances within the process; the value
// becomes the device field of handle attributes.
var fsInstance atomic.Uint32

// Config sizes the cache structures of a Filesystem.
type Config struct {
	// Partitions is the number of independently latched index shards.
	Partitions int

	// Lanes is the number of independently locked LRU lanes.
	Lanes int

	// LaneHighWater is the per-lane entry count above which inserts
	// start reclaiming cold, unreferenced handles.
	LaneHighWater int
}

// DefaultConfig returns the cache geometry used when a field is left
// zero: a small prime partition count and the lane sizing the gateway has
// been operated with.
func DefaultConfig() Config {
	return Config{
		Partitions:    7,
		Lanes:         3,
		LaneHighWater: 123,
	}
}

// Filesystem is the gateway filesystem: one root, one index, one eviction
// ring, and the engine used to execute backend operations.
//
// The only state machine is open to closed (terminal). Once closed, both
// resolve operations return nil with no side effects.
type Filesystem struct {
	eng     engine.Engine
	metrics CacheMetrics

	fsid string
	dev  uint32
	root *Handle

	index *Index
	ring  *lru.LRU

	closed atomic.Bool
}

// New creates a Filesystem over eng. Zero Config fields fall back to
// DefaultConfig; a nil metrics sink is replaced by a no-op one.
func New(eng engine.Engine, cfg Config, m CacheMetrics) *Filesystem {
	def := DefaultConfig()
	if cfg.Partitions <= 0 {
		cfg.Partitions = def.Partitions
	}
	if cfg.Lanes <= 0 {
		cfg.Lanes = def.Lanes
	}
	if cfg.LaneHighWater <= 0 {
		cfg.LaneHighWater = def.LaneHighWater
	}
	if m == nil {
		m = noopCacheMetrics{}
	}

	fs := &Filesystem{
		eng:     eng,
		metrics: m,
		fsid:    "objgw-fs-" + uuid.NewString(),
		dev:     fsInstance.Add(1),
		index:   NewIndex(cfg.Partitions),
		ring:    lru.New(cfg.Lanes, cfg.LaneHighWater),
	}
	fs.root = newRootHandle(fs, fs.fsid, fs.dev)

	logger.Info("gateway filesystem %s: %d index partitions, %d lru lanes (hiwat %d)",
		fs.fsid, cfg.Partitions, cfg.Lanes, cfg.LaneHighWater)
	return fs
}

// checkOpen returns ErrClosed once the filesystem has entered its
// terminal state. Used by the operations that have an error surface; the
// resolve operations report closure as a nil handle instead.
func (fs *Filesystem) checkOpen() error {
	if fs.closed.Load() {
		return ErrClosed
	}
	return nil
}

// Root returns the distinguished root handle. The root is permanent: it
// lives outside the eviction ring and needs no reference management.
func (fs *Filesystem) Root() *Handle {
	return fs.root
}

// FSID returns the instance identity of this filesystem. Buckets may not
// carry this name.
func (fs *Filesystem) FSID() string {
	return fs.fsid
}

// Len returns the number of live cached handles (the root excluded).
func (fs *Filesystem) Len() int {
	return fs.index.Len()
}

// handleFactory builds or recycles a handle for the miss path of
// LookupChild. It records whether the last construction reused reclaimed
// storage, for metrics.
type handleFactory struct {
	fs       *Filesystem
	parent   *Handle
	key      Key
	name     string
	flags    Flags
	recycled bool
}

func (f *handleFactory) Alloc() lru.Object {
	return newHandle(f.fs, f.parent, f.key, f.name, f.flags)
}

func (f *handleFactory) Recycle(o lru.Object) {
	o.(*Handle).init(f.fs, f.parent, f.key, f.name, f.flags)
	f.recycled = true
}

// LookupChild resolves (or creates) the handle for the child of parent
// named leaf. On success the caller holds one counted reference that it
// must release with Unref; created reports whether the handle was newly
// constructed rather than found live in the cache.
//
// Returns nil when the filesystem is closed, when parent is not a
// directory, when the child would exceed MaxDepth, or in the (defensively
// bounded) event that the retry cap is exhausted.
//
// Concurrent lookups of the same (parent, leaf) are serialized by the
// index partition latch: exactly one live handle exists per key, and
// every caller ends up holding a reference to that single handle.
func (fs *Filesystem) LookupChild(parent *Handle, leaf string, flags Flags) (h *Handle, created bool) {
	if fs.closed.Load() {
		return nil, false
	}
	if parent == nil || !parent.IsDir() || leaf == "" {
		return nil, false
	}
	if parent.depth+1 > MaxDepth {
		logger.Error("lookup %q under %q rejected: max depth %d exceeded",
			leaf, parent.name, MaxDepth)
		return nil, false
	}

	key := parent.ChildKey(leaf)

	for attempt := 0; attempt < maxLookupRetries; attempt++ {
		found, lat := fs.index.FindLatch(key)
		if found != nil {
			if fs.ring.Ref(found, lru.FlagInitial) {
				lat.Unlock()
				fs.metrics.RecordLookup(true)
				return found, false
			}
			// Lost the race against reclamation: the handle is
			// condemned and on its way out of the index.
			lat.Unlock()
			fs.metrics.RecordRetry()
			fs.ring.Sweep(fs.reclaimObject)
			runtime.Gosched()
			continue
		}

		fac := &handleFactory{fs: fs, parent: parent, key: key, name: leaf, flags: flags}
		nh, ok := fs.ring.Insert(fac, lru.FlagInitial)
		if !ok {
			// Lane over its high-water mark: a victim was
			// condemned. Finish the reclamation with no latch
			// held, then retry from the top.
			lat.Unlock()
			fs.metrics.RecordRetry()
			fs.ring.Sweep(fs.reclaimObject)
			continue
		}
		fs.index.InsertLatched(nh.(*Handle), lat)
		fs.metrics.RecordLookup(false)
		fs.metrics.RecordInsert(fac.recycled)
		return nh.(*Handle), true
	}

	logger.Warn("lookup %q under %q gave up after %d lost races", leaf, parent.name, maxLookupRetries)
	return nil, false
}

// LookupHandle resolves a previously issued identity back to its live
// handle, taking a counted reference. Returns nil when the identity is
// unknown: this cache provides no persistence across restarts, so a
// client holding a handle across a restart must be prepared for a stale
// handle response rather than a hard failure.
func (fs *Filesystem) LookupHandle(raw RawHandle) *Handle {
	if fs.closed.Load() {
		return nil
	}

	key := Key{Bucket: raw.Bucket, Object: raw.Object}
	if key == fs.root.key {
		return fs.root
	}

	for attempt := 0; attempt < maxLookupRetries; attempt++ {
		found, lat := fs.index.FindLatch(key)
		if found == nil {
			lat.Unlock()
			logger.Warn("handle lookup failed %s (no persistent handles)", key)
			return nil
		}
		if fs.ring.Ref(found, lru.FlagInitial) {
			lat.Unlock()
			fs.metrics.RecordLookup(true)
			return found
		}
		lat.Unlock()
		fs.metrics.RecordRetry()
		fs.ring.Sweep(fs.reclaimObject)
		runtime.Gosched()
	}
	return nil
}

// Ref takes an additional reference on a handle the caller already holds.
func (fs *Filesystem) Ref(h *Handle) *Handle {
	if h.IsRoot() {
		return h
	}
	fs.ring.Ref(h, lru.FlagNone)
	return h
}

// Unref releases one counted reference obtained from LookupChild,
// LookupHandle or Ref. The handle stays cached until LRU pressure
// reclaims it. Releasing after Close is accepted: the drain has already
// torn the handle down and the late release is a no-op.
func (fs *Filesystem) Unref(h *Handle) {
	if h.IsRoot() {
		return
	}
	fs.ring.Unref(h, lru.FlagNone)
}

// reclaimObject finishes the reclamation of a condemned handle: it is
// unindexed (only if it is still the live entry for its key) and any
// backend write-in-progress resource is released.
func (fs *Filesystem) reclaimObject(o lru.Object) {
	h := o.(*Handle)
	fs.index.Remove(h)
	h.reclaim()
	fs.metrics.RecordReclaim()
	logger.Debug("reclaimed handle %s (%s)", h.key, h.name)
}

// Close moves the filesystem to its terminal state and force-drains every
// remaining handle regardless of reference count, keeping unreference
// bookkeeping consistent even for handles a caller never released.
// Subsequent resolves fail fast; only the first Close performs the drain.
func (fs *Filesystem) Close() {
	if fs.closed.Swap(true) {
		return
	}

	// Finish any reclamations already in flight before draining.
	fs.ring.Sweep(fs.reclaimObject)

	drained := fs.drainAll()
	fs.metrics.RecordDrain(drained)
	logger.Info("gateway filesystem %s closed, %d handles drained", fs.fsid, drained)
}

// drainAll force-evicts every indexed handle. A lookup that got past the
// closed check may condemn a victim after the pre-drain sweep; that
// handle is still indexed but already unlinked from its lane, so the
// forced unlink reports false and the condemner's pending sweep shares
// the teardown (reclaim is idempotent).
func (fs *Filesystem) drainAll() int {
	drained := 0
	fs.index.Drain(func(h *Handle) {
		if refs := h.hook.Refs(); refs > 0 {
			logger.Debug("drain %s (%s) with %d outstanding refs", h.key, h.name, refs)
		}
		fs.ring.Remove(h)
		h.reclaim()
		drained++
	})
	return drained
}
