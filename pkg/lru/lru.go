// Package lru implements a lane-partitioned, reference-counted LRU used as
// the eviction ring of the gateway handle cache.
//
// The ring differs from an ordinary LRU cache in three ways:
//
//   - Entries carry an external reference count. An entry with outstanding
//     references is never selected as an eviction victim, no matter how
//     cold it is.
//   - Eviction does not free storage. A victim is "condemned", unlinked
//     from its lane, and handed back to the caller through Sweep so the
//     caller can unindex it and return its storage to a small per-lane
//     pool. Subsequent inserts reinitialize pooled storage through the
//     Factory instead of allocating.
//   - Ref can lose a race against condemnation and report failure. The
//     caller must then retry its whole lookup, because the victim may
//     already have been removed from whatever index pointed at it.
//
// Lanes are locked independently to bound contention. Lane locks are leaf
// locks: the ring never acquires any caller-owned lock while holding one.
// The reference count itself is manipulated with atomics so that Ref/Unref
// arbitration against condemnation never needs a lane lock at all.
package lru

import (
	"container/list"
	"fmt"
	"sync"
	"sync/atomic"
)

// condemned is the reference-count sentinel marking an object claimed by
// eviction. Once a count is condemned it never becomes valid again; the
// object leaves the ring and its storage is reborn through Factory.Recycle.
const condemned int32 = -1

// reclaimScanDepth bounds how many cold-end entries an insert will examine
// when a lane is over its high-water mark. Referenced entries are skipped
// in place; if no victim is found within the window the lane is simply
// allowed to exceed the mark.
const reclaimScanDepth = 8

// poolLimit caps the number of reclaimed objects kept per lane for reuse.
const poolLimit = 16

// Flag modifies Insert and Ref behavior.
type Flag uint32

const (
	// FlagNone requests default behavior.
	FlagNone Flag = 0x0000

	// FlagInitial marks a reference taken under an index latch during
	// lookup. Only initial references race with condemnation; they are
	// the ones that must observe the lost-race failure and retry.
	FlagInitial Flag = 0x0001
)

// Object is the entity cached by the ring. Implementations embed a Hook
// and expose it through LRUHook.
type Object interface {
	// LRUHook returns the object's intrusive ring state. Owned
	// exclusively by the ring; callers must never touch it directly.
	LRUHook() *Hook
}

// Factory constructs and reinitializes objects on behalf of Insert.
// Recycle must fully reset the object into the same state Alloc would
// have produced: reclaimed storage carries stale identity.
type Factory interface {
	Alloc() Object
	Recycle(Object)
}

// Hook is the intrusive per-object ring state: the reference count, the
// lane assignment, and the recency-list linkage.
type Hook struct {
	refcnt atomic.Int32
	lane   int32
	elem   *list.Element
}

// Refs returns the current external reference count. Diagnostic only; the
// value may be stale by the time the caller looks at it.
func (h *Hook) Refs() int32 {
	return h.refcnt.Load()
}

// lane is one independently locked shard of the ring. The list front is
// the MRU end; victims are taken from the back.
type lane struct {
	mu      sync.Mutex
	q       list.List
	pending []Object // condemned, awaiting Sweep
	pool    []Object // reclaimed storage available for reuse
}

// LRU is the eviction ring: a fixed set of lanes with a shared high-water
// mark per lane.
type LRU struct {
	lanes []lane
	hiwat int

	next atomic.Uint32 // round-robin lane assignment for inserts
}

// New creates a ring with the given number of lanes and per-lane
// high-water mark. Both are clamped to at least 1.
func New(lanes, laneHiwat int) *LRU {
	if lanes < 1 {
		lanes = 1
	}
	if laneHiwat < 1 {
		laneHiwat = 1
	}
	l := &LRU{
		lanes: make([]lane, lanes),
		hiwat: laneHiwat,
	}
	for i := range l.lanes {
		l.lanes[i].q.Init()
	}
	return l
}

// Insert adds a new object at the MRU end of a lane. With FlagInitial the
// object carries one reference for the caller; otherwise it enters the
// ring unreferenced and immediately reclaimable.
//
// When the chosen lane is over its high-water mark, Insert first tries to
// claim a victim from the cold end. On success the victim is condemned and
// parked for Sweep, and Insert reports failure WITHOUT creating the new
// object: the caller must release any latch it holds, call Sweep to finish
// the reclamation, and retry its lookup from scratch. This keeps lane
// locks and index latches strictly non-overlapping during reclamation.
//
// When no victim is claimable (everything referenced), the lane is allowed
// to exceed the mark and the insert proceeds. Pooled storage from earlier
// reclamations is reused through fac.Recycle when available.
func (l *LRU) Insert(fac Factory, flags Flag) (Object, bool) {
	idx := l.next.Add(1) % uint32(len(l.lanes))
	ln := &l.lanes[idx]

	ln.mu.Lock()
	defer ln.mu.Unlock()

	if ln.q.Len() >= l.hiwat {
		if ln.condemnVictim() {
			return nil, false
		}
	}

	var o Object
	if n := len(ln.pool); n > 0 {
		o = ln.pool[n-1]
		ln.pool = ln.pool[:n-1]
		fac.Recycle(o)
	} else {
		o = fac.Alloc()
	}

	var refs int32
	if flags&FlagInitial != 0 {
		refs = 1
	}
	h := o.LRUHook()
	h.refcnt.Store(refs)
	h.lane = int32(idx)
	h.elem = ln.q.PushFront(o)
	return o, true
}

// condemnVictim scans up to reclaimScanDepth entries from the cold end for
// one with no external references, condemns it, and unlinks it from the
// lane. Must be called with the lane lock held. Returns true if a victim
// was claimed.
func (ln *lane) condemnVictim() bool {
	e := ln.q.Back()
	for i := 0; e != nil && i < reclaimScanDepth; i++ {
		o := e.Value.(Object)
		h := o.LRUHook()
		if h.refcnt.CompareAndSwap(0, condemned) {
			ln.q.Remove(e)
			h.elem = nil
			ln.pending = append(ln.pending, o)
			return true
		}
		e = e.Prev()
	}
	return false
}

// Ref takes an additional reference on an object and promotes it to the
// MRU end of its lane.
//
// With FlagInitial (the lookup path, called under an index latch), Ref
// returns false if the object has been condemned by a concurrent
// reclamation. The caller must drop its latch and retry the lookup; the
// condemned object is on its way out of the index.
//
// Without FlagInitial the caller already holds a reference, so the object
// cannot be condemned; failure is a structural violation.
func (l *LRU) Ref(o Object, flags Flag) bool {
	h := o.LRUHook()
	for {
		c := h.refcnt.Load()
		if c == condemned {
			if flags&FlagInitial == 0 {
				panic("lru: Ref without FlagInitial on condemned object")
			}
			return false
		}
		if flags&FlagInitial == 0 && c < 1 {
			panic(fmt.Sprintf("lru: Ref on object with refcnt %d and no held reference", c))
		}
		if h.refcnt.CompareAndSwap(c, c+1) {
			break
		}
	}

	ln := &l.lanes[h.lane]
	ln.mu.Lock()
	if h.elem != nil {
		ln.q.MoveToFront(h.elem)
	}
	ln.mu.Unlock()
	return true
}

// Unref drops one reference. At zero the object becomes eligible for
// reclamation on a future insert; it stays cached until then. Dropping
// below zero is a structural violation, with one exception: a condemned
// object has already been torn down (forced drain condemns regardless of
// outstanding references), so a late release of a reference held across
// the drain is accepted silently.
func (l *LRU) Unref(o Object, flags Flag) {
	h := o.LRUHook()
	for {
		c := h.refcnt.Load()
		if c == condemned {
			return
		}
		if c < 1 {
			panic(fmt.Sprintf("lru: Unref underflow, refcnt %d", c))
		}
		if h.refcnt.CompareAndSwap(c, c-1) {
			return
		}
	}
}

// Sweep completes pending reclamations on every lane. For each condemned
// object it invokes reclaim with no ring locks held (so reclaim may take
// index latches freely), then returns the storage to the lane's reuse
// pool. Returns the number of objects reclaimed.
func (l *LRU) Sweep(reclaim func(Object)) int {
	total := 0
	for i := range l.lanes {
		ln := &l.lanes[i]

		ln.mu.Lock()
		pending := ln.pending
		ln.pending = nil
		ln.mu.Unlock()

		for _, o := range pending {
			reclaim(o)
			total++
			ln.mu.Lock()
			if len(ln.pool) < poolLimit {
				ln.pool = append(ln.pool, o)
			}
			ln.mu.Unlock()
		}
	}
	return total
}

// Remove forcibly unlinks an object from its lane regardless of reference
// count. Used only by filesystem drain, where every remaining object is
// being torn down. The storage is not pooled.
//
// Returns false when the object is already unlinked: a victim condemned
// by a concurrent insert, parked for a Sweep that has not run yet. The
// pending sweep owns that object's teardown; the drain must not unlink
// it a second time.
func (l *LRU) Remove(o Object) bool {
	h := o.LRUHook()
	ln := &l.lanes[h.lane]

	ln.mu.Lock()
	defer ln.mu.Unlock()
	if h.elem == nil {
		return false
	}
	ln.q.Remove(h.elem)
	h.elem = nil
	h.refcnt.Store(condemned)
	return true
}

// Len returns the total number of linked entries across all lanes.
func (l *LRU) Len() int {
	n := 0
	for i := range l.lanes {
		ln := &l.lanes[i]
		ln.mu.Lock()
		n += ln.q.Len()
		ln.mu.Unlock()
	}
	return n
}
