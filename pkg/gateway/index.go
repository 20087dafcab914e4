package gateway

import (
	"fmt"
	"sync"

	"github.com/google/btree"
)

// btreeDegree matches the small fan-out used for ordered in-memory trees
// elsewhere in the codebase.
const btreeDegree = 3

// keyItem is a probe used to search a partition tree by bare key without
// constructing a handle.
type keyItem Key

func (k keyItem) Less(than btree.Item) bool {
	return Key(k).Less(itemKey(than))
}

// itemKey extracts the key from either stored handles or probe items.
func itemKey(i btree.Item) Key {
	switch v := i.(type) {
	case *Handle:
		return v.key
	case keyItem:
		return Key(v)
	default:
		panic(fmt.Sprintf("index: unexpected item type %T", i))
	}
}

// Latch is the short-held lock of one index partition, returned still held
// by FindLatch so the caller can complete a check-then-act sequence
// (take a reference, or insert a freshly built handle) atomically with
// respect to other lookups of the same key.
//
// A latch must never be held across a backend call.
type Latch struct {
	p *partition
}

// Unlock releases the partition latch.
func (l *Latch) Unlock() {
	l.p.mu.Unlock()
}

// partition is one shard of the index: an ordered tree of handles under
// its own latch.
type partition struct {
	mu   sync.Mutex
	tree *btree.BTree
}

// Index is the sharded ordered map from Key to live Handle. It is the
// single source of truth for which handle is live for a key: at most one
// handle per key is present at any instant, enforced by the latch-held
// find-then-insert protocol.
type Index struct {
	partitions []partition
}

// NewIndex creates an index with n independently latched partitions.
func NewIndex(n int) *Index {
	if n < 1 {
		n = 1
	}
	idx := &Index{partitions: make([]partition, n)}
	for i := range idx.partitions {
		idx.partitions[i].tree = btree.New(btreeDegree)
	}
	return idx
}

// partitionFor selects the partition for a key. The object-hash component
// is the partition selector, as it is the component that varies within a
// bucket.
func (idx *Index) partitionFor(k Key) *partition {
	return &idx.partitions[k.Object%uint64(len(idx.partitions))]
}

// FindLatch looks up a key and returns the matching handle (or nil) with
// the partition latch still held. The caller owns the latch and must
// release it via Unlock or by completing an InsertLatched.
func (idx *Index) FindLatch(k Key) (*Handle, *Latch) {
	p := idx.partitionFor(k)
	p.mu.Lock()
	lat := &Latch{p: p}
	if item := p.tree.Get(keyItem(k)); item != nil {
		return item.(*Handle), lat
	}
	return nil, lat
}

// InsertLatched inserts a handle under a latch obtained from a prior
// FindLatch that found nothing, then releases the latch. Inserting over
// an existing entry or under the wrong partition's latch is a structural
// violation.
func (idx *Index) InsertLatched(h *Handle, lat *Latch) {
	if lat.p != idx.partitionFor(h.key) {
		panic("index: InsertLatched under foreign partition latch")
	}
	if prev := lat.p.tree.ReplaceOrInsert(h); prev != nil {
		panic("index: duplicate insert for key " + h.key.String())
	}
	lat.Unlock()
}

// Remove deletes the entry for h's key, but only if h itself is the
// indexed handle. Reclamation uses this to avoid deleting a successor
// that won the key after h was condemned. Returns whether h was removed.
func (idx *Index) Remove(h *Handle) bool {
	p := idx.partitionFor(h.key)
	p.mu.Lock()
	defer p.mu.Unlock()
	if item := p.tree.Get(keyItem(h.key)); item != nil && item.(*Handle) == h {
		p.tree.Delete(keyItem(h.key))
		return true
	}
	return false
}

// Drain removes every entry, invoking visit for each outside the
// partition latch. Used by filesystem close to force-evict all handles.
func (idx *Index) Drain(visit func(*Handle)) {
	for i := range idx.partitions {
		p := &idx.partitions[i]

		p.mu.Lock()
		drained := make([]*Handle, 0, p.tree.Len())
		p.tree.Ascend(func(item btree.Item) bool {
			drained = append(drained, item.(*Handle))
			return true
		})
		p.tree.Clear(false)
		p.mu.Unlock()

		for _, h := range drained {
			visit(h)
		}
	}
}

// Len returns the total number of live entries across all partitions.
func (idx *Index) Len() int {
	n := 0
	for i := range idx.partitions {
		p := &idx.partitions[i]
		p.mu.Lock()
		n += p.tree.Len()
		p.mu.Unlock()
	}
	return n
}
