package gateway

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objgw/objgw/pkg/engine/memory"
	"github.com/objgw/objgw/pkg/lru"
)

// countingMetrics records cache events for assertions.
type countingMetrics struct {
	mu       sync.Mutex
	hits     int
	misses   int
	retries  int
	inserts  int
	recycled int
	reclaims int
	drained  int
}

func (m *countingMetrics) RecordLookup(hit bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if hit {
		m.hits++
	} else {
		m.misses++
	}
}

func (m *countingMetrics) RecordRetry() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retries++
}

func (m *countingMetrics) RecordInsert(recycled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inserts++
	if recycled {
		m.recycled++
	}
}

func (m *countingMetrics) RecordReclaim() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reclaims++
}

func (m *countingMetrics) RecordDrain(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drained += n
}

func TestLookupChild_FindOrCreate(t *testing.T) {
	fsys := newTestFS(t)
	root := fsys.Root()

	h1, created := fsys.LookupChild(root, "photos", FlagNone)
	require.NotNil(t, h1)
	assert.True(t, created)

	h2, created := fsys.LookupChild(root, "photos", FlagNone)
	require.NotNil(t, h2)
	assert.False(t, created)

	// Exactly one live handle per key.
	assert.Same(t, h1, h2)
	assert.Equal(t, 1, fsys.index.Len())
	assert.Equal(t, int32(2), h1.LRUHook().Refs())

	fsys.Unref(h1)
	fsys.Unref(h2)
}

func TestLookupChild_RejectsBadArguments(t *testing.T) {
	fsys := newTestFS(t)
	root := fsys.Root()

	h, _ := fsys.LookupChild(root, "", FlagNone)
	assert.Nil(t, h)

	h, _ = fsys.LookupChild(nil, "x", FlagNone)
	assert.Nil(t, h)

	bucket, _ := fsys.LookupChild(root, "photos", FlagNone)
	file, _ := fsys.LookupChild(bucket, "pic.jpg", FlagNone)
	defer func() {
		fsys.Unref(file)
		fsys.Unref(bucket)
	}()

	// Files cannot have children.
	h, _ = fsys.LookupChild(file, "x", FlagNone)
	assert.Nil(t, h)
}

func TestLookupHandle_RoundTrip(t *testing.T) {
	fsys := newTestFS(t)

	bucket, _ := fsys.LookupChild(fsys.Root(), "photos", FlagNone)
	file, _ := fsys.LookupChild(bucket, "pic.jpg", FlagNone)

	got := fsys.LookupHandle(file.Raw())
	require.NotNil(t, got)
	assert.Same(t, file, got)

	fsys.Unref(got)
	fsys.Unref(file)
	fsys.Unref(bucket)
}

func TestLookupHandle_RootIdentity(t *testing.T) {
	fsys := newTestFS(t)

	got := fsys.LookupHandle(fsys.Root().Raw())
	assert.Same(t, fsys.Root(), got)
}

func TestLookupHandle_UnknownIdentityIsNil(t *testing.T) {
	fsys := newTestFS(t)

	// An identity minted before a restart resolves to nothing, never to
	// an error.
	got := fsys.LookupHandle(RawHandle{Type: TypeFile, Bucket: 123, Object: 456})
	assert.Nil(t, got)
}

func TestConcurrentLookups_SingleHandlePerKey(t *testing.T) {
	fsys := newTestFS(t)
	root := fsys.Root()

	const workers = 16
	results := make([]*Handle, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, _ := fsys.LookupChild(root, "photos", FlagNone)
			results[i] = h
		}(i)
	}
	wg.Wait()

	require.NotNil(t, results[0])
	for i := 1; i < workers; i++ {
		assert.Same(t, results[0], results[i])
	}
	assert.Equal(t, 1, fsys.index.Len())
	assert.Equal(t, int32(workers), results[0].LRUHook().Refs())

	for range results {
		fsys.Unref(results[0])
	}
}

func TestEviction_ReclaimsColdUnreferenced(t *testing.T) {
	m := &countingMetrics{}
	fsys := New(memory.New(), Config{Partitions: 1, Lanes: 1, LaneHighWater: 2}, m)
	defer fsys.Close()
	root := fsys.Root()

	a, _ := fsys.LookupChild(root, "a", FlagNone)
	b, _ := fsys.LookupChild(root, "b", FlagNone)
	require.NotNil(t, a)
	require.NotNil(t, b)
	fsys.Unref(a)
	fsys.Unref(b)

	// The lane is at its high-water mark with two cold handles; the next
	// lookup condemns the coldest, sweeps it out of the index, and
	// retries.
	c, created := fsys.LookupChild(root, "c", FlagNone)
	require.NotNil(t, c)
	assert.True(t, created)

	m.mu.Lock()
	assert.Equal(t, 1, m.reclaims)
	assert.GreaterOrEqual(t, m.retries, 1)
	assert.Equal(t, 1, m.recycled)
	m.mu.Unlock()

	// The victim's key is gone from the index; looking it up again
	// builds a fresh handle.
	_, created = fsys.LookupChild(root, "a", FlagNone)
	assert.True(t, created)

	fsys.Unref(c)
}

func TestEviction_SkipsReferencedHandles(t *testing.T) {
	fsys := New(memory.New(), Config{Partitions: 1, Lanes: 1, LaneHighWater: 2}, nil)
	defer fsys.Close()
	root := fsys.Root()

	a, _ := fsys.LookupChild(root, "a", FlagNone)
	b, _ := fsys.LookupChild(root, "b", FlagNone)

	// Both handles are pinned, so the lane grows past its mark instead
	// of evicting either of them.
	c, _ := fsys.LookupChild(root, "c", FlagNone)
	require.NotNil(t, c)
	assert.Equal(t, 3, fsys.index.Len())

	// The pinned handles are still live in the cache.
	a2, created := fsys.LookupChild(root, "a", FlagNone)
	assert.False(t, created)
	assert.Same(t, a, a2)

	fsys.Unref(a2)
	fsys.Unref(a)
	fsys.Unref(b)
	fsys.Unref(c)
}

func TestClose_FailsFastAndDrains(t *testing.T) {
	m := &countingMetrics{}
	fsys := New(memory.New(), Config{}, m)
	root := fsys.Root()

	bucket, _ := fsys.LookupChild(root, "photos", FlagNone)
	file, _ := fsys.LookupChild(bucket, "pic.jpg", FlagNone)
	require.NotNil(t, file)
	// file is never released; Close must drain it regardless.
	fsys.Unref(bucket)

	fsys.Close()

	assert.Equal(t, 0, fsys.index.Len())
	assert.Equal(t, 0, fsys.ring.Len())
	m.mu.Lock()
	assert.Equal(t, 2, m.drained)
	m.mu.Unlock()

	// Terminal state: both resolve operations fail fast.
	h, _ := fsys.LookupChild(root, "photos", FlagNone)
	assert.Nil(t, h)
	assert.Nil(t, fsys.LookupHandle(bucket.Raw()))

	// Operations with an error surface report closure explicitly.
	_, err := fsys.StatBucket(context.Background(), "photos")
	assert.ErrorIs(t, err, ErrClosed)
	_, err = fsys.ReadDir(context.Background(), root, 0, func(string, uint64, bool) bool { return true })
	assert.ErrorIs(t, err, ErrClosed)

	// Close is idempotent.
	fsys.Close()
	m.mu.Lock()
	assert.Equal(t, 2, m.drained)
	m.mu.Unlock()
}

func TestClose_DrainToleratesCondemnedVictim(t *testing.T) {
	fsys := New(memory.New(), Config{Partitions: 1, Lanes: 1, LaneHighWater: 2}, nil)
	root := fsys.Root()

	a, _ := fsys.LookupChild(root, "a", FlagNone)
	b, _ := fsys.LookupChild(root, "b", FlagNone)
	require.NotNil(t, a)
	require.NotNil(t, b)
	fsys.Unref(a)
	fsys.Unref(b)

	// A lookup that got past the closed check loses the timing race: its
	// over-mark insert condemns a victim after Close's pre-drain sweep,
	// so the victim is unlinked from its lane but still indexed when the
	// drain visits it.
	fac := &handleFactory{fs: fsys, parent: root, key: root.ChildKey("c"), name: "c", flags: FlagNone}
	_, ok := fsys.ring.Insert(fac, lru.FlagInitial)
	require.False(t, ok)
	require.Equal(t, 2, fsys.index.Len())

	fsys.closed.Store(true)
	var drained int
	require.NotPanics(t, func() { drained = fsys.drainAll() })
	assert.Equal(t, 2, drained)
	assert.Equal(t, 0, fsys.index.Len())

	// The condemner's pending sweep still completes cleanly afterwards.
	assert.Equal(t, 1, fsys.ring.Sweep(fsys.reclaimObject))
}

func TestUnref_AfterCloseIsAccepted(t *testing.T) {
	fsys := New(memory.New(), Config{}, nil)

	bucket, _ := fsys.LookupChild(fsys.Root(), "photos", FlagNone)
	require.NotNil(t, bucket)

	// Close drains the handle while the caller still holds its
	// reference; the release that follows must be a quiet no-op.
	fsys.Close()
	require.NotPanics(t, func() { fsys.Unref(bucket) })
}

func TestRef_AddsReference(t *testing.T) {
	fsys := newTestFS(t)

	bucket, _ := fsys.LookupChild(fsys.Root(), "photos", FlagNone)
	fsys.Ref(bucket)
	assert.Equal(t, int32(2), bucket.LRUHook().Refs())

	fsys.Unref(bucket)
	fsys.Unref(bucket)
	assert.Equal(t, int32(0), bucket.LRUHook().Refs())

	// The root needs no reference management.
	assert.Same(t, fsys.Root(), fsys.Ref(fsys.Root()))
	fsys.Unref(fsys.Root())
}

func TestFSID_IsPerInstance(t *testing.T) {
	a := New(memory.New(), Config{}, nil)
	b := New(memory.New(), Config{}, nil)
	defer a.Close()
	defer b.Close()

	assert.NotEqual(t, a.FSID(), b.FSID())
	assert.NotEqual(t, a.Root().Key(), b.Root().Key())
}
