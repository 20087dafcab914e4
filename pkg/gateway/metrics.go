package gateway

// CacheMetrics receives handle-cache events. Implementations must be safe
// for concurrent use. A nil CacheMetrics passed to New is replaced by a
// no-op implementation so call sites never need to guard.
type CacheMetrics interface {
	// RecordLookup counts one resolve, hit or miss.
	RecordLookup(hit bool)

	// RecordRetry counts one lost-race retry of the lookup protocol.
	RecordRetry()

	// RecordInsert counts one handle inserted into the cache, and
	// whether its storage was recycled from a reclaimed handle.
	RecordInsert(recycled bool)

	// RecordReclaim counts one handle evicted and unindexed under LRU
	// pressure.
	RecordReclaim()

	// RecordDrain counts handles force-evicted by Close.
	RecordDrain(n int)
}

// noopCacheMetrics is the zero-overhead default.
type noopCacheMetrics struct{}

func (noopCacheMetrics) RecordLookup(bool)  {}
func (noopCacheMetrics) RecordRetry()       {}
func (noopCacheMetrics) RecordInsert(bool)  {}
func (noopCacheMetrics) RecordReclaim()     {}
func (noopCacheMetrics) RecordDrain(int)    {}
