package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/objgw/objgw/pkg/gateway"
)

// cacheMetrics is the Prometheus implementation of
// gateway.CacheMetrics. It tracks lookup traffic, lost-race retries,
// inserts (and how many recycled reclaimed storage), reclamations and
// drains.
type cacheMetrics struct {
	lookups  *prometheus.CounterVec
	retries  prometheus.Counter
	inserts  *prometheus.CounterVec
	reclaims prometheus.Counter
	drained  prometheus.Counter
}

// NewCacheMetrics creates a Prometheus-backed CacheMetrics instance.
//
// Returns nil when metrics are disabled (InitRegistry not called), which
// makes the gateway use its built-in no-op implementation.
func NewCacheMetrics() gateway.CacheMetrics {
	if !IsEnabled() {
		return nil
	}

	reg := GetRegistry()

	return &cacheMetrics{
		lookups: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "objgw_handle_lookups_total",
				Help: "Total handle resolves, by cache outcome",
			},
			[]string{"result"},
		),
		retries: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "objgw_handle_lookup_retries_total",
				Help: "Lookups that lost a race against reclamation and retried",
			},
		),
		inserts: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "objgw_handle_inserts_total",
				Help: "Handles inserted into the cache, by storage origin",
			},
			[]string{"storage"},
		),
		reclaims: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "objgw_handle_reclaims_total",
				Help: "Handles evicted and unindexed under LRU pressure",
			},
		),
		drained: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "objgw_handle_drained_total",
				Help: "Handles force-evicted at filesystem close",
			},
		),
	}
}

func (m *cacheMetrics) RecordLookup(hit bool) {
	if hit {
		m.lookups.WithLabelValues("hit").Inc()
	} else {
		m.lookups.WithLabelValues("miss").Inc()
	}
}

func (m *cacheMetrics) RecordRetry() {
	m.retries.Inc()
}

func (m *cacheMetrics) RecordInsert(recycled bool) {
	if recycled {
		m.inserts.WithLabelValues("recycled").Inc()
	} else {
		m.inserts.WithLabelValues("fresh").Inc()
	}
}

func (m *cacheMetrics) RecordReclaim() {
	m.reclaims.Inc()
}

func (m *cacheMetrics) RecordDrain(n int) {
	m.drained.Add(float64(n))
}

// RegisterCacheSize exposes the live handle count as a gauge sampled at
// scrape time. A no-op when metrics are disabled.
func RegisterCacheSize(size func() float64) {
	if !IsEnabled() {
		return
	}
	promauto.With(GetRegistry()).NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "objgw_handle_cache_entries",
			Help: "Live handles in the cache index",
		},
		size,
	)
}
