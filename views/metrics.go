package views

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector defines the interface for collecting view tracking metrics.
type MetricsCollector interface {
	IncTracked()
	IncDuplicates()
	IncFallbacks()
	IncCacheHits()
	IncCacheMisses()
}

type AtomicMetrics struct {
	tracked     int64
	duplicates  int64
	fallbacks   int64
	cacheHits   int64
	cacheMisses int64
}

func (m *AtomicMetrics) IncTracked()     { atomic.AddInt64(&m.tracked, 1) }
func (m *AtomicMetrics) IncDuplicates()  { atomic.AddInt64(&m.duplicates, 1) }
func (m *AtomicMetrics) IncFallbacks()   { atomic.AddInt64(&m.fallbacks, 1) }
func (m *AtomicMetrics) IncCacheHits()   { atomic.AddInt64(&m.cacheHits, 1) }
func (m *AtomicMetrics) IncCacheMisses() { atomic.AddInt64(&m.cacheMisses, 1) }

// PrometheusMetrics implements MetricsCollector using prometheus counters.
type PrometheusMetrics struct {
	Tracked     prometheus.Counter
	Duplicates  prometheus.Counter
	Fallbacks   prometheus.Counter
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter
}

func (m *PrometheusMetrics) IncTracked()     { m.Tracked.Inc() }
func (m *PrometheusMetrics) IncDuplicates()  { m.Duplicates.Inc() }
func (m *PrometheusMetrics) IncFallbacks()   { m.Fallbacks.Inc() }
func (m *PrometheusMetrics) IncCacheHits()   { m.CacheHits.Inc() }
func (m *PrometheusMetrics) IncCacheMisses() { m.CacheMisses.Inc() }
