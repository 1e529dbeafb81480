package agentdb

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector receives operational metrics from the store. Implement it
// to integrate with a monitoring system, or use PrometheusCollector.
type MetricsCollector interface {
	// RecordWrite is called after each insert, upsert or delete.
	// op is "insert", "upsert" or "delete".
	RecordWrite(collection, op string, duration time.Duration, err error)

	// RecordBatch is called after each batch flush. count is the number of
	// operations in the batch.
	RecordBatch(collection string, count int, duration time.Duration, err error)

	// RecordSearch is called after each search. k is the requested
	// neighbor count; partial marks deadline-truncated results.
	RecordSearch(collection string, k int, duration time.Duration, partial bool, err error)

	// RecordCache is called per query-cache lookup.
	RecordCache(collection string, hit bool)
}

// NoopMetricsCollector discards all metrics.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordWrite(string, string, time.Duration, error)     {}
func (NoopMetricsCollector) RecordBatch(string, int, time.Duration, error)        {}
func (NoopMetricsCollector) RecordSearch(string, int, time.Duration, bool, error) {}
func (NoopMetricsCollector) RecordCache(string, bool)                             {}

// BasicMetricsCollector counts operations in memory. Useful for tests and
// debugging without an external monitoring system.
type BasicMetricsCollector struct {
	Writes        atomic.Int64
	WriteErrors   atomic.Int64
	Batches       atomic.Int64
	BatchErrors   atomic.Int64
	Searches      atomic.Int64
	SearchErrors  atomic.Int64
	PartialSearch atomic.Int64
	CacheHits     atomic.Int64
	CacheMisses   atomic.Int64
}

func (b *BasicMetricsCollector) RecordWrite(_, _ string, _ time.Duration, err error) {
	b.Writes.Add(1)
	if err != nil {
		b.WriteErrors.Add(1)
	}
}

func (b *BasicMetricsCollector) RecordBatch(_ string, _ int, _ time.Duration, err error) {
	b.Batches.Add(1)
	if err != nil {
		b.BatchErrors.Add(1)
	}
}

func (b *BasicMetricsCollector) RecordSearch(_ string, _ int, _ time.Duration, partial bool, err error) {
	b.Searches.Add(1)
	if partial {
		b.PartialSearch.Add(1)
	}
	if err != nil {
		b.SearchErrors.Add(1)
	}
}

func (b *BasicMetricsCollector) RecordCache(_ string, hit bool) {
	if hit {
		b.CacheHits.Add(1)
	} else {
		b.CacheMisses.Add(1)
	}
}

// PrometheusCollector exports store metrics through a prometheus registry.
type PrometheusCollector struct {
	writeDuration  *prometheus.HistogramVec
	batchDuration  *prometheus.HistogramVec
	batchSize      *prometheus.HistogramVec
	searchDuration *prometheus.HistogramVec
	partialTotal   *prometheus.CounterVec
	errorsTotal    *prometheus.CounterVec
	cacheTotal     *prometheus.CounterVec
}

// NewPrometheusCollector creates and registers the collectors. A nil
// registerer uses the default registry.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	durationBuckets := []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5}

	c := &PrometheusCollector{
		writeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agentdb",
			Name:      "write_duration_seconds",
			Help:      "Write operation duration in seconds",
			Buckets:   durationBuckets,
		}, []string{"collection", "op"}),
		batchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agentdb",
			Name:      "batch_duration_seconds",
			Help:      "Batch flush duration in seconds",
			Buckets:   durationBuckets,
		}, []string{"collection"}),
		batchSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agentdb",
			Name:      "batch_size",
			Help:      "Number of operations per batch flush",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"collection"}),
		searchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agentdb",
			Name:      "search_duration_seconds",
			Help:      "Search duration in seconds",
			Buckets:   durationBuckets,
		}, []string{"collection"}),
		partialTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentdb",
			Name:      "search_partial_total",
			Help:      "Searches truncated by deadline",
		}, []string{"collection"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentdb",
			Name:      "errors_total",
			Help:      "Operation errors by kind",
		}, []string{"collection", "op"}),
		cacheTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentdb",
			Name:      "query_cache_total",
			Help:      "Query cache lookups by outcome",
		}, []string{"collection", "outcome"}),
	}

	reg.MustRegister(
		c.writeDuration, c.batchDuration, c.batchSize,
		c.searchDuration, c.partialTotal, c.errorsTotal, c.cacheTotal,
	)
	return c
}

func (c *PrometheusCollector) RecordWrite(collection, op string, d time.Duration, err error) {
	c.writeDuration.WithLabelValues(collection, op).Observe(d.Seconds())
	if err != nil {
		c.errorsTotal.WithLabelValues(collection, op).Inc()
	}
}

func (c *PrometheusCollector) RecordBatch(collection string, count int, d time.Duration, err error) {
	c.batchDuration.WithLabelValues(collection).Observe(d.Seconds())
	c.batchSize.WithLabelValues(collection).Observe(float64(count))
	if err != nil {
		c.errorsTotal.WithLabelValues(collection, "batch").Inc()
	}
}

func (c *PrometheusCollector) RecordSearch(collection string, _ int, d time.Duration, partial bool, err error) {
	c.searchDuration.WithLabelValues(collection).Observe(d.Seconds())
	if partial {
		c.partialTotal.WithLabelValues(collection).Inc()
	}
	if err != nil {
		c.errorsTotal.WithLabelValues(collection, "search").Inc()
	}
}

func (c *PrometheusCollector) RecordCache(collection string, hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	c.cacheTotal.WithLabelValues(collection, outcome).Inc()
}
