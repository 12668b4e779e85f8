package scembed

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
type MetricsCollector interface {
	// RecordEmbed is called after each embedding operation.
	// rows is the number of rows embedded, duration is the total time
	// taken, err is nil if successful.
	RecordEmbed(rows int, duration time.Duration, err error)

	// RecordQuery is called after each nearest-neighbor query.
	// k is the number of neighbors requested per row.
	RecordQuery(k int, duration time.Duration, err error)

	// RecordIndexLoad is called after each knn index load attempt.
	RecordIndexLoad(duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordEmbed(int, time.Duration, error) {}
func (NoopMetricsCollector) RecordQuery(int, time.Duration, error) {}
func (NoopMetricsCollector) RecordIndexLoad(time.Duration, error)  {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	EmbedCount      atomic.Int64
	EmbedRows       atomic.Int64
	EmbedErrors     atomic.Int64
	EmbedTotalNanos atomic.Int64
	QueryCount      atomic.Int64
	QueryErrors     atomic.Int64
	QueryTotalNanos atomic.Int64
	IndexLoadCount  atomic.Int64
	IndexLoadErrors atomic.Int64
}

// RecordEmbed implements MetricsCollector.
func (b *BasicMetricsCollector) RecordEmbed(rows int, duration time.Duration, err error) {
	b.EmbedCount.Add(1)
	b.EmbedRows.Add(int64(rows))
	b.EmbedTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.EmbedErrors.Add(1)
	}
}

// RecordQuery implements MetricsCollector.
func (b *BasicMetricsCollector) RecordQuery(k int, duration time.Duration, err error) {
	b.QueryCount.Add(1)
	b.QueryTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.QueryErrors.Add(1)
	}
}

// RecordIndexLoad implements MetricsCollector.
func (b *BasicMetricsCollector) RecordIndexLoad(duration time.Duration, err error) {
	b.IndexLoadCount.Add(1)
	if err != nil {
		b.IndexLoadErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		EmbedCount:      b.EmbedCount.Load(),
		EmbedRows:       b.EmbedRows.Load(),
		EmbedErrors:     b.EmbedErrors.Load(),
		EmbedAvgNanos:   b.getAvgEmbedNanos(),
		QueryCount:      b.QueryCount.Load(),
		QueryErrors:     b.QueryErrors.Load(),
		QueryAvgNanos:   b.getAvgQueryNanos(),
		IndexLoadCount:  b.IndexLoadCount.Load(),
		IndexLoadErrors: b.IndexLoadErrors.Load(),
	}
}

func (b *BasicMetricsCollector) getAvgEmbedNanos() int64 {
	count := b.EmbedCount.Load()
	if count == 0 {
		return 0
	}
	return b.EmbedTotalNanos.Load() / count
}

func (b *BasicMetricsCollector) getAvgQueryNanos() int64 {
	count := b.QueryCount.Load()
	if count == 0 {
		return 0
	}
	return b.QueryTotalNanos.Load() / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	EmbedCount      int64
	EmbedRows       int64
	EmbedErrors     int64
	EmbedAvgNanos   int64
	QueryCount      int64
	QueryErrors     int64
	QueryAvgNanos   int64
	IndexLoadCount  int64
	IndexLoadErrors int64
}
