package tasm

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus;
// package prommetrics provides one.
type MetricsCollector interface {
	// RecordStore is called after each store or retile with the number of
	// tiles encoded and the total time taken. err is nil if successful.
	RecordStore(tiles int, duration time.Duration, err error)

	// RecordSelect is called when a query cursor finishes. mode is "objects",
	// "tiles" or "frames"; decoded is the pixel area decoded.
	RecordSelect(mode string, results int, decoded int64, duration time.Duration, err error)

	// RecordRetile is called after each RetileBasedOnRegret call.
	// retiled is false when every label was below threshold.
	RecordRetile(retiled bool, duration time.Duration, err error)

	// RecordRegret is called with the accumulated regret of (video, label)
	// after a tracked query.
	RecordRegret(video, label string, regret int64)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordStore(int, time.Duration, error)                 {}
func (NoopMetricsCollector) RecordSelect(string, int, int64, time.Duration, error) {}
func (NoopMetricsCollector) RecordRetile(bool, time.Duration, error)               {}
func (NoopMetricsCollector) RecordRegret(string, string, int64)                    {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	StoreCount       atomic.Int64
	StoreErrors      atomic.Int64
	StoreTiles       atomic.Int64
	StoreTotalNanos  atomic.Int64
	SelectCount      atomic.Int64
	SelectErrors     atomic.Int64
	SelectResults    atomic.Int64
	SelectDecoded    atomic.Int64
	SelectTotalNanos atomic.Int64
	RetileCount      atomic.Int64
	RetileApplied    atomic.Int64
	RetileErrors     atomic.Int64
	RegretUpdates    atomic.Int64
}

// RecordStore implements MetricsCollector.
func (b *BasicMetricsCollector) RecordStore(tiles int, duration time.Duration, err error) {
	b.StoreCount.Add(1)
	b.StoreTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.StoreErrors.Add(1)
		return
	}
	b.StoreTiles.Add(int64(tiles))
}

// RecordSelect implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSelect(_ string, results int, decoded int64, duration time.Duration, err error) {
	b.SelectCount.Add(1)
	b.SelectTotalNanos.Add(duration.Nanoseconds())
	b.SelectResults.Add(int64(results))
	b.SelectDecoded.Add(decoded)
	if err != nil {
		b.SelectErrors.Add(1)
	}
}

// RecordRetile implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRetile(retiled bool, _ time.Duration, err error) {
	b.RetileCount.Add(1)
	if err != nil {
		b.RetileErrors.Add(1)
		return
	}
	if retiled {
		b.RetileApplied.Add(1)
	}
}

// RecordRegret implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRegret(string, string, int64) {
	b.RegretUpdates.Add(1)
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		StoreCount:     b.StoreCount.Load(),
		StoreErrors:    b.StoreErrors.Load(),
		StoreTiles:     b.StoreTiles.Load(),
		StoreAvgNanos:  avg(b.StoreTotalNanos.Load(), b.StoreCount.Load()),
		SelectCount:    b.SelectCount.Load(),
		SelectErrors:   b.SelectErrors.Load(),
		SelectResults:  b.SelectResults.Load(),
		SelectDecoded:  b.SelectDecoded.Load(),
		SelectAvgNanos: avg(b.SelectTotalNanos.Load(), b.SelectCount.Load()),
		RetileCount:    b.RetileCount.Load(),
		RetileApplied:  b.RetileApplied.Load(),
		RetileErrors:   b.RetileErrors.Load(),
		RegretUpdates:  b.RegretUpdates.Load(),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	StoreCount     int64
	StoreErrors    int64
	StoreTiles     int64
	StoreAvgNanos  int64
	SelectCount    int64
	SelectErrors   int64
	SelectResults  int64
	SelectDecoded  int64
	SelectAvgNanos int64
	RetileCount    int64
	RetileApplied  int64
	RetileErrors   int64
	RegretUpdates  int64
}
