// Package observe provides the observability layer around the scheduler:
// metric primitives, a structured append-only event log, a liveness and
// stuck-job health check, and threshold-based alerting. It is consumed by
// the scheduler but depends only on the notification sink.
package observe

import (
	"sync"
	"sync/atomic"
	"time"
)

// Counter is a monotonically increasing counter
type Counter struct {
	v atomic.Int64
}

// Inc increments by one
func (c *Counter) Inc() { c.v.Add(1) }

// Add increments by n
func (c *Counter) Add(n int64) { c.v.Add(n) }

// Value returns the current count
func (c *Counter) Value() int64 { return c.v.Load() }

// DefaultDurationBuckets are the histogram bucket upper bounds in
// milliseconds used for execution durations.
var DefaultDurationBuckets = []float64{10, 50, 100, 500, 1000, 5000, 10000, 30000, 60000}

// Histogram tracks count, sum and a fixed set of bucket boundaries
type Histogram struct {
	mu      sync.Mutex
	bounds  []float64
	buckets []int64
	count   int64
	sum     float64
}

// NewHistogram creates a histogram with the given upper bounds.
// Observations above the last bound land in an implicit overflow bucket.
func NewHistogram(bounds []float64) *Histogram {
	return &Histogram{
		bounds:  bounds,
		buckets: make([]int64, len(bounds)+1),
	}
}

// Observe records one value
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.count++
	h.sum += v
	for i, bound := range h.bounds {
		if v <= bound {
			h.buckets[i]++
			return
		}
	}
	h.buckets[len(h.bounds)]++
}

// HistogramSnapshot is a point-in-time copy of a histogram
type HistogramSnapshot struct {
	Count   int64     `json:"count"`
	Sum     float64   `json:"sum"`
	Bounds  []float64 `json:"bounds"`
	Buckets []int64   `json:"buckets"`
}

// Snapshot copies the histogram state
func (h *Histogram) Snapshot() HistogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()

	snap := HistogramSnapshot{
		Count:   h.count,
		Sum:     h.sum,
		Bounds:  append([]float64(nil), h.bounds...),
		Buckets: append([]int64(nil), h.buckets...),
	}
	return snap
}

// Gauge holds named values that can be set, removed and summed
type Gauge struct {
	mu     sync.Mutex
	values map[string]float64
}

// NewGauge creates an empty gauge
func NewGauge() *Gauge {
	return &Gauge{values: make(map[string]float64)}
}

// Set assigns a value to a name
func (g *Gauge) Set(name string, v float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.values[name] = v
}

// Remove drops a name
func (g *Gauge) Remove(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.values, name)
}

// Value returns a named value
func (g *Gauge) Value(name string) (float64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	v, ok := g.values[name]
	return v, ok
}

// Total returns the sum of all named values
func (g *Gauge) Total() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	total := 0.0
	for _, v := range g.values {
		total += v
	}
	return total
}

// Snapshot copies all named values
func (g *Gauge) Snapshot() map[string]float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]float64, len(g.values))
	for k, v := range g.values {
		out[k] = v
	}
	return out
}

// Metrics bundles the scheduler's metrics
type Metrics struct {
	Executions Counter
	Failures   Counter
	Duration   *Histogram
	InFlight   *Gauge // per-job queue depth

	startedAt time.Time
}

// NewMetrics creates the metrics bundle with default duration buckets
func NewMetrics() *Metrics {
	return &Metrics{
		Duration:  NewHistogram(DefaultDurationBuckets),
		InFlight:  NewGauge(),
		startedAt: time.Now(),
	}
}

// Uptime returns time since the bundle was created
func (m *Metrics) Uptime() time.Duration {
	return time.Since(m.startedAt)
}

// MetricsSnapshot is the JSON shape served by the metrics endpoint
type MetricsSnapshot struct {
	Executions    int64              `json:"executions"`
	Failures      int64              `json:"failures"`
	Duration      HistogramSnapshot  `json:"duration_ms"`
	InFlight      map[string]float64 `json:"in_flight"`
	InFlightTotal float64            `json:"in_flight_total"`
	UptimeSeconds float64            `json:"uptime_seconds"`
}

// Snapshot copies the whole bundle
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Executions:    m.Executions.Value(),
		Failures:      m.Failures.Value(),
		Duration:      m.Duration.Snapshot(),
		InFlight:      m.InFlight.Snapshot(),
		InFlightTotal: m.InFlight.Total(),
		UptimeSeconds: m.Uptime().Seconds(),
	}
}
