package observe

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCounterConcurrentInc(t *testing.T) {
	var c Counter
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Inc()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1000), c.Value())
}

func TestHistogramBuckets(t *testing.T) {
	h := NewHistogram([]float64{10, 100})

	h.Observe(5)
	h.Observe(10) // boundary lands in its bucket
	h.Observe(50)
	h.Observe(5000) // overflow

	snap := h.Snapshot()
	assert.Equal(t, int64(4), snap.Count)
	assert.Equal(t, 5065.0, snap.Sum)
	assert.Equal(t, []int64{2, 1, 1}, snap.Buckets)
}

func TestGauge(t *testing.T) {
	g := NewGauge()
	g.Set("job_a", 1)
	g.Set("job_b", 1)

	assert.Equal(t, 2.0, g.Total())

	v, ok := g.Value("job_a")
	assert.True(t, ok)
	assert.Equal(t, 1.0, v)

	g.Remove("job_a")
	assert.Equal(t, 1.0, g.Total())
	_, ok = g.Value("job_a")
	assert.False(t, ok)
}

func TestMetricsSnapshot(t *testing.T) {
	m := NewMetrics()
	m.Executions.Add(3)
	m.Failures.Inc()
	m.Duration.Observe(42)
	m.InFlight.Set("job_x", 1)

	snap := m.Snapshot()
	assert.Equal(t, int64(3), snap.Executions)
	assert.Equal(t, int64(1), snap.Failures)
	assert.Equal(t, int64(1), snap.Duration.Count)
	assert.Equal(t, 1.0, snap.InFlightTotal)
	assert.GreaterOrEqual(t, snap.UptimeSeconds, 0.0)
}
