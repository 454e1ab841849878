package gateway

import (
	"math"
	"sort"
	"sync"
	"time"
)

// LatencyTracker keeps the last N delivery latencies in a circular buffer
// and reports percentiles in milliseconds. Safe for concurrent use.
type LatencyTracker struct {
	mu      sync.Mutex
	samples []time.Duration
	pos     int
	count   int
}

// NewLatencyTracker creates a tracker holding the last capacity samples.
func NewLatencyTracker(capacity int) *LatencyTracker {
	if capacity <= 0 {
		capacity = 10000
	}
	return &LatencyTracker{samples: make([]time.Duration, capacity)}
}

// Record adds one sample.
func (lt *LatencyTracker) Record(d time.Duration) {
	lt.mu.Lock()
	lt.samples[lt.pos] = d
	lt.pos = (lt.pos + 1) % len(lt.samples)
	if lt.count < len(lt.samples) {
		lt.count++
	}
	lt.mu.Unlock()
}

// Since records the time elapsed since t.
func (lt *LatencyTracker) Since(t time.Time) {
	lt.Record(time.Since(t))
}

// Percentiles returns p50, p95 and p99 in milliseconds, or zeros with no
// samples.
func (lt *LatencyTracker) Percentiles() (p50, p95, p99 float64) {
	lt.mu.Lock()
	n := lt.count
	ms := make([]float64, n)
	for i := 0; i < n; i++ {
		ms[i] = float64(lt.samples[i]) / float64(time.Millisecond)
	}
	lt.mu.Unlock()
	if n == 0 {
		return 0, 0, 0
	}

	sort.Float64s(ms)
	return percentile(ms, 0.50), percentile(ms, 0.95), percentile(ms, 0.99)
}

// Count returns the number of samples held.
func (lt *LatencyTracker) Count() int {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	return lt.count
}

// percentile interpolates the p-th percentile (0..1) of sorted.
func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}
	rank := p * float64(n-1)
	lower := int(math.Floor(rank))
	if lower+1 >= n {
		return sorted[n-1]
	}
	frac := rank - float64(lower)
	return sorted[lower]*(1-frac) + sorted[lower+1]*frac
}
