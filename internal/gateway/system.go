package gateway

import (
	"runtime"
	"time"

	"marketchart/internal/chart/engine"
)

// SystemMetrics is the service report behind /api/v1/system: process
// footprint, websocket delivery and engine queue depths.
type SystemMetrics struct {
	Goroutines  int     `json:"goroutines"`
	HeapAllocMB float64 `json:"heap_alloc_mb"`
	GCRuns      uint32  `json:"gc_runs"`
	UptimeSec   int64   `json:"uptime_sec"`

	Clients    int     `json:"ws_clients"`
	Seq        int64   `json:"seq"`
	LatencyP50 float64 `json:"delivery_p50_ms"`
	LatencyP95 float64 `json:"delivery_p95_ms"`
	LatencyP99 float64 `json:"delivery_p99_ms"`

	Queues *engine.QueueStats `json:"queues,omitempty"`
	TS     string             `json:"ts"`
}

// CollectMetrics builds the report. hub may be nil.
func CollectMetrics(start time.Time, hub *Hub) SystemMetrics {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	m := SystemMetrics{
		Goroutines:  runtime.NumGoroutine(),
		HeapAllocMB: float64(ms.HeapAlloc) / 1024 / 1024,
		GCRuns:      ms.NumGC,
		UptimeSec:   int64(time.Since(start).Seconds()),
		TS:          time.Now().UTC().Format(time.RFC3339Nano),
	}
	if hub == nil {
		return m
	}
	m.Clients = hub.ClientCount()
	m.Seq = hub.Seq()
	m.LatencyP50, m.LatencyP95, m.LatencyP99 = hub.Latency.Percentiles()
	q := hub.eng.Queues()
	m.Queues = &q
	return m
}
