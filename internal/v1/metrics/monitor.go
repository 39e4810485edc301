package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// defaultWindowSize bounds the sliding duration windows.
const defaultWindowSize = 1000

// Stats is a point-in-time snapshot of the performance monitor.
type Stats struct {
	UptimeSeconds       float64 `json:"uptime_seconds"`
	TotalConnections    int64   `json:"total_connections"`
	ConcurrentUsers     int64   `json:"concurrent_users"`
	MessagesProcessed   int64   `json:"messages_processed"`
	BytesTransferred    int64   `json:"bytes_transferred"`
	AvgProcessingTimeMs float64 `json:"avg_processing_time_ms"`
	AvgLatencyMs        float64 `json:"avg_latency_ms"`
	MessagesPerSecond   float64 `json:"messages_per_second"`
	BandwidthMbps       float64 `json:"bandwidth_mbps"`
}

// window is a fixed-capacity ring of duration samples.
type window struct {
	samples []float64
	next    int
	filled  bool
}

func newWindow(size int) *window {
	return &window{samples: make([]float64, 0, size)}
}

func (w *window) add(v float64) {
	if len(w.samples) < cap(w.samples) {
		w.samples = append(w.samples, v)
		return
	}
	w.filled = true
	w.samples[w.next] = v
	w.next = (w.next + 1) % cap(w.samples)
}

func (w *window) mean() float64 {
	if len(w.samples) == 0 {
		return 0
	}
	var sum float64
	for _, v := range w.samples {
		sum += v
	}
	return sum / float64(len(w.samples))
}

// Monitor accumulates monotonic counters and sliding windows of durations.
// Counter updates are atomic; the windows take a short mutex.
type Monitor struct {
	start time.Time

	totalConnections  atomic.Int64
	concurrentUsers   atomic.Int64
	messagesProcessed atomic.Int64
	bytesTransferred  atomic.Int64

	mu              sync.Mutex
	processingTimes *window
	latencies       *window
}

// NewMonitor creates a performance monitor with the default window size.
func NewMonitor() *Monitor {
	return &Monitor{
		start:           time.Now(),
		processingTimes: newWindow(defaultWindowSize),
		latencies:       newWindow(defaultWindowSize),
	}
}

// RecordConnection notes an accepted connection.
func (m *Monitor) RecordConnection() {
	m.totalConnections.Add(1)
	m.concurrentUsers.Add(1)
	ConnectionsTotal.Inc()
	ActiveConnections.Inc()
}

// RecordDisconnection notes a closed connection.
func (m *Monitor) RecordDisconnection() {
	if m.concurrentUsers.Add(-1) < 0 {
		m.concurrentUsers.Store(0)
	}
	ActiveConnections.Dec()
}

// RecordMessage notes one inbound frame of the given body size and kind.
func (m *Monitor) RecordMessage(kind string, sizeBytes int) {
	m.messagesProcessed.Add(1)
	m.bytesTransferred.Add(int64(sizeBytes))
	MessagesProcessed.WithLabelValues(kind).Inc()
	BytesTransferred.Add(float64(sizeBytes))
}

// RecordProcessing notes the handler duration for one message.
func (m *Monitor) RecordProcessing(kind string, d time.Duration) {
	MessageProcessingDuration.WithLabelValues(kind).Observe(d.Seconds())
	m.mu.Lock()
	m.processingTimes.add(d.Seconds())
	m.mu.Unlock()
}

// RecordLatency notes an observed end-to-end latency.
func (m *Monitor) RecordLatency(d time.Duration) {
	m.mu.Lock()
	m.latencies.add(float64(d.Milliseconds()))
	m.mu.Unlock()
}

// Snapshot returns the current stats. Safe for concurrent use.
func (m *Monitor) Snapshot() Stats {
	uptime := time.Since(m.start).Seconds()
	messages := m.messagesProcessed.Load()
	bytes := m.bytesTransferred.Load()

	m.mu.Lock()
	avgProcessing := m.processingTimes.mean()
	avgLatency := m.latencies.mean()
	m.mu.Unlock()

	stats := Stats{
		UptimeSeconds:       uptime,
		TotalConnections:    m.totalConnections.Load(),
		ConcurrentUsers:     m.concurrentUsers.Load(),
		MessagesProcessed:   messages,
		BytesTransferred:    bytes,
		AvgProcessingTimeMs: avgProcessing * 1000,
		AvgLatencyMs:        avgLatency,
	}
	if uptime > 0 {
		stats.MessagesPerSecond = float64(messages) / uptime
		stats.BandwidthMbps = float64(bytes*8) / (uptime * 1_000_000)
	}
	return stats
}
