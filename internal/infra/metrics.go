package infra

import (
	"sync/atomic"
	"time"
)

// Metrics provides lightweight observability without external dependencies.
// Uses atomic operations for thread-safety.
type Metrics struct {
	// Counters
	messagesProcessed    atomic.Uint64
	bidsPublished        atomic.Uint64
	allocationsResolved  atomic.Uint64
	messagesDropped      atomic.Uint64
	fatalErrors          atomic.Uint64
	runsCompleted        atomic.Uint64
	recorderWriteFailure atomic.Uint64

	// Latency tracking
	latencySumNs atomic.Int64
	latencyCount atomic.Uint64

	// Gauges
	activeConnections atomic.Int32
}

// GlobalMetrics is the singleton metrics instance.
var GlobalMetrics = &Metrics{}

// RecordMessage records a handled message with its latency.
func (m *Metrics) RecordMessage(latencyNs int64) {
	m.messagesProcessed.Add(1)
	m.latencySumNs.Add(latencyNs)
	m.latencyCount.Add(1)
}

// RecordBid records a published bid.
func (m *Metrics) RecordBid() {
	m.bidsPublished.Add(1)
}

// RecordAllocation records a resolved allocation.
func (m *Metrics) RecordAllocation() {
	m.allocationsResolved.Add(1)
}

// RecordDrop records a message dropped as malformed or out of order.
func (m *Metrics) RecordDrop() {
	m.messagesDropped.Add(1)
}

// RecordFatal records an error that moved a run to ERROR.
func (m *Metrics) RecordFatal() {
	m.fatalErrors.Add(1)
}

// RecordRunCompleted records a run whose results were handed off.
func (m *Metrics) RecordRunCompleted() {
	m.runsCompleted.Add(1)
}

// RecordRecorderFailure records a failed results write.
func (m *Metrics) RecordRecorderFailure() {
	m.recorderWriteFailure.Add(1)
}

// IncrementConnections increments active connections by 1.
func (m *Metrics) IncrementConnections() {
	m.activeConnections.Add(1)
}

// DecrementConnections decrements active connections by 1.
func (m *Metrics) DecrementConnections() {
	m.activeConnections.Add(-1)
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	MessagesProcessed   uint64    `json:"messages_processed"`
	BidsPublished       uint64    `json:"bids_published"`
	AllocationsResolved uint64    `json:"allocations_resolved"`
	MessagesDropped     uint64    `json:"messages_dropped"`
	FatalErrors         uint64    `json:"fatal_errors"`
	RunsCompleted       uint64    `json:"runs_completed"`
	RecorderFailures    uint64    `json:"recorder_failures"`
	AvgLatencyNs        int64     `json:"avg_latency_ns"`
	ActiveConnections   int32     `json:"active_connections"`
	Timestamp           time.Time `json:"timestamp"`
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var avgLatency int64
	count := m.latencyCount.Load()
	if count > 0 {
		avgLatency = m.latencySumNs.Load() / int64(count)
	}

	return MetricsSnapshot{
		MessagesProcessed:   m.messagesProcessed.Load(),
		BidsPublished:       m.bidsPublished.Load(),
		AllocationsResolved: m.allocationsResolved.Load(),
		MessagesDropped:     m.messagesDropped.Load(),
		FatalErrors:         m.fatalErrors.Load(),
		RunsCompleted:       m.runsCompleted.Load(),
		RecorderFailures:    m.recorderWriteFailure.Load(),
		AvgLatencyNs:        avgLatency,
		ActiveConnections:   m.activeConnections.Load(),
		Timestamp:           time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.messagesProcessed.Store(0)
	m.bidsPublished.Store(0)
	m.allocationsResolved.Store(0)
	m.messagesDropped.Store(0)
	m.fatalErrors.Store(0)
	m.runsCompleted.Store(0)
	m.recorderWriteFailure.Store(0)
	m.latencySumNs.Store(0)
	m.latencyCount.Store(0)
	m.activeConnections.Store(0)
}
