package infra

import (
	"testing"
)

func TestMetrics_RecordMessage(t *testing.T) {
	m := &Metrics{}

	m.RecordMessage(1000)
	m.RecordMessage(2000)
	m.RecordMessage(3000)

	snap := m.Snapshot()

	if snap.MessagesProcessed != 3 {
		t.Errorf("Expected 3 messages, got %d", snap.MessagesProcessed)
	}

	// Average latency: (1000 + 2000 + 3000) / 3 = 2000
	if snap.AvgLatencyNs != 2000 {
		t.Errorf("Expected avg latency 2000, got %d", snap.AvgLatencyNs)
	}
}

func TestMetrics_Counters(t *testing.T) {
	m := &Metrics{}

	m.RecordBid()
	m.RecordBid()
	m.RecordAllocation()
	m.RecordDrop()
	m.RecordFatal()
	m.RecordRunCompleted()
	m.RecordRecorderFailure()

	snap := m.Snapshot()
	if snap.BidsPublished != 2 {
		t.Errorf("Expected 2 bids, got %d", snap.BidsPublished)
	}
	if snap.AllocationsResolved != 1 || snap.MessagesDropped != 1 || snap.FatalErrors != 1 {
		t.Errorf("unexpected counters: %+v", snap)
	}
	if snap.RunsCompleted != 1 || snap.RecorderFailures != 1 {
		t.Errorf("unexpected run counters: %+v", snap)
	}
}

func TestMetrics_Connections(t *testing.T) {
	m := &Metrics{}

	m.IncrementConnections()
	m.IncrementConnections()
	m.IncrementConnections()

	snap := m.Snapshot()
	if snap.ActiveConnections != 3 {
		t.Errorf("Expected 3 connections, got %d", snap.ActiveConnections)
	}

	m.DecrementConnections()
	snap = m.Snapshot()
	if snap.ActiveConnections != 2 {
		t.Errorf("Expected 2 connections, got %d", snap.ActiveConnections)
	}
}

func TestMetrics_Reset(t *testing.T) {
	m := &Metrics{}

	m.RecordMessage(1000)
	m.RecordFatal()
	m.IncrementConnections()

	m.Reset()
	snap := m.Snapshot()

	if snap.MessagesProcessed != 0 {
		t.Error("Expected 0 messages after reset")
	}
	if snap.FatalErrors != 0 {
		t.Error("Expected 0 fatal errors after reset")
	}
	if snap.ActiveConnections != 0 {
		t.Error("Expected 0 connections after reset")
	}
}
