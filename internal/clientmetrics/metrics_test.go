package clientmetrics

import (
	"sync"
	"testing"
	"time"
)

func TestClientMetricsCounters(t *testing.T) {
	m := New()
	m.IncrementIssued()
	m.IncrementIssued()
	m.IncrementCompleted(3, 120, false)
	m.IncrementIssued()
	m.IncrementCompleted(0, 0, true)
	m.IncrementCompleted(1, 40, false)

	snap := m.Snapshot()
	if snap.Issued != 3 {
		t.Errorf("Issued = %d, want 3", snap.Issued)
	}
	if snap.Completed != 3 {
		t.Errorf("Completed = %d, want 3", snap.Completed)
	}
	if snap.Rows != 4 {
		t.Errorf("Rows = %d, want 4", snap.Rows)
	}
	if snap.BytesReceived != 160 {
		t.Errorf("BytesReceived = %d, want 160", snap.BytesReceived)
	}
	if snap.Errors != 1 {
		t.Errorf("Errors = %d, want 1", snap.Errors)
	}
	if snap.MaxInFlight != 2 {
		t.Errorf("MaxInFlight = %d, want 2", snap.MaxInFlight)
	}
}

func TestClientMetricsConnectionDuration(t *testing.T) {
	m := New()
	if m.ConnectionDuration() != 0 {
		t.Fatal("expected zero duration before connect")
	}
	m.MarkConnected()
	time.Sleep(2 * time.Millisecond)
	if m.ConnectionDuration() <= 0 {
		t.Fatal("expected positive duration after connect")
	}
	m.Reset()
	if m.Snapshot().ConnectionDuration != 0 {
		t.Fatal("expected zero duration after reset")
	}
}

func TestClientMetricsConcurrent(t *testing.T) {
	m := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.IncrementIssued()
				m.IncrementCompleted(1, 8, false)
			}
		}()
	}
	wg.Wait()

	snap := m.Snapshot()
	if snap.Issued != 800 || snap.Completed != 800 || snap.Rows != 800 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}
