package clientmetrics

import (
	"sync"
	"time"
)

// ClientMetrics tracks per-connection statistics for backend adapters.
type ClientMetrics struct {
	mu          sync.Mutex
	connectTime time.Time
	issued      int64
	completed   int64
	rows        int64
	bytesRecv   int64
	errors      int64
	maxInFlight int64
}

// New creates a new ClientMetrics instance.
func New() *ClientMetrics {
	return &ClientMetrics{}
}

// MarkConnected records the connection time.
func (m *ClientMetrics) MarkConnected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectTime = time.Now()
}

// IncrementIssued counts one execution written to the backend.
func (m *ClientMetrics) IncrementIssued() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.issued++
	if inFlight := m.issued - m.completed; inFlight > m.maxInFlight {
		m.maxInFlight = inFlight
	}
}

// IncrementCompleted counts one finished execution with its row and byte totals.
func (m *ClientMetrics) IncrementCompleted(rows, bytes int64, failed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed++
	m.rows += rows
	m.bytesRecv += bytes
	if failed {
		m.errors++
	}
}

// Reset clears the connection time (used when disconnecting).
func (m *ClientMetrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectTime = time.Time{}
}

// ConnectionDuration returns the duration since connection was established.
// Returns 0 if not connected.
func (m *ClientMetrics) ConnectionDuration() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connectTime.IsZero() {
		return 0
	}
	return time.Since(m.connectTime)
}

// Snapshot holds all metrics at a point in time.
type Snapshot struct {
	ConnectionDuration time.Duration `json:"-"`
	Issued             int64         `json:"issued"`
	Completed          int64         `json:"completed"`
	Rows               int64         `json:"rows"`
	BytesReceived      int64         `json:"bytes_received"`
	Errors             int64         `json:"errors"`
	MaxInFlight        int64         `json:"max_in_flight"`
}

// Snapshot returns a consistent snapshot of all metrics.
func (m *ClientMetrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	duration := time.Duration(0)
	if !m.connectTime.IsZero() {
		duration = time.Since(m.connectTime)
	}

	return Snapshot{
		ConnectionDuration: duration,
		Issued:             m.issued,
		Completed:          m.completed,
		Rows:               m.rows,
		BytesReceived:      m.bytesRecv,
		Errors:             m.errors,
		MaxInFlight:        m.maxInFlight,
	}
}
