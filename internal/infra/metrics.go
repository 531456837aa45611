package infra

import (
	"sync/atomic"
	"time"
)

// Metrics provides lightweight feed observability without external dependencies.
// Uses atomic operations for thread-safety.
type Metrics struct {
	// Counters
	ticksApplied  atomic.Uint64
	framesDropped atomic.Uint64
	dialFailures  atomic.Uint64
	reconnects    atomic.Uint64
	restarts      atomic.Uint64

	// Gauges
	activeConnections atomic.Int32
	lastTickUnixNano  atomic.Int64
}

// NewMetrics creates a zeroed metrics set
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordTick records a tick written into the price cache.
func (m *Metrics) RecordTick() {
	m.ticksApplied.Add(1)
	m.lastTickUnixNano.Store(time.Now().UnixNano())
}

// RecordDrop records a frame that was not a usable tick.
func (m *Metrics) RecordDrop() {
	m.framesDropped.Add(1)
}

// RecordDialFailure records a failed connection attempt.
func (m *Metrics) RecordDialFailure() {
	m.dialFailures.Add(1)
}

// RecordReconnect records a re-dial after a lost session.
func (m *Metrics) RecordReconnect() {
	m.reconnects.Add(1)
}

// RecordRestart records a connection replacement caused by a subscription change.
func (m *Metrics) RecordRestart() {
	m.restarts.Add(1)
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
	TicksApplied      uint64    `json:"ticks_applied"`
	FramesDropped     uint64    `json:"frames_dropped"`
	DialFailures      uint64    `json:"dial_failures"`
	Reconnects        uint64    `json:"reconnects"`
	Restarts          uint64    `json:"restarts"`
	ActiveConnections int32     `json:"active_connections"`
	LastTickAt        time.Time `json:"last_tick_at,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var lastTick time.Time
	if ns := m.lastTickUnixNano.Load(); ns > 0 {
		lastTick = time.Unix(0, ns)
	}

	return MetricsSnapshot{
		TicksApplied:      m.ticksApplied.Load(),
		FramesDropped:     m.framesDropped.Load(),
		DialFailures:      m.dialFailures.Load(),
		Reconnects:        m.reconnects.Load(),
		Restarts:          m.restarts.Load(),
		ActiveConnections: m.activeConnections.Load(),
		LastTickAt:        lastTick,
		Timestamp:         time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.ticksApplied.Store(0)
	m.framesDropped.Store(0)
	m.dialFailures.Store(0)
	m.reconnects.Store(0)
	m.restarts.Store(0)
	m.activeConnections.Store(0)
	m.lastTickUnixNano.Store(0)
}
