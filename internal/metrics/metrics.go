// Package metrics holds the gateway's process-wide atomic counters (C10).
// They are purely observational: no invariant in the gateway depends on
// their values, and the dashboard and /api/stats endpoint are their only
// readers.
package metrics

import "sync/atomic"

// Metrics is a set of monotonically increasing counters, safe for
// concurrent use from any goroutine via sync/atomic.
type Metrics struct {
	totalAssignments   int64
	totalHeartbeats    int64
	totalProxyRequests int64
	totalProxyFailures int64
	totalWSConnects    int64
	totalWSDrops       int64
}

// New returns a zeroed Metrics.
func New() *Metrics {
	return &Metrics{}
}

// IncAssignments records one client-to-server assignment (C2/C3 hot path).
func (m *Metrics) IncAssignments() { atomic.AddInt64(&m.totalAssignments, 1) }

// IncHeartbeats records one accepted heartbeat. No code path in the gateway
// calls it, so totalHeartbeats stays 0.
func (m *Metrics) IncHeartbeats() { atomic.AddInt64(&m.totalHeartbeats, 1) }

// IncProxyRequests records one forwarded HTTP request (C7 hot path).
func (m *Metrics) IncProxyRequests() { atomic.AddInt64(&m.totalProxyRequests, 1) }

// IncProxyFailures records one failed backend dial or round-trip (C7).
func (m *Metrics) IncProxyFailures() { atomic.AddInt64(&m.totalProxyFailures, 1) }

// IncWSConnects records one accepted control WebSocket connection (C6).
func (m *Metrics) IncWSConnects() { atomic.AddInt64(&m.totalWSConnects, 1) }

// IncWSDrops records one control WebSocket connection that was closed after
// exhausting its backpressure retry budget (C6). No code path in the gateway
// calls it, so totalWsDrops stays 0.
func (m *Metrics) IncWSDrops() { atomic.AddInt64(&m.totalWSDrops, 1) }

// Snapshot is a point-in-time, non-atomic read of every counter, suitable
// for JSON serialization by the dashboard stats endpoint.
type Snapshot struct {
	TotalAssignments   int64 `json:"totalAssignments"`
	TotalHeartbeats    int64 `json:"totalHeartbeats"`
	TotalProxyRequests int64 `json:"totalProxyRequests"`
	TotalProxyFailures int64 `json:"totalProxyFailures"`
	TotalWSConnects    int64 `json:"totalWsConnects"`
	TotalWSDrops       int64 `json:"totalWsDrops"`
}

// Snapshot returns the current value of every counter.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		TotalAssignments:   atomic.LoadInt64(&m.totalAssignments),
		TotalHeartbeats:    atomic.LoadInt64(&m.totalHeartbeats),
		TotalProxyRequests: atomic.LoadInt64(&m.totalProxyRequests),
		TotalProxyFailures: atomic.LoadInt64(&m.totalProxyFailures),
		TotalWSConnects:    atomic.LoadInt64(&m.totalWSConnects),
		TotalWSDrops:       atomic.LoadInt64(&m.totalWSDrops),
	}
}
