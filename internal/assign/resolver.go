package assign

import (
	"github.com/lillious/frostfire-gateway/internal/metrics"
	"github.com/lillious/frostfire-gateway/internal/registry"
	"github.com/lillious/frostfire-gateway/internal/sessions"
)

// Resolver implements GetServerForClient: the combined session-lookup and
// assignment algorithm shared by the control WebSocket endpoint (C6). It
// ties together the fleet registry (C1), the session table (C2), and
// round-robin selection (C3, this package) into the single operation the
// spec describes.
type Resolver struct {
	registry *registry.Registry
	sessions *sessions.Table
	rr       *RoundRobin
	metrics  *metrics.Metrics
}

// NewResolver creates a Resolver wired to reg, tbl, and rr.
func NewResolver(reg *registry.Registry, tbl *sessions.Table, rr *RoundRobin, m *metrics.Metrics) *Resolver {
	return &Resolver{registry: reg, sessions: tbl, rr: rr, metrics: m}
}

// GetServerForClient resolves clientID to a GameServer, creating a new
// sticky assignment if none exists or the previous one is no longer usable.
// Returns nil if no healthy server is available.
func (res *Resolver) GetServerForClient(clientID string) *registry.GameServer {
	if sess, ok := res.sessions.Get(clientID); ok {
		if srv, ok := res.registry.Get(sess.ServerID); ok && srv.ActiveConnections < srv.MaxConnections {
			res.sessions.Touch(clientID)
			return srv
		}
		res.sessions.Delete(clientID)
	}

	healthy := res.registry.HealthyServers()
	target := res.rr.SelectNext(healthy)
	if target == nil {
		return nil
	}

	res.sessions.Create(clientID, target.ID)
	res.metrics.IncAssignments()
	return target
}
