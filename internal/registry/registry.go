// Package registry implements the fleet registry (C1): the authoritative,
// concurrency-safe map of live game servers, driven by register/heartbeat/
// unregister calls and reaped on heartbeat silence.
//
// Concurrency model: entries live in a plain map guarded by a sync.RWMutex,
// so snapshot reads run concurrently with each other and never observe a
// half-written entry. Every write path (Register,
// Heartbeat, Unregister, and the reaper's eviction) additionally serializes
// through a per-id keylock.KeyLock so a lookup-then-mutate sequence on one
// server id is atomic with respect to any other write on the same id, while
// two different server ids proceed fully in parallel.
package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lillious/frostfire-gateway/internal/keylock"
)

// GameServer is one registered backend.
type GameServer struct {
	ID         string
	Host       string
	PublicHost string
	Port       int
	WSPort     int

	LastHeartbeat time.Time

	ActiveConnections int
	MaxConnections    int

	CPUUsage  float64
	RAMUsage  uint64
	RAMTotal  uint64
	Latency   time.Duration

	hasCPUUsage bool
	hasRAM      bool
	hasLatency  bool
}

// HasMetrics reports which optional metric fields have ever been reported,
// so callers (status/dashboard JSON) can omit fields that were never sent.
func (g *GameServer) HasMetrics() (cpu, ram, latency bool) {
	return g.hasCPUUsage, g.hasRAM, g.hasLatency
}

// Registration is the input to Register.
type Registration struct {
	ID             string
	Host           string
	PublicHost     string
	Port           int
	WSPort         int
	MaxConnections int
}

// Heartbeat is the input to Heartbeat.
type Heartbeat struct {
	ID                string
	ActiveConnections int
	CPUUsage          *float64
	RAMUsage          *uint64
	RAMTotal          *uint64
	RTT               *time.Duration
}

// Snapshot is the JSON-ready view of one server returned by Snapshot().
type Snapshot struct {
	ID                string
	Host              string
	PublicHost        string
	Port              int
	WSPort            int
	ActiveConnections int
	MaxConnections    int
	LastHeartbeat     time.Time
	CPUUsage          *float64
	RAMUsage          *uint64
	RAMTotal          *uint64
	Latency           *time.Duration
	Status            string
}

// Registry is the fleet registry.
type Registry struct {
	servers       map[string]*GameServer
	serverTimeout time.Duration
	locks         *keylock.KeyLock

	mu sync.RWMutex
}

// New creates an empty Registry. serverTimeout is the maximum heartbeat
// silence before a server is considered dead (see HealthyServers / Snapshot).
func New(serverTimeout time.Duration) *Registry {
	return &Registry{
		servers:       make(map[string]*GameServer),
		serverTimeout: serverTimeout,
		locks:         keylock.New(),
	}
}

// ErrNotFound is returned by Heartbeat/Unregister for an unknown server id.
var ErrNotFound = fmt.Errorf("server not found")

// ErrBadRequest is returned by Register for a malformed registration.
var ErrBadRequest = fmt.Errorf("missing required fields")

// Register creates or refreshes a server entry. Re-registration of an
// existing id preserves ActiveConnections (a server reconnecting should not
// have its live load wiped), while every other field is overwritten.
func (r *Registry) Register(reg Registration) (string, error) {
	if reg.ID == "" || reg.Host == "" || reg.Port == 0 || reg.WSPort == 0 || reg.MaxConnections <= 0 {
		return "", ErrBadRequest
	}

	publicHost := reg.PublicHost
	if publicHost == "" {
		publicHost = reg.Host
	}

	r.locks.Lock(reg.ID)
	defer r.locks.Unlock(reg.ID)

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.servers[reg.ID]
	active := 0
	if ok {
		active = existing.ActiveConnections
	}

	r.servers[reg.ID] = &GameServer{
		ID:                reg.ID,
		Host:              reg.Host,
		PublicHost:        publicHost,
		Port:              reg.Port,
		WSPort:            reg.WSPort,
		MaxConnections:    reg.MaxConnections,
		ActiveConnections: active,
		LastHeartbeat:     time.Now(),
	}

	return reg.ID, nil
}

// Heartbeat updates a known server's live metrics and refreshes its
// liveness timestamp.
func (r *Registry) Heartbeat(hb Heartbeat) (time.Time, error) {
	r.locks.Lock(hb.ID)
	defer r.locks.Unlock(hb.ID)

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.servers[hb.ID]
	if !ok {
		return time.Time{}, ErrNotFound
	}

	s.ActiveConnections = hb.ActiveConnections
	if hb.CPUUsage != nil {
		s.CPUUsage = *hb.CPUUsage
		s.hasCPUUsage = true
	}
	if hb.RAMUsage != nil {
		s.RAMUsage = *hb.RAMUsage
		s.hasRAM = true
	}
	if hb.RAMTotal != nil {
		s.RAMTotal = *hb.RAMTotal
		s.hasRAM = true
	}
	if hb.RTT != nil {
		s.Latency = *hb.RTT / 2
		s.hasLatency = true
	}

	now := time.Now()
	s.LastHeartbeat = now
	return now, nil
}

// Unregister deletes a server entry outright. Per the gateway's documented
// behavior, this does NOT trigger migration: sessions pointing at the id
// remain bound until they time out or are reassigned on next contact.
func (r *Registry) Unregister(id string) error {
	r.locks.Lock(id)
	defer r.locks.Unlock(id)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.servers[id]; !ok {
		return ErrNotFound
	}
	delete(r.servers, id)
	return nil
}

// Get returns the server with the given id, or (nil, false).
func (r *Registry) Get(id string) (*GameServer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.servers[id]
	return s, ok
}

// isHealthyLocked reports whether s's last heartbeat is within the configured
// serverTimeout and it has spare capacity.
func (r *Registry) isHealthyLocked(s *GameServer) bool {
	return time.Since(s.LastHeartbeat) < r.serverTimeout && s.ActiveConnections < s.MaxConnections
}

// HealthyServers returns a snapshot of servers that are both heartbeat-fresh
// and under capacity, in a stable order (sorted by id) so that C3's
// round-robin index is deterministic with respect to this snapshot.
func (r *Registry) HealthyServers() []*GameServer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*GameServer, 0, len(r.servers))
	for _, s := range r.servers {
		if r.isHealthyLocked(s) {
			out = append(out, s)
		}
	}
	sortServersByID(out)
	return out
}

// DeadServerIDs returns the ids of every server whose heartbeat has been
// silent for longer than serverTimeout, regardless of capacity.
func (r *Registry) DeadServerIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var dead []string
	for id, s := range r.servers {
		if time.Since(s.LastHeartbeat) > r.serverTimeout {
			dead = append(dead, id)
		}
	}
	return dead
}

// Remove deletes a server id unconditionally. Used by the reaper after the
// migration engine has finished reassigning its sessions.
func (r *Registry) Remove(id string) {
	r.locks.Lock(id)
	defer r.locks.Unlock(id)

	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.servers, id)
}

// Count returns the number of registered servers, healthy or not.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.servers)
}

// Snapshot returns a consistent, JSON-ready list of every registered server.
func (r *Registry) Snapshot() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Snapshot, 0, len(r.servers))
	for _, s := range r.servers {
		status := "unhealthy"
		if time.Since(s.LastHeartbeat) < r.serverTimeout {
			status = "healthy"
		}

		snap := Snapshot{
			ID:                s.ID,
			Host:              s.Host,
			PublicHost:        s.PublicHost,
			Port:              s.Port,
			WSPort:            s.WSPort,
			ActiveConnections: s.ActiveConnections,
			MaxConnections:    s.MaxConnections,
			LastHeartbeat:     s.LastHeartbeat,
			Status:            status,
		}
		if s.hasCPUUsage {
			cpu := s.CPUUsage
			snap.CPUUsage = &cpu
		}
		if s.hasRAM {
			ram := s.RAMUsage
			snap.RAMUsage = &ram
			total := s.RAMTotal
			snap.RAMTotal = &total
		}
		if s.hasLatency {
			lat := s.Latency
			snap.Latency = &lat
		}
		out = append(out, snap)
	}
	sortSnapshotsByID(out)
	return out
}

func sortServersByID(s []*GameServer) {
	sort.Slice(s, func(i, j int) bool { return s[i].ID < s[j].ID })
}

func sortSnapshotsByID(s []Snapshot) {
	sort.Slice(s, func(i, j int) bool { return s[i].ID < s[j].ID })
}
