// Package assign implements the assignment policy (C3): deterministic
// selection of a healthy server from a fleet snapshot.
package assign

import (
	"sync"

	"github.com/lillious/frostfire-gateway/internal/registry"
)

// RoundRobin hands out servers from a healthy-server snapshot in rotation.
// A process-wide monotonic index is incremented on every call and read
// modulo the current healthy-set size; a stale modulus (the set shrank
// between calls) is tolerable since the next assignment self-corrects.
//
// Thread-safety: a sync.Mutex serializes index increments, so concurrent
// callers each advance the rotation without two callers landing on the same
// index for the same snapshot size.
type RoundRobin struct {
	mu    sync.Mutex
	index int
}

// New creates a RoundRobin selector starting at index 0.
func New() *RoundRobin {
	return &RoundRobin{}
}

// SelectNext returns the next server in rotation from healthy, or nil if
// healthy is empty. Tie-breaking is index order within the given slice, so
// callers should pass a stably-ordered snapshot (registry.HealthyServers
// already sorts by id).
func (rr *RoundRobin) SelectNext(healthy []*registry.GameServer) *registry.GameServer {
	if len(healthy) == 0 {
		return nil
	}

	rr.mu.Lock()
	i := rr.index % len(healthy)
	rr.index++
	rr.mu.Unlock()

	return healthy[i]
}
