// Package sessions implements the session table (C2): the authoritative map
// of client/session id to server assignment. Both the game-client namespace
// and the "http-"-prefixed HTTP proxy namespace share this table, per the
// gateway's sticky-session design.
package sessions

import (
	"sort"
	"sync"
	"time"
)

// ClientSession is one sticky binding.
type ClientSession struct {
	ClientID     string
	ServerID     string
	LastActivity time.Time
}

// Snapshot is the JSON-ready view of one session returned by Snapshot().
type Snapshot struct {
	ClientID     string
	ServerID     string
	LastActivity time.Time
	Age          time.Duration
}

// Table is the session table.
type Table struct {
	mu       sync.RWMutex
	sessions map[string]*ClientSession
}

// New creates an empty Table.
func New() *Table {
	return &Table{sessions: make(map[string]*ClientSession)}
}

// Get returns the session for clientID, or (nil, false).
func (t *Table) Get(clientID string) (*ClientSession, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.sessions[clientID]
	return s, ok
}

// Touch refreshes a session's LastActivity to now. No-op if the session does
// not exist.
func (t *Table) Touch(clientID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.sessions[clientID]; ok {
		s.LastActivity = time.Now()
	}
}

// Create binds clientID to serverID, overwriting any previous binding, and
// returns the new session. At most one session exists per clientID.
func (t *Table) Create(clientID, serverID string) *ClientSession {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := &ClientSession{ClientID: clientID, ServerID: serverID, LastActivity: time.Now()}
	t.sessions[clientID] = s
	return s
}

// Delete removes a session unconditionally.
func (t *Table) Delete(clientID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, clientID)
}

// Reassign rewrites serverID for an existing session and resets its
// LastActivity so a migrated session gets a fresh idle budget. No-op if the
// session no longer exists.
func (t *Table) Reassign(clientID, serverID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.sessions[clientID]; ok {
		s.ServerID = serverID
		s.LastActivity = time.Now()
	}
}

// ClientsOnServer returns every clientID currently bound to serverID, in a
// stable order.
func (t *Table) ClientsOnServer(serverID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []string
	for id, s := range t.sessions {
		if s.ServerID == serverID {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// ExpireIdle deletes every session whose LastActivity is older than
// timeout and returns the ids that were removed.
func (t *Table) ExpireIdle(timeout time.Duration) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var expired []string
	now := time.Now()
	for id, s := range t.sessions {
		if now.Sub(s.LastActivity) > timeout {
			expired = append(expired, id)
			delete(t.sessions, id)
		}
	}
	return expired
}

// Count returns the number of active sessions.
func (t *Table) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}

// Snapshot returns a JSON-ready view of every session, for /debug/sessions.
func (t *Table) Snapshot() []Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	now := time.Now()
	out := make([]Snapshot, 0, len(t.sessions))
	for _, s := range t.sessions {
		out = append(out, Snapshot{
			ClientID:     s.ClientID,
			ServerID:     s.ServerID,
			LastActivity: s.LastActivity,
			Age:          now.Sub(s.LastActivity),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClientID < out[j].ClientID })
	return out
}
