// Package migration implements the migration engine (C4): reassigning every
// session bound to a dead server onto the healthy fleet, and recording an
// audit trail of every migration that has ever occurred.
package migration

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lillious/frostfire-gateway/internal/registry"
	"github.com/lillious/frostfire-gateway/internal/sessions"
)

// Record is one append-only migration audit entry.
type Record struct {
	Timestamp   time.Time
	FromServer  string
	ToServer    string
	ClientCount int
}

const historySize = 100

// Engine owns the bounded migration history ring and the running
// totalMigrations counter. It is the only writer of both; every other
// caller only reads them.
type Engine struct {
	registry *registry.Registry
	sessions *sessions.Table
	log      zerolog.Logger

	mu              sync.Mutex
	history         []Record
	totalMigrations int

	onMigrate func(Record)
}

// OnMigrate registers fn to be called, outside the engine's lock, after
// every successful migration record is appended. Purely observational —
// used to feed the dashboard's SSE event stream. Safe to leave unset.
func (e *Engine) OnMigrate(fn func(Record)) {
	e.mu.Lock()
	e.onMigrate = fn
	e.mu.Unlock()
}

// New creates a migration Engine wired to reg and tbl.
func New(reg *registry.Registry, tbl *sessions.Table, log zerolog.Logger) *Engine {
	return &Engine{registry: reg, sessions: tbl, log: log}
}

// Migrate reassigns every session bound to deadServerID onto the current
// healthy fleet and returns the number of clients migrated. It must be
// called before deadServerID is removed from the registry, so that the
// registry can still be consulted to distinguish the dead id during the
// healthy-set snapshot.
func (e *Engine) Migrate(deadServerID string) int {
	clients := e.sessions.ClientsOnServer(deadServerID)
	if len(clients) == 0 {
		return 0
	}

	healthy := e.registry.HealthyServers()
	if len(healthy) == 0 {
		for _, c := range clients {
			e.sessions.Delete(c)
		}
		e.log.Warn().Str("server_id", deadServerID).Int("clients", len(clients)).
			Msg("migration found no healthy targets; sessions deleted")
		return 0
	}

	for i, clientID := range clients {
		target := healthy[i%len(healthy)]
		e.sessions.Reassign(clientID, target.ID)
	}

	toServer := healthy[0].ID
	if len(healthy) > 1 {
		toServer = fmt.Sprintf("%d servers", len(healthy))
	}

	rec := Record{
		Timestamp:   time.Now(),
		FromServer:  deadServerID,
		ToServer:    toServer,
		ClientCount: len(clients),
	}
	e.record(rec)

	e.log.Info().Str("from", deadServerID).Str("to", toServer).Int("clients", len(clients)).
		Msg("migrated sessions off dead server")

	e.mu.Lock()
	onMigrate := e.onMigrate
	e.mu.Unlock()
	if onMigrate != nil {
		onMigrate(rec)
	}

	return len(clients)
}

func (e *Engine) record(r Record) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.history = append(e.history, r)
	if len(e.history) > historySize {
		e.history = e.history[len(e.history)-historySize:]
	}
	e.totalMigrations += r.ClientCount
}

// TotalMigrations returns the running counter: the sum of ClientCount over
// every MigrationRecord ever created, including ones since evicted from the
// bounded history ring.
func (e *Engine) TotalMigrations() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.totalMigrations
}

// RecentMigrations returns up to n of the most recent migration records,
// newest first.
func (e *Engine) RecentMigrations(n int) []Record {
	e.mu.Lock()
	defer e.mu.Unlock()

	total := len(e.history)
	if n > total {
		n = total
	}
	out := make([]Record, n)
	for i := 0; i < n; i++ {
		out[i] = e.history[total-1-i]
	}
	return out
}
