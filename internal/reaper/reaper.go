// Package reaper runs the two periodic sweeps (C5) that keep the fleet
// registry and session table free of stale entries: a dead-server sweep
// that triggers migration, and an idle-session sweep.
package reaper

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lillious/frostfire-gateway/internal/migration"
	"github.com/lillious/frostfire-gateway/internal/registry"
	"github.com/lillious/frostfire-gateway/internal/sessions"
)

// sessionSweepInterval is fixed per the gateway's documented behavior,
// independent of the configurable heartbeat interval.
const sessionSweepInterval = 60 * time.Second

// Reaper owns both sweep loops and can stop them together.
type Reaper struct {
	registry *registry.Registry
	sessions *sessions.Table
	migrator *migration.Engine
	log      zerolog.Logger

	heartbeatInterval time.Duration
	sessionTimeout    time.Duration

	stopCh chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

// New creates a Reaper. heartbeatInterval governs the dead-server sweep
// cadence; sessionTimeout bounds session idleness (the idle-session sweep
// itself always runs every 60s, per spec).
func New(reg *registry.Registry, tbl *sessions.Table, eng *migration.Engine, heartbeatInterval, sessionTimeout time.Duration, log zerolog.Logger) *Reaper {
	return &Reaper{
		registry:          reg,
		sessions:          tbl,
		migrator:          eng,
		log:               log,
		heartbeatInterval: heartbeatInterval,
		sessionTimeout:    sessionTimeout,
		stopCh:            make(chan struct{}),
	}
}

// Start launches both sweep loops in the background. Non-blocking.
func (r *Reaper) Start() {
	r.wg.Add(2)
	go r.runDeadServerSweep()
	go r.runSessionSweep()
}

// Stop signals both loops to exit and waits for them to finish. Idempotent.
func (r *Reaper) Stop() {
	r.once.Do(func() { close(r.stopCh) })
	r.wg.Wait()
}

func (r *Reaper) runDeadServerSweep() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.sweepDeadServers()
		}
	}
}

func (r *Reaper) sweepDeadServers() {
	for _, id := range r.registry.DeadServerIDs() {
		r.migrator.Migrate(id)
		// The delete happens after migration so the migration engine can
		// still read ActiveConnections and distinguish the dead id.
		r.registry.Remove(id)
		r.log.Info().Str("server_id", id).Msg("evicted dead server")
	}
}

func (r *Reaper) runSessionSweep() {
	defer r.wg.Done()

	ticker := time.NewTicker(sessionSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			expired := r.sessions.ExpireIdle(r.sessionTimeout)
			if len(expired) > 0 {
				r.log.Debug().Int("count", len(expired)).Msg("expired idle sessions")
			}
		}
	}
}
