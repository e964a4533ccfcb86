// Package dashboard implements the operator-facing half of the admin HTTP
// API (C8): cookie-based login, the fleet stats snapshot, the static
// dashboard page, and an additive Server-Sent-Events stream of live fleet
// events.
package dashboard

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lillious/frostfire-gateway/internal/metrics"
	"github.com/lillious/frostfire-gateway/internal/migration"
	"github.com/lillious/frostfire-gateway/internal/registry"
	"github.com/lillious/frostfire-gateway/internal/sessions"
)

// CookieName is the dashboard operator's session cookie.
const CookieName = "dashboard_session"

// sessionTimeout is the sliding-window expiry extended on every successful
// /api/stats call.
const sessionTimeout = time.Hour

// session is one authenticated operator session.
type session struct {
	token     string
	expiresAt time.Time
}

// sessionStore is the in-memory table of live dashboard sessions.
type sessionStore struct {
	mu       sync.Mutex
	sessions map[string]*session
}

func newSessionStore() *sessionStore {
	return &sessionStore{sessions: make(map[string]*session)}
}

func (s *sessionStore) create() *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := &session{token: uuid.NewString(), expiresAt: time.Now().Add(sessionTimeout)}
	s.sessions[sess.token] = sess
	return sess
}

// valid reports whether token names a non-expired session, without
// extending it.
func (s *sessionStore) valid(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[token]
	if !ok {
		return false
	}
	if time.Now().After(sess.expiresAt) {
		delete(s.sessions, token)
		return false
	}
	return true
}

// extend reports whether token names a non-expired session, and if so
// slides its expiry forward by sessionTimeout.
func (s *sessionStore) extend(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[token]
	if !ok || time.Now().After(sess.expiresAt) {
		delete(s.sessions, token)
		return false
	}
	sess.expiresAt = time.Now().Add(sessionTimeout)
	return true
}

func (s *sessionStore) delete(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
}

// statsResponse mirrors /status with added per-server metric fields, per
// the documented dashboard wire format.
type statsResponse struct {
	Timestamp           int64               `json:"timestamp"`
	TotalServers        int                 `json:"totalServers"`
	HealthyServers      int                 `json:"healthyServers"`
	TotalActiveSessions int                 `json:"totalActiveSessions"`
	TotalMigrations     int                 `json:"totalMigrations"`
	RecentMigrations    []migrationView     `json:"recentMigrations"`
	Servers             []registry.Snapshot `json:"servers"`
	Metrics             metrics.Snapshot    `json:"metrics"`
}

type migrationView struct {
	Timestamp   time.Time `json:"timestamp"`
	FromServer  string    `json:"fromServer"`
	ToServer    string    `json:"toServer"`
	ClientCount int       `json:"clientCount"`
}

// event is one line pushed to /api/events subscribers.
type event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Dashboard serves the operator-facing endpoints and fans out fleet events
// to any connected SSE subscribers.
type Dashboard struct {
	registry *registry.Registry
	sessions *sessions.Table
	migrator *migration.Engine
	metrics  *metrics.Metrics
	authKey  string
	log      zerolog.Logger

	store *sessionStore

	subMu sync.Mutex
	subs  map[chan event]struct{}

	lastHealthyCount int
}

// New creates a Dashboard.
func New(reg *registry.Registry, tbl *sessions.Table, eng *migration.Engine, m *metrics.Metrics, authKey string, log zerolog.Logger) *Dashboard {
	return &Dashboard{
		registry: reg,
		sessions: tbl,
		migrator: eng,
		metrics:  m,
		authKey:  authKey,
		log:      log,
		store:    newSessionStore(),
		subs:     make(map[chan event]struct{}),
	}
}

// IsAuthed reports whether r carries a valid, non-expired dashboard session
// cookie, without extending it. Used by adminapi to gate /debug/sessions.
func (d *Dashboard) IsAuthed(r *http.Request) bool {
	c, err := r.Cookie(CookieName)
	if err != nil {
		return false
	}
	return d.store.valid(c.Value)
}

// HandleLogin handles POST /api/login.
func (d *Dashboard) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body struct {
		AuthKey string `json:"authKey"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}

	if subtle.ConstantTimeCompare([]byte(body.AuthKey), []byte(d.authKey)) != 1 {
		d.log.Warn().Msg("dashboard login: invalid authentication key")
		writeJSONError(w, http.StatusUnauthorized, "Invalid authentication key")
		return
	}

	sess := d.store.create()
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    sess.token,
		Path:     "/",
		MaxAge:   int(sessionTimeout.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleLogout handles POST /api/logout.
func (d *Dashboard) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(CookieName); err == nil {
		d.store.delete(c.Value)
	}
	http.SetCookie(w, &http.Cookie{Name: CookieName, Value: "", Path: "/", MaxAge: -1})
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleStats handles GET /api/stats.
func (d *Dashboard) HandleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !d.requireSession(w, r) {
		return
	}

	writeJSON(w, http.StatusOK, d.snapshot())
}

// requireSession extends and validates the caller's dashboard session,
// writing a 401 and returning false if it is missing or expired.
func (d *Dashboard) requireSession(w http.ResponseWriter, r *http.Request) bool {
	c, err := r.Cookie(CookieName)
	if err != nil || !d.store.extend(c.Value) {
		writeJSONError(w, http.StatusUnauthorized, "Invalid or expired dashboard session")
		return false
	}
	return true
}

func (d *Dashboard) snapshot() statsResponse {
	servers := d.registry.Snapshot()
	healthy := d.registry.HealthyServers()
	recent := d.migrator.RecentMigrations(20)

	views := make([]migrationView, len(recent))
	for i, r := range recent {
		views[i] = migrationView{Timestamp: r.Timestamp, FromServer: r.FromServer, ToServer: r.ToServer, ClientCount: r.ClientCount}
	}

	return statsResponse{
		Timestamp:           time.Now().Unix(),
		TotalServers:        len(servers),
		HealthyServers:      len(healthy),
		TotalActiveSessions: d.sessions.Count(),
		TotalMigrations:     d.migrator.TotalMigrations(),
		RecentMigrations:    views,
		Servers:             servers,
		Metrics:             d.metrics.Snapshot(),
	}
}

// HandleDashboardPage handles GET /dashboard, redirecting unauthenticated
// callers to "/" per the documented auth flow.
func (d *Dashboard) HandleDashboardPage(w http.ResponseWriter, r *http.Request) {
	c, err := r.Cookie(CookieName)
	if err != nil || !d.store.valid(c.Value) {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	io.WriteString(w, dashboardPageHTML)
}

// HandleEvents handles GET /api/events: an SSE stream of migration and
// healthy-count-change events, gated behind a valid dashboard session.
func (d *Dashboard) HandleEvents(w http.ResponseWriter, r *http.Request) {
	if !d.requireSession(w, r) {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := make(chan event, 16)
	d.subMu.Lock()
	d.subs[ch] = struct{}{}
	d.subMu.Unlock()
	defer func() {
		d.subMu.Lock()
		delete(d.subs, ch)
		d.subMu.Unlock()
	}()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-ch:
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

// NotifyMigration fans out a migration event to every /api/events
// subscriber. Called by the gateway coordinator right after a migration
// completes; purely observational.
func (d *Dashboard) NotifyMigration(fromServer, toServer string, clientCount int) {
	d.publish(event{Type: "migration", Data: migrationView{
		Timestamp: time.Now(), FromServer: fromServer, ToServer: toServer, ClientCount: clientCount,
	}})
}

// PollHealthyCount checks whether the fleet's healthy-server count changed
// since the last call and, if so, publishes a "healthy_count_changed"
// event. Intended to be called from a low-frequency ticker.
func (d *Dashboard) PollHealthyCount() {
	n := len(d.registry.HealthyServers())
	if n != d.lastHealthyCount {
		d.lastHealthyCount = n
		d.publish(event{Type: "healthy_count_changed", Data: map[string]int{"healthyServers": n}})
	}
}

func (d *Dashboard) publish(ev event) {
	d.subMu.Lock()
	defer d.subMu.Unlock()
	for ch := range d.subs {
		select {
		case ch <- ev:
		default:
			// Slow subscriber: drop rather than block the publisher.
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

const dashboardPageHTML = `<!DOCTYPE html>
<html>
<head><title>Frostfire Gateway</title></head>
<body>
<h1>Frostfire Gateway</h1>
<p>Fleet status is available at <a href="/api/stats">/api/stats</a>.</p>
</body>
</html>
`
