// Package adminapi implements the server-plane half of the admin HTTP API
// (C8): register/heartbeat/unregister for game servers, plus the status and
// debug-introspection endpoints.
package adminapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/lillious/frostfire-gateway/internal/migration"
	"github.com/lillious/frostfire-gateway/internal/registry"
	"github.com/lillious/frostfire-gateway/internal/sessions"
)

// recentMigrationLimit bounds how many migration records /status echoes
// back (newest first).
const recentMigrationLimit = 10

// registerRequest is the JSON body for POST /register.
type registerRequest struct {
	AuthKey        string `json:"authKey"`
	ID             string `json:"id"`
	Host           string `json:"host"`
	PublicHost     string `json:"publicHost"`
	Port           int    `json:"port"`
	WSPort         int    `json:"wsPort"`
	MaxConnections int    `json:"maxConnections"`
}

// heartbeatRequest is the JSON body for POST /heartbeat.
type heartbeatRequest struct {
	AuthKey           string         `json:"authKey"`
	ID                string         `json:"id"`
	ActiveConnections int            `json:"activeConnections"`
	CPUUsage          *float64       `json:"cpuUsage"`
	RAMUsage          *uint64        `json:"ramUsage"`
	RAMTotal          *uint64        `json:"ramTotal"`
	RTT               *time.Duration `json:"rtt"`
}

// unregisterRequest is the JSON body for POST /unregister.
type unregisterRequest struct {
	AuthKey string `json:"authKey"`
	ID      string `json:"id"`
}

// statusResponse is the JSON body for GET /status.
type statusResponse struct {
	TotalServers        int                 `json:"totalServers"`
	TotalActiveSessions int                 `json:"totalActiveSessions"`
	TotalMigrations     int                 `json:"totalMigrations"`
	RecentMigrations    []migrationView     `json:"recentMigrations"`
	Servers             []registry.Snapshot `json:"servers"`
}

// migrationView mirrors the dashboard's own migration record shape, so
// /status and /api/stats agree on the wire format.
type migrationView struct {
	Timestamp   time.Time `json:"timestamp"`
	FromServer  string    `json:"fromServer"`
	ToServer    string    `json:"toServer"`
	ClientCount int       `json:"clientCount"`
}

// API wires the registry, session table, and migration engine behind the
// server-plane HTTP handlers. authKey gates every mutating server-plane
// call; isDashboardAuthed gates the hardened debug endpoint.
type API struct {
	registry *registry.Registry
	sessions *sessions.Table
	migrator *migration.Engine
	authKey  string
	log      zerolog.Logger

	isDashboardAuthed func(r *http.Request) bool
}

// New creates an API. isDashboardAuthed is consulted by /debug/sessions,
// which per the gateway's hardened posture requires an operator session
// rather than being left open like the legacy /status endpoint.
func New(reg *registry.Registry, tbl *sessions.Table, eng *migration.Engine, authKey string, isDashboardAuthed func(r *http.Request) bool, log zerolog.Logger) *API {
	return &API{registry: reg, sessions: tbl, migrator: eng, authKey: authKey, isDashboardAuthed: isDashboardAuthed, log: log}
}

func (a *API) checkAuth(provided string) bool {
	return a.authKey == "" || provided == a.authKey
}

// HandleRegister handles POST /register.
func (a *API) HandleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if !a.checkAuth(req.AuthKey) {
		writeJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id, err := a.registry.Register(registry.Registration{
		ID:             req.ID,
		Host:           req.Host,
		PublicHost:     req.PublicHost,
		Port:           req.Port,
		WSPort:         req.WSPort,
		MaxConnections: req.MaxConnections,
	})
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	a.log.Info().Str("server_id", id).Msg("server registered")
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "serverId": id})
}

// HandleHeartbeat handles POST /heartbeat.
func (a *API) HandleHeartbeat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req heartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if !a.checkAuth(req.AuthKey) {
		writeJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	ts, err := a.registry.Heartbeat(registry.Heartbeat{
		ID:                req.ID,
		ActiveConnections: req.ActiveConnections,
		CPUUsage:          req.CPUUsage,
		RAMUsage:          req.RAMUsage,
		RAMTotal:          req.RAMTotal,
		RTT:               req.RTT,
	})
	if err != nil {
		writeJSONError(w, http.StatusNotFound, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "timestamp": ts})
}

// HandleUnregister handles POST /unregister.
func (a *API) HandleUnregister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req unregisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if !a.checkAuth(req.AuthKey) {
		writeJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if err := a.registry.Unregister(req.ID); err != nil {
		writeJSONError(w, http.StatusNotFound, err.Error())
		return
	}

	a.log.Info().Str("server_id", req.ID).Msg("server unregistered")
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// HandleStatus handles GET /status. Deliberately unauthenticated per the
// gateway's documented (if questionable) external interface.
func (a *API) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	servers := a.registry.Snapshot()
	recent := a.migrator.RecentMigrations(recentMigrationLimit)
	views := make([]migrationView, len(recent))
	for i, rec := range recent {
		views[i] = migrationView{Timestamp: rec.Timestamp, FromServer: rec.FromServer, ToServer: rec.ToServer, ClientCount: rec.ClientCount}
	}

	writeJSON(w, http.StatusOK, statusResponse{
		TotalServers:        len(servers),
		TotalActiveSessions: a.sessions.Count(),
		TotalMigrations:     a.migrator.TotalMigrations(),
		RecentMigrations:    views,
		Servers:             servers,
	})
}

// HandleDebugSessions handles GET /debug/sessions. Hardened behind a
// dashboard session: the legacy behavior of leaking the full session table
// to any caller is the gap called out in the gateway's design notes.
func (a *API) HandleDebugSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !a.isDashboardAuthed(r) {
		writeJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, a.sessions.Snapshot())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
