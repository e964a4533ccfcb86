// Package gateway wires the gateway's components together into a single
// Coordinator value and builds the two HTTP handlers (control WebSocket,
// admin API + reverse-proxy fallthrough) that the process entrypoint
// listens with.
package gateway

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/lillious/frostfire-gateway/internal/adminapi"
	"github.com/lillious/frostfire-gateway/internal/assign"
	"github.com/lillious/frostfire-gateway/internal/config"
	"github.com/lillious/frostfire-gateway/internal/dashboard"
	"github.com/lillious/frostfire-gateway/internal/metrics"
	"github.com/lillious/frostfire-gateway/internal/migration"
	"github.com/lillious/frostfire-gateway/internal/reaper"
	"github.com/lillious/frostfire-gateway/internal/registry"
	"github.com/lillious/frostfire-gateway/internal/reverseproxy"
	"github.com/lillious/frostfire-gateway/internal/sessions"
	"github.com/lillious/frostfire-gateway/internal/workerpool"
	"github.com/lillious/frostfire-gateway/internal/wsgateway"
)

// backendRequestTimeout bounds every reverse-proxied call to a backend game
// server, per the gateway's hardened design notes (the source has none).
const backendRequestTimeout = 30 * time.Second

// retryPoolWorkers sizes the bounded pool that runs backpressure retry
// attempts for the control WebSocket.
const retryPoolWorkers = 8

// healthyPollInterval governs how often the dashboard's SSE stream checks
// for a change in the fleet's healthy-server count.
const healthyPollInterval = 5 * time.Second

// Coordinator owns every piece of gateway state and exposes the two
// top-level HTTP handlers the entrypoint listens with. Per the gateway's
// design notes, this replaces process-global registries with state owned
// by a single value passed explicitly to handlers.
type Coordinator struct {
	cfg *config.Config
	log zerolog.Logger

	Registry  *registry.Registry
	Sessions  *sessions.Table
	RR        *assign.RoundRobin
	Resolver  *assign.Resolver
	Migration *migration.Engine
	Metrics   *metrics.Metrics
	Reaper    *reaper.Reaper
	Dashboard *dashboard.Dashboard
	Admin     *adminapi.API
	Proxy     *reverseproxy.Proxy
	WSGateway *wsgateway.Gateway

	retryPool *workerpool.Pool
	stopPoll  chan struct{}
}

// New constructs every gateway component and wires them together. Call
// Start to begin the reaper and background pollers, and use HTTPHandler/
// WSHandler to accept traffic.
func New(cfg *config.Config, log zerolog.Logger) *Coordinator {
	reg := registry.New(cfg.ServerTimeout)
	tbl := sessions.New()
	rr := assign.New()
	m := metrics.New()
	eng := migration.New(reg, tbl, log)
	res := assign.NewResolver(reg, tbl, rr, m)

	rp := reaper.New(reg, tbl, eng, cfg.HeartbeatInterval, cfg.SessionTimeout, log)

	dash := dashboard.New(reg, tbl, eng, m, cfg.AuthKey, log)
	eng.OnMigrate(func(r migration.Record) {
		dash.NotifyMigration(r.FromServer, r.ToServer, r.ClientCount)
	})
	admin := adminapi.New(reg, tbl, eng, cfg.AuthKey, dash.IsAuthed, log)
	proxy := reverseproxy.New(reg, tbl, m, backendRequestTimeout, log)

	pool := workerpool.New(retryPoolWorkers)
	pool.Start()
	wsgw := wsgateway.New(res, pool, m, cfg.MaxBufferSize, log)

	return &Coordinator{
		cfg:       cfg,
		log:       log,
		Registry:  reg,
		Sessions:  tbl,
		RR:        rr,
		Resolver:  res,
		Migration: eng,
		Metrics:   m,
		Reaper:    rp,
		Dashboard: dash,
		Admin:     admin,
		Proxy:     proxy,
		WSGateway: wsgw,
		retryPool: pool,
		stopPoll:  make(chan struct{}),
	}
}

// Start launches the reaper and the dashboard's healthy-count poller.
func (c *Coordinator) Start() {
	c.Reaper.Start()
	go c.pollHealthyCount()
}

func (c *Coordinator) pollHealthyCount() {
	ticker := time.NewTicker(healthyPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopPoll:
			return
		case <-ticker.C:
			c.Dashboard.PollHealthyCount()
		}
	}
}

// Stop shuts down the healthy-count poller, the reaper, and the
// backpressure retry pool, in that order; the pool is stopped last and runs
// every already-queued retry before returning.
func (c *Coordinator) Stop() {
	close(c.stopPoll)
	c.Reaper.Stop()
	c.retryPool.Stop()
}

// gatewayRoutes is the fixed set of exact paths handled by the gateway
// itself. Together with the "/debug/" and "/api/" prefixes checked in
// fallthroughHandler, it decides which requests stay with the gateway;
// anything else falls through to the reverse proxy.
var gatewayRoutes = map[string]bool{
	"/":           true,
	"/register":   true,
	"/heartbeat":  true,
	"/unregister": true,
	"/status":     true,
	"/dashboard":  true,
}

// HTTPHandler builds the combined admin-API + reverse-proxy HTTP handler.
func (c *Coordinator) HTTPHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", c.Dashboard.HandleDashboardPage)
	mux.HandleFunc("/register", c.Admin.HandleRegister)
	mux.HandleFunc("/heartbeat", c.Admin.HandleHeartbeat)
	mux.HandleFunc("/unregister", c.Admin.HandleUnregister)
	mux.HandleFunc("/status", c.Admin.HandleStatus)
	mux.HandleFunc("/debug/sessions", c.Admin.HandleDebugSessions)
	mux.HandleFunc("/dashboard", c.Dashboard.HandleDashboardPage)
	mux.HandleFunc("/api/login", c.Dashboard.HandleLogin)
	mux.HandleFunc("/api/logout", c.Dashboard.HandleLogout)
	mux.HandleFunc("/api/stats", c.Dashboard.HandleStats)
	mux.HandleFunc("/api/events", c.Dashboard.HandleEvents)

	return &fallthroughHandler{routes: gatewayRoutes, gateway: mux, proxy: c.Proxy}
}

// fallthroughHandler dispatches gatewayRoutes and every "/debug/*" or
// "/api/*" path to the gateway's own mux, and everything else to the reverse
// proxy. A "/debug/*" or "/api/*" path not registered above is never
// proxied: the mux's "/" pattern serves it with the dashboard page handler.
type fallthroughHandler struct {
	routes  map[string]bool
	gateway http.Handler
	proxy   http.Handler
}

func (h *fallthroughHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.routes[r.URL.Path] || hasPrefix(r.URL.Path, "/debug/") || hasPrefix(r.URL.Path, "/api/") {
		h.gateway.ServeHTTP(w, r)
		return
	}
	h.proxy.ServeHTTP(w, r)
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// WSHandler returns the control-plane WebSocket handler.
func (c *Coordinator) WSHandler() http.Handler {
	return c.WSGateway
}
