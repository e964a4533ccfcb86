// Package reverseproxy implements the HTTP reverse proxy (C7): it pins each
// browser client to a backend game server via a cookie and forwards every
// request to that backend verbatim.
package reverseproxy

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lillious/frostfire-gateway/internal/metrics"
	"github.com/lillious/frostfire-gateway/internal/registry"
	"github.com/lillious/frostfire-gateway/internal/sessions"
)

// SessionCookieName is the cookie the proxy uses to pin a browser to the
// backend it was originally assigned.
const SessionCookieName = "gateway_http_session"

// transportDefaults groups the connection-pool tuning applied to the
// backend-facing client. Each gateway process gets a single shared
// transport, since every request terminates at one of a small, known set
// of backend hosts rather than thousands of distinct origins.
var transportDefaults = struct {
	maxIdleConns        int
	maxIdleConnsPerHost int
	maxConnsPerHost     int
}{
	maxIdleConns:        200,
	maxIdleConnsPerHost: 50,
	maxConnsPerHost:     100,
}

// newBackendClient builds the *http.Client used to forward every proxied
// request to a backend game server.
//
// Unlike a browser-automation client, this one never needs a cookie jar:
// backend responses are streamed straight back to the original caller, and
// the gateway itself holds no backend-side session state beyond the
// client-to-server binding already tracked in the session table.
func newBackendClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		DisableKeepAlives:     false,
		MaxIdleConns:          transportDefaults.maxIdleConns,
		MaxIdleConnsPerHost:   transportDefaults.maxIdleConnsPerHost,
		MaxConnsPerHost:       transportDefaults.maxConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
		// Redirects from a backend are forwarded to the client as-is rather
		// than followed transparently.
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// Proxy forwards HTTP requests to the backend pinned to each client,
// assigning new clients to a backend chosen uniformly at random.
type Proxy struct {
	registry *registry.Registry
	sessions *sessions.Table
	metrics  *metrics.Metrics
	log      zerolog.Logger
	client   *http.Client

	rngMu sync.Mutex
	rng   *rand.Rand
}

// New creates a Proxy. backendTimeout bounds every forwarded request.
func New(reg *registry.Registry, tbl *sessions.Table, m *metrics.Metrics, backendTimeout time.Duration, log zerolog.Logger) *Proxy {
	return &Proxy{
		registry: reg,
		sessions: tbl,
		metrics:  m,
		log:      log,
		client:   newBackendClient(backendTimeout),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// ServeHTTP implements http.Handler, forwarding the request to whichever
// backend the caller's session is bound to, minting a new session if the
// request carries none.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientID, isNew := p.clientIDFor(r)

	sess, ok := p.sessions.Get(clientID)
	var backend *registry.GameServer
	if ok {
		backend, ok = p.registry.Get(sess.ServerID)
	}
	if !ok {
		// No session, or its bound server is gone (e.g. unregistered):
		// pick any healthy backend at random and (re)create the session.
		target := p.pickRandomBackend()
		if target == nil {
			http.Error(w, "no healthy backend available", http.StatusServiceUnavailable)
			p.metrics.IncProxyFailures()
			return
		}
		p.sessions.Create(clientID, target.ID)
		backend = target
		p.metrics.IncAssignments()
	} else {
		p.sessions.Touch(clientID)
	}

	if isNew {
		http.SetCookie(w, &http.Cookie{
			Name:     SessionCookieName,
			Value:    clientID,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}

	p.metrics.IncProxyRequests()
	p.forward(w, r, backend)
}

// clientIDFor returns the client id bound to r's session cookie, minting a
// fresh one ("http-"+uuid) if absent.
func (p *Proxy) clientIDFor(r *http.Request) (id string, isNew bool) {
	if c, err := r.Cookie(SessionCookieName); err == nil && c.Value != "" {
		return c.Value, false
	}
	return "http-" + uuid.NewString(), true
}

func (p *Proxy) pickRandomBackend() *registry.GameServer {
	healthy := p.registry.HealthyServers()
	if len(healthy) == 0 {
		return nil
	}
	p.rngMu.Lock()
	i := p.rng.Intn(len(healthy))
	p.rngMu.Unlock()
	return healthy[i]
}

// forward sends r to backend verbatim and streams the response back to w.
func (p *Proxy) forward(w http.ResponseWriter, r *http.Request, backend *registry.GameServer) {
	url := fmt.Sprintf("http://%s:%d%s", backend.Host, backend.Port, r.URL.RequestURI())

	ctx, cancel := context.WithTimeout(r.Context(), p.client.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, r.Method, url, r.Body)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadGateway)
		p.metrics.IncProxyFailures()
		return
	}
	req.Header = r.Header.Clone()

	resp, err := p.client.Do(req)
	if err != nil {
		p.log.Warn().Err(err).Str("backend", backend.ID).Msg("backend request failed")
		http.Error(w, "backend unavailable", http.StatusBadGateway)
		p.metrics.IncProxyFailures()
		return
	}
	defer resp.Body.Close()

	for k, vv := range resp.Header {
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		p.log.Debug().Err(err).Msg("error streaming backend response body")
	}
}
