// Package wsgateway implements the control WebSocket endpoint (C6): it hands
// every connecting client a one-time server_assignment frame and then gets
// out of the way — the data plane runs directly between client and backend.
package wsgateway

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lillious/frostfire-gateway/internal/assign"
	"github.com/lillious/frostfire-gateway/internal/metrics"
	"github.com/lillious/frostfire-gateway/internal/workerpool"
)

// maxRetryAttempts bounds the backpressure retry loop (about 8.2s worst
// case: delays of 100ms rising by 50ms per attempt, capped at 500ms).
const maxRetryAttempts = 20

// AssignmentFrame is the single success frame sent over the control plane.
type AssignmentFrame struct {
	Type     string       `json:"type"`
	ClientID string       `json:"clientId"`
	Server   ServerTarget `json:"server"`
}

// ServerTarget is the backend a client should connect to directly.
type ServerTarget struct {
	Host   string `json:"host"`
	Port   int    `json:"port"`
	WSPort int    `json:"wsPort"`
}

// ErrorFrame is sent when no server is available before the connection
// is closed.
type ErrorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Gateway upgrades incoming requests, resolves an assignment via the C2/C3
// resolver, and delivers it over the socket with backpressure discipline.
type Gateway struct {
	resolver      *assign.Resolver
	pool          *workerpool.Pool
	metrics       *metrics.Metrics
	log           zerolog.Logger
	maxBufferSize int64
}

// New creates a Gateway. pool must already be started; the caller owns its
// lifecycle. maxBufferSize is the backpressure threshold in bytes.
func New(res *assign.Resolver, pool *workerpool.Pool, m *metrics.Metrics, maxBufferSize int64, log zerolog.Logger) *Gateway {
	return &Gateway{resolver: res, pool: pool, metrics: m, log: log, maxBufferSize: maxBufferSize}
}

// ServeHTTP upgrades the connection and runs its lifecycle to completion.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	clientID := r.URL.Query().Get("clientId")
	if clientID == "" {
		clientID = "client-" + uuid.NewString()
	}

	g.metrics.IncWSConnects()
	conn := newConnection(ws, g.pool, g.maxBufferSize, g.log.With().Str("client_id", clientID).Logger())
	defer conn.close()

	srv := g.resolver.GetServerForClient(clientID)
	if srv == nil {
		frame, _ := json.Marshal(ErrorFrame{Type: "error", Message: "No available servers"})
		conn.send(frame)
		time.Sleep(100 * time.Millisecond)
		return
	}

	frame, err := json.Marshal(AssignmentFrame{
		Type:     "server_assignment",
		ClientID: clientID,
		Server:   ServerTarget{Host: srv.PublicHost, Port: srv.Port, WSPort: srv.WSPort},
	})
	if err != nil {
		g.log.Error().Err(err).Msg("failed to encode assignment frame")
		return
	}
	conn.send(frame)

	// Per spec, subsequent inbound frames are not proxied; the client is
	// expected to close and reconnect directly to the advertised endpoint.
	// We keep reading only so unexpected traffic is logged and the close
	// frame is observed promptly.
	g.drainUnexpectedInbound(ws, clientID)
}

func (g *Gateway) drainUnexpectedInbound(ws *websocket.Conn, clientID string) {
	for {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			return
		}
		g.log.Warn().Str("client_id", clientID).Bytes("payload", msg).
			Msg("unexpected inbound frame after assignment")
	}
}

// connection wraps one WebSocket with a backpressure send discipline: a
// send made while the connection is over its buffered-byte threshold is
// retried on the worker pool with a growing delay, and retries stop once the
// connection is closed. Each deferred send is retried on its own; there is
// no per-connection queue, and a later successful send does not drain
// earlier deferred ones.
type connection struct {
	ws            *websocket.Conn
	pool          *workerpool.Pool
	maxBufferSize int64
	bufferedBytes int64
	closed        int32
	log           zerolog.Logger
}

func newConnection(ws *websocket.Conn, pool *workerpool.Pool, maxBufferSize int64, log zerolog.Logger) *connection {
	return &connection{ws: ws, pool: pool, maxBufferSize: maxBufferSize, log: log}
}

// send delivers payload, deferring and retrying through the worker pool if
// the connection is currently over its buffered-byte threshold.
func (c *connection) send(payload []byte) {
	c.trySend(payload, 0)
}

func (c *connection) trySend(payload []byte, attempt int) {
	if atomic.LoadInt32(&c.closed) == 1 {
		return
	}

	if atomic.LoadInt64(&c.bufferedBytes) > c.maxBufferSize {
		c.scheduleRetry(payload, attempt+1)
		return
	}

	c.writeNow(payload)
}

func (c *connection) writeNow(payload []byte) {
	atomic.AddInt64(&c.bufferedBytes, int64(len(payload)))
	defer atomic.AddInt64(&c.bufferedBytes, -int64(len(payload)))

	if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.log.Debug().Err(err).Msg("websocket write failed")
	}
}

func (c *connection) scheduleRetry(payload []byte, attempt int) {
	if attempt > maxRetryAttempts {
		c.log.Warn().Int("attempts", attempt-1).Msg("dropping frame: backpressure retry budget exhausted")
		return
	}

	delayMs := 50 + 50*attempt
	if delayMs > 500 {
		delayMs = 500
	}
	delay := time.Duration(delayMs) * time.Millisecond

	c.pool.Submit(func() {
		time.Sleep(delay)
		c.trySend(payload, attempt)
	})
}

func (c *connection) close() {
	atomic.StoreInt32(&c.closed, 1)
	c.ws.Close()
}
