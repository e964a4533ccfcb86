package gateway_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/lillious/frostfire-gateway/internal/config"
	"github.com/lillious/frostfire-gateway/internal/gateway"
)

func discardLogger() zerolog.Logger { return zerolog.New(io.Discard) }

func newTestCoordinator() *gateway.Coordinator {
	cfg := config.DefaultConfig()
	cfg.AuthKey = "secret"
	return gateway.New(cfg, discardLogger())
}

func TestHTTPHandler_RoutesRegisterToAdminAPI(t *testing.T) {
	c := newTestCoordinator()
	h := c.HTTPHandler()

	body := strings.NewReader(`{"authKey":"secret","id":"s1","host":"h","port":1,"wsPort":2,"maxConnections":10}`)
	req := httptest.NewRequest(http.MethodPost, "/register", body)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if c.Registry.Count() != 1 {
		t.Errorf("expected 1 registered server, got %d", c.Registry.Count())
	}
}

func TestHTTPHandler_UnknownPathFallsThroughToProxy(t *testing.T) {
	c := newTestCoordinator()
	h := c.HTTPHandler()

	req := httptest.NewRequest(http.MethodGet, "/some/game/asset", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	// No healthy backend registered: the proxy should answer 503, not 404,
	// proving the request fell through rather than hitting the gateway mux.
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 from proxy fallthrough, got %d", rec.Code)
	}
}

func TestHTTPHandler_StatusReflectsRegisteredServers(t *testing.T) {
	c := newTestCoordinator()
	h := c.HTTPHandler()

	body := strings.NewReader(`{"authKey":"secret","id":"s1","host":"h","port":1,"wsPort":2,"maxConnections":10}`)
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/register", body))

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var resp struct {
		Servers []struct {
			ID string `json:"ID"`
		} `json:"servers"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v, body=%s", err, rec.Body.String())
	}
	if len(resp.Servers) != 1 {
		t.Errorf("expected 1 server in status, got %d", len(resp.Servers))
	}
}

func TestStartStop_DoesNotPanic(t *testing.T) {
	c := newTestCoordinator()
	c.Start()
	c.Stop()
}
