package reverseproxy_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/lillious/frostfire-gateway/internal/metrics"
	"github.com/lillious/frostfire-gateway/internal/registry"
	"github.com/lillious/frostfire-gateway/internal/reverseproxy"
	"github.com/lillious/frostfire-gateway/internal/sessions"
)

func discardLogger() zerolog.Logger { return zerolog.New(io.Discard) }

func newBackend(t *testing.T, body string) (*httptest.Server, int) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatal(err)
	}
	return srv, port
}

func TestProxy_AssignsNewClientAndSetsCookie(t *testing.T) {
	backend, port := newBackend(t, "hello from backend")

	reg := registry.New(time.Minute)
	reg.Register(registry.Registration{ID: "s1", Host: "127.0.0.1", Port: port, WSPort: 1, MaxConnections: 10})

	tbl := sessions.New()
	m := metrics.New()
	p := reverseproxy.New(reg, tbl, m, 5*time.Second, discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/foo", nil)
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != "hello from backend" {
		t.Errorf("unexpected body: %q", rec.Body.String())
	}

	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != reverseproxy.SessionCookieName {
		t.Fatalf("expected session cookie to be set, got %+v", cookies)
	}
	if tbl.Count() != 1 {
		t.Errorf("expected 1 session created, got %d", tbl.Count())
	}

	_ = backend
}

func TestProxy_StickyAcrossRequests(t *testing.T) {
	_, port1 := newBackend(t, "backend-1")
	_, port2 := newBackend(t, "backend-2")

	reg := registry.New(time.Minute)
	reg.Register(registry.Registration{ID: "s1", Host: "127.0.0.1", Port: port1, WSPort: 1, MaxConnections: 10})
	reg.Register(registry.Registration{ID: "s2", Host: "127.0.0.1", Port: port2, WSPort: 1, MaxConnections: 10})

	tbl := sessions.New()
	m := metrics.New()
	p := reverseproxy.New(reg, tbl, m, 5*time.Second, discardLogger())

	req1 := httptest.NewRequest(http.MethodGet, "/foo", nil)
	rec1 := httptest.NewRecorder()
	p.ServeHTTP(rec1, req1)
	cookie := rec1.Result().Cookies()[0]

	var firstBody string
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/foo", nil)
		req.AddCookie(cookie)
		rec := httptest.NewRecorder()
		p.ServeHTTP(rec, req)
		if i == 0 {
			firstBody = rec.Body.String()
		} else if rec.Body.String() != firstBody {
			t.Errorf("expected sticky backend, got %q then %q", firstBody, rec.Body.String())
		}
	}

	if tbl.Count() != 1 {
		t.Errorf("expected exactly 1 session across repeated requests, got %d", tbl.Count())
	}
}

func TestProxy_ReassignsWhenBoundServerIsGone(t *testing.T) {
	_, port1 := newBackend(t, "backend-1")
	_, port2 := newBackend(t, "backend-2")

	reg := registry.New(time.Minute)
	reg.Register(registry.Registration{ID: "s1", Host: "127.0.0.1", Port: port1, WSPort: 1, MaxConnections: 10})

	tbl := sessions.New()
	m := metrics.New()
	p := reverseproxy.New(reg, tbl, m, 5*time.Second, discardLogger())

	req1 := httptest.NewRequest(http.MethodGet, "/foo", nil)
	rec1 := httptest.NewRecorder()
	p.ServeHTTP(rec1, req1)
	if rec1.Body.String() != "backend-1" {
		t.Fatalf("expected initial assignment to s1, got %q", rec1.Body.String())
	}
	cookie := rec1.Result().Cookies()[0]

	reg.Unregister("s1")
	reg.Register(registry.Registration{ID: "s2", Host: "127.0.0.1", Port: port2, WSPort: 1, MaxConnections: 10})

	req2 := httptest.NewRequest(http.MethodGet, "/foo", nil)
	req2.AddCookie(cookie)
	rec2 := httptest.NewRecorder()
	p.ServeHTTP(rec2, req2)

	if rec2.Code != http.StatusOK {
		t.Fatalf("expected 200 after reassignment, got %d: %s", rec2.Code, rec2.Body.String())
	}
	if rec2.Body.String() != "backend-2" {
		t.Errorf("expected request to be reassigned to backend-2, got %q", rec2.Body.String())
	}
	if tbl.Count() != 1 {
		t.Errorf("expected exactly 1 session after reassignment, got %d", tbl.Count())
	}
}

func TestProxy_NoHealthyBackend_Returns503(t *testing.T) {
	reg := registry.New(time.Minute)
	tbl := sessions.New()
	m := metrics.New()
	p := reverseproxy.New(reg, tbl, m, time.Second, discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/foo", nil)
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}
