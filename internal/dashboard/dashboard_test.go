package dashboard_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/lillious/frostfire-gateway/internal/dashboard"
	"github.com/lillious/frostfire-gateway/internal/metrics"
	"github.com/lillious/frostfire-gateway/internal/migration"
	"github.com/lillious/frostfire-gateway/internal/registry"
	"github.com/lillious/frostfire-gateway/internal/sessions"
)

func discardLogger() zerolog.Logger { return zerolog.New(io.Discard) }

func newDashboard() *dashboard.Dashboard {
	reg := registry.New(time.Minute)
	tbl := sessions.New()
	eng := migration.New(reg, tbl, discardLogger())
	return dashboard.New(reg, tbl, eng, metrics.New(), "secret", discardLogger())
}

func login(t *testing.T, d *dashboard.Dashboard, authKey string) *http.Cookie {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"authKey": authKey})
	req := httptest.NewRequest(http.MethodPost, "/api/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	d.HandleLogin(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("login failed: %d %s", rec.Code, rec.Body.String())
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("expected 1 cookie, got %d", len(cookies))
	}
	return cookies[0]
}

func TestLogin_WrongKeyRejected(t *testing.T) {
	d := newDashboard()
	body, _ := json.Marshal(map[string]string{"authKey": "wrong"})
	req := httptest.NewRequest(http.MethodPost, "/api/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	d.HandleLogin(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestStats_RequiresSession(t *testing.T) {
	d := newDashboard()
	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	rec := httptest.NewRecorder()
	d.HandleStats(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestStats_SucceedsWithValidSession(t *testing.T) {
	d := newDashboard()
	cookie := login(t, d, "secret")

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	d.HandleStats(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestLogout_InvalidatesSession(t *testing.T) {
	d := newDashboard()
	cookie := login(t, d, "secret")

	logoutReq := httptest.NewRequest(http.MethodPost, "/api/logout", nil)
	logoutReq.AddCookie(cookie)
	d.HandleLogout(httptest.NewRecorder(), logoutReq)

	statsReq := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	statsReq.AddCookie(cookie)
	rec := httptest.NewRecorder()
	d.HandleStats(rec, statsReq)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 after logout, got %d", rec.Code)
	}
}

func TestIsAuthed(t *testing.T) {
	d := newDashboard()
	cookie := login(t, d, "secret")

	authed := httptest.NewRequest(http.MethodGet, "/debug/sessions", nil)
	authed.AddCookie(cookie)
	if !d.IsAuthed(authed) {
		t.Error("expected IsAuthed true for valid session")
	}

	unauthed := httptest.NewRequest(http.MethodGet, "/debug/sessions", nil)
	if d.IsAuthed(unauthed) {
		t.Error("expected IsAuthed false without cookie")
	}
}

func TestDashboardPage_RedirectsWithoutSession(t *testing.T) {
	d := newDashboard()
	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	rec := httptest.NewRecorder()
	d.HandleDashboardPage(rec, req)
	if rec.Code != http.StatusFound {
		t.Errorf("expected 302 redirect, got %d", rec.Code)
	}
}
