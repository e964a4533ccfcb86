package sessions_test

import (
	"testing"
	"time"

	"github.com/lillious/frostfire-gateway/internal/sessions"
)

func TestCreateGet(t *testing.T) {
	tbl := sessions.New()
	tbl.Create("c1", "s1")
	s, ok := tbl.Get("c1")
	if !ok || s.ServerID != "s1" {
		t.Fatalf("expected c1 bound to s1, got %+v ok=%v", s, ok)
	}
}

func TestReassign_ResetsActivity(t *testing.T) {
	tbl := sessions.New()
	tbl.Create("c1", "s1")
	s, _ := tbl.Get("c1")
	old := s.LastActivity
	time.Sleep(5 * time.Millisecond)

	tbl.Reassign("c1", "s2")
	s2, _ := tbl.Get("c1")
	if s2.ServerID != "s2" {
		t.Errorf("expected server rewritten to s2, got %s", s2.ServerID)
	}
	if !s2.LastActivity.After(old) {
		t.Error("expected LastActivity refreshed on migration")
	}
}

func TestClientsOnServer(t *testing.T) {
	tbl := sessions.New()
	tbl.Create("c1", "s1")
	tbl.Create("c2", "s1")
	tbl.Create("c3", "s2")

	clients := tbl.ClientsOnServer("s1")
	if len(clients) != 2 {
		t.Errorf("expected 2 clients on s1, got %v", clients)
	}
}

func TestExpireIdle(t *testing.T) {
	tbl := sessions.New()
	tbl.Create("c1", "s1")
	time.Sleep(20 * time.Millisecond)
	tbl.Create("c2", "s1")

	expired := tbl.ExpireIdle(10 * time.Millisecond)
	if len(expired) != 1 || expired[0] != "c1" {
		t.Errorf("expected only c1 expired, got %v", expired)
	}
	if tbl.Count() != 1 {
		t.Errorf("expected 1 remaining session, got %d", tbl.Count())
	}
}

func TestDelete(t *testing.T) {
	tbl := sessions.New()
	tbl.Create("c1", "s1")
	tbl.Delete("c1")
	if _, ok := tbl.Get("c1"); ok {
		t.Error("expected session gone after Delete")
	}
}

func TestAtMostOneSessionPerClient(t *testing.T) {
	tbl := sessions.New()
	tbl.Create("c1", "s1")
	tbl.Create("c1", "s2")
	if tbl.Count() != 1 {
		t.Errorf("expected exactly one session for c1, got count %d", tbl.Count())
	}
	s, _ := tbl.Get("c1")
	if s.ServerID != "s2" {
		t.Errorf("expected latest binding s2, got %s", s.ServerID)
	}
}
