package assign_test

import (
	"testing"
	"time"

	"github.com/lillious/frostfire-gateway/internal/assign"
	"github.com/lillious/frostfire-gateway/internal/metrics"
	"github.com/lillious/frostfire-gateway/internal/registry"
	"github.com/lillious/frostfire-gateway/internal/sessions"
)

func TestResolver_NewClientGetsAssigned(t *testing.T) {
	reg := registry.New(time.Minute)
	reg.Register(registry.Registration{ID: "s1", Host: "h", Port: 1, WSPort: 2, MaxConnections: 10})

	tbl := sessions.New()
	res := assign.NewResolver(reg, tbl, assign.New(), metrics.New())

	srv := res.GetServerForClient("c1")
	if srv == nil || srv.ID != "s1" {
		t.Fatalf("expected assignment to s1, got %+v", srv)
	}
	if tbl.Count() != 1 {
		t.Errorf("expected 1 session, got %d", tbl.Count())
	}
}

func TestResolver_ExistingSessionReusesServer(t *testing.T) {
	reg := registry.New(time.Minute)
	reg.Register(registry.Registration{ID: "s1", Host: "h", Port: 1, WSPort: 2, MaxConnections: 10})
	reg.Register(registry.Registration{ID: "s2", Host: "h", Port: 1, WSPort: 2, MaxConnections: 10})

	tbl := sessions.New()
	res := assign.NewResolver(reg, tbl, assign.New(), metrics.New())

	first := res.GetServerForClient("c1")
	for i := 0; i < 5; i++ {
		again := res.GetServerForClient("c1")
		if again.ID != first.ID {
			t.Fatalf("expected sticky server %s, got %s", first.ID, again.ID)
		}
	}
}

func TestResolver_StaleServerReassigns(t *testing.T) {
	reg := registry.New(time.Minute)
	reg.Register(registry.Registration{ID: "s1", Host: "h", Port: 1, WSPort: 2, MaxConnections: 10})

	tbl := sessions.New()
	res := assign.NewResolver(reg, tbl, assign.New(), metrics.New())

	res.GetServerForClient("c1")
	reg.Unregister("s1")
	reg.Register(registry.Registration{ID: "s2", Host: "h", Port: 1, WSPort: 2, MaxConnections: 10})

	srv := res.GetServerForClient("c1")
	if srv == nil || srv.ID != "s2" {
		t.Fatalf("expected reassignment to s2, got %+v", srv)
	}
}

func TestResolver_NoHealthyServers_ReturnsNil(t *testing.T) {
	reg := registry.New(time.Minute)
	tbl := sessions.New()
	res := assign.NewResolver(reg, tbl, assign.New(), metrics.New())

	if srv := res.GetServerForClient("c1"); srv != nil {
		t.Errorf("expected nil, got %+v", srv)
	}
}
