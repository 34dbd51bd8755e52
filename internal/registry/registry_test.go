package registry_test

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/callpulse/callpulse/gateway/internal/auth"
	"github.com/callpulse/callpulse/gateway/internal/registry"
)

type fakeConn struct{ id string }

func (c *fakeConn) ID() string       { return c.id }
func (c *fakeConn) Send([]byte) bool { return true }

func newRegistry() *registry.Registry {
	return registry.New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func principal(tenant, user string) auth.Principal {
	return auth.Principal{UserID: user, TenantID: tenant, DisplayName: user}
}

func ids(conns []registry.Conn) map[string]bool {
	out := make(map[string]bool, len(conns))
	for _, c := range conns {
		out[c.ID()] = true
	}
	return out
}

func TestRegister_JoinsDefaultRooms(t *testing.T) {
	r := newRegistry()
	a := &fakeConn{id: "A"}
	if sup := r.Register(a, principal("T", "U")); sup != nil {
		t.Fatalf("unexpected superseded connection %v", sup.ID())
	}

	if !r.IsUserConnected("U") {
		t.Error("expected U to be connected")
	}
	for _, room := range []string{registry.GlobalRoom, registry.TenantRoom("T"), registry.UserRoom("U")} {
		if !r.IsMember(a, room) {
			t.Errorf("expected A in %s", room)
		}
	}
	if got := r.ConnectedUserCount(); got != 1 {
		t.Errorf("ConnectedUserCount = %d, want 1", got)
	}
}

func TestRegister_IsIdempotent(t *testing.T) {
	r := newRegistry()
	a := &fakeConn{id: "A"}
	r.Register(a, principal("T", "U"))
	if sup := r.Register(a, principal("T", "U")); sup != nil {
		t.Fatal("re-registering the same connection must not supersede itself")
	}
	if r.Len() != 1 || r.RoomSize(registry.TenantRoom("T")) != 1 {
		t.Errorf("Len = %d, tenant room size = %d, want 1/1", r.Len(), r.RoomSize(registry.TenantRoom("T")))
	}
}

func TestDeregister_RemovesEveryMembership(t *testing.T) {
	r := newRegistry()
	a := &fakeConn{id: "A"}
	r.Register(a, principal("T", "U"))
	if err := r.Join(a, registry.FeatureRoom(registry.FeatureDashboard, "T")); err != nil {
		t.Fatalf("Join: %v", err)
	}

	if !r.Deregister(a) {
		t.Fatal("expected Deregister to report removal")
	}
	if rooms := r.Rooms(a); len(rooms) != 0 {
		t.Errorf("expected no rooms after deregister, got %v", rooms)
	}
	for _, room := range []string{registry.GlobalRoom, registry.TenantRoom("T"), registry.UserRoom("U"), "dashboard:T"} {
		if n := r.RoomSize(room); n != 0 {
			t.Errorf("room %s still has %d members", room, n)
		}
	}
	if r.IsUserConnected("U") {
		t.Error("expected U to be disconnected")
	}
	if got := r.DistinctTenants(); len(got) != 0 {
		t.Errorf("DistinctTenants = %v, want none", got)
	}
}

func TestDeregister_UnknownIsNoop(t *testing.T) {
	r := newRegistry()
	if r.Deregister(&fakeConn{id: "ghost"}) {
		t.Error("expected Deregister of unknown connection to return false")
	}
}

func TestJoin_RequiresRegistrationAndIsIdempotent(t *testing.T) {
	r := newRegistry()
	a := &fakeConn{id: "A"}
	if err := r.Join(a, "dashboard:T"); !errors.Is(err, registry.ErrNotRegistered) {
		t.Fatalf("Join unregistered error = %v, want ErrNotRegistered", err)
	}
	if r.RoomSize("dashboard:T") != 0 {
		t.Fatal("unregistered join must not create membership")
	}

	r.Register(a, principal("T", "U"))
	for i := 0; i < 3; i++ {
		if err := r.Join(a, "dashboard:T"); err != nil {
			t.Fatalf("Join: %v", err)
		}
	}
	if n := r.RoomSize("dashboard:T"); n != 1 {
		t.Errorf("dashboard room size = %d, want 1", n)
	}
}

func TestLeave_FeatureRoomOnly(t *testing.T) {
	r := newRegistry()
	a := &fakeConn{id: "A"}
	r.Register(a, principal("T", "U"))
	_ = r.Join(a, "calls:T")

	if err := r.Leave(a, "calls:T"); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	if r.IsMember(a, "calls:T") {
		t.Error("expected A to have left calls:T")
	}
	for _, room := range []string{registry.GlobalRoom, registry.TenantRoom("T"), registry.UserRoom("U")} {
		if err := r.Leave(a, room); !errors.Is(err, registry.ErrManagedRoom) {
			t.Errorf("Leave(%s) error = %v, want ErrManagedRoom", room, err)
		}
	}
}

func TestMembers_ExcludesSender(t *testing.T) {
	r := newRegistry()
	a, b, c := &fakeConn{id: "A"}, &fakeConn{id: "B"}, &fakeConn{id: "C"}
	r.Register(a, principal("T", "u1"))
	r.Register(b, principal("T", "u2"))
	r.Register(c, principal("other", "u3"))

	got := ids(r.Members(registry.TenantRoom("T"), a))
	if len(got) != 1 || !got["B"] {
		t.Errorf("tenant members excluding A = %v, want [B]", got)
	}
	if all := ids(r.Members(registry.GlobalRoom, nil)); len(all) != 3 {
		t.Errorf("global members = %v, want 3", all)
	}
}

func TestDistinctTenants(t *testing.T) {
	r := newRegistry()
	r.Register(&fakeConn{id: "1"}, principal("beta", "u1"))
	r.Register(&fakeConn{id: "2"}, principal("acme", "u2"))
	r.Register(&fakeConn{id: "3"}, principal("acme", "u3"))

	got := r.DistinctTenants()
	if len(got) != 2 || got[0] != "acme" || got[1] != "beta" {
		t.Errorf("DistinctTenants = %v, want [acme beta]", got)
	}
}

// A second login for the same user takes over the user room; the first
// connection stays reachable through its tenant room.
func TestRegister_SecondConnectionSupersedesUserSlot(t *testing.T) {
	r := newRegistry()
	c1, c2 := &fakeConn{id: "C1"}, &fakeConn{id: "C2"}
	r.Register(c1, principal("T", "u1"))

	sup := r.Register(c2, principal("T", "u1"))
	if sup == nil || sup.ID() != "C1" {
		t.Fatalf("superseded = %v, want C1", sup)
	}

	owner, ok := r.UserConn("u1")
	if !ok || owner.ID() != "C2" {
		t.Fatalf("user index names %v, want C2", owner)
	}
	userRoom := ids(r.Members(registry.UserRoom("u1"), nil))
	if len(userRoom) != 1 || !userRoom["C2"] {
		t.Errorf("user room = %v, want only C2", userRoom)
	}
	if !r.IsMember(c1, registry.TenantRoom("T")) {
		t.Error("superseded connection must stay in its tenant room")
	}
	if got := r.ConnectedUserCount(); got != 1 {
		t.Errorf("ConnectedUserCount = %d, want 1", got)
	}

	// The stale connection closing must not clobber the newer registration.
	r.Deregister(c1)
	if owner, ok := r.UserConn("u1"); !ok || owner.ID() != "C2" {
		t.Errorf("after stale deregister user index names %v, want C2", owner)
	}
	if !r.IsMember(c2, registry.UserRoom("u1")) {
		t.Error("C2 must keep the user room after C1 leaves")
	}
}

func TestRegistry_ConcurrentUse(t *testing.T) {
	r := newRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := &fakeConn{id: fmt.Sprintf("c%d", i)}
			tenant := fmt.Sprintf("t%d", i%5)
			r.Register(c, principal(tenant, fmt.Sprintf("u%d", i%10)))
			_ = r.Join(c, registry.FeatureRoom(registry.FeatureDashboard, tenant))
			_ = r.Members(registry.TenantRoom(tenant), c)
			_ = r.DistinctTenants()
			_ = r.ConnectedUserCount()
			r.Deregister(c)
		}(i)
	}
	wg.Wait()

	if r.Len() != 0 || r.ConnectedUserCount() != 0 {
		t.Errorf("Len = %d, users = %d after all deregistered, want 0/0", r.Len(), r.ConnectedUserCount())
	}
	for i := 0; i < 5; i++ {
		if n := r.RoomSize(registry.TenantRoom(fmt.Sprintf("t%d", i))); n != 0 {
			t.Errorf("tenant room t%d has %d dangling members", i, n)
		}
	}
}
