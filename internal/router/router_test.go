package router

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/callpulse/callpulse/gateway/internal/auth"
	"github.com/callpulse/callpulse/gateway/internal/metrics"
	"github.com/callpulse/callpulse/gateway/internal/registry"
)

type fakeConn struct {
	id string

	mu   sync.Mutex
	msgs [][]byte
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	return true
}

func (c *fakeConn) received() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, 0, len(c.msgs))
	for _, raw := range c.msgs {
		var m Message
		if err := json.Unmarshal(raw, &m); err == nil {
			out = append(out, m)
		}
	}
	return out
}

// roomSender delivers straight to registry members.
type roomSender struct{ reg *registry.Registry }

func (s roomSender) BroadcastToRoomExcept(room, event string, payload any, except registry.Conn) int {
	msg, err := Encode(event, payload)
	if err != nil {
		return 0
	}
	n := 0
	for _, c := range s.reg.Members(room, except) {
		if c.Send(msg) {
			n++
		}
	}
	return n
}

var fixedNow = time.Date(2026, 3, 1, 12, 30, 0, 0, time.FixedZone("X", 3600))

func setup(t *testing.T) (*EventRouter, *registry.Registry) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := registry.New(logger)
	r := NewEventRouter(logger, reg, roomSender{reg: reg}, metrics.New(nil))
	r.now = func() time.Time { return fixedNow }
	return r, reg
}

func principal(tenant, user, name string) auth.Principal {
	return auth.Principal{UserID: user, TenantID: tenant, DisplayName: name}
}

func TestSubscribe_JoinsTenantFeatureRoom(t *testing.T) {
	r, reg := setup(t)
	a := &fakeConn{id: "A"}
	p := principal("T", "u1", "Ann")
	reg.Register(a, p)

	for i := 0; i < 2; i++ {
		r.HandleMessage(context.Background(), a, p, []byte(`{"event":"subscribe:dashboard"}`))
	}
	if !reg.IsMember(a, "dashboard:T") {
		t.Fatal("expected A in dashboard:T")
	}
	if n := reg.RoomSize("dashboard:T"); n != 1 {
		t.Errorf("dashboard:T size = %d, want 1", n)
	}

	r.HandleMessage(context.Background(), a, p, []byte(`{"event":"unsubscribe:dashboard"}`))
	if reg.IsMember(a, "dashboard:T") {
		t.Error("expected A to have left dashboard:T")
	}
}

func TestSubscribe_UnregisteredConnectionIsRejected(t *testing.T) {
	r, reg := setup(t)
	ghost := &fakeConn{id: "ghost"}
	r.HandleMessage(context.Background(), ghost, principal("T", "u1", "Ann"), []byte(`{"event":"subscribe:calls"}`))
	if reg.RoomSize("calls:T") != 0 {
		t.Error("unregistered connection must not gain membership")
	}
}

func TestCallStart_RelayedToTenantExceptSender(t *testing.T) {
	r, reg := setup(t)
	c1, c2, c3 := &fakeConn{id: "C1"}, &fakeConn{id: "C2"}, &fakeConn{id: "C3"}
	other := &fakeConn{id: "O"}
	p1 := principal("T", "u1", "Ann")
	reg.Register(c1, p1)
	reg.Register(c2, principal("T", "u2", "Bob"))
	reg.Register(c3, principal("T", "u3", "Cid"))
	reg.Register(other, principal("T2", "u4", "Dee"))

	r.HandleMessage(context.Background(), c1, p1, []byte(`{"event":"call:start","payload":{"callId":"X","userId":"spoofed"}}`))

	if got := c1.received(); len(got) != 0 {
		t.Errorf("sender received %d messages, want 0", len(got))
	}
	if got := other.received(); len(got) != 0 {
		t.Errorf("other tenant received %d messages, want 0", len(got))
	}
	for _, c := range []*fakeConn{c2, c3} {
		got := c.received()
		if len(got) != 1 {
			t.Fatalf("%s received %d messages, want 1", c.id, len(got))
		}
		if got[0].Event != EventCallStarted {
			t.Errorf("%s event = %q, want %q", c.id, got[0].Event, EventCallStarted)
		}
		var body map[string]string
		if err := json.Unmarshal(got[0].Payload, &body); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if body["callId"] != "X" {
			t.Errorf("callId = %q, want X", body["callId"])
		}
		if body["userId"] != "u1" {
			t.Errorf("userId = %q, want u1", body["userId"])
		}
		if body["userName"] != "Ann" {
			t.Errorf("userName = %q, want Ann", body["userName"])
		}
		if body["timestamp"] != "2026-03-01T11:30:00Z" {
			t.Errorf("timestamp = %q, want 2026-03-01T11:30:00Z", body["timestamp"])
		}
	}
}

func TestCallUpdate_OmitsUserName(t *testing.T) {
	r, reg := setup(t)
	c1, c2 := &fakeConn{id: "C1"}, &fakeConn{id: "C2"}
	p1 := principal("T", "u1", "Ann")
	reg.Register(c1, p1)
	reg.Register(c2, principal("T", "u2", "Bob"))

	r.HandleMessage(context.Background(), c1, p1, []byte(`{"event":"call:update","payload":{"callId":"X","status":"hold"}}`))

	got := c2.received()
	if len(got) != 1 || got[0].Event != EventCallUpdated {
		t.Fatalf("received %v, want one call:updated", got)
	}
	var body map[string]any
	if err := json.Unmarshal(got[0].Payload, &body); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if _, ok := body["userName"]; ok {
		t.Error("call:updated must not carry userName")
	}
	if body["userId"] != "u1" || body["status"] != "hold" {
		t.Errorf("payload = %v", body)
	}
}

func TestCallEnd_AbsentPayloadIsEmptyObject(t *testing.T) {
	r, reg := setup(t)
	c1, c2 := &fakeConn{id: "C1"}, &fakeConn{id: "C2"}
	p1 := principal("T", "u1", "Ann")
	reg.Register(c1, p1)
	reg.Register(c2, principal("T", "u2", "Bob"))

	r.HandleMessage(context.Background(), c1, p1, []byte(`{"event":"call:end"}`))

	got := c2.received()
	if len(got) != 1 || got[0].Event != EventCallEnded {
		t.Fatalf("received %v, want one call:ended", got)
	}
	var body map[string]any
	if err := json.Unmarshal(got[0].Payload, &body); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if len(body) != 3 {
		t.Errorf("payload = %v, want only stamped fields", body)
	}
}

func TestCallStart_NonObjectPayloadDropped(t *testing.T) {
	r, reg := setup(t)
	c1, c2 := &fakeConn{id: "C1"}, &fakeConn{id: "C2"}
	p1 := principal("T", "u1", "Ann")
	reg.Register(c1, p1)
	reg.Register(c2, principal("T", "u2", "Bob"))

	for _, msg := range []string{
		`{"event":"call:start","payload":"X"}`,
		`{"event":"call:start","payload":[1,2]}`,
		`{"event":"call:start","payload":42}`,
	} {
		r.HandleMessage(context.Background(), c1, p1, []byte(msg))
	}
	if got := c2.received(); len(got) != 0 {
		t.Errorf("received %d messages for non-object payloads, want 0", len(got))
	}
}

func TestHandleMessage_IgnoresUnknownAndMalformed(t *testing.T) {
	r, reg := setup(t)
	c1, c2 := &fakeConn{id: "C1"}, &fakeConn{id: "C2"}
	p1 := principal("T", "u1", "Ann")
	reg.Register(c1, p1)
	reg.Register(c2, principal("T", "u2", "Bob"))

	for _, msg := range []string{
		`not json`,
		`{"payload":{}}`,
		`{"event":42}`,
		`{"event":"call:teleport","payload":{}}`,
	} {
		r.HandleMessage(context.Background(), c1, p1, []byte(msg))
	}
	if got := c2.received(); len(got) != 0 {
		t.Errorf("received %d messages, want 0", len(got))
	}
	if rooms := reg.Rooms(c1); len(rooms) != 3 {
		t.Errorf("rooms = %v, want only the default three", rooms)
	}
}

func TestHandle_CustomHandler(t *testing.T) {
	r, reg := setup(t)
	c1 := &fakeConn{id: "C1"}
	p1 := principal("T", "u1", "Ann")
	reg.Register(c1, p1)

	var gotPayload string
	r.Handle("ping", func(_ context.Context, conn registry.Conn, p auth.Principal, payload json.RawMessage) error {
		if conn.ID() != "C1" || p.UserID != "u1" {
			t.Errorf("handler got conn %s user %s", conn.ID(), p.UserID)
		}
		gotPayload = string(payload)
		return nil
	})
	r.HandleMessage(context.Background(), c1, p1, []byte(`{"event":"ping","payload":{"n":1}}`))
	if gotPayload != `{"n":1}` {
		t.Errorf("payload = %q, want {\"n\":1}", gotPayload)
	}
}
