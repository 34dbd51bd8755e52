// Package router dispatches inbound client events to handlers. Subscription
// events change room membership; call events are stamped with the sender's
// identity and relayed to the rest of the sender's tenant.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/tidwall/gjson"

	"github.com/callpulse/callpulse/gateway/internal/auth"
	"github.com/callpulse/callpulse/gateway/internal/metrics"
	"github.com/callpulse/callpulse/gateway/internal/registry"
)

// Rooms changes a connection's feature-room membership.
type Rooms interface {
	Join(conn registry.Conn, room string) error
	Leave(conn registry.Conn, room string) error
}

// Broadcaster fans an event out to a room.
type Broadcaster interface {
	BroadcastToRoomExcept(room, event string, payload any, except registry.Conn) int
}

// HandlerFunc handles one inbound event. A returned error is logged; it is
// never sent back to the client.
type HandlerFunc func(ctx context.Context, conn registry.Conn, p auth.Principal, payload json.RawMessage) error

var errNotObject = errors.New("payload must be a JSON object")

type EventRouter struct {
	logger   *slog.Logger
	rooms    Rooms
	out      Broadcaster
	metrics  *metrics.Metrics
	handlers map[string]HandlerFunc
	now      func() time.Time
}

// NewEventRouter creates a router with the built-in subscription and call
// handlers registered.
func NewEventRouter(logger *slog.Logger, rooms Rooms, out Broadcaster, m *metrics.Metrics) *EventRouter {
	r := &EventRouter{
		logger:   logger.With("component", "event_router"),
		rooms:    rooms,
		out:      out,
		metrics:  m,
		handlers: make(map[string]HandlerFunc),
		now:      time.Now,
	}

	r.Handle(EventSubscribeDashboard, r.subscribe(registry.FeatureDashboard))
	r.Handle(EventSubscribeCalls, r.subscribe(registry.FeatureCalls))
	r.Handle(EventSubscribeAnalytics, r.subscribe(registry.FeatureAnalytics))
	r.Handle(EventUnsubscribeDashboard, r.unsubscribe(registry.FeatureDashboard))
	r.Handle(EventUnsubscribeCalls, r.unsubscribe(registry.FeatureCalls))
	r.Handle(EventUnsubscribeAnalytics, r.unsubscribe(registry.FeatureAnalytics))
	r.Handle(EventCallStart, r.relayCall(EventCallStarted, true))
	r.Handle(EventCallEnd, r.relayCall(EventCallEnded, true))
	// call:updated carries the narrower payload without userName.
	r.Handle(EventCallUpdate, r.relayCall(EventCallUpdated, false))
	return r
}

// Handle registers h for event, replacing any existing handler.
func (r *EventRouter) Handle(event string, h HandlerFunc) {
	r.handlers[event] = h
}

// HandleMessage decodes a raw envelope and dispatches it. Malformed envelopes
// are dropped.
func (r *EventRouter) HandleMessage(ctx context.Context, conn registry.Conn, p auth.Principal, msg []byte) {
	if !gjson.ValidBytes(msg) {
		r.logger.Warn("dropping malformed client message", "conn", conn.ID())
		r.count("", "malformed")
		return
	}
	event := gjson.GetBytes(msg, "event")
	if event.Type != gjson.String || event.Str == "" {
		r.logger.Warn("dropping client message without event name", "conn", conn.ID())
		r.count("", "malformed")
		return
	}
	var payload json.RawMessage
	if raw := gjson.GetBytes(msg, "payload"); raw.Exists() {
		payload = json.RawMessage(raw.Raw)
	}
	r.Dispatch(ctx, conn, p, event.Str, payload)
}

// Dispatch runs the handler registered for event. Unknown events are ignored.
func (r *EventRouter) Dispatch(ctx context.Context, conn registry.Conn, p auth.Principal, event string, payload json.RawMessage) {
	h, ok := r.handlers[event]
	if !ok {
		r.logger.Debug("ignoring unknown event", "event", event, "conn", conn.ID())
		r.count("unknown", "ignored")
		return
	}
	if err := h(ctx, conn, p, payload); err != nil {
		r.logger.Warn("event handler failed",
			"event", event,
			"conn", conn.ID(),
			"user", p.UserID,
			"error", err,
		)
		r.count(event, "error")
		return
	}
	r.count(event, "ok")
}

func (r *EventRouter) count(event, outcome string) {
	if r.metrics != nil {
		r.metrics.Events.WithLabelValues(event, outcome).Inc()
	}
}

func (r *EventRouter) subscribe(feature string) HandlerFunc {
	return func(_ context.Context, conn registry.Conn, p auth.Principal, _ json.RawMessage) error {
		return r.rooms.Join(conn, registry.FeatureRoom(feature, p.TenantID))
	}
}

func (r *EventRouter) unsubscribe(feature string) HandlerFunc {
	return func(_ context.Context, conn registry.Conn, p auth.Principal, _ json.RawMessage) error {
		return r.rooms.Leave(conn, registry.FeatureRoom(feature, p.TenantID))
	}
}

// relayCall stamps the payload with the sender and re-emits it to the
// sender's tenant, leaving the sender out.
func (r *EventRouter) relayCall(outEvent string, withName bool) HandlerFunc {
	return func(_ context.Context, conn registry.Conn, p auth.Principal, payload json.RawMessage) error {
		fields := make(map[string]json.RawMessage)
		if len(payload) > 0 && gjson.ParseBytes(payload).Type != gjson.Null {
			if !gjson.ParseBytes(payload).IsObject() {
				return errNotObject
			}
			if err := json.Unmarshal(payload, &fields); err != nil {
				return err
			}
		}

		if err := setField(fields, "userId", p.UserID); err != nil {
			return err
		}
		if withName {
			if err := setField(fields, "userName", p.DisplayName); err != nil {
				return err
			}
		}
		if err := setField(fields, "timestamp", r.now().UTC()); err != nil {
			return err
		}

		r.out.BroadcastToRoomExcept(registry.TenantRoom(p.TenantID), outEvent, fields, conn)
		return nil
	}
}

func setField(fields map[string]json.RawMessage, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	fields[key] = b
	return nil
}
