package router

import "encoding/json"

// Message is the wire envelope in both directions.
type Message struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type outbound struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

// Encode marshals an outbound event envelope.
func Encode(event string, payload any) ([]byte, error) {
	return json.Marshal(outbound{Event: event, Payload: payload})
}

// Inbound client events.
const (
	EventSubscribeDashboard   = "subscribe:dashboard"
	EventSubscribeCalls       = "subscribe:calls"
	EventSubscribeAnalytics   = "subscribe:analytics"
	EventUnsubscribeDashboard = "unsubscribe:dashboard"
	EventUnsubscribeCalls     = "unsubscribe:calls"
	EventUnsubscribeAnalytics = "unsubscribe:analytics"
	EventCallStart            = "call:start"
	EventCallEnd              = "call:end"
	EventCallUpdate           = "call:update"
)

// Outbound server events.
const (
	EventSystemStatus    = "system:status"
	EventUserData        = "user:data"
	EventCallStarted     = "call:started"
	EventCallEnded       = "call:ended"
	EventCallUpdated     = "call:updated"
	EventMetricsUpdate   = "metrics:update"
	EventDashboardUpdate = "dashboard:update"
)
