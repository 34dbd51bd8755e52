// Package hub owns live WebSocket clients and the gateway's outbound API.
// Addressing goes through the connection registry; every broadcast marshals
// its payload once and enqueues the same bytes on each recipient without
// blocking.
package hub

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/callpulse/callpulse/gateway/internal/auth"
	"github.com/callpulse/callpulse/gateway/internal/metrics"
	"github.com/callpulse/callpulse/gateway/internal/registry"
	"github.com/callpulse/callpulse/gateway/internal/router"
)

// Duplicate-login policies.
const (
	PolicySupersede = "supersede"
	PolicyEvict     = "evict"
)

// Config mirrors config.GatewayConfig field for field so it can be converted
// directly.
type Config struct {
	DuplicateLogin string
	SendBuffer     int
	ReadLimit      int64
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	PingTimeout    time.Duration
	EventRate      float64
	EventBurst     int
}

// DefaultConfig returns the limits used for unset Config fields.
func DefaultConfig() Config {
	return Config{
		DuplicateLogin: PolicySupersede,
		SendBuffer:     256,
		ReadLimit:      64 << 10,
		WriteTimeout:   10 * time.Second,
		PingInterval:   30 * time.Second,
		PingTimeout:    10 * time.Second,
		EventRate:      20,
		EventBurst:     40,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.DuplicateLogin == "" {
		c.DuplicateLogin = def.DuplicateLogin
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = def.SendBuffer
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = def.ReadLimit
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = def.PingInterval
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = def.PingTimeout
	}
	return c
}

// MessageHandler receives every inbound message that passes the client's
// rate limit.
type MessageHandler func(ctx context.Context, conn registry.Conn, p auth.Principal, msg []byte)

// ErrShuttingDown is returned by Attach once Shutdown has begun.
var ErrShuttingDown = errors.New("hub is shutting down")

// SystemStatus is the system:status greeting.
type SystemStatus struct {
	Timestamp      time.Time `json:"timestamp"`
	Status         string    `json:"status"`
	ConnectedUsers int       `json:"connectedUsers"`
}

// UserData is the user:data greeting describing the connection's principal.
type UserData struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Role        string    `json:"role"`
	Permissions []string  `json:"permissions"`
	LastLogin   time.Time `json:"lastLogin"`
}

// Hub is safe for concurrent use.
type Hub struct {
	cfg     Config
	reg     *registry.Registry
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu        sync.RWMutex
	onMessage MessageHandler
	closed    bool

	wg sync.WaitGroup
}

// NewHub creates a Hub addressing clients through reg. m may be nil.
func NewHub(cfg Config, reg *registry.Registry, m *metrics.Metrics, logger *slog.Logger) *Hub {
	return &Hub{
		cfg:     cfg.withDefaults(),
		reg:     reg,
		metrics: m,
		logger:  logger.With("component", "hub"),
	}
}

// SetMessageHandler installs the handler for inbound client messages.
func (h *Hub) SetMessageHandler(fn MessageHandler) {
	h.mu.Lock()
	h.onMessage = fn
	h.mu.Unlock()
}

func (h *Hub) messageHandler() MessageHandler {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.onMessage
}

// ClientCount returns the number of registered connections.
func (h *Hub) ClientCount() int {
	return h.reg.Len()
}

// Attach registers an accepted WebSocket for p and serves it until either
// side closes. It blocks for the connection's lifetime and deregisters it
// before returning.
func (h *Hub) Attach(ctx context.Context, ws *websocket.Conn, p auth.Principal) error {
	// Registering under the read lock means Shutdown either refuses this
	// client or finds it in reg.Conns.
	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		ws.Close(websocket.StatusGoingAway, "server shutting down")
		return ErrShuttingDown
	}
	h.wg.Add(1)
	c := newClient(ctx, h, ws, p)
	superseded := h.reg.Register(c, p)
	h.mu.RUnlock()
	defer h.wg.Done()

	if h.metrics != nil {
		h.metrics.Connections.Inc()
		h.metrics.ConnectionsTotal.Inc()
	}
	c.logger.Info("client registered", "connections", h.reg.Len())

	if superseded != nil {
		h.handleDuplicate(superseded, p)
	}
	h.greet(c, p)

	c.run(ctx)

	h.reg.Deregister(c)
	if h.metrics != nil {
		h.metrics.Connections.Dec()
	}
	c.logger.Info("client unregistered", "connections", h.reg.Len())
	return nil
}

func (h *Hub) handleDuplicate(old registry.Conn, p auth.Principal) {
	if h.cfg.DuplicateLogin != PolicyEvict {
		h.logger.Info("connection superseded for user",
			"user", p.UserID,
			"superseded", old.ID(),
		)
		return
	}
	h.logger.Info("evicting earlier connection for user",
		"user", p.UserID,
		"evicted", old.ID(),
	)
	if c, ok := old.(*Client); ok {
		c.Close(websocket.StatusPolicyViolation, "superseded by a newer connection")
	}
}

func (h *Hub) greet(c *Client, p auth.Principal) {
	h.sendTo(c, router.EventSystemStatus, SystemStatus{
		Timestamp:      time.Now().UTC(),
		Status:         "online",
		ConnectedUsers: h.reg.ConnectedUserCount(),
	})
	h.sendTo(c, router.EventUserData, UserData{
		ID:          p.UserID,
		Name:        p.DisplayName,
		Role:        p.Role,
		Permissions: p.Permissions.List(),
		LastLogin:   p.LastLogin,
	})
}

func (h *Hub) sendTo(c registry.Conn, event string, payload any) bool {
	msg, err := router.Encode(event, payload)
	if err != nil {
		h.logger.Error("encode event failed", "event", event, "error", err)
		return false
	}
	if !c.Send(msg) {
		h.dropped(c, event)
		return false
	}
	return true
}

func (h *Hub) dropped(c registry.Conn, event string) {
	if h.metrics != nil {
		h.metrics.DroppedMessages.Inc()
	}
	h.logger.Debug("outbound message dropped", "conn", c.ID(), "event", event)
}

// BroadcastToTenant sends to every connection of tenantID and returns the
// number of connections the message was queued for.
func (h *Hub) BroadcastToTenant(tenantID, event string, payload any) int {
	return h.broadcast("tenant", registry.TenantRoom(tenantID), event, payload, nil)
}

// BroadcastToUser sends to the connection currently answering for userID.
func (h *Hub) BroadcastToUser(userID, event string, payload any) int {
	return h.broadcast("user", registry.UserRoom(userID), event, payload, nil)
}

// BroadcastToAll sends to every connection.
func (h *Hub) BroadcastToAll(event string, payload any) int {
	return h.broadcast("global", registry.GlobalRoom, event, payload, nil)
}

// BroadcastToRoom sends to every member of room.
func (h *Hub) BroadcastToRoom(room, event string, payload any) int {
	return h.broadcast("room", room, event, payload, nil)
}

// BroadcastToRoomExcept sends to room leaving out except.
func (h *Hub) BroadcastToRoomExcept(room, event string, payload any, except registry.Conn) int {
	return h.broadcast("room", room, event, payload, except)
}

func (h *Hub) broadcast(scope, room, event string, payload any, except registry.Conn) int {
	msg, err := router.Encode(event, payload)
	if err != nil {
		h.logger.Error("encode broadcast failed", "event", event, "room", room, "error", err)
		return 0
	}
	if h.metrics != nil {
		h.metrics.Broadcasts.WithLabelValues(scope).Inc()
	}

	n := 0
	for _, c := range h.reg.Members(room, except) {
		if c.Send(msg) {
			n++
			continue
		}
		h.dropped(c, event)
	}
	return n
}

// Shutdown stops accepting new clients, closes every live one and waits for
// their pumps to exit or ctx to expire.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()

	for _, conn := range h.reg.Conns() {
		if c, ok := conn.(*Client); ok {
			c.Close(websocket.StatusGoingAway, "server shutting down")
		}
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		h.logger.Info("hub stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
