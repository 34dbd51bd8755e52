package hub

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/callpulse/callpulse/gateway/internal/auth"
)

// Client is one live WebSocket connection.
type Client struct {
	id        string
	hub       *Hub
	conn      *websocket.Conn
	principal auth.Principal
	send      chan []byte
	limiter   *rate.Limiter
	logger    *slog.Logger

	// ctx ends the write and heartbeat pumps. The read pump runs on the
	// parent context so the close handshake can complete.
	ctx    context.Context
	cancel context.CancelFunc

	closeOnce   sync.Once
	closeCode   websocket.StatusCode
	closeReason string
}

func newClient(parent context.Context, h *Hub, ws *websocket.Conn, p auth.Principal) *Client {
	ctx, cancel := context.WithCancel(parent)
	id := uuid.NewString()

	limit := rate.Inf
	if h.cfg.EventRate > 0 {
		limit = rate.Limit(h.cfg.EventRate)
	}
	burst := h.cfg.EventBurst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		id:        id,
		hub:       h,
		conn:      ws,
		principal: p,
		send:      make(chan []byte, h.cfg.SendBuffer),
		limiter:   rate.NewLimiter(limit, burst),
		logger:    h.logger.With("conn", id, "user", p.UserID, "tenant", p.TenantID),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// ID returns the connection id assigned at upgrade.
func (c *Client) ID() string { return c.id }

// Principal returns the identity the connection authenticated as.
func (c *Client) Principal() auth.Principal { return c.principal }

// Send queues msg without blocking. It returns false when the buffer is full
// or the client is closing.
func (c *Client) Send(msg []byte) bool {
	if c.ctx.Err() != nil {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// Close asks the client to close with the given status. It does not wait;
// the write pump performs the close handshake. Only the first call counts.
func (c *Client) Close(code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeReason = reason
		c.cancel()
	})
}

// run serves the connection until the read side ends.
func (c *Client) run(parent context.Context) {
	c.conn.SetReadLimit(c.hub.cfg.ReadLimit)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.writePump()
	}()
	go func() {
		defer wg.Done()
		c.heartbeatLoop()
	}()

	c.readPump(parent)
	c.Close(websocket.StatusNormalClosure, "")
	wg.Wait()
}

func (c *Client) readPump(ctx context.Context) {
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			if c.ctx.Err() == nil && websocket.CloseStatus(err) == -1 {
				c.logger.Debug("read ended", "error", err)
			}
			return
		}
		if typ != websocket.MessageText && typ != websocket.MessageBinary {
			continue
		}
		if !c.limiter.Allow() {
			c.logger.Debug("inbound event rate limited")
			if c.hub.metrics != nil {
				c.hub.metrics.Events.WithLabelValues("", "rate_limited").Inc()
			}
			continue
		}
		if h := c.hub.messageHandler(); h != nil {
			h(c.ctx, c, c.principal, data)
		}
	}
}

func (c *Client) writePump() {
	for {
		if c.ctx.Err() != nil {
			c.conn.Close(c.closeCode, c.closeReason)
			return
		}
		select {
		case msg := <-c.send:
			// Writes and pings are bounded by their own timeouts, not c.ctx:
			// cancelling a websocket operation's context tears the connection
			// down without a close frame.
			wctx, cancel := context.WithTimeout(context.Background(), c.hub.cfg.WriteTimeout)
			err := c.conn.Write(wctx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				if c.ctx.Err() == nil {
					c.logger.Warn("write failed, closing client", "error", err)
				}
				c.Close(websocket.StatusInternalError, "write failed")
				c.conn.CloseNow()
				return
			}
		case <-c.ctx.Done():
			c.conn.Close(c.closeCode, c.closeReason)
			return
		}
	}
}

// heartbeatLoop pings the client and closes it if a pong does not arrive in
// time.
func (c *Client) heartbeatLoop() {
	ticker := time.NewTicker(c.hub.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(context.Background(), c.hub.cfg.PingTimeout)
			err := c.conn.Ping(pctx)
			cancel()
			if err != nil {
				if c.ctx.Err() == nil {
					c.logger.Info("heartbeat failed, closing client", "error", err)
				}
				c.Close(websocket.StatusGoingAway, "heartbeat timeout")
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}
