// Package server exposes the gateway over HTTP: the authenticated WebSocket
// upgrade, a health check and the Prometheus scrape endpoint.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"runtime"
	"strings"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/callpulse/callpulse/gateway/internal/auth"
	"github.com/callpulse/callpulse/gateway/internal/config"
	"github.com/callpulse/callpulse/gateway/internal/hub"
	"github.com/callpulse/callpulse/gateway/internal/metrics"
	"github.com/callpulse/callpulse/gateway/internal/registry"
)

const tokenParam = "token"

// Resolver turns a handshake token into a principal.
type Resolver interface {
	Resolve(ctx context.Context, token string) (auth.Principal, error)
}

type Server struct {
	cfg      config.ServerConfig
	resolver Resolver
	hub      *hub.Hub
	reg      *registry.Registry
	metrics  *metrics.Metrics
	logger   *slog.Logger

	router chi.Router
}

// New builds the HTTP handler tree. gatherer backs the metrics endpoint; a
// nil gatherer disables it.
func New(cfg config.ServerConfig, resolver Resolver, h *hub.Hub, reg *registry.Registry, m *metrics.Metrics, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		resolver: resolver,
		hub:      h,
		reg:      reg,
		metrics:  m,
		logger:   logger.With("component", "http"),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)

	r.Get("/ws", s.handleWS)
	r.Get("/health", s.handleHealth)
	if gatherer != nil {
		path := cfg.MetricsPath
		if path == "" {
			path = config.DefaultMetricsPath
		}
		r.Handle(path, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	s.router = r
	return s
}

// Handler returns the routed handler tree.
func (s *Server) Handler() http.Handler { return s.router }

// tokenFromRequest reads the handshake credential from the token query
// parameter, a bearer Authorization header or the token cookie, in that
// order.
func tokenFromRequest(r *http.Request) string {
	if t := r.URL.Query().Get(tokenParam); t != "" {
		return t
	}
	if h := r.Header.Get("Authorization"); h != "" {
		if t, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(t)
		}
	}
	if c, err := r.Cookie(tokenParam); err == nil {
		return c.Value
	}
	return ""
}

type errorBody struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	p, err := s.resolver.Resolve(r.Context(), tokenFromRequest(r))
	if err != nil {
		var ae *auth.AuthError
		if errors.As(err, &ae) {
			s.rejected(string(ae.Reason))
			s.logger.Info("handshake rejected",
				"reason", ae.Reason,
				"remote", r.RemoteAddr,
				"request_id", middleware.GetReqID(r.Context()),
			)
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized", Reason: string(ae.Reason)})
			return
		}
		s.rejected("unavailable")
		s.logger.Error("session lookup failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "session store unavailable"})
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:     s.cfg.OriginPatterns,
		InsecureSkipVerify: s.cfg.AllowAnyOrigin,
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", "user", p.UserID, "error", err)
		return
	}

	if err := s.hub.Attach(r.Context(), ws, p); err != nil {
		s.logger.Debug("connection refused", "user", p.UserID, "error", err)
	}
}

func (s *Server) rejected(reason string) {
	if s.metrics != nil {
		s.metrics.AuthRejections.WithLabelValues(reason).Inc()
	}
}

type health struct {
	Status         string `json:"status"`
	Connections    int    `json:"connections"`
	ConnectedUsers int    `json:"connectedUsers"`
	Goroutines     int    `json:"goroutines"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, health{
		Status:         "ok",
		Connections:    s.reg.Len(),
		ConnectedUsers: s.reg.ConnectedUserCount(),
		Goroutines:     runtime.NumGoroutine(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
