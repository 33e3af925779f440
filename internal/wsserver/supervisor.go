package wsserver

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/sapience-markets/auction-relayer/internal/hub"
)

// SupervisorConfig is the resource policy gating accepted connections,
// sourced from config.SocketConfig (spec §4.7).
type SupervisorConfig struct {
	MaxConnections  int
	IdleTimeout     time.Duration
	RateLimitMax    int
	RateLimitWindow time.Duration
	AllowedOrigins  []string // empty = allow all
}

// ConnectionSupervisor owns the WebSocket upgrade, the accept-time resource
// gates (origin, connection cap), and the per-connection read loop that
// enforces idle timeout and rate limiting before handing frames to the
// MessageRouter. One Supervisor serves the relayer's single endpoint.
type ConnectionSupervisor struct {
	cfg      SupervisorConfig
	hub      *hub.Hub
	router   *MessageRouter
	upgrader websocket.Upgrader
	log      *zap.Logger

	mu        sync.Mutex
	liveCount int
}

// NewConnectionSupervisor builds a Supervisor. The upgrader's CheckOrigin
// decision delegates to the configured allowlist (spec §4.7: an empty
// allowlist means every origin is accepted).
func NewConnectionSupervisor(cfg SupervisorConfig, h *hub.Hub, router *MessageRouter, log *zap.Logger) *ConnectionSupervisor {
	s := &ConnectionSupervisor{cfg: cfg, hub: h, router: router, log: log}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *ConnectionSupervisor) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range s.cfg.AllowedOrigins {
		if strings.EqualFold(origin, allowed) {
			return true
		}
	}
	return false
}

// ServeHTTP upgrades the request and runs the connection's lifetime to
// completion. It never returns before the connection is fully torn down.
func (s *ConnectionSupervisor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !s.admit() {
		http.Error(w, "connection limit exceeded", http.StatusServiceUnavailable)
		return
	}
	defer s.release()

	raw, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("upgrade failed", zap.Error(err))
		return
	}

	domain, uri := hostAndURI(r)
	conn := NewConnection(raw, r.RemoteAddr, domain, uri)
	s.hub.Register(conn)

	limiter := newFixedWindowLimiter(s.cfg.RateLimitMax, s.cfg.RateLimitWindow)
	s.readLoop(conn, limiter)
	conn.Close(websocket.CloseNormalClosure, "")

	s.hub.UnsubscribeAll(conn)
	s.hub.Unregister(conn)
}

// admit reserves a connection slot, returning false if the pool is full.
func (s *ConnectionSupervisor) admit() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.liveCount >= s.cfg.MaxConnections {
		return false
	}
	s.liveCount++
	return true
}

func (s *ConnectionSupervisor) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.liveCount--
}

// readLoop pumps inbound frames until the connection closes, an idle
// timeout elapses, a rate-limit violation occurs, or a frame exceeds the
// size ceiling — each closing with the close code spec §4.7 specifies.
func (s *ConnectionSupervisor) readLoop(conn *Connection, limiter *fixedWindowLimiter) {
	ctx := context.Background()

	if s.cfg.IdleTimeout > 0 {
		conn.conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
	}
	conn.conn.SetPongHandler(func(string) error {
		if s.cfg.IdleTimeout > 0 {
			conn.conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
		}
		return nil
	})

	for {
		_, frame, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err) {
				s.log.Debug("connection closed unexpectedly", zap.Error(err))
			} else if ne, ok := err.(interface{ Timeout() bool }); ok && ne.Timeout() {
				conn.Close(websocket.ClosePolicyViolation, "idle_timeout")
			}
			return
		}

		if s.cfg.IdleTimeout > 0 {
			conn.conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
		}

		if s.router.TooLarge(frame) {
			conn.Close(websocket.CloseMessageTooBig, "message_too_large")
			return
		}

		if !limiter.Allow() {
			conn.Close(websocket.ClosePolicyViolation, "rate_limited")
			return
		}

		if reply := s.router.Route(ctx, conn, frame); reply != nil {
			conn.TrySend(reply)
		}
	}
}

// hostAndURI derives the fixed (domain, uri) pair a connection keeps for
// its lifetime, honoring a reverse proxy's forwarded scheme (spec §4.3.1).
// domain is recorded without a port (spec §6), since a client building the
// SIWE-shaped auction-start message to sign has no reliable way to know
// whether the relayer's own Host header happened to carry one.
func hostAndURI(r *http.Request) (domain, uri string) {
	domain = stripPort(r.Host)
	scheme := "wss"
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		if proto == "http" {
			scheme = "ws"
		}
	} else if r.TLS == nil {
		scheme = "ws"
	}
	return domain, scheme + "://" + r.Host + r.URL.Path
}

// stripPort removes a trailing ":port" from a Host header value, falling
// back to the raw value when it carries none (or fails to parse, e.g. an
// IPv6 host without brackets).
func stripPort(host string) string {
	h, _, err := net.SplitHostPort(host)
	if err != nil {
		return host
	}
	return h
}
