package wsserver

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/sapience-markets/auction-relayer/internal/hub"
)

func newTestSupervisor(t *testing.T, cfg SupervisorConfig) *ConnectionSupervisor {
	t.Helper()
	h := newTestHandlers(t)
	router := NewMessageRouter(h, 64000, zap.NewNop())
	return NewConnectionSupervisor(cfg, hub.New(), router, zap.NewNop())
}

func TestCheckOriginAllowsAllWhenAllowlistEmpty(t *testing.T) {
	s := newTestSupervisor(t, SupervisorConfig{MaxConnections: 1})
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Origin", "https://anything.example")
	if !s.checkOrigin(req) {
		t.Fatal("expected empty allowlist to accept any origin")
	}
}

func TestCheckOriginRejectsUnlistedOrigin(t *testing.T) {
	s := newTestSupervisor(t, SupervisorConfig{MaxConnections: 1, AllowedOrigins: []string{"https://trusted.example"}})
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Origin", "https://untrusted.example")
	if s.checkOrigin(req) {
		t.Fatal("expected unlisted origin to be rejected")
	}
}

func TestCheckOriginMatchesCaseInsensitively(t *testing.T) {
	s := newTestSupervisor(t, SupervisorConfig{MaxConnections: 1, AllowedOrigins: []string{"https://Trusted.Example"}})
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Origin", "https://trusted.example")
	if !s.checkOrigin(req) {
		t.Fatal("expected case-insensitive origin match")
	}
}

func TestAdmitReleaseRespectsMaxConnections(t *testing.T) {
	s := newTestSupervisor(t, SupervisorConfig{MaxConnections: 1})
	if !s.admit() {
		t.Fatal("expected first admit to succeed")
	}
	if s.admit() {
		t.Fatal("expected second admit to fail at the connection cap")
	}
	s.release()
	if !s.admit() {
		t.Fatal("expected admit to succeed again after release")
	}
}

func TestHostAndURIDerivesSchemeFromForwardedProto(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Host = "relayer.example"
	req.Header.Set("X-Forwarded-Proto", "https")
	domain, uri := hostAndURI(req)
	if domain != "relayer.example" {
		t.Fatalf("unexpected domain: %s", domain)
	}
	if !strings.HasPrefix(uri, "wss://relayer.example") {
		t.Fatalf("expected wss scheme from forwarded https, got %s", uri)
	}
}

func TestHostAndURIStripsPortFromDomain(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Host = "relayer.example:8080"
	req.Header.Set("X-Forwarded-Proto", "https")
	domain, uri := hostAndURI(req)
	if domain != "relayer.example" {
		t.Fatalf("expected domain without port, got %s", domain)
	}
	if !strings.HasPrefix(uri, "wss://relayer.example:8080") {
		t.Fatalf("expected uri to keep the port, got %s", uri)
	}
}

func TestStripPortFallsBackOnHostWithoutPort(t *testing.T) {
	if got := stripPort("relayer.example"); got != "relayer.example" {
		t.Fatalf("expected unchanged host without a port, got %s", got)
	}
}

func TestHostAndURIDefaultsToPlaintextWithoutTLSOrForwarding(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Host = "relayer.example"
	domain, uri := hostAndURI(req)
	if domain != "relayer.example" {
		t.Fatalf("unexpected domain: %s", domain)
	}
	if !strings.HasPrefix(uri, "ws://relayer.example") {
		t.Fatalf("expected ws scheme without TLS or forwarding, got %s", uri)
	}
}

func TestServeHTTPUpgradesAndRoutesPing(t *testing.T) {
	s := newTestSupervisor(t, SupervisorConfig{MaxConnections: 4})
	srv := httptest.NewServer(s)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	msgType, _ := decodeServerMessage(t, raw)
	if msgType != "pong" {
		t.Fatalf("expected pong, got %s", msgType)
	}
}

func TestServeHTTPRejectsBeyondConnectionCap(t *testing.T) {
	s := newTestSupervisor(t, SupervisorConfig{MaxConnections: 1})
	srv := httptest.NewServer(s)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	first, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("first dial failed: %v", err)
	}
	defer first.Close()

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("expected second dial to fail at the connection cap")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 response, got %+v", resp)
	}
}
