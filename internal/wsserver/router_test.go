package wsserver

import (
	"context"
	"testing"

	"go.uber.org/zap"
)

func newTestRouter(t *testing.T, maxFrameBytes int64) *MessageRouter {
	t.Helper()
	h := newTestHandlers(t)
	return NewMessageRouter(h, maxFrameBytes, zap.NewNop())
}

func TestRouteUnknownTypeReturnsNilSilently(t *testing.T) {
	r := newTestRouter(t, 64000)
	reply := r.Route(context.Background(), newTestConnection(), []byte(`{"type":"does.not.exist"}`))
	if reply != nil {
		t.Fatalf("expected no reply for unknown type, got %s", reply)
	}
}

func TestRouteMalformedFrameReturnsNil(t *testing.T) {
	r := newTestRouter(t, 64000)
	reply := r.Route(context.Background(), newTestConnection(), []byte(`not json`))
	if reply != nil {
		t.Fatalf("expected no reply for malformed frame, got %s", reply)
	}
}

func TestRoutePingDispatches(t *testing.T) {
	r := newTestRouter(t, 64000)
	reply := r.Route(context.Background(), newTestConnection(), []byte(`{"type":"ping"}`))
	if reply == nil {
		t.Fatal("expected a pong reply")
	}
	msgType, _ := decodeServerMessage(t, reply)
	if msgType != "pong" {
		t.Fatalf("expected pong, got %s", msgType)
	}
}

func TestRouteAuctionSubscribeInvalidPayload(t *testing.T) {
	r := newTestRouter(t, 64000)
	reply := r.Route(context.Background(), newTestConnection(), []byte(`{"type":"auction.subscribe","payload":123}`))
	msgType, payload := decodeServerMessage(t, reply)
	if msgType != "auction.ack" || payload["error"] != "invalid_payload" {
		t.Fatalf("expected invalid_payload ack, got %v", payload)
	}
}

func TestRouteVaultPublishAcceptsSubmitAlias(t *testing.T) {
	r := newTestRouter(t, 64000)
	quoteFrame := []byte(`{"type":"vault_quote.submit","payload":{"chainId":8453,"vaultAddress":"0x4444444444444444444444444444444444444444","vaultCollateralPerShare":"1","timestamp":1,"signedBy":"0x5555555555555555555555555555555555555555","signature":"0x00"}}`)
	reply := r.Route(context.Background(), newTestConnection(), quoteFrame)
	msgType, payload := decodeServerMessage(t, reply)
	if msgType != "vault_quote.ack" {
		t.Fatalf("expected vault_quote.ack, got %s", msgType)
	}
	if payload["error"] != "bad_signature" && payload["error"] != "stale_timestamp" {
		t.Fatalf("expected a rejection ack for a fabricated signature/timestamp, got %v", payload)
	}
}

func TestTooLargeReportsOversizedFrames(t *testing.T) {
	r := newTestRouter(t, 8)
	if !r.TooLarge(make([]byte, 9)) {
		t.Fatal("expected 9 bytes to exceed an 8-byte ceiling")
	}
	if r.TooLarge(make([]byte, 8)) {
		t.Fatal("expected 8 bytes not to exceed an 8-byte ceiling")
	}
}
