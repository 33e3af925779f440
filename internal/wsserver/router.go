package wsserver

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/sapience-markets/auction-relayer/internal/protocol"
)

// MessageRouter decodes each inbound frame into protocol.ClientMessage and
// dispatches it to the matching Handlers method by type. Decode failures
// and unknown types are dropped silently, never torn down: spec §4.6 only
// calls for a hard close on oversized frames.
type MessageRouter struct {
	handlers      *Handlers
	maxFrameBytes int64
	log           *zap.Logger
}

// NewMessageRouter builds a MessageRouter over handlers. maxFrameBytes is
// the configured frame-size ceiling (spec §4.6 item 1, default 64,000).
func NewMessageRouter(handlers *Handlers, maxFrameBytes int64, log *zap.Logger) *MessageRouter {
	return &MessageRouter{handlers: handlers, maxFrameBytes: maxFrameBytes, log: log}
}

// TooLarge reports whether frame exceeds the frame-size ceiling.
func (r *MessageRouter) TooLarge(frame []byte) bool {
	return int64(len(frame)) > r.maxFrameBytes
}

// Route decodes one frame and dispatches it, returning the reply to send
// back (nil if the frame was malformed, unknown, or produces no reply).
func (r *MessageRouter) Route(ctx context.Context, conn *Connection, frame []byte) []byte {
	var msg protocol.ClientMessage
	if err := json.Unmarshal(frame, &msg); err != nil {
		r.log.Debug("dropping malformed frame", zap.Error(err))
		return nil
	}

	switch msg.Type {
	case "ping":
		return r.handlers.HandlePing(ctx, conn, msg.Payload)

	case "auction.start":
		return r.handlers.HandleAuctionStart(ctx, conn, msg.Payload, msg.ID)

	case "auction.subscribe":
		var payload protocol.AuctionSubscribePayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return encodeEnvelope("auction.ack", protocol.AuctionAck{ID: msg.ID, Error: "invalid_payload"})
		}
		return r.handlers.HandleAuctionSubscribe(conn, payload, msg.ID)

	case "auction.unsubscribe":
		var payload protocol.AuctionSubscribePayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return encodeEnvelope("auction.ack", protocol.AuctionAck{ID: msg.ID, Error: "invalid_payload"})
		}
		return r.handlers.HandleAuctionUnsubscribe(conn, payload, msg.ID)

	case "bid.submit":
		return r.handlers.HandleBidSubmit(ctx, conn, msg.Payload)

	case "vault_quote.observe":
		return r.handlers.HandleVaultObserve(conn)

	case "vault_quote.unobserve":
		return r.handlers.HandleVaultUnobserve(conn)

	case "vault_quote.subscribe":
		var payload protocol.VaultSubscribePayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return encodeEnvelope("vault_quote.ack", protocol.VaultQuoteAck{Error: "invalid_payload"})
		}
		return r.handlers.HandleVaultSubscribe(conn, payload)

	case "vault_quote.unsubscribe":
		var payload protocol.VaultSubscribePayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return encodeEnvelope("vault_quote.ack", protocol.VaultQuoteAck{Error: "invalid_payload"})
		}
		return r.handlers.HandleVaultUnsubscribe(conn, payload)

	case "vault_quote.publish", "vault_quote.submit":
		return r.handlers.HandleVaultPublish(ctx, msg.Payload)

	default:
		r.log.Debug("dropping unknown message type", zap.String("type", msg.Type))
		return nil
	}
}
