package wsserver

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/sapience-markets/auction-relayer/internal/hub"
	"github.com/sapience-markets/auction-relayer/internal/observer"
	"github.com/sapience-markets/auction-relayer/internal/protocol"
	"github.com/sapience-markets/auction-relayer/internal/registry"
	"github.com/sapience-markets/auction-relayer/internal/replay"
	"github.com/sapience-markets/auction-relayer/internal/sigverify"
)

const nonceClaimTTL = 10 * time.Minute

const defaultVaultQuoteFreshnessWindow = 5 * time.Minute

// HandlerConfig is the subset of socket policy the handlers need directly
// (resource-policy fields like connection caps live in the supervisor).
type HandlerConfig struct {
	EnforceBidSignature       bool
	VaultQuoteFreshnessWindow time.Duration // zero uses the 5-minute default
}

// Handlers implements every `type` the relayer's MessageRouter dispatches,
// per spec §4.6's exact contract.
type Handlers struct {
	registry *registry.Registry
	hub      *hub.Hub
	verifier *sigverify.Verifier
	replay   replay.Cache
	obs      observer.Observer
	cfg      HandlerConfig
	log      *zap.Logger
}

// NewHandlers wires a Handlers over its dependencies.
func NewHandlers(reg *registry.Registry, h *hub.Hub, verifier *sigverify.Verifier, replayCache replay.Cache, obs observer.Observer, cfg HandlerConfig, log *zap.Logger) *Handlers {
	if cfg.VaultQuoteFreshnessWindow <= 0 {
		cfg.VaultQuoteFreshnessWindow = defaultVaultQuoteFreshnessWindow
	}
	return &Handlers{registry: reg, hub: h, verifier: verifier, replay: replayCache, obs: obs, cfg: cfg, log: log}
}

func encodeEnvelope(msgType string, payload any) []byte {
	b, err := json.Marshal(protocol.ServerMessage{Type: msgType, Payload: payload})
	if err != nil {
		return nil
	}
	return b
}

// HandlePing replies pong.
func (h *Handlers) HandlePing(ctx context.Context, conn *Connection, raw json.RawMessage) []byte {
	return encodeEnvelope("pong", struct{}{})
}

// HandleAuctionStart implements `auction.start` per spec §4.6.
func (h *Handlers) HandleAuctionStart(ctx context.Context, conn *Connection, raw json.RawMessage, id string) []byte {
	var req protocol.AuctionRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return encodeEnvelope("auction.ack", protocol.AuctionAck{ID: id, Error: "invalid_payload"})
	}

	if strings.TrimSpace(req.TakerSignature) != "" {
		if !h.verifier.VerifyAuctionStart(ctx, conn.Domain(), conn.URI(), req) {
			return encodeEnvelope("auction.ack", protocol.AuctionAck{ID: id, Error: "invalid_signature"})
		}
		claimKey := "auction-start:" + strings.ToLower(req.Taker) + ":" + itoa(int64(req.TakerNonce))
		if fresh, err := h.replay.Claim(ctx, claimKey, nonceClaimTTL); err == nil && !fresh {
			return encodeEnvelope("auction.ack", protocol.AuctionAck{ID: id, Error: "invalid_signature"})
		}
	}

	auctionID := h.registry.UpsertAuction(req)
	channel := protocol.AuctionChannel(auctionID)
	h.hub.Subscribe(channel, conn)
	conn.MarkSubscribed(channel)
	h.obs.AuctionStarted(auctionID, req.Taker)

	ack := encodeEnvelope("auction.ack", protocol.AuctionAck{AuctionID: auctionID, ID: id})

	started := protocol.AuctionStarted{AuctionRequest: req, AuctionID: auctionID}
	h.hub.BroadcastAll(encodeEnvelope("auction.started", started))

	if bids := h.registry.GetBids(auctionID); len(bids) > 0 {
		conn.TrySend(encodeEnvelope("auction.bids", protocol.AuctionBids{AuctionID: auctionID, Bids: bids}))
	}

	return ack
}

// HandleAuctionSubscribe implements `auction.subscribe`.
func (h *Handlers) HandleAuctionSubscribe(conn *Connection, payload protocol.AuctionSubscribePayload, id string) []byte {
	if strings.TrimSpace(payload.AuctionID) == "" {
		return encodeEnvelope("auction.ack", protocol.AuctionAck{ID: id, Error: "missing_auction_id"})
	}

	channel := protocol.AuctionChannel(payload.AuctionID)
	h.hub.Subscribe(channel, conn)
	conn.MarkSubscribed(channel)

	if bids := h.registry.GetBids(payload.AuctionID); len(bids) > 0 {
		conn.TrySend(encodeEnvelope("auction.bids", protocol.AuctionBids{AuctionID: payload.AuctionID, Bids: bids}))
	}

	return encodeEnvelope("auction.ack", protocol.AuctionAck{AuctionID: payload.AuctionID, ID: id, Subscribed: true})
}

// HandleAuctionUnsubscribe implements `auction.unsubscribe`.
func (h *Handlers) HandleAuctionUnsubscribe(conn *Connection, payload protocol.AuctionSubscribePayload, id string) []byte {
	if strings.TrimSpace(payload.AuctionID) == "" {
		return encodeEnvelope("auction.ack", protocol.AuctionAck{ID: id, Error: "missing_auction_id"})
	}

	channel := protocol.AuctionChannel(payload.AuctionID)
	h.hub.Unsubscribe(channel, conn)
	conn.MarkUnsubscribed(channel)

	return encodeEnvelope("auction.ack", protocol.AuctionAck{AuctionID: payload.AuctionID, ID: id, Unsubscribed: true})
}

// HandleBidSubmit implements `bid.submit` per spec §4.6, including the
// advisory (logged, non-rejecting) signature check the source left
// unenforced unless EnforceBidSignature is set.
func (h *Handlers) HandleBidSubmit(ctx context.Context, conn *Connection, raw json.RawMessage) []byte {
	var bid protocol.Bid
	if err := json.Unmarshal(raw, &bid); err != nil {
		return encodeEnvelope("bid.ack", protocol.BidAck{Error: "invalid_payload"})
	}

	auction, ok := h.registry.GetAuction(bid.AuctionID)
	if !ok {
		return encodeEnvelope("bid.ack", protocol.BidAck{Error: "auction_not_found_or_expired"})
	}

	if errKind := structurallyValidateBid(bid); errKind != "" {
		return encodeEnvelope("bid.ack", protocol.BidAck{Error: errKind})
	}
	if bid.MakerDeadline <= time.Now().Unix() {
		return encodeEnvelope("bid.ack", protocol.BidAck{Error: "quote_expired"})
	}

	outcome := ""
	if len(auction.PredictedOutcomes) > 0 {
		outcome = auction.PredictedOutcomes[0]
	}
	valid := h.verifier.VerifyBid(ctx, auction.Wager, bid, outcome, common.HexToAddress(auction.Resolver), common.HexToAddress(auction.Taker), auction.ChainID, common.Address{})
	h.obs.BidSubmitted(bid.AuctionID, bid.Maker, valid)
	if !valid {
		h.log.Info("bid signature verification failed (advisory)", zap.String("auctionId", bid.AuctionID), zap.String("maker", bid.Maker))
		if h.cfg.EnforceBidSignature {
			return encodeEnvelope("bid.ack", protocol.BidAck{Error: "invalid_signature"})
		}
	} else if h.cfg.EnforceBidSignature {
		claimKey := "bid-submit:" + strings.ToLower(bid.Maker) + ":" + itoa(int64(bid.MakerNonce))
		if fresh, err := h.replay.Claim(ctx, claimKey, nonceClaimTTL); err == nil && !fresh {
			return encodeEnvelope("bid.ack", protocol.BidAck{Error: "invalid_signature"})
		}
	}

	channel := protocol.AuctionChannel(bid.AuctionID)
	var ack []byte
	ok = h.registry.WithAuctionLock(bid.AuctionID, func() {
		h.registry.AddBid(bid.AuctionID, bid)
		bids := h.registry.GetBids(bid.AuctionID)
		h.hub.Broadcast(channel, encodeEnvelope("auction.bids", protocol.AuctionBids{AuctionID: bid.AuctionID, Bids: bids}))
		ack = encodeEnvelope("bid.ack", protocol.BidAck{})
	})
	if !ok {
		return encodeEnvelope("bid.ack", protocol.BidAck{Error: "auction_not_found_or_expired"})
	}
	return ack
}

func structurallyValidateBid(bid protocol.Bid) string {
	if !common.IsHexAddress(bid.Maker) {
		return "invalid_maker"
	}
	wager, ok := new(big.Int).SetString(bid.MakerWager, 10)
	if !ok || wager.Sign() <= 0 {
		return "invalid_maker_wager"
	}
	if bid.MakerDeadline <= time.Now().Unix() {
		return "quote_expired"
	}
	if len(strings.TrimPrefix(bid.MakerSignature, "0x")) < 10 {
		return "invalid_maker_bid_signature_format"
	}
	return ""
}

func itoa(n int64) string { return strconv.FormatInt(n, 10) }

func decodeHexSig(raw string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(raw, "0x"))
}

// HandleVaultObserve implements `vault_quote.observe`.
func (h *Handlers) HandleVaultObserve(conn *Connection) []byte {
	h.hub.Observe(conn)
	return encodeEnvelope("vault_quote.ack", protocol.VaultQuoteAck{OK: true})
}

// HandleVaultUnobserve implements `vault_quote.unobserve`.
func (h *Handlers) HandleVaultUnobserve(conn *Connection) []byte {
	h.hub.Unobserve(conn)
	return encodeEnvelope("vault_quote.ack", protocol.VaultQuoteAck{OK: true})
}

// HandleVaultSubscribe implements `vault_quote.subscribe`.
func (h *Handlers) HandleVaultSubscribe(conn *Connection, payload protocol.VaultSubscribePayload) []byte {
	key := protocol.NewVaultKey(payload.ChainID, payload.VaultAddress)
	channel := protocol.VaultChannel(payload.ChainID, payload.VaultAddress)

	h.hub.Subscribe(channel, conn)
	conn.MarkSubscribed(channel)

	if quote, ok := h.registry.GetLatestVaultQuote(key); ok {
		conn.TrySend(encodeEnvelope("vault_quote.update", quote))
	}

	h.hub.BroadcastToObservers(encodeEnvelope("vault_quote.requested", protocol.VaultQuoteRequested{
		ChainID: payload.ChainID, VaultAddress: payload.VaultAddress, Channel: channel,
	}))

	return encodeEnvelope("vault_quote.ack", protocol.VaultQuoteAck{OK: true})
}

// HandleVaultUnsubscribe implements `vault_quote.unsubscribe`.
func (h *Handlers) HandleVaultUnsubscribe(conn *Connection, payload protocol.VaultSubscribePayload) []byte {
	channel := protocol.VaultChannel(payload.ChainID, payload.VaultAddress)
	h.hub.Unsubscribe(channel, conn)
	conn.MarkUnsubscribed(channel)
	return encodeEnvelope("vault_quote.ack", protocol.VaultQuoteAck{OK: true})
}

// HandleVaultPublish implements `vault_quote.publish` (and its `submit`
// alias) per spec §4.6 and the canonical message format in §6.
func (h *Handlers) HandleVaultPublish(ctx context.Context, raw json.RawMessage) []byte {
	var q protocol.VaultQuote
	if err := json.Unmarshal(raw, &q); err != nil {
		return encodeEnvelope("vault_quote.ack", protocol.VaultQuoteAck{Error: "invalid_payload"})
	}
	if q.ChainID == 0 || !common.IsHexAddress(q.VaultAddress) || !common.IsHexAddress(q.SignedBy) || q.VaultCollateralPerShare == "" {
		return encodeEnvelope("vault_quote.ack", protocol.VaultQuoteAck{Error: "invalid_payload"})
	}

	now := time.Now()
	ts := time.UnixMilli(q.Timestamp)
	if diff := now.Sub(ts); diff > h.cfg.VaultQuoteFreshnessWindow || diff < -h.cfg.VaultQuoteFreshnessWindow {
		return encodeEnvelope("vault_quote.ack", protocol.VaultQuoteAck{Error: "stale_timestamp"})
	}

	message := buildVaultQuoteMessage(q)
	signedBy := common.HexToAddress(q.SignedBy)
	sig, err := decodeHexSig(q.Signature)
	if err != nil || !sigverify.VerifyEIP191([]byte(message), sig, signedBy) {
		h.obs.VaultQuotePublished(q.ChainID, q.VaultAddress, false, "bad_signature")
		return encodeEnvelope("vault_quote.ack", protocol.VaultQuoteAck{Error: "bad_signature"})
	}

	key := protocol.NewVaultKey(q.ChainID, q.VaultAddress)
	authorized, ok := h.registry.AuthorizedSigner(ctx, key)
	if !ok || !strings.EqualFold(authorized.Hex(), signedBy.Hex()) {
		h.obs.VaultQuotePublished(q.ChainID, q.VaultAddress, false, "unauthorized_signer")
		return encodeEnvelope("vault_quote.ack", protocol.VaultQuoteAck{Error: "unauthorized_signer"})
	}

	claimKey := "vault-quote:" + key.Vault + ":" + itoa(q.ChainID) + ":" + itoa(q.Timestamp)
	if fresh, err := h.replay.Claim(ctx, claimKey, h.cfg.VaultQuoteFreshnessWindow); err == nil && !fresh {
		h.obs.VaultQuotePublished(q.ChainID, q.VaultAddress, false, "stale_timestamp")
		return encodeEnvelope("vault_quote.ack", protocol.VaultQuoteAck{Error: "stale_timestamp"})
	}

	q.VaultAddress = key.Vault
	h.registry.PutVaultQuote(key, q)
	h.obs.VaultQuotePublished(q.ChainID, q.VaultAddress, true, "")

	channel := protocol.VaultChannel(q.ChainID, q.VaultAddress)
	payload := encodeEnvelope("vault_quote.update", q)
	h.hub.Broadcast(channel, payload)
	h.hub.BroadcastToObservers(payload)

	return encodeEnvelope("vault_quote.ack", protocol.VaultQuoteAck{OK: true})
}

// buildVaultQuoteMessage builds the 5-line canonical message spec §6 requires.
func buildVaultQuoteMessage(q protocol.VaultQuote) string {
	return strings.Join([]string{
		"Sapience Vault Share Quote",
		"Vault: " + strings.ToLower(q.VaultAddress),
		"ChainId: " + itoa(q.ChainID),
		"CollateralPerShare: " + q.VaultCollateralPerShare,
		"Timestamp: " + itoa(q.Timestamp),
	}, "\n")
}
