// Package protocol defines the wire types exchanged over the auction
// WebSocket: client envelopes, server envelopes, and the domain payloads
// carried inside them (AuctionRequest, Bid, VaultQuote).
package protocol

import (
	"encoding/json"
	"time"
)

// ClientMessage is the envelope every inbound frame must decode into.
type ClientMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	ID      string          `json:"id,omitempty"`
}

// ServerMessage is the envelope every outbound frame is serialized from.
type ServerMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// SessionMetadata binds a session key to a taker/maker account for the
// session-signing path of the verification cascade (spec §4.3.1 step 1).
type SessionMetadata struct {
	SessionKeyAddress  string          `json:"sessionKeyAddress"`
	SessionExpiresAt   int64           `json:"sessionExpiresAt"`
	SessionApproval    string          `json:"sessionApproval,omitempty"`
	EnableTypedData    json.RawMessage `json:"enableTypedData,omitempty"`
	Account            string          `json:"account,omitempty"`
	ChainID            int64           `json:"chainId,omitempty"`
	VerifyingContract  string          `json:"verifyingContract,omitempty"`
}

// AuctionRequest is what a taker submits via auction.start.
type AuctionRequest struct {
	Wager             string           `json:"wager"`
	PredictedOutcomes []string         `json:"predictedOutcomes"`
	Resolver          string           `json:"resolver"`
	Taker             string           `json:"taker"`
	TakerNonce        uint64           `json:"takerNonce"`
	ChainID           int64            `json:"chainId"`
	TakerSignature    string           `json:"takerSignature,omitempty"`
	TakerSignedAt     string           `json:"takerSignedAt,omitempty"`
	SessionMetadata   *SessionMetadata `json:"sessionMetadata,omitempty"`
}

// Auction is a registered AuctionRequest plus registry-assigned identity.
type Auction struct {
	AuctionRequest
	AuctionID string    `json:"auctionId"`
	CreatedAt time.Time `json:"createdAt"`
}

// Bid is a maker's signed counter-offer against an open auction.
type Bid struct {
	AuctionID       string           `json:"auctionId"`
	Maker           string           `json:"maker"`
	MakerWager      string           `json:"makerWager"`
	MakerDeadline   int64            `json:"makerDeadline"`
	MakerSignature  string           `json:"makerSignature"`
	MakerNonce      uint64           `json:"makerNonce"`
	SessionApproval string           `json:"sessionApproval,omitempty"`
	SessionTypedData json.RawMessage `json:"sessionTypedData,omitempty"`
}

// VaultQuote is a signed share-price quote for a vault.
type VaultQuote struct {
	ChainID                 int64  `json:"chainId"`
	VaultAddress            string `json:"vaultAddress"`
	VaultCollateralPerShare string `json:"vaultCollateralPerShare"`
	Timestamp               int64  `json:"timestamp"`
	SignedBy                string `json:"signedBy"`
	Signature               string `json:"signature"`
}

// AuctionSubscribePayload is the payload for auction.subscribe/unsubscribe.
type AuctionSubscribePayload struct {
	AuctionID string `json:"auctionId"`
}

// VaultSubscribePayload is the payload for vault_quote.subscribe/unsubscribe.
type VaultSubscribePayload struct {
	ChainID      int64  `json:"chainId"`
	VaultAddress string `json:"vaultAddress"`
}

// AuctionAck is the reply to auction.start/subscribe/unsubscribe.
type AuctionAck struct {
	AuctionID    string `json:"auctionId,omitempty"`
	ID           string `json:"id,omitempty"`
	Error        string `json:"error,omitempty"`
	Subscribed   bool   `json:"subscribed,omitempty"`
	Unsubscribed bool   `json:"unsubscribed,omitempty"`
}

// AuctionStarted is broadcast to all connected clients on a successful auction.start.
type AuctionStarted struct {
	AuctionRequest
	AuctionID string `json:"auctionId"`
}

// AuctionBids is the per-channel bid snapshot/update.
type AuctionBids struct {
	AuctionID string `json:"auctionId"`
	Bids      []Bid  `json:"bids"`
}

// BidAck is the reply to bid.submit.
type BidAck struct {
	Error string `json:"error,omitempty"`
}

// VaultQuoteAck is the reply to vault_quote.* control messages.
type VaultQuoteAck struct {
	OK    bool   `json:"ok,omitempty"`
	Error string `json:"error,omitempty"`
}

// VaultQuoteRequested is broadcast to observers on vault_quote.subscribe.
type VaultQuoteRequested struct {
	ChainID      int64  `json:"chainId"`
	VaultAddress string `json:"vaultAddress"`
	Channel      string `json:"channel"`
}
