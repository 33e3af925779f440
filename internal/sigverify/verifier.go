// Package sigverify implements the relayer's signature-verification
// cascades: EIP-191 EOA, EIP-1271 contract, session-key delegation, and
// counterfactual smart-account ownership, composed as an ordered strategy
// list per message type.
package sigverify

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/sapience-markets/auction-relayer/internal/protocol"
)

// ChainClient is the subset of chain.Client the verifier needs. Declared
// locally so this package does not import chain, mirroring the decoupling
// the billing signer used for its nonce reader.
type ChainClient interface {
	HasCode(ctx context.Context, chainID int64, addr common.Address) bool
	VerifyEIP1271(ctx context.Context, chainID int64, addr common.Address, messageHash [32]byte, signature []byte) bool
}

// AddressDeriver is the subset of deriver.Deriver the verifier needs.
type AddressDeriver interface {
	Derive(owner common.Address) common.Address
}

// Verifier implements SigVerifier. Both dependencies are injected; there is
// no package-level state.
type Verifier struct {
	chain   ChainClient
	deriver AddressDeriver
	now     func() time.Time
}

// New builds a Verifier over the given ChainClient and AddressDeriver.
func New(chain ChainClient, deriver AddressDeriver) *Verifier {
	return &Verifier{chain: chain, deriver: deriver, now: time.Now}
}

// BuildAuctionStartMessage reconstructs the canonical SIWE-shaped string a
// taker signs to open an auction. domain/uri come from the connection's
// Host/X-Forwarded-Proto; both Nonce and Chain ID lines are mandatory.
func BuildAuctionStartMessage(domain, uri string, req protocol.AuctionRequest) string {
	outcome := ""
	if len(req.PredictedOutcomes) > 0 {
		outcome = req.PredictedOutcomes[0]
	}
	return fmt.Sprintf(
		"%s wants you to sign in with your Ethereum account:\n%s\n\n"+
			"Open a parlay auction.\n\n"+
			"URI: %s\n"+
			"Taker: %s\n"+
			"Nonce: %d\n"+
			"Chain ID: %d\n"+
			"Wager: %s\n"+
			"Outcome: %s\n"+
			"Resolver: %s\n"+
			"Issued At: %s",
		domain, req.Taker, uri, req.Taker, req.TakerNonce, req.ChainID, req.Wager, outcome, req.Resolver, req.TakerSignedAt,
	)
}

// VerifyAuctionStart implements spec §4.3.1: the session / EOA / derived-
// owner / EIP-1271 cascade, first success wins. Returns false whenever the
// request carries no signature at all.
func (v *Verifier) VerifyAuctionStart(ctx context.Context, domain, uri string, req protocol.AuctionRequest) bool {
	if strings.TrimSpace(req.TakerSignature) == "" || strings.TrimSpace(req.TakerSignedAt) == "" {
		return false
	}

	message := BuildAuctionStartMessage(domain, uri, req)
	if !strings.Contains(message, fmt.Sprintf("Nonce: %d", req.TakerNonce)) || !strings.Contains(message, fmt.Sprintf("Chain ID: %d", req.ChainID)) {
		return false
	}

	sig, err := decodeHexSignature(req.TakerSignature)
	if err != nil {
		return false
	}
	taker := common.HexToAddress(req.Taker)

	recovered, err := recoverEIP191([]byte(message), sig)
	if err != nil {
		return false
	}

	// 1. Session path: the recovered key must be the session key, and its
	// owner-authorization proof must bind it to the taker.
	if req.SessionMetadata != nil {
		if strings.EqualFold(recovered.Hex(), req.SessionMetadata.SessionKeyAddress) {
			if verifySessionAuthorization(req.SessionMetadata, taker, req.ChainID, common.HexToAddress(req.SessionMetadata.VerifyingContract), v.now()) {
				return true
			}
		}
	}

	// 2. EOA path.
	if recovered == taker {
		return true
	}

	// 3. Smart-account owner path.
	if v.deriver.Derive(recovered) == taker {
		return true
	}

	// 4. EIP-1271 path, only for deployed contracts.
	if v.chain.HasCode(ctx, req.ChainID, taker) {
		var hash [32]byte
		copy(hash[:], hashEIP191([]byte(message)))
		return v.chain.VerifyEIP1271(ctx, req.ChainID, taker, hash, sig)
	}

	return false
}

// VerifyBid implements spec §4.3.2: the session / EOA / derived-owner
// cascade over the Approve{messageHash,owner} typed-data digest.
func (v *Verifier) VerifyBid(ctx context.Context, auctionWager string, bid protocol.Bid, outcome string, resolver, taker common.Address, chainID int64, verifyingContract common.Address) bool {
	takerWager, ok := new(big.Int).SetString(auctionWager, 10)
	if !ok {
		return false
	}
	makerWager, ok := new(big.Int).SetString(bid.MakerWager, 10)
	if !ok {
		return false
	}
	maker := common.HexToAddress(bid.Maker)

	messageHash, err := BidMessageHash([]byte(outcome), makerWager, takerWager, resolver, taker, bid.MakerDeadline)
	if err != nil {
		return false
	}
	sig, err := decodeHexSignature(bid.MakerSignature)
	if err != nil {
		return false
	}

	recovered, err := recoverApprove(messageHash, maker, big.NewInt(chainID), verifyingContract, sig)
	if err != nil {
		return false
	}

	// 1. Session path: the recovered key is a session key authorized for maker.
	if strings.TrimSpace(bid.SessionApproval) != "" {
		meta := &protocol.SessionMetadata{
			SessionKeyAddress:  recovered.Hex(),
			SessionExpiresAt:   maxInt64,
			SessionApproval:    bid.SessionApproval,
			EnableTypedData:    bid.SessionTypedData,
			ChainID:            chainID,
			VerifyingContract:  verifyingContract.Hex(),
		}
		if verifySessionAuthorization(meta, maker, chainID, verifyingContract, v.now()) {
			return true
		}
	}

	// 2. EOA path.
	if recovered == maker {
		return true
	}

	// 3. Smart-account owner path.
	return v.deriver.Derive(recovered) == maker
}

// maxInt64 disables expiry checking for bid session approvals that carry
// their own expiresAt inside the serialized proof rather than sessionMetadata.
const maxInt64 = 1<<63 - 1
