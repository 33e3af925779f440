package sigverify

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/sapience-markets/auction-relayer/internal/deriver"
	"github.com/sapience-markets/auction-relayer/internal/protocol"
)

// fakeChain reports hasCode and eip1271 as configured. Its zero value never
// has code and always rejects EIP-1271, so cascade tests using it exercise
// the EOA / smart-account-owner paths deterministically.
type fakeChain struct {
	hasCode  bool
	eip1271  bool
}

func (f *fakeChain) HasCode(ctx context.Context, chainID int64, addr common.Address) bool {
	return f.hasCode
}

func (f *fakeChain) VerifyEIP1271(ctx context.Context, chainID int64, addr common.Address, messageHash [32]byte, signature []byte) bool {
	return f.eip1271
}

func signEIP191(t *testing.T, priv *ecdsa.PrivateKey, msg string) string {
	t.Helper()
	sig, err := crypto.Sign(hashEIP191([]byte(msg)), priv)
	if err != nil {
		t.Fatal(err)
	}
	sig[64] += 27
	return "0x" + hex.EncodeToString(sig)
}

func newAuctionRequest(taker common.Address) protocol.AuctionRequest {
	return protocol.AuctionRequest{
		Wager:             "1000000000000000000",
		PredictedOutcomes: []string{"0xdeadbeef"},
		Resolver:          "0x1234567890123456789012345678901234567890",
		Taker:             taker.Hex(),
		TakerNonce:        1,
		ChainID:           42161,
		TakerSignedAt:     "2026-07-31T00:00:00Z",
	}
}

func TestVerifyAuctionStart_EOA(t *testing.T) {
	priv, _ := crypto.GenerateKey()
	taker := crypto.PubkeyToAddress(priv.PublicKey)

	req := newAuctionRequest(taker)
	message := BuildAuctionStartMessage("sapience.markets", "https", req)
	req.TakerSignature = signEIP191(t, priv, message)

	v := New(&fakeChain{}, deriver.New())
	if !v.VerifyAuctionStart(context.Background(), "sapience.markets", "https", req) {
		t.Fatal("expected valid EOA signature to verify")
	}
}

func TestVerifyAuctionStart_MissingSignature(t *testing.T) {
	priv, _ := crypto.GenerateKey()
	taker := crypto.PubkeyToAddress(priv.PublicKey)
	req := newAuctionRequest(taker)

	v := New(&fakeChain{}, deriver.New())
	if v.VerifyAuctionStart(context.Background(), "sapience.markets", "https", req) {
		t.Fatal("expected verification to fail without a signature")
	}
}

func TestVerifyAuctionStart_TamperedWager(t *testing.T) {
	priv, _ := crypto.GenerateKey()
	taker := crypto.PubkeyToAddress(priv.PublicKey)

	req := newAuctionRequest(taker)
	message := BuildAuctionStartMessage("sapience.markets", "https", req)
	req.TakerSignature = signEIP191(t, priv, message)
	req.Wager = "2000000000000000000"

	v := New(&fakeChain{}, deriver.New())
	if v.VerifyAuctionStart(context.Background(), "sapience.markets", "https", req) {
		t.Fatal("tampered wager must invalidate the signature")
	}
}

func TestVerifyAuctionStart_TamperedNonce(t *testing.T) {
	priv, _ := crypto.GenerateKey()
	taker := crypto.PubkeyToAddress(priv.PublicKey)

	req := newAuctionRequest(taker)
	message := BuildAuctionStartMessage("sapience.markets", "https", req)
	req.TakerSignature = signEIP191(t, priv, message)
	req.TakerNonce = 2

	v := New(&fakeChain{}, deriver.New())
	if v.VerifyAuctionStart(context.Background(), "sapience.markets", "https", req) {
		t.Fatal("tampered nonce must invalidate the signature")
	}
}

func TestVerifyAuctionStart_SmartAccountOwner(t *testing.T) {
	priv, _ := crypto.GenerateKey()
	owner := crypto.PubkeyToAddress(priv.PublicKey)

	d := deriver.New()
	smartAccount := d.Derive(owner)

	req := newAuctionRequest(smartAccount)
	message := BuildAuctionStartMessage("sapience.markets", "https", req)
	req.TakerSignature = signEIP191(t, priv, message)

	v := New(&fakeChain{}, d)
	if !v.VerifyAuctionStart(context.Background(), "sapience.markets", "https", req) {
		t.Fatal("expected derived smart-account owner signature to verify")
	}
}

func TestVerifyAuctionStart_EIP1271Fallback(t *testing.T) {
	priv, _ := crypto.GenerateKey()
	_ = priv
	contract := common.HexToAddress("0x00000000000000000000000000000000000009")

	req := newAuctionRequest(contract)
	message := BuildAuctionStartMessage("sapience.markets", "https", req)
	// Any well-formed signature; the fake ChainClient accepts EIP-1271 unconditionally.
	signer, _ := crypto.GenerateKey()
	req.TakerSignature = signEIP191(t, signer, message)

	v := New(&fakeChain{hasCode: true, eip1271: true}, deriver.New())
	if !v.VerifyAuctionStart(context.Background(), "sapience.markets", "https", req) {
		t.Fatal("expected EIP-1271 path to accept for a deployed contract")
	}
}

func TestVerifyBid_EOA(t *testing.T) {
	priv, _ := crypto.GenerateKey()
	maker := crypto.PubkeyToAddress(priv.PublicKey)
	resolver := common.HexToAddress("0x1234567890123456789012345678901234567890")
	taker := common.HexToAddress("0x9999999999999999999999999999999999999a")

	bid := protocol.Bid{
		Maker:         maker.Hex(),
		MakerWager:    "900000000000000000",
		MakerDeadline: 4102444800,
	}

	hash, err := BidMessageHash([]byte("0xdeadbeef"), big.NewInt(900000000000000000), big.NewInt(1000000000000000000), resolver, taker, bid.MakerDeadline)
	if err != nil {
		t.Fatal(err)
	}
	digest := approveDigest(hash, maker, big.NewInt(42161), common.Address{})
	sig, err := crypto.Sign(digest[:], priv)
	if err != nil {
		t.Fatal(err)
	}
	sig[64] += 27
	bid.MakerSignature = "0x" + hex.EncodeToString(sig)

	v := New(&fakeChain{}, deriver.New())
	if !v.VerifyBid(context.Background(), "1000000000000000000", bid, "0xdeadbeef", resolver, taker, 42161, common.Address{}) {
		t.Fatal("expected valid EOA bid signature to verify")
	}
}
