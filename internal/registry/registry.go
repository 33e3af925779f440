// Package registry is the relayer's in-memory, ephemeral store for
// auctions, their bids, vault quotes, and the authorized-signer cache.
// Nothing here is persisted: a process restart loses all state, by design.
package registry

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/sapience-markets/auction-relayer/internal/protocol"
)

// ChainClient is the subset of chain.Client the Registry needs to refresh
// the authorized-signer cache.
type ChainClient interface {
	ReadVaultManager(ctx context.Context, chainID int64, vault common.Address) (common.Address, bool)
}

type auctionEntry struct {
	auction protocol.Auction
	bids    []protocol.Bid
	mu      sync.Mutex // serializes addBid+broadcast per auction (spec §5)
	bidsMu  sync.Mutex // guards bids; taken inside mu by AddBid/GetBids
}

type signerCacheEntry struct {
	signer    common.Address
	fetchedAt time.Time
}

// Registry holds every piece of relayer state that is not a live socket.
type Registry struct {
	chain          ChainClient
	maxAgeSec      int64
	signerCacheTTL time.Duration

	mu       sync.RWMutex
	auctions map[string]*auctionEntry

	vaultMu sync.RWMutex
	vaults  map[protocol.VaultKey]protocol.VaultQuote

	signerMu sync.Mutex
	signers  map[protocol.VaultKey]signerCacheEntry
}

// New builds an empty Registry. maxAgeSec bounds how long an auction is kept
// after creation regardless of bid activity (spec §4.4); signerCacheTTLSec
// bounds how long a vault's authorized-signer lookup is trusted before
// ReadVaultManager is called again.
func New(chain ChainClient, maxAgeSec int64, signerCacheTTLSec int64) *Registry {
	ttl := time.Duration(signerCacheTTLSec) * time.Second
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &Registry{
		chain:          chain,
		maxAgeSec:      maxAgeSec,
		signerCacheTTL: ttl,
		auctions:       make(map[string]*auctionEntry),
		vaults:         make(map[protocol.VaultKey]protocol.VaultQuote),
		signers:        make(map[protocol.VaultKey]signerCacheEntry),
	}
}

// UpsertAuction registers a new auction and returns its fresh auctionId.
// Auctions are never updated after creation.
func (r *Registry) UpsertAuction(req protocol.AuctionRequest) string {
	id := uuid.NewString()
	entry := &auctionEntry{
		auction: protocol.Auction{
			AuctionRequest: req,
			AuctionID:      id,
			CreatedAt:      time.Now(),
		},
	}

	r.mu.Lock()
	r.auctions[id] = entry
	r.mu.Unlock()

	return id
}

// GetAuction returns the auction for id, or false if it does not exist or
// has expired. Expired entries are swept lazily on lookup.
func (r *Registry) GetAuction(id string) (protocol.Auction, bool) {
	r.mu.RLock()
	entry, ok := r.auctions[id]
	r.mu.RUnlock()
	if !ok {
		return protocol.Auction{}, false
	}
	if r.expired(entry) {
		r.mu.Lock()
		delete(r.auctions, id)
		r.mu.Unlock()
		return protocol.Auction{}, false
	}
	return entry.auction, true
}

func (r *Registry) expired(entry *auctionEntry) bool {
	if r.maxAgeSec <= 0 {
		return false
	}
	return time.Since(entry.auction.CreatedAt) > time.Duration(r.maxAgeSec)*time.Second
}

// AddBid appends bid to auctionId's bid list and returns it, or false if the
// auction does not exist or has expired. Callers must have already run
// structural and signature validation.
//
// The per-auction mutex is the critical section that gives addBid+broadcast
// its causal ordering guarantee (spec §5): callers should hold WithAuctionLock
// across both the append and the subsequent SubscriptionHub broadcast.
func (r *Registry) AddBid(auctionID string, bid protocol.Bid) (protocol.Bid, bool) {
	r.mu.RLock()
	entry, ok := r.auctions[auctionID]
	r.mu.RUnlock()
	if !ok || r.expired(entry) {
		return protocol.Bid{}, false
	}

	entry.bidsMu.Lock()
	entry.bids = append(entry.bids, bid)
	entry.bidsMu.Unlock()

	return bid, true
}

// WithAuctionLock runs fn while holding the per-auction critical section,
// so a handler can serialize AddBid and the hub broadcast that follows it.
// Returns false if the auction is unknown or expired.
func (r *Registry) WithAuctionLock(auctionID string, fn func()) bool {
	r.mu.RLock()
	entry, ok := r.auctions[auctionID]
	r.mu.RUnlock()
	if !ok || r.expired(entry) {
		return false
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	fn()
	return true
}

// GetBids returns a snapshot of auctionId's bids in insertion order. The
// returned slice is a copy; later mutations are not observable through it.
func (r *Registry) GetBids(auctionID string) []protocol.Bid {
	r.mu.RLock()
	entry, ok := r.auctions[auctionID]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	entry.bidsMu.Lock()
	defer entry.bidsMu.Unlock()
	out := make([]protocol.Bid, len(entry.bids))
	copy(out, entry.bids)
	return out
}

// Sweep removes every auction past its TTL. Safe to call periodically from
// a background ticker; the Registry also sweeps lazily on GetAuction.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, entry := range r.auctions {
		if r.expired(entry) {
			delete(r.auctions, id)
			removed++
		}
	}
	return removed
}

// PutVaultQuote stores quote as the latest for its (chainId, vault) key.
func (r *Registry) PutVaultQuote(key protocol.VaultKey, quote protocol.VaultQuote) {
	r.vaultMu.Lock()
	r.vaults[key] = quote
	r.vaultMu.Unlock()
}

// GetLatestVaultQuote returns the latest stored quote for key, if any.
func (r *Registry) GetLatestVaultQuote(key protocol.VaultKey) (protocol.VaultQuote, bool) {
	r.vaultMu.RLock()
	defer r.vaultMu.RUnlock()
	q, ok := r.vaults[key]
	return q, ok
}

// AuthorizedSigner returns the sole authorized signer for key, refreshing
// from ChainClient.ReadVaultManager when the cached entry is stale or
// absent. The returned address is always lowercased for comparison.
func (r *Registry) AuthorizedSigner(ctx context.Context, key protocol.VaultKey) (common.Address, bool) {
	r.signerMu.Lock()
	cached, ok := r.signers[key]
	fresh := ok && time.Since(cached.fetchedAt) < r.signerCacheTTL
	r.signerMu.Unlock()

	if fresh {
		return cached.signer, true
	}

	signer, ok := r.chain.ReadVaultManager(ctx, key.ChainID, common.HexToAddress(key.Vault))
	if !ok {
		if cached.signer != (common.Address{}) {
			// Keep serving the stale entry rather than fail closed on a
			// transient RPC hiccup; only an expired cache with no RPC
			// result at all yields "unknown".
			return cached.signer, true
		}
		return common.Address{}, false
	}

	lowered := common.HexToAddress(strings.ToLower(signer.Hex()))
	r.signerMu.Lock()
	r.signers[key] = signerCacheEntry{signer: lowered, fetchedAt: time.Now()}
	r.signerMu.Unlock()

	return lowered, true
}
