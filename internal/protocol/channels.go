package protocol

import (
	"fmt"
	"strings"
)

// AuctionChannel returns the subscription channel name for an auction.
func AuctionChannel(auctionID string) string {
	return "auction:" + auctionID
}

// VaultChannel returns the subscription channel name for a vault quote key,
// normalizing the address to lowercase as spec §3 requires.
func VaultChannel(chainID int64, vaultAddress string) string {
	return fmt.Sprintf("vault:%d:%s", chainID, strings.ToLower(vaultAddress))
}

// VaultKey is the Registry/signer-cache lookup key for a vault.
type VaultKey struct {
	ChainID int64
	Vault   string // lowercase hex
}

// NewVaultKey builds a VaultKey with the address normalized to lowercase.
func NewVaultKey(chainID int64, vaultAddress string) VaultKey {
	return VaultKey{ChainID: chainID, Vault: strings.ToLower(vaultAddress)}
}
