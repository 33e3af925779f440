// Package chain provides read-only, fail-closed access to on-chain state:
// deployed-bytecode checks, EIP-1271 signature validation, and vault
// manager lookups. No transactions are ever submitted from this package —
// settlement is an external collaborator (spec §1).
package chain

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/sapience-markets/auction-relayer/internal/config"
)

// eip1271MagicValue is the selector isValidSignature must echo back on success.
const eip1271MagicValue = "1626ba7e"

const isValidSignatureABI = `[{
	"inputs": [
		{"internalType":"bytes32","name":"hash","type":"bytes32"},
		{"internalType":"bytes","name":"signature","type":"bytes"}
	],
	"name": "isValidSignature",
	"outputs": [{"internalType":"bytes4","name":"","type":"bytes4"}],
	"stateMutability": "view",
	"type": "function"
}]`

const managerABI = `[{
	"inputs": [],
	"name": "manager",
	"outputs": [{"internalType":"address","name":"","type":"address"}],
	"stateMutability": "view",
	"type": "function"
}]`

// Client is the ChainClient of spec §4.1: hasCode, verifyEip1271, readVaultManager.
// All three fail closed — an RPC error or timeout is treated as a negative
// result, never propagated as a hard failure to the caller.
type Client struct {
	mu      sync.Mutex
	byChain map[int64]*ethclient.Client
	rpcURLs map[int64]string

	callTimeout      time.Duration
	isValidSignature abi.ABI
	managerFn        abi.ABI
}

// NewClient builds a Client from the chainId->RPC-URL map in config.
// Connections are dialed lazily on first use per chain, so a misconfigured
// or unreachable chain does not prevent startup.
func NewClient(cfg *config.ChainConfig) (*Client, error) {
	ivs, err := abi.JSON(strings.NewReader(isValidSignatureABI))
	if err != nil {
		return nil, fmt.Errorf("parse isValidSignature abi: %w", err)
	}
	mgr, err := abi.JSON(strings.NewReader(managerABI))
	if err != nil {
		return nil, fmt.Errorf("parse manager abi: %w", err)
	}

	rpcURLs := make(map[int64]string, len(cfg.RPCURLs))
	for chainIDStr, url := range cfg.RPCURLs {
		id, err := strconv.ParseInt(chainIDStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid chain id key %q in rpc_urls: %w", chainIDStr, err)
		}
		rpcURLs[id] = url
	}

	timeout := time.Duration(cfg.CallTimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 4 * time.Second
	}

	return &Client{
		byChain:          make(map[int64]*ethclient.Client),
		rpcURLs:          rpcURLs,
		callTimeout:      timeout,
		isValidSignature: ivs,
		managerFn:        mgr,
	}, nil
}

// dial returns a cached *ethclient.Client for chainID, dialing lazily and
// caching failures as nil so a dead RPC endpoint isn't redialed on every call.
func (c *Client) dial(chainID int64) (*ethclient.Client, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if eth, ok := c.byChain[chainID]; ok {
		return eth, eth != nil
	}

	url, ok := c.rpcURLs[chainID]
	if !ok || url == "" {
		c.byChain[chainID] = nil
		return nil, false
	}

	eth, err := ethclient.Dial(url)
	if err != nil {
		c.byChain[chainID] = nil
		return nil, false
	}
	c.byChain[chainID] = eth
	return eth, true
}

func (c *Client) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.callTimeout)
}

// HasCode reports whether addr has nonempty deployed bytecode on chainID.
// RPC failures and timeouts fail closed (false).
func (c *Client) HasCode(ctx context.Context, chainID int64, addr common.Address) bool {
	eth, ok := c.dial(chainID)
	if !ok {
		return false
	}
	cctx, cancel := c.withDeadline(ctx)
	defer cancel()

	code, err := eth.CodeAt(cctx, addr, nil)
	if err != nil {
		return false
	}
	return len(code) > 0
}

// VerifyEIP1271 calls addr.isValidSignature(messageHash, signature) and
// returns true iff the returned selector equals the canonical magic value.
func (c *Client) VerifyEIP1271(ctx context.Context, chainID int64, addr common.Address, messageHash [32]byte, signature []byte) bool {
	eth, ok := c.dial(chainID)
	if !ok {
		return false
	}

	data, err := c.isValidSignature.Pack("isValidSignature", messageHash, signature)
	if err != nil {
		return false
	}

	cctx, cancel := c.withDeadline(ctx)
	defer cancel()

	out, err := eth.CallContract(cctx, ethereum.CallMsg{To: &addr, Data: data}, nil)
	if err != nil || len(out) < 4 {
		return false
	}
	return common.Bytes2Hex(out[:4]) == eip1271MagicValue
}

// ReadVaultManager calls vault.manager() and returns the sole authorized
// signer address for that vault, or (zero, false) on any RPC failure.
func (c *Client) ReadVaultManager(ctx context.Context, chainID int64, vault common.Address) (common.Address, bool) {
	eth, ok := c.dial(chainID)
	if !ok {
		return common.Address{}, false
	}

	data, err := c.managerFn.Pack("manager")
	if err != nil {
		return common.Address{}, false
	}

	cctx, cancel := c.withDeadline(ctx)
	defer cancel()

	out, err := eth.CallContract(cctx, ethereum.CallMsg{To: &vault, Data: data}, nil)
	if err != nil {
		return common.Address{}, false
	}

	results, err := c.managerFn.Unpack("manager", out)
	if err != nil || len(results) != 1 {
		return common.Address{}, false
	}
	addr, ok := results[0].(common.Address)
	if !ok {
		return common.Address{}, false
	}
	return addr, true
}
