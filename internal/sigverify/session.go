package sigverify

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/sapience-markets/auction-relayer/internal/protocol"
)

// sessionApprovalBody is the serialized owner-authorization proof referenced
// by sessionMetadata.sessionApproval: an owner's EIP-191 signature over a
// JSON blob binding a session key to one account for a bounded scope.
type sessionApprovalBody struct {
	Account           string `json:"account"`
	SessionKey        string `json:"sessionKey"`
	ChainID           int64  `json:"chainId"`
	VerifyingContract string `json:"verifyingContract"`
	ExpiresAt         int64  `json:"expiresAt"`
	OwnerSignature    string `json:"ownerSignature"`
}

// verifySessionAuthorization checks that meta authorizes sessionKey to act
// on behalf of account under (chainID, verifyingContract), and that the
// approval itself has not expired. The approval is either a serialized
// sessionApprovalBody (sessionApproval) or raw EIP-712 "Enable" typed data
// (enableTypedData); whichever is present is tried.
func verifySessionAuthorization(meta *protocol.SessionMetadata, account common.Address, chainID int64, verifyingContract common.Address, now time.Time) bool {
	if meta == nil {
		return false
	}
	if now.Unix() > meta.SessionExpiresAt {
		return false
	}

	if strings.TrimSpace(meta.SessionApproval) != "" {
		return verifySerializedApproval(meta.SessionApproval, meta.SessionKeyAddress, account, chainID, verifyingContract)
	}
	if len(meta.EnableTypedData) > 0 {
		return verifyEnableTypedData(meta.EnableTypedData, meta.SessionKeyAddress, account, chainID, verifyingContract, now)
	}
	return false
}

// verifySerializedApproval decodes a base64 sessionApprovalBody, rejects it
// once its expiresAt has passed, checks that its claimed
// account/chainId/verifyingContract match what the caller expects, and
// recovers the owner signature over the body (sans signature).
func verifySerializedApproval(raw, sessionKey string, account common.Address, chainID int64, verifyingContract common.Address) bool {
	decoded, err := decodeApprovalPayload(raw)
	if err != nil {
		return false
	}

	var body sessionApprovalBody
	if err := json.Unmarshal(decoded, &body); err != nil {
		return false
	}
	if time.Now().Unix() > body.ExpiresAt {
		return false
	}

	if !strings.EqualFold(body.Account, account.Hex()) {
		return false
	}
	if !strings.EqualFold(body.SessionKey, sessionKey) {
		return false
	}
	if body.ChainID != chainID {
		return false
	}
	if verifyingContract != (common.Address{}) && !strings.EqualFold(body.VerifyingContract, verifyingContract.Hex()) {
		return false
	}

	sig, err := decodeHexSignature(body.OwnerSignature)
	if err != nil {
		return false
	}

	canonical := approvalCanonicalMessage(body)
	return VerifyEIP191([]byte(canonical), sig, account)
}

// approvalCanonicalMessage is the exact byte string the owner signs when
// producing a session approval; the signature is stripped before hashing.
func approvalCanonicalMessage(b sessionApprovalBody) string {
	return fmt.Sprintf(
		"Sapience Session Approval\nAccount: %s\nSession Key: %s\nChain ID: %d\nVerifying Contract: %s\nExpires At: %d",
		strings.ToLower(b.Account), strings.ToLower(b.SessionKey), b.ChainID, strings.ToLower(b.VerifyingContract), b.ExpiresAt,
	)
}

// enableTypedDataMessage is the minimal shape this relayer requires out of
// an EIP-712 "Enable" payload: enough fields to re-derive the same digest
// a wallet would have signed, without depending on a full typed-data parser.
type enableTypedDataMessage struct {
	Domain struct {
		ChainID           int64  `json:"chainId"`
		VerifyingContract string `json:"verifyingContract"`
	} `json:"domain"`
	Message struct {
		Account    string `json:"account"`
		SessionKey string `json:"sessionKey"`
		ValidUntil int64  `json:"validUntil"`
	} `json:"message"`
	Signature string `json:"signature"`
}

func verifyEnableTypedData(raw json.RawMessage, sessionKey string, account common.Address, chainID int64, verifyingContract common.Address, now time.Time) bool {
	var payload enableTypedDataMessage
	if err := json.Unmarshal(raw, &payload); err != nil {
		return false
	}
	if payload.Domain.ChainID != chainID {
		return false
	}
	if verifyingContract != (common.Address{}) && !strings.EqualFold(payload.Domain.VerifyingContract, verifyingContract.Hex()) {
		return false
	}
	if !strings.EqualFold(payload.Message.Account, account.Hex()) {
		return false
	}
	if !strings.EqualFold(payload.Message.SessionKey, sessionKey) {
		return false
	}
	if now.Unix() > payload.Message.ValidUntil {
		return false
	}

	sig, err := decodeHexSignature(payload.Signature)
	if err != nil {
		return false
	}

	recovered, err := recoverEnable(account, common.HexToAddress(payload.Message.SessionKey), payload.Message.ValidUntil, big.NewInt(chainID), verifyingContract, sig)
	if err != nil {
		return false
	}
	return recovered == account
}
