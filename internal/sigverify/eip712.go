package sigverify

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	eip712DomainName    = "Sapience Auctions"
	eip712DomainVersion = "1"
)

var (
	domainTypeHash = crypto.Keccak256Hash([]byte(
		"EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)",
	))
	approveTypeHash = crypto.Keccak256Hash([]byte(
		"Approve(bytes32 messageHash,address owner)",
	))
	enableTypeHash = crypto.Keccak256Hash([]byte(
		"Enable(address account,address sessionKey,uint256 validUntil)",
	))

	bidArgs = mustArguments("bytes", "uint256", "uint256", "address", "address", "uint256")
)

func mustArguments(types ...string) abi.Arguments {
	args := make(abi.Arguments, 0, len(types))
	for _, t := range types {
		typ, err := abi.NewType(t, "", nil)
		if err != nil {
			panic(fmt.Sprintf("sigverify: invalid abi type %q: %v", t, err))
		}
		args = append(args, abi.Argument{Type: typ})
	}
	return args
}

// domainSeparator computes the EIP-712 domain separator for the relayer's
// fixed (name, version) pair against the bid's chainId and verifying contract.
func domainSeparator(chainID *big.Int, verifyingContract common.Address) common.Hash {
	nameHash := crypto.Keccak256Hash([]byte(eip712DomainName))
	versionHash := crypto.Keccak256Hash([]byte(eip712DomainVersion))

	encoded := make([]byte, 5*32)
	copy(encoded[0:32], domainTypeHash[:])
	copy(encoded[32:64], nameHash[:])
	copy(encoded[64:96], versionHash[:])
	chainID.FillBytes(encoded[96:128])
	copy(encoded[140:160], verifyingContract.Bytes())

	return crypto.Keccak256Hash(encoded)
}

// BidMessageHash builds keccak256(abi.encode(predictedOutcome, makerWager,
// takerWager, resolver, taker, makerDeadline)), the inner messageHash field
// of the Approve struct that a maker's bid signature commits to.
func BidMessageHash(predictedOutcome []byte, makerWager, takerWager *big.Int, resolver, taker common.Address, makerDeadline int64) (common.Hash, error) {
	packed, err := bidArgs.Pack(predictedOutcome, makerWager, takerWager, resolver, taker, big.NewInt(makerDeadline))
	if err != nil {
		return common.Hash{}, fmt.Errorf("pack bid message: %w", err)
	}
	return crypto.Keccak256Hash(packed), nil
}

// approveDigest computes the final EIP-712 digest for the Approve struct:
// keccak256(0x1901 || domainSeparator || structHash).
func approveDigest(messageHash common.Hash, owner common.Address, chainID *big.Int, verifyingContract common.Address) common.Hash {
	encoded := make([]byte, 3*32)
	copy(encoded[0:32], approveTypeHash[:])
	copy(encoded[32:64], messageHash[:])
	copy(encoded[76:96], owner.Bytes())

	structHash := crypto.Keccak256Hash(encoded)
	sep := domainSeparator(chainID, verifyingContract)

	msg := make([]byte, 2+32+32)
	msg[0] = 0x19
	msg[1] = 0x01
	copy(msg[2:34], sep[:])
	copy(msg[34:66], structHash[:])
	return crypto.Keccak256Hash(msg)
}

// recoverApprove recovers the signer that produced sig over the Approve
// digest for messageHash/owner under the given chain and verifying contract.
func recoverApprove(messageHash common.Hash, owner common.Address, chainID *big.Int, verifyingContract common.Address, sig []byte) (common.Address, error) {
	if len(sig) != 65 {
		return common.Address{}, errors.New("invalid signature length")
	}
	digest := approveDigest(messageHash, owner, chainID, verifyingContract)

	sigCopy := make([]byte, 65)
	copy(sigCopy, sig)
	if sigCopy[64] >= 27 {
		sigCopy[64] -= 27
	}

	pub, err := crypto.SigToPub(digest[:], sigCopy)
	if err != nil {
		return common.Address{}, fmt.Errorf("ecrecover: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// enableDigest computes the final EIP-712 digest for the Enable struct
// (account owner authorizing sessionKey until validUntil):
// keccak256(0x1901 || domainSeparator || structHash).
func enableDigest(account, sessionKey common.Address, validUntil int64, chainID *big.Int, verifyingContract common.Address) common.Hash {
	encoded := make([]byte, 4*32)
	copy(encoded[0:32], enableTypeHash[:])
	copy(encoded[44:64], account.Bytes())
	copy(encoded[76:96], sessionKey.Bytes())
	big.NewInt(validUntil).FillBytes(encoded[96:128])

	structHash := crypto.Keccak256Hash(encoded)
	sep := domainSeparator(chainID, verifyingContract)

	msg := make([]byte, 2+32+32)
	msg[0] = 0x19
	msg[1] = 0x01
	copy(msg[2:34], sep[:])
	copy(msg[34:66], structHash[:])
	return crypto.Keccak256Hash(msg)
}

// recoverEnable recovers the signer that produced sig over the Enable
// digest for (account, sessionKey, validUntil) under the given chain and
// verifying contract.
func recoverEnable(account, sessionKey common.Address, validUntil int64, chainID *big.Int, verifyingContract common.Address, sig []byte) (common.Address, error) {
	if len(sig) != 65 {
		return common.Address{}, errors.New("invalid signature length")
	}
	digest := enableDigest(account, sessionKey, validUntil, chainID, verifyingContract)

	sigCopy := make([]byte, 65)
	copy(sigCopy, sig)
	if sigCopy[64] >= 27 {
		sigCopy[64] -= 27
	}

	pub, err := crypto.SigToPub(digest[:], sigCopy)
	if err != nil {
		return common.Address{}, fmt.Errorf("ecrecover: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
