// Package eip712 implements the typed-data hashing needed to sign and
// recover EIP-3009 TransferWithAuthorization messages.
package eip712

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	domainTypeHash = crypto.Keccak256Hash([]byte(
		"EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"))

	transferAuthTypeHash = crypto.Keccak256Hash([]byte(
		"TransferWithAuthorization(address from,address to,uint256 value,uint256 validAfter,uint256 validBefore,bytes32 nonce)"))
)

// Domain is the EIP-712 signing domain. A signature is only valid against
// the exact (name, version, chainId, verifyingContract) tuple that
// produced it.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// Separator returns keccak256(abi.encode(domainTypeHash, keccak256(name),
// keccak256(version), chainId, verifyingContract)).
func (d Domain) Separator() (common.Hash, error) {
	if d.Name == "" || d.Version == "" || d.ChainID == nil {
		return common.Hash{}, errors.New("incomplete EIP-712 domain")
	}

	return hashWords(
		domainTypeHash.Bytes(),
		crypto.Keccak256([]byte(d.Name)),
		crypto.Keccak256([]byte(d.Version)),
		padUint256(d.ChainID),
		padAddress(d.VerifyingContract),
	), nil
}

// TransferWithAuthStructHash hashes the TransferWithAuthorization struct
// per the EIP-712 struct encoding.
func TransferWithAuthStructHash(from, to common.Address, value, validAfter, validBefore *big.Int, nonce [32]byte) common.Hash {
	return hashWords(
		transferAuthTypeHash.Bytes(),
		padAddress(from),
		padAddress(to),
		padUint256(value),
		padUint256(validAfter),
		padUint256(validBefore),
		nonce[:],
	)
}

// Digest produces the final signable hash: keccak256("\x19\x01" ||
// domainSeparator || structHash).
func Digest(domainSeparator, structHash common.Hash) common.Hash {
	buf := make([]byte, 0, 2+32+32)
	buf = append(buf, 0x19, 0x01)
	buf = append(buf, domainSeparator.Bytes()...)
	buf = append(buf, structHash.Bytes()...)
	return crypto.Keccak256Hash(buf)
}

// TransferDigest is the one-call form used by the authorization builder.
func TransferDigest(domain Domain, from, to common.Address, value, validAfter, validBefore *big.Int, nonce [32]byte) (common.Hash, error) {
	sep, err := domain.Separator()
	if err != nil {
		return common.Hash{}, err
	}
	return Digest(sep, TransferWithAuthStructHash(from, to, value, validAfter, validBefore, nonce)), nil
}

// RecoverSigner recovers the address that signed digest. sig must be 65
// bytes R||S||V; V may be 0/1 or 27/28.
func RecoverSigner(digest common.Hash, sig []byte) (common.Address, error) {
	if len(sig) != 65 {
		return common.Address{}, errors.New("signature must be 65 bytes")
	}

	s := make([]byte, 65)
	copy(s, sig)
	if s[64] >= 27 {
		s[64] -= 27
	}

	pubKey, err := crypto.SigToPub(digest.Bytes(), s)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pubKey), nil
}

// NonceFromHex parses a 0x-prefixed 32-byte hex nonce.
func NonceFromHex(hexStr string) ([32]byte, error) {
	var out [32]byte
	if len(hexStr) >= 2 && hexStr[:2] == "0x" {
		hexStr = hexStr[2:]
	}
	b, err := hex.DecodeString(hexStr)
	if err != nil {
		return out, err
	}
	if len(b) != 32 {
		return out, fmt.Errorf("nonce must be 32 bytes, got %d", len(b))
	}
	copy(out[:], b)
	return out, nil
}

func hashWords(words ...[]byte) common.Hash {
	joined := make([]byte, 0, 32*len(words))
	for _, w := range words {
		joined = append(joined, w...)
	}
	return crypto.Keccak256Hash(joined)
}

func padUint256(i *big.Int) []byte {
	b := i.Bytes()
	if len(b) > 32 {
		b = b[len(b)-32:]
	}
	out := make([]byte, 32)
	copy(out[32-len(b):], b)
	return out
}

func padAddress(a common.Address) []byte {
	out := make([]byte, 32)
	copy(out[12:], a.Bytes())
	return out
}
