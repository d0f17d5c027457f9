// Package signer holds the signing capability boundary. Key material
// never crosses it: the engine hands digests and prepared transactions to
// a Signer and receives signatures and transaction hashes back.
package signer

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/paywire/paywire/types"
)

// Signer produces signatures over 32-byte digests for a single account.
type Signer interface {
	// Address is the account the signer controls.
	Address() common.Address

	// SignDigest signs a 32-byte digest and returns a 65-byte R||S||V
	// signature with V normalized to 27/28. An error means the signer
	// declined; the digest is never retried with the same nonce.
	SignDigest(ctx context.Context, digest [32]byte) ([]byte, error)
}

// TransactionSender submits prepared transactions on behalf of the
// account. Once a transaction is submitted it cannot be cancelled;
// context cancellation after that point means "stop watching".
type TransactionSender interface {
	Address() common.Address

	// SendTransaction signs and broadcasts the prepared payload and
	// returns the transaction hash.
	SendTransaction(ctx context.Context, req *types.TransactionRequest) (string, error)
}
