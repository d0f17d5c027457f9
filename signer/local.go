package signer

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/paywire/paywire/types"
)

// LocalSigner is an in-process signing backend holding a secp256k1 key.
// It implements both Signer and TransactionSender. The key is never
// serialized or logged.
type LocalSigner struct {
	key     *ecdsa.PrivateKey
	address common.Address

	mu      sync.RWMutex
	clients map[int64]*ethclient.Client
}

var _ Signer = (*LocalSigner)(nil)
var _ TransactionSender = (*LocalSigner)(nil)

// NewLocalSigner builds a signer from a hex-encoded private key.
func NewLocalSigner(hexKey string) (*LocalSigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	return &LocalSigner{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		clients: make(map[int64]*ethclient.Client),
	}, nil
}

// AttachRPC connects the signer to a chain so it can submit transactions
// there.
func (s *LocalSigner) AttachRPC(chainID int64, rpcURL string) error {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return fmt.Errorf("dial rpc for chain %d: %w", chainID, err)
	}

	s.mu.Lock()
	s.clients[chainID] = client
	s.mu.Unlock()
	return nil
}

// Address implements Signer.
func (s *LocalSigner) Address() common.Address {
	return s.address
}

// SignDigest implements Signer. The returned V is normalized to 27/28 as
// expected by on-chain ecrecover.
func (s *LocalSigner) SignDigest(_ context.Context, digest [32]byte) ([]byte, error) {
	sig, err := crypto.Sign(digest[:], s.key)
	if err != nil {
		return nil, fmt.Errorf("sign digest: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return sig, nil
}

// SendTransaction implements TransactionSender. Gas parameters from the
// prepared payload are honored when present and estimated otherwise.
func (s *LocalSigner) SendTransaction(ctx context.Context, req *types.TransactionRequest) (string, error) {
	s.mu.RLock()
	client, ok := s.clients[req.ChainID]
	s.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("no rpc attached for chain %d", req.ChainID)
	}

	to := common.HexToAddress(req.To)
	data := common.FromHex(req.Data)

	value := new(big.Int)
	if req.Value != "" {
		if _, ok := value.SetString(req.Value, 10); !ok {
			// Routers occasionally encode values as hex.
			v, err := parseHexOrDec(req.Value)
			if err != nil {
				return "", fmt.Errorf("invalid tx value %q", req.Value)
			}
			value = v
		}
	}

	nonce, err := client.PendingNonceAt(ctx, s.address)
	if err != nil {
		return "", fmt.Errorf("fetch nonce: %w", err)
	}

	gasPrice := new(big.Int)
	if req.GasPrice != "" {
		if gasPrice, err = parseHexOrDec(req.GasPrice); err != nil {
			return "", fmt.Errorf("invalid gas price %q", req.GasPrice)
		}
	} else {
		if gasPrice, err = client.SuggestGasPrice(ctx); err != nil {
			return "", fmt.Errorf("suggest gas price: %w", err)
		}
	}

	var gasLimit uint64
	if req.GasLimit != "" {
		gl, err := parseHexOrDec(req.GasLimit)
		if err != nil {
			return "", fmt.Errorf("invalid gas limit %q", req.GasLimit)
		}
		gasLimit = gl.Uint64()
	} else {
		gasLimit, err = client.EstimateGas(ctx, ethereum.CallMsg{
			From:  s.address,
			To:    &to,
			Value: value,
			Data:  data,
		})
		if err != nil {
			return "", fmt.Errorf("estimate gas: %w", err)
		}
	}

	tx := ethtypes.NewTransaction(nonce, to, value, gasLimit, gasPrice, data)
	signed, err := ethtypes.SignTx(tx, ethtypes.NewEIP155Signer(big.NewInt(req.ChainID)), s.key)
	if err != nil {
		return "", fmt.Errorf("sign transaction: %w", err)
	}

	if err := client.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("broadcast transaction: %w", err)
	}
	return signed.Hash().Hex(), nil
}

// Close releases all RPC connections.
func (s *LocalSigner) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.clients {
		c.Close()
	}
	s.clients = make(map[int64]*ethclient.Client)
}

func parseHexOrDec(v string) (*big.Int, error) {
	n := new(big.Int)
	if strings.HasPrefix(v, "0x") {
		if _, ok := n.SetString(v[2:], 16); !ok {
			return nil, fmt.Errorf("invalid hex number %q", v)
		}
		return n, nil
	}
	if _, ok := n.SetString(v, 10); !ok {
		return nil, fmt.Errorf("invalid decimal number %q", v)
	}
	return n, nil
}
