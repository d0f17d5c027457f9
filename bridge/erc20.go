package bridge

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
)

const erc20ABI = `[
	{"constant":true,"inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"constant":false,"inputs":[{"name":"spender","type":"address"},{"name":"value","type":"uint256"}],"name":"approve","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"}
]`

const receiptPollInterval = 2 * time.Second

var erc20Abi = mustParseABI(erc20ABI)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("parse erc20 abi: %v", err))
	}
	return parsed
}

// approveCalldata packs an ERC-20 approve(spender, amount) call.
func approveCalldata(spender common.Address, amount *big.Int) (string, error) {
	data, err := erc20Abi.Pack("approve", spender, amount)
	if err != nil {
		return "", fmt.Errorf("pack approve: %w", err)
	}
	return hexutil.Encode(data), nil
}

// ChainReader exposes the on-chain lookups the bridge needs: current
// spending allowances, token balances, and receipt confirmation.
type ChainReader interface {
	Allowance(ctx context.Context, chainID int64, token, owner, spender common.Address) (*big.Int, error)
	BalanceOf(ctx context.Context, chainID int64, token, owner common.Address) (*big.Int, error)

	// WaitForReceipt blocks until the transaction is mined or ctx ends.
	// A mined-but-reverted transaction is an error.
	WaitForReceipt(ctx context.Context, chainID int64, txHash string) error
}

// EvmReader implements ChainReader over JSON-RPC eth clients, one per
// chain, with all calls gated by the chain-data rate limiter.
type EvmReader struct {
	mu      sync.RWMutex
	clients map[int64]*ethclient.Client
	limiter Acquirer
}

var _ ChainReader = (*EvmReader)(nil)

// NewEvmReader builds a reader with no attached chains.
func NewEvmReader(limiter Acquirer) *EvmReader {
	if limiter == nil {
		limiter = noopAcquirer{}
	}
	return &EvmReader{
		clients: make(map[int64]*ethclient.Client),
		limiter: limiter,
	}
}

// AttachRPC connects the reader to a chain.
func (r *EvmReader) AttachRPC(chainID int64, rpcURL string) error {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return fmt.Errorf("dial rpc for chain %d: %w", chainID, err)
	}
	r.mu.Lock()
	r.clients[chainID] = client
	r.mu.Unlock()
	return nil
}

// Allowance returns the amount spender may currently move on owner's behalf.
func (r *EvmReader) Allowance(ctx context.Context, chainID int64, token, owner, spender common.Address) (*big.Int, error) {
	out, err := r.call(ctx, chainID, token, "allowance", owner, spender)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// BalanceOf returns owner's token balance in atomic units.
func (r *EvmReader) BalanceOf(ctx context.Context, chainID int64, token, owner common.Address) (*big.Int, error) {
	out, err := r.call(ctx, chainID, token, "balanceOf", owner)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// WaitForReceipt polls until the transaction is mined. Cancellation stops
// watching; it cannot undo a submitted transaction.
func (r *EvmReader) WaitForReceipt(ctx context.Context, chainID int64, txHash string) error {
	client, err := r.client(chainID)
	if err != nil {
		return err
	}

	hash := common.HexToHash(txHash)
	for {
		if err := r.limiter.Acquire(ctx); err != nil {
			return err
		}

		receipt, err := client.TransactionReceipt(ctx, hash)
		if err == nil {
			if receipt.Status == 0 {
				return fmt.Errorf("transaction %s reverted", txHash)
			}
			return nil
		}
		if err != ethereum.NotFound {
			return fmt.Errorf("fetch receipt for %s: %w", txHash, err)
		}

		timer := time.NewTimer(receiptPollInterval)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

func (r *EvmReader) call(ctx context.Context, chainID int64, token common.Address, method string, args ...interface{}) (*big.Int, error) {
	client, err := r.client(chainID)
	if err != nil {
		return nil, err
	}
	if err := r.limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	data, err := erc20Abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	raw, err := client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s on %s: %w", method, token.Hex(), err)
	}

	outputs, err := erc20Abi.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	value, ok := outputs[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s returned unexpected type", method)
	}
	return value, nil
}

func (r *EvmReader) client(chainID int64) (*ethclient.Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.clients[chainID]
	if !ok {
		return nil, fmt.Errorf("no rpc attached for chain %d", chainID)
	}
	return client, nil
}

// Close releases all RPC connections.
func (r *EvmReader) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.clients {
		c.Close()
	}
	r.clients = make(map[int64]*ethclient.Client)
}
