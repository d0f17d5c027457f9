package bridge

import (
	"context"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/paywire/paywire/logger"
	"github.com/paywire/paywire/metrics"
	"github.com/paywire/paywire/signer"
	"github.com/paywire/paywire/types"
)

const (
	defaultSlippage     = 0.015
	defaultPollInterval = 5 * time.Second
	defaultMaxAttempts  = 60
)

// Router is the routing-service surface the bridge depends on; the
// RoutingClient satisfies it.
type Router interface {
	Route(ctx context.Context, req *types.RouteRequest) (*types.SwapQuote, error)
	Status(ctx context.Context, txID string, fromChainID, toChainID int64) (*types.BridgeStatusResponse, error)
}

// QuoteRequest describes the value movement the caller needs. Exactly one
// of FromAmount and ToAmount must be set; when only ToAmount is known the
// bridge solves for a source amount with slippage headroom.
type QuoteRequest struct {
	FromChainID int64
	ToChainID   int64
	FromToken   string
	ToToken     string
	FromAmount  string
	ToAmount    string
	ToAddress   string
}

// Bridge runs the quote → approve → execute → track pipeline. Each stage
// has its own failure surface and steps are strictly sequential.
type Bridge struct {
	router Router
	chain  ChainReader
	sender signer.TransactionSender

	slippage        float64
	pollInterval    time.Duration
	maxAttempts     int
	approvalTimeout time.Duration

	log logger.Logger
	rec metrics.Recorder
}

// BridgeOption configures a Bridge.
type BridgeOption func(*Bridge)

func WithSlippage(s float64) BridgeOption {
	return func(b *Bridge) { b.slippage = s }
}

func WithPollInterval(d time.Duration) BridgeOption {
	return func(b *Bridge) { b.pollInterval = d }
}

func WithMaxPollAttempts(n int) BridgeOption {
	return func(b *Bridge) { b.maxAttempts = n }
}

func WithApprovalTimeout(d time.Duration) BridgeOption {
	return func(b *Bridge) { b.approvalTimeout = d }
}

func WithBridgeLogger(l logger.Logger) BridgeOption {
	return func(b *Bridge) { b.log = l }
}

func WithBridgeMetrics(r metrics.Recorder) BridgeOption {
	return func(b *Bridge) { b.rec = r }
}

// New wires a bridge around a router, a chain reader, and the account's
// transaction-sending capability.
func New(router Router, chain ChainReader, sender signer.TransactionSender, opts ...BridgeOption) *Bridge {
	b := &Bridge{
		router:          router,
		chain:           chain,
		sender:          sender,
		slippage:        defaultSlippage,
		pollInterval:    defaultPollInterval,
		maxAttempts:     defaultMaxAttempts,
		approvalTimeout: 2 * time.Minute,
		log:             logger.NoopLogger{},
		rec:             metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Quote obtains a single-use executable route. A same-chain same-token
// request is NO_SWAP_NEEDED and never reaches the routing service.
func (b *Bridge) Quote(ctx context.Context, req *QuoteRequest) (*types.SwapQuote, error) {
	if req.FromChainID == req.ToChainID && strings.EqualFold(req.FromToken, req.ToToken) {
		return nil, types.NewError(types.ErrNoSwapNeeded, types.StageQuote,
			"source and destination are the same asset on chain %d; use the direct payment path", req.FromChainID)
	}

	fromAmount := req.FromAmount
	if fromAmount == "" {
		if req.ToAmount == "" {
			return nil, types.NewError(types.ErrInvalidPayload, types.StageQuote,
				"either fromAmount or toAmount must be set")
		}
		est, err := b.estimateSourceAmount(req.ToAmount)
		if err != nil {
			return nil, err
		}
		fromAmount = est
	}

	toAddress := req.ToAddress
	if toAddress == "" {
		toAddress = b.sender.Address().Hex()
	}

	quote, err := b.router.Route(ctx, &types.RouteRequest{
		FromChain:   req.FromChainID,
		ToChain:     req.ToChainID,
		FromToken:   req.FromToken,
		ToToken:     req.ToToken,
		FromAmount:  fromAmount,
		FromAddress: b.sender.Address().Hex(),
		ToAddress:   toAddress,
		Slippage:    b.slippage,
	})
	if err != nil {
		return nil, err
	}
	if quote.TransactionRequest == nil {
		return nil, types.NewError(types.ErrInvalidPayload, types.StageQuote,
			"route has no executable transaction")
	}

	b.log.Debug("route quoted", map[string]any{
		"fromChain":  quote.FromChainID,
		"toChain":    quote.ToChainID,
		"fromAmount": quote.Estimate.FromAmount,
		"toAmount":   quote.Estimate.ToAmount,
	})
	return quote, nil
}

// Execute runs approval, submission, and tracking for a freshly obtained
// quote. Quotes must not be reused across long delays; callers re-quote
// instead.
func (b *Bridge) Execute(ctx context.Context, quote *types.SwapQuote) (*types.BridgeResult, error) {
	if err := b.ensureAllowance(ctx, quote); err != nil {
		return nil, err
	}

	started := time.Now()
	txHash, err := b.sender.SendTransaction(ctx, quote.TransactionRequest)
	if err != nil {
		return nil, types.WrapError(types.ErrNetworkError, types.StageExecute, err, "submit swap transaction")
	}
	b.rec.ObserveLatency("execute", time.Since(started), map[string]string{
		"network": strconv.FormatInt(quote.FromChainID, 10),
	})
	b.log.Info("swap submitted", map[string]any{
		"tx":        txHash,
		"fromChain": quote.FromChainID,
		"toChain":   quote.ToChainID,
	})

	result, err := b.Track(ctx, txHash, quote.FromChainID, quote.ToChainID)
	if err != nil {
		return nil, err
	}
	result.ToAmount = quote.Estimate.ToAmount
	return result, nil
}

// Track polls the routing service until the bridge transfer reaches a
// terminal state, the attempt budget is exhausted, or ctx ends. This is a
// bounded wait, not an infinite loop.
func (b *Bridge) Track(ctx context.Context, txHash string, fromChainID, toChainID int64) (*types.BridgeResult, error) {
	var last types.BridgeStatus

	for attempt := 0; attempt < b.maxAttempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(b.pollInterval)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return nil, types.WrapError(types.ErrNetworkError, types.StageTrack, ctx.Err(),
					"tracking cancelled; transfer %s continues on-chain", txHash)
			}
		}

		status, err := b.router.Status(ctx, txHash, fromChainID, toChainID)
		if err != nil {
			// Transient status failures count against the attempt budget.
			b.log.Warn("status poll failed", map[string]any{"tx": txHash, "error": err.Error()})
			continue
		}
		last = status.Status

		switch {
		case status.Status.Terminal():
			result := &types.BridgeResult{
				SourceTx: txHash,
				Status:   status.Status,
			}
			if status.ToChain != nil {
				result.DestinationTx = status.ToChain.TxHash
			}
			b.rec.IncCounter("bridge_completed_total", map[string]string{
				"stage": "track", "network": strconv.FormatInt(toChainID, 10),
			})
			return result, nil
		case status.Status == types.BridgeStatusNotFound:
			// Not yet indexed; keep polling.
		default:
			// pending, needs_gas, ongoing, error: still in flight.
		}
	}

	return nil, types.NewError(types.ErrBridgeTimeout, types.StageTrack,
		"transfer %s not terminal after %d polls (last status %q)", txHash, b.maxAttempts, last)
}

// ensureAllowance makes sure the route's executor may spend the source
// token, approving and waiting for confirmation when it cannot. Executing
// a swap against a stale allowance is never attempted. Native assets need
// no approval.
func (b *Bridge) ensureAllowance(ctx context.Context, quote *types.SwapQuote) error {
	if isNativeAsset(quote.FromToken) {
		return nil
	}

	required, ok := new(big.Int).SetString(quote.Estimate.FromAmount, 10)
	if !ok {
		return types.NewError(types.ErrInvalidPayload, types.StageApprove,
			"quote fromAmount %q is not an integer", quote.Estimate.FromAmount)
	}

	spender := quote.Estimate.ApprovalAddress
	if spender == "" {
		spender = quote.TransactionRequest.To
	}

	token := common.HexToAddress(quote.FromToken)
	owner := b.sender.Address()

	allowance, err := b.chain.Allowance(ctx, quote.FromChainID, token, owner, common.HexToAddress(spender))
	if err != nil {
		return types.WrapError(types.ErrNetworkError, types.StageApprove, err, "read allowance")
	}
	if allowance.Cmp(required) >= 0 {
		return nil
	}

	calldata, err := approveCalldata(common.HexToAddress(spender), required)
	if err != nil {
		return types.WrapError(types.ErrInvalidPayload, types.StageApprove, err, "build approve call")
	}

	txHash, err := b.sender.SendTransaction(ctx, &types.TransactionRequest{
		To:      quote.FromToken,
		Data:    calldata,
		Value:   "0",
		ChainID: quote.FromChainID,
	})
	if err != nil {
		return types.WrapError(types.ErrNetworkError, types.StageApprove, err, "submit approval")
	}

	b.log.Info("approval submitted", map[string]any{"tx": txHash, "spender": spender})

	waitCtx, cancel := context.WithTimeout(ctx, b.approvalTimeout)
	defer cancel()
	if err := b.chain.WaitForReceipt(waitCtx, quote.FromChainID, txHash); err != nil {
		return types.WrapError(types.ErrNetworkError, types.StageApprove, err, "approval %s did not confirm", txHash)
	}
	return nil
}

// estimateSourceAmount applies slippage headroom when solving for a
// source amount from a required destination amount.
func (b *Bridge) estimateSourceAmount(toAmount string) (string, error) {
	target, err := decimal.NewFromString(toAmount)
	if err != nil || target.Sign() <= 0 {
		return "", types.NewError(types.ErrInvalidPayload, types.StageQuote,
			"toAmount %q is not a positive integer", toAmount)
	}

	factor := decimal.NewFromFloat(1 + b.slippage)
	return target.Mul(factor).Ceil().String(), nil
}

func isNativeAsset(token string) bool {
	return token == "" || strings.EqualFold(token, types.NativeAsset)
}
