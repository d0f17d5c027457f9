// Package paywire is a client-side payment engine for HTTP resources
// that demand payment via the x402 protocol. It signs EIP-3009 transfer
// authorizations, settles them through a facilitator, and when the
// account's funds sit on the wrong chain, bridges value first and then
// pays.
package paywire

import (
	"bytes"
	"context"
	"io"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/paywire/paywire/bridge"
	"github.com/paywire/paywire/config"
	"github.com/paywire/paywire/facilitator"
	"github.com/paywire/paywire/limiter"
	"github.com/paywire/paywire/logger"
	"github.com/paywire/paywire/metrics"
	"github.com/paywire/paywire/protocol"
	"github.com/paywire/paywire/signer"
	"github.com/paywire/paywire/types"
)

// Holding names a (network, asset) pair the paying account is funded on.
type Holding struct {
	Network types.Network
	Asset   string
}

// Matches reports whether a challenge alternative can be paid from this
// holding without moving value.
func (h Holding) Matches(r *types.PaymentRequirements) bool {
	return types.Network(r.Network) == h.Network && strings.EqualFold(r.Asset, h.Asset)
}

type payer interface {
	Do(ctx context.Context, req *http.Request) (*types.PaymentOutcome, *http.Response, error)
}

type swapper interface {
	Quote(ctx context.Context, req *bridge.QuoteRequest) (*types.SwapQuote, error)
	Execute(ctx context.Context, quote *types.SwapQuote) (*types.BridgeResult, error)
}

// Engine is the top-level orchestrator: one per paying account.
type Engine struct {
	cfg *config.Config

	signer   signer.Signer
	sender   signer.TransactionSender
	http     *http.Client
	holdings []Holding

	direct  payer
	bridged payer
	swap    swapper
	reader  bridge.ChainReader

	facilitator *facilitator.Client
	routing     *bridge.RoutingClient
	limiters    []*limiter.RateLimiter

	log logger.Logger
	rec metrics.Recorder
}

// New wires an engine from configuration. Each external dependency gets
// its own rate limiter so a slow router cannot starve facilitator calls.
func New(cfg *config.Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, types.WrapError(types.ErrConfigError, "", err, "invalid configuration")
	}

	e := &Engine{
		cfg:  cfg,
		http: &http.Client{},
		log:  logger.NewZapLogger(cfg.LogLevel),
		rec:  metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.signer == nil {
		return nil, types.NewError(types.ErrConfigError, "", "a signer is required")
	}

	facLimiter := limiter.New(cfg.Facilitator.RateLimit)
	routeLimiter := limiter.New(cfg.Routing.RateLimit,
		limiter.WithPerMinuteCap(cfg.Routing.PerMinuteCap))
	chainLimiter := limiter.New(cfg.Chain.RateLimit)
	e.limiters = []*limiter.RateLimiter{facLimiter, routeLimiter, chainLimiter}

	e.facilitator = facilitator.New(cfg.Facilitator.URL,
		facilitator.WithAPIKey(cfg.Facilitator.APIKey),
		facilitator.WithHTTPClient(&http.Client{Timeout: cfg.Facilitator.Timeout}),
		facilitator.WithRateLimiter(facLimiter),
		facilitator.WithLogger(e.log),
		facilitator.WithMetrics(e.rec),
	)

	e.routing = bridge.NewRoutingClient(cfg.Routing.URL,
		bridge.WithRoutingAPIKey(cfg.Routing.APIKey),
		bridge.WithRoutingHTTPClient(&http.Client{Timeout: cfg.Routing.Timeout}),
		bridge.WithRoutingRateLimiter(routeLimiter),
		bridge.WithRoutingLogger(e.log),
	)

	reader := bridge.NewEvmReader(chainLimiter)
	for name, url := range cfg.Chain.RPCURLs {
		network := types.Network(name)
		chainID, ok := network.ChainID()
		if !ok {
			reader.Close()
			e.closeLimiters()
			return nil, types.NewError(types.ErrConfigError, "", "unknown network %q in CHAIN_RPC_URLS", name)
		}
		if err := reader.AttachRPC(chainID.Int64(), url); err != nil {
			reader.Close()
			e.closeLimiters()
			return nil, types.WrapError(types.ErrConfigError, "", err, "attach %s rpc", name)
		}
	}
	e.reader = reader

	if e.sender != nil {
		e.swap = bridge.New(e.routing, e.reader, e.sender,
			bridge.WithSlippage(cfg.Bridge.Slippage),
			bridge.WithPollInterval(cfg.Bridge.PollInterval),
			bridge.WithMaxPollAttempts(cfg.Bridge.MaxPollAttempts),
			bridge.WithApprovalTimeout(cfg.Bridge.ApprovalTimeout),
			bridge.WithBridgeLogger(e.log),
			bridge.WithBridgeMetrics(e.rec),
		)
	}

	builder := signer.NewAuthorizationBuilder(e.signer, e.log)

	e.direct = protocol.New(builder, e.facilitator,
		protocol.WithHTTPDoer(e.http),
		protocol.WithSupports(e.supportsDirect),
		protocol.WithLogger(e.log),
		protocol.WithMetrics(e.rec),
	)
	e.bridged = protocol.New(builder, e.facilitator,
		protocol.WithHTTPDoer(e.http),
		protocol.WithSupports(supportsEVMExact),
		protocol.WithLogger(e.log),
		protocol.WithMetrics(e.rec),
	)

	return e, nil
}

// Pay fetches the resource, paying directly when a challenge alternative
// matches a funded holding. When nothing matches but the bridge can move
// value to a payable alternative, the engine bridges to completion and
// then replays the whole exchange from scratch, with a fresh nonce and
// signature.
func (e *Engine) Pay(ctx context.Context, req *http.Request) (*types.PaymentOutcome, *http.Response, error) {
	body, err := bufferBody(req)
	if err != nil {
		return nil, nil, types.WrapError(types.ErrNetworkError, "", err, "buffer request body")
	}

	outcome, resp, err := e.direct.Do(ctx, cloneRequest(ctx, req, body))
	if err == nil {
		return outcome, resp, nil
	}
	if !types.IsCode(err, types.ErrNoSupportedPaymentMethod) || e.swap == nil || len(e.holdings) == 0 {
		return nil, nil, err
	}

	requirement, ferr := e.fetchChallengeTarget(ctx, req, body)
	if ferr != nil || requirement == nil {
		// Nothing bridgeable in the challenge; the original failure stands.
		return nil, nil, err
	}

	result, berr := e.bridgeFor(ctx, requirement)
	if berr != nil {
		return nil, nil, berr
	}

	outcome, resp, err = e.bridged.Do(ctx, cloneRequest(ctx, req, body))
	if err != nil {
		// Value moved but the payment did not settle. The funds are on the
		// destination chain; the caller decides whether to retry Pay.
		return nil, nil, types.WrapError(types.ErrFundsInTransit, types.StageReplay, err,
			"bridged %s to %s but payment did not settle", result.ToAmount, requirement.Network)
	}
	outcome.Bridge = result
	return outcome, resp, nil
}

// Supported reports the facilitator's advertised (scheme, network) kinds.
func (e *Engine) Supported(ctx context.Context) (*types.SupportedResponse, error) {
	return e.facilitator.Supported(ctx)
}

// Close releases limiter workers and chain connections. In-flight calls
// fail with limiter.ErrClosed.
func (e *Engine) Close() {
	e.closeLimiters()
	if r, ok := e.reader.(*bridge.EvmReader); ok && r != nil {
		r.Close()
	}
}

func (e *Engine) closeLimiters() {
	for _, l := range e.limiters {
		l.Close()
	}
}

// supportsDirect restricts the first attempt to alternatives the account
// is actually funded for. Without declared holdings every EVM exact
// alternative is considered payable.
func (e *Engine) supportsDirect(r *types.PaymentRequirements) bool {
	if !supportsEVMExact(r) {
		return false
	}
	if len(e.holdings) == 0 {
		return true
	}
	for _, h := range e.holdings {
		if h.Matches(r) {
			return true
		}
	}
	return false
}

func supportsEVMExact(r *types.PaymentRequirements) bool {
	return r.Scheme == types.SchemeExact && types.Network(r.Network).IsEVM()
}

// fetchChallengeTarget reissues the request once to recover the challenge
// and picks the first alternative the bridge could fund.
func (e *Engine) fetchChallengeTarget(ctx context.Context, req *http.Request, body []byte) (*types.PaymentRequirements, error) {
	resp, err := e.http.Do(cloneRequest(ctx, req, body))
	if err != nil {
		return nil, types.WrapError(types.ErrNetworkError, "", err, "re-fetch challenge")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPaymentRequired {
		return nil, nil
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, types.WrapError(types.ErrNetworkError, "", err, "read challenge body")
	}
	challenge, err := protocol.ParseChallenge(raw)
	if err != nil {
		return nil, err
	}
	for i := range challenge.Accepts {
		if supportsEVMExact(&challenge.Accepts[i]) {
			return &challenge.Accepts[i], nil
		}
	}
	return nil, nil
}

// bridgeFor moves enough of the first holding to cover the requirement.
// A partial_success landing triggers a destination balance check before
// the payment is attempted.
func (e *Engine) bridgeFor(ctx context.Context, requirement *types.PaymentRequirements) (*types.BridgeResult, error) {
	toChainID, ok := types.Network(requirement.Network).ChainID()
	if !ok {
		return nil, types.NewError(types.ErrInvalidRequirement, types.StageQuote,
			"requirement network %q has no known chain id", requirement.Network)
	}

	holding := e.holdings[0]
	fromChainID, ok := holding.Network.ChainID()
	if !ok {
		return nil, types.NewError(types.ErrConfigError, types.StageQuote,
			"holding network %q has no known chain id", holding.Network)
	}

	e.log.Info("bridging to cover challenge", map[string]any{
		"fromChain": fromChainID.Int64(),
		"toChain":   toChainID.Int64(),
		"toToken":   requirement.Asset,
		"toAmount":  requirement.MaxAmountRequired,
	})

	quote, err := e.swap.Quote(ctx, &bridge.QuoteRequest{
		FromChainID: fromChainID.Int64(),
		ToChainID:   toChainID.Int64(),
		FromToken:   holding.Asset,
		ToToken:     requirement.Asset,
		ToAmount:    requirement.MaxAmountRequired,
	})
	if err != nil {
		return nil, err
	}

	result, err := e.swap.Execute(ctx, quote)
	if err != nil {
		return nil, err
	}

	if result.Status == types.BridgeStatusPartialSuccess {
		if err := e.checkDestinationBalance(ctx, toChainID.Int64(), requirement); err != nil {
			return nil, err
		}
	}

	e.rec.IncCounter("bridge_funded_total", map[string]string{
		"stage": "track", "network": requirement.Network,
	})
	return result, nil
}

// checkDestinationBalance confirms the account can actually cover the
// requirement after a partial_success landing, where the delivered token
// or amount may differ from the quote.
func (e *Engine) checkDestinationBalance(ctx context.Context, chainID int64, requirement *types.PaymentRequirements) error {
	required, ok := new(big.Int).SetString(requirement.MaxAmountRequired, 10)
	if !ok {
		return types.NewError(types.ErrInvalidRequirement, types.StageTrack,
			"requirement amount %q is not an integer", requirement.MaxAmountRequired)
	}

	balance, err := e.reader.BalanceOf(ctx, chainID,
		common.HexToAddress(requirement.Asset), e.signer.Address())
	if err != nil {
		return types.WrapError(types.ErrFundsInTransit, types.StageTrack, err,
			"bridge landed partial_success and the destination balance is unreadable")
	}
	if balance.Cmp(required) < 0 {
		return types.NewError(types.ErrFundsInTransit, types.StageTrack,
			"bridge landed partial_success with balance %s below required %s", balance, required)
	}
	return nil
}

func bufferBody(req *http.Request) ([]byte, error) {
	if req.Body == nil {
		return nil, nil
	}
	defer req.Body.Close()
	return io.ReadAll(req.Body)
}

func cloneRequest(ctx context.Context, req *http.Request, body []byte) *http.Request {
	clone := req.Clone(ctx)
	if body != nil {
		clone.Body = io.NopCloser(bytes.NewReader(body))
		clone.ContentLength = int64(len(body))
		clone.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
	}
	return clone
}
