// Package facilitator implements the client side of the trusted
// settlement facilitator API: two-phase verify/settle over HTTP.
package facilitator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/paywire/paywire/logger"
	"github.com/paywire/paywire/metrics"
	"github.com/paywire/paywire/types"
)

// Acquirer gates outbound calls; the process-wide rate limiter satisfies it.
type Acquirer interface {
	Acquire(ctx context.Context) error
}

type noopAcquirer struct{}

func (noopAcquirer) Acquire(context.Context) error { return nil }

// Client talks to a settlement facilitator. Verification never spends
// funds; settlement is at-most-once from this client's perspective and is
// never resubmitted after an outcome of unknown state.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter Acquirer
	log     logger.Logger
	rec     metrics.Recorder
	now     func() time.Time
	newRef  func() string
}

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

func WithRateLimiter(a Acquirer) Option {
	return func(c *Client) { c.limiter = a }
}

func WithLogger(l logger.Logger) Option {
	return func(c *Client) { c.log = l }
}

func WithMetrics(r metrics.Recorder) Option {
	return func(c *Client) { c.rec = r }
}

// New builds a facilitator client for the given base URL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: noopAcquirer{},
		log:     logger.NoopLogger{},
		rec:     metrics.NoopRecorder{},
		now:     time.Now,
		newRef:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Verify asks the facilitator to re-derive the signed digest and check it
// against the requirement. An invalid result is ordinary output, not an
// error; errors are transport-level only.
func (c *Client) Verify(ctx context.Context, payload *types.PaymentPayload, reqs *types.PaymentRequirements) (*types.VerificationResult, error) {
	if err := c.limiter.Acquire(ctx); err != nil {
		return nil, types.WrapError(types.ErrNetworkError, types.StageVerify, err, "rate limiter interrupted")
	}

	started := c.now()
	body := &types.VerifyRequest{
		X402Version:         types.X402Version,
		PaymentPayload:      *payload,
		PaymentRequirements: *reqs,
	}

	var result types.VerificationResult
	if err := c.post(ctx, "/verify", body, &result); err != nil {
		return nil, types.WrapError(types.ErrNetworkError, types.StageVerify, err, "verify call failed")
	}

	c.rec.ObserveLatency("verify", c.now().Sub(started), map[string]string{"network": payload.Network})
	c.rec.IncCounter("verify_total", map[string]string{"stage": "verify", "network": payload.Network})
	return &result, nil
}

// Settle asks the facilitator to execute the on-chain transfer. A
// transport failure after submission surfaces as AMBIGUOUS_OUTCOME: the
// transfer may or may not have happened and must not be blindly retried.
func (c *Client) Settle(ctx context.Context, payload *types.PaymentPayload, reqs *types.PaymentRequirements) (*types.SettlementResult, error) {
	if err := c.limiter.Acquire(ctx); err != nil {
		return nil, types.WrapError(types.ErrNetworkError, types.StageSettle, err, "rate limiter interrupted")
	}

	started := c.now()
	body := &types.VerifyRequest{
		X402Version:         types.X402Version,
		PaymentPayload:      *payload,
		PaymentRequirements: *reqs,
	}

	var result types.SettlementResult
	if err := c.post(ctx, "/settle", body, &result); err != nil {
		return nil, types.WrapError(types.ErrAmbiguousOutcome, types.StageSettle, err,
			"settle call failed after submission; outcome unknown")
	}

	c.rec.ObserveLatency("settle", c.now().Sub(started), map[string]string{"network": payload.Network})
	c.rec.IncCounter("settle_total", map[string]string{"stage": "settle", "network": payload.Network})
	return &result, nil
}

// Supported lists the payment kinds the facilitator can process.
func (c *Client) Supported(ctx context.Context) (*types.SupportedResponse, error) {
	if err := c.limiter.Acquire(ctx); err != nil {
		return nil, types.WrapError(types.ErrNetworkError, "", err, "rate limiter interrupted")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/supported", nil)
	if err != nil {
		return nil, types.WrapError(types.ErrNetworkError, "", err, "build supported request")
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, types.WrapError(types.ErrNetworkError, "", err, "supported call failed")
	}
	defer resp.Body.Close()

	var out types.SupportedResponse
	if err := decodeResponse(resp, &out); err != nil {
		return nil, types.WrapError(types.ErrNetworkError, "", err, "decode supported response")
	}
	return &out, nil
}

// ProcessPayment composes verify and settle into one terminal outcome. A
// verification failure short-circuits before any settle call; every result
// carries a client-side reference and timestamp for audit correlation.
func (c *Client) ProcessPayment(ctx context.Context, payload *types.PaymentPayload, reqs *types.PaymentRequirements) (*types.PaymentResult, error) {
	result := &types.PaymentResult{
		Reference: c.newRef(),
		Timestamp: c.now(),
	}

	verification, err := c.Verify(ctx, payload, reqs)
	if err != nil {
		return nil, err
	}
	result.Verification = verification

	if !verification.IsValid {
		result.FailReason = verification.InvalidReason
		c.log.Warn("payment verification rejected", map[string]any{
			"reference": result.Reference,
			"reason":    verification.InvalidReason,
			"network":   payload.Network,
		})
		return result, nil
	}

	settlement, err := c.Settle(ctx, payload, reqs)
	if err != nil {
		return nil, err
	}
	result.Settlement = settlement

	if !settlement.Success {
		result.FailReason = settlement.Error
		return result, nil
	}

	result.Success = true
	c.log.Info("payment settled", map[string]any{
		"reference":   result.Reference,
		"transaction": settlement.Transaction,
		"network":     settlement.NetworkID,
	})
	return result, nil
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return decodeResponse(resp, out)
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func decodeResponse(resp *http.Response, out interface{}) error {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("facilitator returned %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
