// Package protocol drives the x402 request → challenge → sign →
// retry-with-proof exchange against a paid resource.
package protocol

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/paywire/paywire/logger"
	"github.com/paywire/paywire/metrics"
	"github.com/paywire/paywire/types"
)

const maxChallengeBody = 1 << 20

// HTTPDoer is the resource-fetch collaborator. *http.Client satisfies it.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// PaymentSigner builds a signed authorization for a requirement; the
// signer.AuthorizationBuilder satisfies it.
type PaymentSigner interface {
	Build(ctx context.Context, req *types.PaymentRequirements) (*types.PaymentPayload, error)
}

// Settler runs verify+settle for a signed payload; the facilitator client
// satisfies it.
type Settler interface {
	ProcessPayment(ctx context.Context, payload *types.PaymentPayload, reqs *types.PaymentRequirements) (*types.PaymentResult, error)
}

// Client is the payment protocol state machine. It never retries
// transport failures and never re-signs on its own; both are caller
// policy.
type Client struct {
	http     HTTPDoer
	signer   PaymentSigner
	settler  Settler
	supports func(*types.PaymentRequirements) bool
	log      logger.Logger
	rec      metrics.Recorder
}

// Option configures a Client.
type Option func(*Client)

func WithHTTPDoer(d HTTPDoer) Option {
	return func(c *Client) { c.http = d }
}

// WithSupports replaces the predicate deciding which challenge
// alternatives the client is capable of paying.
func WithSupports(fn func(*types.PaymentRequirements) bool) Option {
	return func(c *Client) { c.supports = fn }
}

func WithLogger(l logger.Logger) Option {
	return func(c *Client) { c.log = l }
}

func WithMetrics(r metrics.Recorder) Option {
	return func(c *Client) { c.rec = r }
}

// New wires a protocol client around a signer and a settler.
func New(signer PaymentSigner, settler Settler, opts ...Option) *Client {
	c := &Client{
		http:    http.DefaultClient,
		signer:  signer,
		settler: settler,
		supports: func(r *types.PaymentRequirements) bool {
			return r.Scheme == types.SchemeExact && types.Network(r.Network).IsEVM()
		},
		log: logger.NoopLogger{},
		rec: metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do issues the request and, when the resource demands payment, pays and
// replays it with proof attached. Pass-through responses return with the
// payment machinery untouched. The returned response body is open on
// success; on failure it is closed and nil.
func (c *Client) Do(ctx context.Context, req *http.Request) (*types.PaymentOutcome, *http.Response, error) {
	body, err := bufferBody(req)
	if err != nil {
		return nil, nil, types.WrapError(types.ErrNetworkError, "", err, "buffer request body")
	}

	resp, err := c.http.Do(requestWithBody(ctx, req, body))
	if err != nil {
		return nil, nil, types.WrapError(types.ErrNetworkError, "", err, "initial request failed")
	}

	if resp.StatusCode != http.StatusPaymentRequired {
		// Most requests never need payment.
		return &types.PaymentOutcome{Status: types.OutcomeSettled, Paid: false}, resp, nil
	}

	challengeBody, err := io.ReadAll(io.LimitReader(resp.Body, maxChallengeBody))
	resp.Body.Close()
	if err != nil {
		return nil, nil, types.WrapError(types.ErrNetworkError, "", err, "read challenge body")
	}

	challenge, err := ParseChallenge(challengeBody)
	if err != nil {
		return nil, nil, err
	}

	requirement := c.selectRequirement(challenge)
	if requirement == nil {
		return nil, nil, types.NewError(types.ErrNoSupportedPaymentMethod, "",
			"none of %d challenge alternatives are payable by this client", len(challenge.Accepts))
	}

	c.log.Debug("challenge accepted", map[string]any{
		"network": requirement.Network,
		"asset":   requirement.Asset,
		"amount":  requirement.MaxAmountRequired,
	})

	payload, err := c.signer.Build(ctx, requirement)
	if err != nil {
		return nil, nil, err
	}

	payment, err := c.settler.ProcessPayment(ctx, payload, requirement)
	if err != nil {
		return nil, nil, err
	}
	if !payment.Success {
		// A settlement result means verification passed and the transfer
		// itself was rejected; the two failures are distinct classes.
		if payment.Settlement != nil {
			return nil, nil, types.NewError(types.ErrSettlementFailed, types.StageSettle,
				"payment rejected: %s", payment.FailReason)
		}
		return nil, nil, types.NewError(types.ErrVerificationFailed, types.StageVerify,
			"payment rejected: %s", payment.FailReason)
	}

	outcome, resp, err := c.replay(ctx, req, body, payload, requirement)
	if err != nil {
		return nil, nil, err
	}
	// Servers that relay the facilitator outcome in a response header are
	// the authoritative record of the settlement transaction.
	if hdr := resp.Header.Get(types.PaymentResponseHeader); hdr != "" {
		if settled, derr := DecodePaymentResponseHeader(hdr); derr == nil {
			payment.Settlement = settled
		}
	}
	outcome.Payment = payment
	c.rec.IncCounter("payment_settled_total", map[string]string{
		"stage": "replay", "network": requirement.Network,
	})
	return outcome, resp, nil
}

// replay reissues the original request with the proof header attached. A
// second challenge here is a protocol violation: retrying against a server
// that keeps demanding payment for the same nonce risks double payment.
func (c *Client) replay(ctx context.Context, req *http.Request, body []byte, payload *types.PaymentPayload, requirement *types.PaymentRequirements) (*types.PaymentOutcome, *http.Response, error) {
	header, err := EncodePaymentHeader(payload)
	if err != nil {
		return nil, nil, err
	}

	retry := requestWithBody(ctx, req, body)
	retry.Header.Set(types.PaymentHeader, header)

	resp, err := c.http.Do(retry)
	if err != nil {
		return nil, nil, types.WrapError(types.ErrNetworkError, types.StageReplay, err, "replay request failed")
	}

	if resp.StatusCode == http.StatusPaymentRequired {
		resp.Body.Close()
		return nil, nil, types.NewError(types.ErrChallengeAfterPayment, types.StageReplay,
			"resource challenged again after settled payment for %s", requirement.Resource)
	}

	outcome := &types.PaymentOutcome{
		Status:      types.OutcomeSettled,
		Paid:        true,
		Requirement: requirement,
	}
	return outcome, resp, nil
}

// selectRequirement picks the first alternative this client can pay.
func (c *Client) selectRequirement(challenge *types.PaymentRequiredResponse) *types.PaymentRequirements {
	for i := range challenge.Accepts {
		if c.supports(&challenge.Accepts[i]) {
			return &challenge.Accepts[i]
		}
	}
	return nil
}

// bufferBody captures the request body so the replay can send identical
// bytes.
func bufferBody(req *http.Request) ([]byte, error) {
	if req.Body == nil {
		return nil, nil
	}
	defer req.Body.Close()
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

// requestWithBody clones the original request with a fresh body reader.
func requestWithBody(ctx context.Context, req *http.Request, body []byte) *http.Request {
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
