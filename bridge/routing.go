// Package bridge obtains cross-chain swap quotes, manages spending
// approvals, executes routes, and tracks multi-leg settlement through a
// third-party routing service.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/paywire/paywire/logger"
	"github.com/paywire/paywire/types"
)

// Acquirer gates outbound calls; the process-wide rate limiter satisfies it.
type Acquirer interface {
	Acquire(ctx context.Context) error
}

type noopAcquirer struct{}

func (noopAcquirer) Acquire(context.Context) error { return nil }

// RoutingClient talks to the cross-chain routing service.
type RoutingClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter Acquirer
	log     logger.Logger
}

// RoutingOption configures a RoutingClient.
type RoutingOption func(*RoutingClient)

func WithRoutingHTTPClient(h *http.Client) RoutingOption {
	return func(c *RoutingClient) { c.http = h }
}

func WithRoutingAPIKey(key string) RoutingOption {
	return func(c *RoutingClient) { c.apiKey = key }
}

func WithRoutingRateLimiter(a Acquirer) RoutingOption {
	return func(c *RoutingClient) { c.limiter = a }
}

func WithRoutingLogger(l logger.Logger) RoutingOption {
	return func(c *RoutingClient) { c.log = l }
}

// NewRoutingClient builds a routing-service client for the given base URL.
func NewRoutingClient(baseURL string, opts ...RoutingOption) *RoutingClient {
	c := &RoutingClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: noopAcquirer{},
		log:     logger.NoopLogger{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type chainsResponse struct {
	Chains []types.ChainInfo `json:"chains"`
}

type tokensResponse struct {
	Tokens []types.TokenInfo `json:"tokens"`
}

// Chains lists the chains the routing service can bridge between.
func (c *RoutingClient) Chains(ctx context.Context) ([]types.ChainInfo, error) {
	var out chainsResponse
	if err := c.get(ctx, "/chains", nil, &out); err != nil {
		return nil, types.WrapError(types.ErrNetworkError, types.StageQuote, err, "list chains")
	}
	return out.Chains, nil
}

// Tokens lists the tokens the routing service knows on a chain.
func (c *RoutingClient) Tokens(ctx context.Context, chainID int64) ([]types.TokenInfo, error) {
	q := url.Values{"chainId": {strconv.FormatInt(chainID, 10)}}
	var out tokensResponse
	if err := c.get(ctx, "/tokens", q, &out); err != nil {
		return nil, types.WrapError(types.ErrNetworkError, types.StageQuote, err, "list tokens for chain %d", chainID)
	}
	return out.Tokens, nil
}

// Route requests a concrete executable route for the swap.
func (c *RoutingClient) Route(ctx context.Context, req *types.RouteRequest) (*types.SwapQuote, error) {
	if err := c.limiter.Acquire(ctx); err != nil {
		return nil, types.WrapError(types.ErrNetworkError, types.StageQuote, err, "rate limiter interrupted")
	}

	raw, err := json.Marshal(req)
	if err != nil {
		return nil, types.WrapError(types.ErrInvalidPayload, types.StageQuote, err, "encode route request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/route", bytes.NewReader(raw))
	if err != nil {
		return nil, types.WrapError(types.ErrNetworkError, types.StageQuote, err, "build route request")
	}
	c.setHeaders(httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, types.WrapError(types.ErrNetworkError, types.StageQuote, err, "route call failed")
	}
	defer resp.Body.Close()

	var out types.RouteResponse
	if err := decodeResponse(resp, &out); err != nil {
		return nil, types.WrapError(types.ErrNetworkError, types.StageQuote, err, "decode route response")
	}
	if out.Route == nil {
		return nil, types.NewError(types.ErrInvalidPayload, types.StageQuote, "routing service returned no route")
	}
	return out.Route, nil
}

// Status fetches the indexer's view of a submitted bridge transaction.
func (c *RoutingClient) Status(ctx context.Context, txID string, fromChainID, toChainID int64) (*types.BridgeStatusResponse, error) {
	q := url.Values{
		"transactionId": {txID},
		"fromChainId":   {strconv.FormatInt(fromChainID, 10)},
		"toChainId":     {strconv.FormatInt(toChainID, 10)},
	}
	var out types.BridgeStatusResponse
	if err := c.get(ctx, "/status", q, &out); err != nil {
		return nil, types.WrapError(types.ErrNetworkError, types.StageTrack, err, "status for %s", txID)
	}
	return &out, nil
}

func (c *RoutingClient) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	if err := c.limiter.Acquire(ctx); err != nil {
		return fmt.Errorf("rate limiter interrupted: %w", err)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
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

func (c *RoutingClient) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
}

func decodeResponse(resp *http.Response, out interface{}) error {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("routing service returned %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
