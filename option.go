package paywire

import (
	"net/http"

	"github.com/paywire/paywire/logger"
	"github.com/paywire/paywire/metrics"
	"github.com/paywire/paywire/signer"
	"github.com/paywire/paywire/types"
)

// Option configures an Engine.
type Option func(*Engine)

func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		e.log = l
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(e *Engine) {
		e.rec = r
	}
}

// WithSigner supplies the account's signing capability. Required; the
// engine never holds key material itself.
func WithSigner(s signer.Signer) Option {
	return func(e *Engine) {
		e.signer = s
	}
}

// WithTransactionSender supplies the broadcast capability used for
// approvals and swap submissions. Without it the engine pays directly
// but never bridges.
func WithTransactionSender(s signer.TransactionSender) Option {
	return func(e *Engine) {
		e.sender = s
	}
}

func WithHTTPClient(h *http.Client) Option {
	return func(e *Engine) {
		e.http = h
	}
}

// WithHolding declares a funding source the account actually holds.
// Direct payment is attempted only against challenge alternatives that
// match a holding; anything else goes through the bridge.
func WithHolding(network types.Network, asset string) Option {
	return func(e *Engine) {
		e.holdings = append(e.holdings, Holding{Network: network, Asset: asset})
	}
}
