package types

import (
	"fmt"
	"time"
)

// X402Version is the protocol version this engine speaks.
const X402Version = 1

// PaymentHeader is the request header carrying the base64-encoded payment
// payload on a retried request.
const PaymentHeader = "X-Payment"

// PaymentResponseHeader carries the facilitator settlement outcome back to
// the client on a successfully paid response.
const PaymentResponseHeader = "X-Payment-Response"

// SchemeExact is the only payment scheme the engine currently supports.
const SchemeExact = "exact"

// PaymentRequirements describes what a resource server accepts as payment.
// It is issued inside a 402 challenge and is immutable once received.
type PaymentRequirements struct {
	// Scheme of the payment protocol to use (e.g., "exact").
	Scheme string `json:"scheme" validate:"required"`

	// Network of the blockchain to send payment on (e.g., "base").
	Network string `json:"network" validate:"required"`

	// Maximum amount required to pay for the resource in atomic units of
	// the asset. Kept as a string because Go has no uint256.
	MaxAmountRequired string `json:"maxAmountRequired" validate:"required"`

	// URL of the resource to pay for.
	Resource string `json:"resource"`

	// Description of the resource being purchased.
	Description string `json:"description,omitempty"`

	// MIME type of the resource response.
	MimeType string `json:"mimeType,omitempty"`

	// Output schema of the resource response, if applicable.
	OutputSchema map[string]interface{} `json:"outputSchema,omitempty"`

	// Address to which the payment must be sent.
	PayTo string `json:"payTo" validate:"required"`

	// Maximum validity window of a payment authorization, in seconds.
	MaxTimeoutSeconds int `json:"maxTimeoutSeconds" validate:"gt=0"`

	// Address of the EIP-3009 compliant ERC-20 contract.
	Asset string `json:"asset" validate:"required"`

	// Extra carries scheme-specific details. For "exact" on EVM this holds
	// the token's EIP-712 domain "name" and "version".
	Extra map[string]interface{} `json:"extra,omitempty"`
}

// Validate checks the invariants a requirement must hold before it can be
// signed against.
func (pr *PaymentRequirements) Validate() error {
	if pr.Scheme == "" {
		return fmt.Errorf("paymentRequirements.scheme is required")
	}
	if pr.Network == "" {
		return fmt.Errorf("paymentRequirements.network is required")
	}
	if pr.MaxAmountRequired == "" {
		return fmt.Errorf("paymentRequirements.maxAmountRequired is required")
	}
	if pr.PayTo == "" {
		return fmt.Errorf("paymentRequirements.payTo is required")
	}
	if pr.Asset == "" {
		return fmt.Errorf("paymentRequirements.asset is required")
	}
	if pr.MaxTimeoutSeconds <= 0 {
		return fmt.Errorf("paymentRequirements.maxTimeoutSeconds must be greater than 0")
	}
	return nil
}

// DomainName returns the EIP-712 domain name advertised in Extra.
func (pr *PaymentRequirements) DomainName() string {
	if v, ok := pr.Extra["name"].(string); ok {
		return v
	}
	return ""
}

// DomainVersion returns the EIP-712 domain version advertised in Extra.
func (pr *PaymentRequirements) DomainVersion() string {
	if v, ok := pr.Extra["version"].(string); ok {
		return v
	}
	return ""
}

// PaymentRequiredResponse is the body of a 402 challenge: one or more
// requirement alternatives the server accepts.
type PaymentRequiredResponse struct {
	X402Version int                   `json:"x402Version"`
	Accepts     []PaymentRequirements `json:"accepts"`
	Error       string                `json:"error,omitempty"`
}

// EIP3009Authorization is the structured message a payer signs to permit a
// one-time transferWithAuthorization. All numeric fields are decimal
// strings; Nonce is 0x-prefixed 32-byte hex.
type EIP3009Authorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// EIP3009Payload pairs an authorization with its 65-byte ECDSA signature.
type EIP3009Payload struct {
	Signature     string               `json:"signature"`
	Authorization EIP3009Authorization `json:"authorization"`
}

// PaymentPayload is the decoded form of the X-Payment header.
type PaymentPayload struct {
	X402Version int            `json:"x402Version"`
	Scheme      string         `json:"scheme"`
	Network     string         `json:"network"`
	Payload     EIP3009Payload `json:"payload"`
}

// Validate checks the payload carries everything a facilitator needs.
func (p *PaymentPayload) Validate() error {
	if p.X402Version <= 0 {
		return fmt.Errorf("x402Version must be greater than 0")
	}
	if p.Scheme == "" {
		return fmt.Errorf("scheme is required")
	}
	if p.Network == "" {
		return fmt.Errorf("network is required")
	}
	if p.Payload.Signature == "" {
		return fmt.Errorf("payload.signature is required")
	}
	if p.Payload.Authorization.From == "" || p.Payload.Authorization.To == "" {
		return fmt.Errorf("payload.authorization from/to are required")
	}
	return nil
}

// VerifyRequest is the body posted to the facilitator's /verify and
// /settle endpoints.
type VerifyRequest struct {
	X402Version         int                 `json:"x402Version"`
	PaymentPayload      PaymentPayload      `json:"paymentPayload"`
	PaymentRequirements PaymentRequirements `json:"paymentRequirements"`
}

// VerificationResult is the facilitator's answer to /verify. An invalid
// result is ordinary output, not an error.
type VerificationResult struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

// SettlementResult is the facilitator's answer to /settle.
type SettlementResult struct {
	Success     bool   `json:"success"`
	Transaction string `json:"transaction,omitempty"`
	NetworkID   string `json:"networkId,omitempty"`
	Payer       string `json:"payer,omitempty"`
	Error       string `json:"error,omitempty"`
}

// SupportedKind describes one payment kind a facilitator can process.
type SupportedKind struct {
	X402Version int                    `json:"x402Version"`
	Scheme      string                 `json:"scheme"`
	Network     string                 `json:"network"`
	Extra       map[string]interface{} `json:"extra,omitempty"`
}

// SupportedResponse lists all payment kinds a facilitator supports.
type SupportedResponse struct {
	Kinds []SupportedKind `json:"kinds"`
}

// PaymentResult is the terminal outcome of a verify+settle exchange,
// tagged with a client-side reference for audit correlation.
type PaymentResult struct {
	Reference    string              `json:"reference"`
	Success      bool                `json:"success"`
	FailReason   string              `json:"failReason,omitempty"`
	Verification *VerificationResult `json:"verification,omitempty"`
	Settlement   *SettlementResult   `json:"settlement,omitempty"`
	Timestamp    time.Time           `json:"timestamp"`
}

// OutcomeStatus classifies how a payment attempt against a resource ended.
type OutcomeStatus string

const (
	// OutcomeSettled means the resource responded, either without demanding
	// payment or after a successful paid replay.
	OutcomeSettled OutcomeStatus = "settled"

	// OutcomeFailed means the attempt ended at some stage with an error.
	OutcomeFailed OutcomeStatus = "failed"
)

// PaymentOutcome is what the protocol client and the orchestrator hand
// back to callers: the terminal status, whether payment machinery actually
// ran, and the settlement details when it did.
type PaymentOutcome struct {
	Status OutcomeStatus `json:"status"`

	// Paid is false for pass-through responses that never demanded payment.
	Paid bool `json:"paid"`

	// Requirement is the alternative selected from the challenge, when one was.
	Requirement *PaymentRequirements `json:"requirement,omitempty"`

	// Payment is the verify+settle result for paid outcomes.
	Payment *PaymentResult `json:"payment,omitempty"`

	// Bridge is set when value was bridged before the payment succeeded.
	Bridge *BridgeResult `json:"bridge,omitempty"`
}
