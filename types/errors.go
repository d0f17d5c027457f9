package types

import (
	"errors"
	"fmt"
)

// Error codes. Protocol and settlement level failures are terminal for the
// current attempt; a retry always means a fresh authorization with a fresh
// nonce, never a resubmission.
const (
	ErrInvalidRequirement       = "INVALID_REQUIREMENT"
	ErrNoSupportedPaymentMethod = "NO_SUPPORTED_PAYMENT_METHOD"
	ErrSigningRejected          = "SIGNING_REJECTED"
	ErrVerificationFailed       = "VERIFICATION_FAILED"
	ErrSettlementFailed         = "SETTLEMENT_FAILED"
	ErrAmbiguousOutcome         = "AMBIGUOUS_OUTCOME"
	ErrBridgeTimeout            = "BRIDGE_TIMEOUT"
	ErrNoSwapNeeded             = "NO_SWAP_NEEDED"
	ErrChallengeAfterPayment    = "CHALLENGE_AFTER_PAYMENT"
	ErrFundsInTransit           = "FUNDS_IN_TRANSIT"
	ErrNetworkError             = "NETWORK_ERROR"
	ErrInvalidPayload           = "INVALID_PAYLOAD"
	ErrConfigError              = "CONFIG_ERROR"
)

// Stage names the point in the payment pipeline at which an attempt ended,
// so callers can distinguish "nothing happened, safe to retry" from
// "something may have happened, do not blindly retry".
type Stage string

const (
	StageQuote   Stage = "quote"
	StageApprove Stage = "approve"
	StageExecute Stage = "execute"
	StageTrack   Stage = "track"
	StageSign    Stage = "sign"
	StageVerify  Stage = "verify"
	StageSettle  Stage = "settle"
	StageReplay  Stage = "replay"
)

// Error is the engine's typed error. Code identifies the failure class,
// Stage the pipeline position, Err the underlying cause if any.
type Error struct {
	Code    string `json:"code"`
	Stage   Stage  `json:"stage,omitempty"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("%s [%s]: %s", e.Code, e.Stage, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a typed error without an underlying cause.
func NewError(code string, stage Stage, format string, args ...interface{}) *Error {
	return &Error{Code: code, Stage: stage, Message: fmt.Sprintf(format, args...)}
}

// WrapError builds a typed error around an underlying cause.
func WrapError(code string, stage Stage, err error, format string, args ...interface{}) *Error {
	return &Error{Code: code, Stage: stage, Message: fmt.Sprintf(format, args...), Err: err}
}

// ErrorCode extracts the engine error code from err, or "" when err is not
// a typed engine error.
func ErrorCode(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether err is a typed engine error with the given code.
func IsCode(err error, code string) bool {
	return ErrorCode(err) == code
}
