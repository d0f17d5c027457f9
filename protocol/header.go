package protocol

import (
	"encoding/base64"
	"encoding/json"

	"github.com/go-playground/validator/v10"

	"github.com/paywire/paywire/types"
)

var validate = validator.New()

// EncodePaymentHeader serializes a payment payload into the base64 JSON
// form carried by the X-Payment header.
func EncodePaymentHeader(p *types.PaymentPayload) (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", types.WrapError(types.ErrInvalidPayload, types.StageReplay, err, "encode payment header")
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodePaymentResponseHeader parses the base64 JSON settlement result a
// server may attach to a paid response.
func DecodePaymentResponseHeader(header string) (*types.SettlementResult, error) {
	raw, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil, types.WrapError(types.ErrInvalidPayload, types.StageReplay, err, "payment response header is not base64")
	}
	var result types.SettlementResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, types.WrapError(types.ErrInvalidPayload, types.StageReplay, err, "payment response header is not valid JSON")
	}
	return &result, nil
}

// ParseChallenge validates a 402 body at the boundary: malformed payloads
// become typed parse errors instead of loosely-typed data flowing inward.
// A malformed alternative is dropped rather than failing the challenge, so
// one broken entry cannot block payment via a valid one.
func ParseChallenge(body []byte) (*types.PaymentRequiredResponse, error) {
	var challenge types.PaymentRequiredResponse
	if err := json.Unmarshal(body, &challenge); err != nil {
		return nil, types.WrapError(types.ErrInvalidPayload, "", err, "challenge body is not valid JSON")
	}

	if len(challenge.Accepts) == 0 {
		return nil, types.NewError(types.ErrInvalidPayload, "", "challenge offers no payment requirements")
	}

	valid := challenge.Accepts[:0]
	for i := range challenge.Accepts {
		req := challenge.Accepts[i]
		if err := validate.Struct(&req); err != nil {
			continue
		}
		if err := req.Validate(); err != nil {
			continue
		}
		valid = append(valid, req)
	}
	if len(valid) == 0 {
		return nil, types.NewError(types.ErrInvalidPayload, "",
			"challenge offers no well-formed payment requirements")
	}
	challenge.Accepts = valid
	return &challenge, nil
}
