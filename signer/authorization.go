package signer

import (
	"context"
	"crypto/rand"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/paywire/paywire/logger"
	"github.com/paywire/paywire/signer/eip712"
	"github.com/paywire/paywire/types"
)

// AuthorizationBuilder turns a payment requirement plus a signing
// capability into a signed, time-bounded transfer authorization.
type AuthorizationBuilder struct {
	signer Signer
	log    logger.Logger
	now    func() time.Time
}

// NewAuthorizationBuilder wires a builder around the given signer.
func NewAuthorizationBuilder(s Signer, log logger.Logger) *AuthorizationBuilder {
	if log == nil {
		log = logger.NoopLogger{}
	}
	return &AuthorizationBuilder{signer: s, log: log, now: time.Now}
}

// Build produces a PaymentPayload for the requirement: a fresh 256-bit
// nonce, a [now, now+timeout] validity window, and an EIP-712 signature
// bound to the asset's (name, version, chainId, contract) domain.
//
// Each call yields a distinct nonce and signature even for identical
// requirements; an authorization is consumed exactly once by settlement.
func (b *AuthorizationBuilder) Build(ctx context.Context, req *types.PaymentRequirements) (*types.PaymentPayload, error) {
	if err := req.Validate(); err != nil {
		return nil, types.WrapError(types.ErrInvalidRequirement, types.StageSign, err, "requirement rejected: %v", err)
	}

	value, ok := new(big.Int).SetString(req.MaxAmountRequired, 10)
	if !ok || value.Sign() <= 0 {
		return nil, types.NewError(types.ErrInvalidRequirement, types.StageSign,
			"maxAmountRequired %q is not a positive integer", req.MaxAmountRequired)
	}

	chainID, ok := types.Network(req.Network).ChainID()
	if !ok {
		return nil, types.NewError(types.ErrInvalidRequirement, types.StageSign,
			"unknown network %q", req.Network)
	}

	var nonce [32]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, types.WrapError(types.ErrSigningRejected, types.StageSign, err, "nonce generation failed")
	}

	now := b.now().Unix()
	validAfter := big.NewInt(now)
	validBefore := big.NewInt(now + int64(req.MaxTimeoutSeconds))

	from := b.signer.Address()
	to := common.HexToAddress(req.PayTo)

	domain := eip712.Domain{
		Name:              req.DomainName(),
		Version:           req.DomainVersion(),
		ChainID:           chainID,
		VerifyingContract: common.HexToAddress(req.Asset),
	}

	digest, err := eip712.TransferDigest(domain, from, to, value, validAfter, validBefore, nonce)
	if err != nil {
		return nil, types.WrapError(types.ErrInvalidRequirement, types.StageSign, err, "digest construction failed")
	}

	sig, err := b.signer.SignDigest(ctx, digest)
	if err != nil {
		return nil, types.WrapError(types.ErrSigningRejected, types.StageSign, err, "signer declined")
	}

	b.log.Debug("authorization signed", map[string]any{
		"network":     req.Network,
		"asset":       req.Asset,
		"value":       value.String(),
		"validBefore": validBefore.String(),
	})

	return &types.PaymentPayload{
		X402Version: types.X402Version,
		Scheme:      req.Scheme,
		Network:     req.Network,
		Payload: types.EIP3009Payload{
			Signature: hexutil.Encode(sig),
			Authorization: types.EIP3009Authorization{
				From:        from.Hex(),
				To:          to.Hex(),
				Value:       value.String(),
				ValidAfter:  strconv.FormatInt(validAfter.Int64(), 10),
				ValidBefore: strconv.FormatInt(validBefore.Int64(), 10),
				Nonce:       hexutil.Encode(nonce[:]),
			},
		},
	}, nil
}
