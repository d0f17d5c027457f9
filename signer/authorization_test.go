package signer

import (
	"context"
	"errors"
	"math/big"
	"strconv"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paywire/paywire/signer/eip712"
	"github.com/paywire/paywire/types"
)

const testKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func testRequirement() *types.PaymentRequirements {
	return &types.PaymentRequirements{
		Scheme:            types.SchemeExact,
		Network:           "base",
		MaxAmountRequired: "50000",
		Resource:          "https://api.example.com/data",
		PayTo:             "0x70997970C51812dc3A010C7d01b50e0d17dc79C8",
		MaxTimeoutSeconds: 300,
		Asset:             "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		Extra:             map[string]interface{}{"name": "USD Coin", "version": "2"},
	}
}

func newTestBuilder(t *testing.T) (*AuthorizationBuilder, *LocalSigner) {
	t.Helper()
	s, err := NewLocalSigner(testKey)
	require.NoError(t, err)
	return NewAuthorizationBuilder(s, nil), s
}

func TestBuild_ValidityWindowMatchesTimeout(t *testing.T) {
	b, _ := newTestBuilder(t)

	payload, err := b.Build(context.Background(), testRequirement())
	require.NoError(t, err)

	after, err := strconv.ParseInt(payload.Payload.Authorization.ValidAfter, 10, 64)
	require.NoError(t, err)
	before, err := strconv.ParseInt(payload.Payload.Authorization.ValidBefore, 10, 64)
	require.NoError(t, err)

	assert.Less(t, after, before)
	assert.Equal(t, int64(300), before-after)
}

func TestBuild_SignatureRecoversToSigner(t *testing.T) {
	b, s := newTestBuilder(t)
	req := testRequirement()

	payload, err := b.Build(context.Background(), req)
	require.NoError(t, err)

	auth := payload.Payload.Authorization
	assert.Equal(t, s.Address().Hex(), auth.From)

	nonce, err := eip712.NonceFromHex(auth.Nonce)
	require.NoError(t, err)

	value, _ := new(big.Int).SetString(auth.Value, 10)
	validAfter, _ := new(big.Int).SetString(auth.ValidAfter, 10)
	validBefore, _ := new(big.Int).SetString(auth.ValidBefore, 10)

	chainID, ok := types.Network(req.Network).ChainID()
	require.True(t, ok)

	domain := eip712.Domain{
		Name:              "USD Coin",
		Version:           "2",
		ChainID:           chainID,
		VerifyingContract: common.HexToAddress(req.Asset),
	}
	digest, err := eip712.TransferDigest(domain,
		common.HexToAddress(auth.From), common.HexToAddress(auth.To),
		value, validAfter, validBefore, nonce)
	require.NoError(t, err)

	sig, err := hexutil.Decode(payload.Payload.Signature)
	require.NoError(t, err)

	recovered, err := eip712.RecoverSigner(digest, sig)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), recovered)
}

func TestBuild_SignatureInvalidatedByDomainMismatch(t *testing.T) {
	b, s := newTestBuilder(t)
	req := testRequirement()

	payload, err := b.Build(context.Background(), req)
	require.NoError(t, err)

	auth := payload.Payload.Authorization
	nonce, err := eip712.NonceFromHex(auth.Nonce)
	require.NoError(t, err)

	value, _ := new(big.Int).SetString(auth.Value, 10)
	validAfter, _ := new(big.Int).SetString(auth.ValidAfter, 10)
	validBefore, _ := new(big.Int).SetString(auth.ValidBefore, 10)

	chainID, _ := types.Network(req.Network).ChainID()

	// Same message, wrong domain version: recovery must not yield the payer.
	wrongDomain := eip712.Domain{
		Name:              "USD Coin",
		Version:           "1",
		ChainID:           chainID,
		VerifyingContract: common.HexToAddress(req.Asset),
	}
	digest, err := eip712.TransferDigest(wrongDomain,
		common.HexToAddress(auth.From), common.HexToAddress(auth.To),
		value, validAfter, validBefore, nonce)
	require.NoError(t, err)

	sig, err := hexutil.Decode(payload.Payload.Signature)
	require.NoError(t, err)

	recovered, err := eip712.RecoverSigner(digest, sig)
	require.NoError(t, err)
	assert.NotEqual(t, s.Address(), recovered)
}

func TestBuild_NoncesNeverCollide(t *testing.T) {
	b, _ := newTestBuilder(t)
	req := testRequirement()

	seen := make(map[string]struct{}, 10000)
	for i := 0; i < 10000; i++ {
		payload, err := b.Build(context.Background(), req)
		require.NoError(t, err)

		nonce := payload.Payload.Authorization.Nonce
		_, dup := seen[nonce]
		require.False(t, dup, "nonce collision after %d trials", i)
		seen[nonce] = struct{}{}
	}
}

func TestBuild_ResigningYieldsFreshNonceAndSignature(t *testing.T) {
	b, _ := newTestBuilder(t)
	req := testRequirement()

	first, err := b.Build(context.Background(), req)
	require.NoError(t, err)
	second, err := b.Build(context.Background(), req)
	require.NoError(t, err)

	assert.NotEqual(t, first.Payload.Authorization.Nonce, second.Payload.Authorization.Nonce)
	assert.NotEqual(t, first.Payload.Signature, second.Payload.Signature)
}

func TestBuild_RejectsInvalidRequirements(t *testing.T) {
	b, _ := newTestBuilder(t)

	cases := map[string]func(*types.PaymentRequirements){
		"empty recipient":    func(r *types.PaymentRequirements) { r.PayTo = "" },
		"zero amount":        func(r *types.PaymentRequirements) { r.MaxAmountRequired = "0" },
		"negative amount":    func(r *types.PaymentRequirements) { r.MaxAmountRequired = "-1" },
		"non-numeric amount": func(r *types.PaymentRequirements) { r.MaxAmountRequired = "lots" },
		"zero timeout":       func(r *types.PaymentRequirements) { r.MaxTimeoutSeconds = 0 },
		"unknown network":    func(r *types.PaymentRequirements) { r.Network = "tron" },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := testRequirement()
			mutate(req)
			_, err := b.Build(context.Background(), req)
			require.Error(t, err)
			assert.Equal(t, types.ErrInvalidRequirement, types.ErrorCode(err))
		})
	}
}

type rejectingSigner struct {
	addr common.Address
}

func (r rejectingSigner) Address() common.Address { return r.addr }
func (r rejectingSigner) SignDigest(context.Context, [32]byte) ([]byte, error) {
	return nil, errors.New("user cancelled")
}

func TestBuild_SignerDeclineIsSigningRejected(t *testing.T) {
	b := NewAuthorizationBuilder(rejectingSigner{}, nil)

	_, err := b.Build(context.Background(), testRequirement())
	require.Error(t, err)
	assert.Equal(t, types.ErrSigningRejected, types.ErrorCode(err))
}
