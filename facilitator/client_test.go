package facilitator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paywire/paywire/types"
)

func testPayload() *types.PaymentPayload {
	return &types.PaymentPayload{
		X402Version: 1,
		Scheme:      types.SchemeExact,
		Network:     "base",
		Payload: types.EIP3009Payload{
			Signature: "0xabc123",
			Authorization: types.EIP3009Authorization{
				From:        "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266",
				To:          "0x70997970C51812dc3A010C7d01b50e0d17dc79C8",
				Value:       "50000",
				ValidAfter:  "1700000000",
				ValidBefore: "1700000300",
				Nonce:       "0x0000000000000000000000000000000000000000000000000000000000000001",
			},
		},
	}
}

func testReqs() *types.PaymentRequirements {
	return &types.PaymentRequirements{
		Scheme:            types.SchemeExact,
		Network:           "base",
		MaxAmountRequired: "50000",
		PayTo:             "0x70997970C51812dc3A010C7d01b50e0d17dc79C8",
		MaxTimeoutSeconds: 300,
		Asset:             "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
	}
}

func fakeFacilitator(t *testing.T, verify types.VerificationResult, settle types.SettlementResult, settleCalls *int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req types.VerifyRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, 1, req.X402Version)

		switch r.URL.Path {
		case "/verify":
			json.NewEncoder(w).Encode(verify)
		case "/settle":
			if settleCalls != nil {
				atomic.AddInt64(settleCalls, 1)
			}
			json.NewEncoder(w).Encode(settle)
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestProcessPayment_Success(t *testing.T) {
	var settleCalls int64
	srv := fakeFacilitator(t,
		types.VerificationResult{IsValid: true, Payer: "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"},
		types.SettlementResult{Success: true, Transaction: "0xdeadbeef", NetworkID: "base"},
		&settleCalls)
	defer srv.Close()

	c := New(srv.URL)
	result, err := c.ProcessPayment(context.Background(), testPayload(), testReqs())
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.NotEmpty(t, result.Reference)
	assert.False(t, result.Timestamp.IsZero())
	assert.Equal(t, "0xdeadbeef", result.Settlement.Transaction)
	assert.EqualValues(t, 1, settleCalls)
}

func TestProcessPayment_VerifyFailureShortCircuitsSettle(t *testing.T) {
	var settleCalls int64
	srv := fakeFacilitator(t,
		types.VerificationResult{IsValid: false, InvalidReason: "signature expired"},
		types.SettlementResult{Success: true},
		&settleCalls)
	defer srv.Close()

	c := New(srv.URL)
	result, err := c.ProcessPayment(context.Background(), testPayload(), testReqs())
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, "signature expired", result.FailReason)
	assert.EqualValues(t, 0, settleCalls, "settle must not run after failed verification")
}

func TestSettle_TransportFailureIsAmbiguous(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/verify" {
			json.NewEncoder(w).Encode(types.VerificationResult{IsValid: true})
			return
		}
		// Kill the connection mid-settle: the outcome is unknown.
		hj, ok := w.(http.Hijacker)
		require.True(t, ok)
		conn, _, err := hj.Hijack()
		require.NoError(t, err)
		conn.Close()
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.ProcessPayment(context.Background(), testPayload(), testReqs())
	require.Error(t, err)
	assert.Equal(t, types.ErrAmbiguousOutcome, types.ErrorCode(err))
}

func TestVerify_SendsAuthHeader(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(types.VerificationResult{IsValid: true})
	}))
	defer srv.Close()

	c := New(srv.URL, WithAPIKey("secret-key"))
	_, err := c.Verify(context.Background(), testPayload(), testReqs())
	require.NoError(t, err)
	assert.Equal(t, "Bearer secret-key", gotAuth)
}

func TestVerify_Non2xxIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal error", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.Verify(context.Background(), testPayload(), testReqs())
	require.Error(t, err)
	assert.Equal(t, types.ErrNetworkError, types.ErrorCode(err))
}

func TestSupported_ListsKinds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/supported", r.URL.Path)
		json.NewEncoder(w).Encode(types.SupportedResponse{
			Kinds: []types.SupportedKind{{X402Version: 1, Scheme: "exact", Network: "base"}},
		})
	}))
	defer srv.Close()

	c := New(srv.URL)
	out, err := c.Supported(context.Background())
	require.NoError(t, err)
	require.Len(t, out.Kinds, 1)
	assert.Equal(t, "base", out.Kinds[0].Network)
}
