package types

// NativeAsset is the asset marker used by the routing service for a
// chain's gas token, which never needs an ERC-20 approval.
const NativeAsset = "0x0000000000000000000000000000000000000000"

// ChainInfo describes one chain known to the routing service.
type ChainInfo struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Key       string `json:"key"`
	NativeSym string `json:"nativeSymbol,omitempty"`
}

// TokenInfo describes one token on a chain known to the routing service.
type TokenInfo struct {
	ChainID  int64  `json:"chainId"`
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
	Name     string `json:"name,omitempty"`
}

// IsNative reports whether the token is the chain's gas token.
func (t *TokenInfo) IsNative() bool {
	return t.Address == "" || t.Address == NativeAsset
}

// RouteRequest is the body posted to the routing service's /route endpoint.
type RouteRequest struct {
	FromChain   int64   `json:"fromChain"`
	ToChain     int64   `json:"toChain"`
	FromToken   string  `json:"fromToken"`
	ToToken     string  `json:"toToken"`
	FromAmount  string  `json:"fromAmount"`
	FromAddress string  `json:"fromAddress"`
	ToAddress   string  `json:"toAddress"`
	Slippage    float64 `json:"slippage"`
}

// TransactionRequest is the executable payload of a quoted route: exactly
// what must be submitted on the source chain, prepared by the router.
type TransactionRequest struct {
	To       string `json:"to"`
	Data     string `json:"data"`
	Value    string `json:"value"`
	GasLimit string `json:"gasLimit,omitempty"`
	GasPrice string `json:"gasPrice,omitempty"`
	ChainID  int64  `json:"chainId"`
}

// RouteEstimate is the router's projection of what a route will deliver.
type RouteEstimate struct {
	FromAmount        string  `json:"fromAmount"`
	ToAmount          string  `json:"toAmount"`
	ToAmountMin       string  `json:"toAmountMin"`
	ExchangeRate      string  `json:"exchangeRate,omitempty"`
	PriceImpact       string  `json:"priceImpact,omitempty"`
	ExecutionDuration int     `json:"executionDuration,omitempty"`
	ApprovalAddress   string  `json:"approvalAddress,omitempty"`
	Slippage          float64 `json:"slippage,omitempty"`
}

// SwapQuote is a single-use executable route. Quotes expire implicitly as
// price and liquidity move; callers must re-quote rather than reuse one
// across long delays.
type SwapQuote struct {
	FromChainID int64  `json:"fromChainId"`
	ToChainID   int64  `json:"toChainId"`
	FromToken   string `json:"fromToken"`
	ToToken     string `json:"toToken"`

	Estimate           RouteEstimate       `json:"estimate"`
	TransactionRequest *TransactionRequest `json:"transactionRequest,omitempty"`
}

// RouteResponse is the routing service's /route reply.
type RouteResponse struct {
	Route *SwapQuote `json:"route"`
}

// BridgeStatus enumerates the observable states of a multi-leg bridge
// transaction. Owned by the router's indexer; the client only polls it.
type BridgeStatus string

const (
	BridgeStatusPending        BridgeStatus = "pending"
	BridgeStatusNeedsGas       BridgeStatus = "needs_gas"
	BridgeStatusOngoing        BridgeStatus = "ongoing"
	BridgeStatusSuccess        BridgeStatus = "success"
	BridgeStatusPartialSuccess BridgeStatus = "partial_success"
	BridgeStatusNotFound       BridgeStatus = "not_found"
	BridgeStatusError          BridgeStatus = "error"
)

// Terminal reports whether polling can stop at this status.
func (s BridgeStatus) Terminal() bool {
	return s == BridgeStatusSuccess || s == BridgeStatusPartialSuccess
}

// BridgeLeg identifies one chain-side transaction of a bridge transfer.
type BridgeLeg struct {
	ChainID int64  `json:"chainId"`
	TxHash  string `json:"txHash,omitempty"`
}

// BridgeStatusResponse is the routing service's /status reply.
type BridgeStatusResponse struct {
	Status    BridgeStatus `json:"status"`
	FromChain *BridgeLeg   `json:"fromChain,omitempty"`
	ToChain   *BridgeLeg   `json:"toChain,omitempty"`
	Error     string       `json:"error,omitempty"`
}

// BridgeResult is the terminal outcome of an executed swap: the source
// transaction, the destination transaction once indexed, and the final
// observed status.
type BridgeResult struct {
	SourceTx      string       `json:"sourceTx"`
	DestinationTx string       `json:"destinationTx,omitempty"`
	Status        BridgeStatus `json:"status"`
	ToAmount      string       `json:"toAmount,omitempty"`
}
