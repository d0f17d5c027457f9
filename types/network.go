package types

import "math/big"

// Network names a blockchain the engine can pay on.
type Network string

const (
	NetworkEthereum    Network = "ethereum"
	NetworkBase        Network = "base"
	NetworkBaseSepolia Network = "base-sepolia"
	NetworkPolygon     Network = "polygon"
	NetworkPolygonAmoy Network = "polygon-amoy"
	NetworkArbitrum    Network = "arbitrum"
	NetworkOptimism    Network = "optimism"
)

// chainIDs maps network names to EVM chain IDs, used both for EIP-712
// domain separation and for routing-service chain parameters.
var chainIDs = map[Network]int64{
	NetworkEthereum:    1,
	NetworkBase:        8453,
	NetworkBaseSepolia: 84532,
	NetworkPolygon:     137,
	NetworkPolygonAmoy: 80002,
	NetworkArbitrum:    42161,
	NetworkOptimism:    10,
}

// ChainID returns the network's EVM chain ID, or false for networks the
// engine does not know.
func (n Network) ChainID() (*big.Int, bool) {
	id, ok := chainIDs[n]
	if !ok {
		return nil, false
	}
	return big.NewInt(id), true
}

// IsEVM reports whether the network is an EVM chain the engine supports.
func (n Network) IsEVM() bool {
	_, ok := chainIDs[n]
	return ok
}

// IsTestnet reports whether the network is a test network.
func (n Network) IsTestnet() bool {
	return n == NetworkBaseSepolia || n == NetworkPolygonAmoy
}

func (n Network) String() string {
	return string(n)
}

// NetworkForChainID resolves a chain ID back to a known network name.
func NetworkForChainID(id int64) (Network, bool) {
	for n, cid := range chainIDs {
		if cid == id {
			return n, true
		}
	}
	return "", false
}
