package chains

import (
	"fmt"
	"strings"
)

// Public RPC endpoints used for balance reads when no override is configured.
var defaultRPCByChainID = map[int64]string{
	1:        "https://eth.llamarpc.com",
	10:       "https://mainnet.optimism.io",
	56:       "https://bsc-dataseed.binance.org",
	97:       "https://data-seed-prebsc-1-s1.binance.org:8545",
	137:      "https://polygon-rpc.com",
	8453:     "https://mainnet.base.org",
	42161:    "https://arb1.arbitrum.io/rpc",
	43113:    "https://api.avax-test.network/ext/bc/C/rpc",
	43114:    "https://api.avax.network/ext/bc/C/rpc",
	80001:    "https://rpc-mumbai.maticvigil.com",
	84532:    "https://sepolia.base.org",
	421614:   "https://sepolia-rollup.arbitrum.io/rpc",
	11155111: "https://rpc.sepolia.org",
	11155420: "https://sepolia.optimism.io",
}

func DefaultRPCURL(chainID int64) (string, bool) {
	value, ok := defaultRPCByChainID[chainID]
	return value, ok
}

// RPCResolver picks the RPC endpoint for a chain. Overrides are keyed by
// network name or by decimal chain id.
type RPCResolver struct {
	overrides map[int64]string
}

func NewRPCResolver(overrides map[string]string) *RPCResolver {
	r := &RPCResolver{overrides: map[int64]string{}}
	for key, url := range overrides {
		url = strings.TrimSpace(url)
		if url == "" {
			continue
		}
		if n, err := ParseNetwork(key); err == nil {
			r.overrides[n.ChainID] = url
			continue
		}
		if id, err := ParseChainID(key); err == nil {
			r.overrides[id] = url
		}
	}
	return r
}

// Resolve returns, in order: the explicit override argument, a configured
// override, then the default table.
func (r *RPCResolver) Resolve(override string, chainID int64) (string, error) {
	if strings.TrimSpace(override) != "" {
		return strings.TrimSpace(override), nil
	}
	if r != nil {
		if v, ok := r.overrides[chainID]; ok {
			return v, nil
		}
	}
	if value, ok := DefaultRPCURL(chainID); ok {
		return value, nil
	}
	return "", fmt.Errorf("no default rpc configured for chain id %d; provide --rpc-url", chainID)
}
