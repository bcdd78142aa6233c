package chains

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	clierr "github.com/ggonzalez94/sideshift-bridge/internal/errors"
)

var eip155ChainPattern = regexp.MustCompile(`^eip155:[0-9]+$`)

// Network is a SideShift network identifier bound to its EVM chain.
type Network struct {
	Name        string `json:"network"`
	DisplayName string `json:"display_name"`
	ChainID     int64  `json:"chain_id"`
	CAIP2       string `json:"caip2"`
	Testnet     bool   `json:"testnet"`
	Alias       bool   `json:"alias,omitempty"`
}

var networkByName = map[string]Network{
	"ethereum":        evm("ethereum", "Ethereum", 1, false),
	"sepolia":         evm("sepolia", "Sepolia", 11155111, true),
	"base":            evm("base", "Base", 8453, false),
	"baseSepolia":     evm("baseSepolia", "Base Sepolia", 84532, true),
	"bsc":             evm("bsc", "BSC", 56, false),
	"bscTestnet":      evm("bscTestnet", "BSC Testnet", 97, true),
	"polygon":         evm("polygon", "Polygon", 137, false),
	"polygonMumbai":   evm("polygonMumbai", "Polygon Mumbai", 80001, true),
	"arbitrum":        evm("arbitrum", "Arbitrum", 42161, false),
	"arbitrumSepolia": evm("arbitrumSepolia", "Arbitrum Sepolia", 421614, true),
	"optimism":        evm("optimism", "Optimism", 10, false),
	"optimismSepolia": evm("optimismSepolia", "Optimism Sepolia", 11155420, true),
	"avalanche":       evm("avalanche", "Avalanche", 43114, false),
	"avalancheFuji":   evm("avalancheFuji", "Avalanche Fuji", 43113, true),
	// SideShift uses "avax" for the Avalanche C-Chain.
	"avax": {Name: "avax", DisplayName: "Avalanche", ChainID: 43114, CAIP2: "eip155:43114", Alias: true},
}

var networkByLowerName = func() map[string]Network {
	out := make(map[string]Network, len(networkByName))
	for name, n := range networkByName {
		out[strings.ToLower(name)] = n
	}
	return out
}()

var networkByChainID = func() map[int64]Network {
	out := make(map[int64]Network, len(networkByName))
	for _, n := range networkByName {
		if n.Alias {
			continue
		}
		out[n.ChainID] = n
	}
	return out
}()

func evm(name, display string, chainID int64, testnet bool) Network {
	return Network{
		Name:        name,
		DisplayName: display,
		ChainID:     chainID,
		CAIP2:       fmt.Sprintf("eip155:%d", chainID),
		Testnet:     testnet,
	}
}

// Lookup resolves a SideShift network name. Exact names win over
// case-insensitive matches.
func Lookup(name string) (Network, bool) {
	name = strings.TrimSpace(name)
	if n, ok := networkByName[name]; ok {
		return n, true
	}
	n, ok := networkByLowerName[strings.ToLower(name)]
	return n, ok
}

// ChainIDForNetwork returns the EVM chain id a wallet must be on to read
// balances for the network.
func ChainIDForNetwork(name string) (int64, bool) {
	n, ok := Lookup(name)
	if !ok {
		return 0, false
	}
	return n.ChainID, true
}

func ByChainID(chainID int64) (Network, bool) {
	n, ok := networkByChainID[chainID]
	return n, ok
}

// ParseNetwork accepts a network name, a numeric chain id, or a CAIP-2 id.
func ParseNetwork(input string) (Network, error) {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return Network{}, clierr.New(clierr.CodeUsage, "network is required")
	}
	if n, ok := Lookup(raw); ok {
		return n, nil
	}
	norm := strings.ToLower(raw)
	if eip155ChainPattern.MatchString(norm) {
		norm = strings.TrimPrefix(norm, "eip155:")
	}
	if id, err := strconv.ParseInt(norm, 10, 64); err == nil {
		if n, ok := ByChainID(id); ok {
			return n, nil
		}
	}
	return Network{}, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("unsupported network: %s", input))
}

// ParseChainID accepts a decimal chain id or a CAIP-2 id.
func ParseChainID(input string) (int64, error) {
	norm := strings.ToLower(strings.TrimSpace(input))
	norm = strings.TrimPrefix(norm, "eip155:")
	id, err := strconv.ParseInt(norm, 10, 64)
	if err != nil || id <= 0 {
		return 0, clierr.New(clierr.CodeUsage, fmt.Sprintf("invalid chain id: %s", input))
	}
	return id, nil
}

// All returns the table sorted by chain id, aliases last.
func All() []Network {
	out := make([]Network, 0, len(networkByName))
	for _, n := range networkByName {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Alias != out[j].Alias {
			return !out[i].Alias
		}
		if out[i].ChainID != out[j].ChainID {
			return out[i].ChainID < out[j].ChainID
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// FormatNetworkName returns a human-readable network name. Unknown networks
// are returned with their first letter upper-cased.
func FormatNetworkName(name string) string {
	if n, ok := networkByName[name]; ok {
		return n.DisplayName
	}
	if name == "" {
		return ""
	}
	r, size := utf8.DecodeRuneInString(name)
	return string(unicode.ToUpper(r)) + name[size:]
}
