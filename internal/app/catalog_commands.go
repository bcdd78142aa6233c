package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ggonzalez94/sideshift-bridge/internal/assets"
	"github.com/ggonzalez94/sideshift-bridge/internal/cache"
	"github.com/ggonzalez94/sideshift-bridge/internal/chains"
	clierr "github.com/ggonzalez94/sideshift-bridge/internal/errors"
	"github.com/ggonzalez94/sideshift-bridge/internal/model"
	"github.com/ggonzalez94/sideshift-bridge/internal/sideshift"
	"github.com/spf13/cobra"
)

const (
	assetsCacheTTL = 10 * time.Minute
	pairCacheTTL   = 30 * time.Second
)

type assetView struct {
	Coin         string                           `json:"coin"`
	Name         string                           `json:"name"`
	DisplayName  string                           `json:"display_name"`
	Stablecoin   bool                             `json:"stablecoin"`
	Networks     []string                         `json:"networks"`
	TokenDetails map[string]sideshift.TokenDetail `json:"token_details,omitempty"`
}

type assetNetworkView struct {
	Network         string `json:"network"`
	DisplayName     string `json:"display_name"`
	ChainID         int64  `json:"chain_id,omitempty"`
	Native          bool   `json:"native"`
	ContractAddress string `json:"contract_address,omitempty"`
	Decimals        int    `json:"decimals,omitempty"`
}

type assetNetworksView struct {
	Coin        string             `json:"coin"`
	DisplayName string             `json:"display_name"`
	Networks    []assetNetworkView `json:"networks"`
}

// loadCatalog returns the supported-asset catalog, served through the TTL
// cache.
func (s *runtimeState) loadCatalog(ctx context.Context) (*assets.Catalog, cachedResult, error) {
	fetch := func(ctx context.Context) (any, *model.BackendStatus, error) {
		catalog := assets.NewCatalog(s.api)
		start := time.Now()
		err := catalog.Load(ctx)
		backend := s.backendStatus(start, err)
		if err != nil {
			return nil, backend, err
		}
		return catalog.Response(), backend, nil
	}
	res, err := s.resolveCached(ctx, cache.Key(cache.NamespaceAssets, "supported"), assetsCacheTTL, fetch)
	if err != nil {
		return nil, cachedResult{}, err
	}
	var resp sideshift.SupportedAssetsResponse
	if err := json.Unmarshal(res.payload, &resp); err != nil {
		return nil, cachedResult{}, clierr.Wrap(clierr.CodeInternal, "decode asset catalog", err)
	}
	return assets.NewCatalogFromSnapshot(resp), res, nil
}

func (s *runtimeState) newAssetsCommand() *cobra.Command {
	root := &cobra.Command{Use: "assets", Short: "Supported asset catalog"}

	var networkArg string
	listCmd := &cobra.Command{
		Use:     "list",
		Short:   "List coins supported by the backend",
		Example: "bridge assets list --network base --select coin,networks",
		RunE: func(cmd *cobra.Command, args []string) error {
			s.resetCommandDiagnostics()
			catalog, res, err := s.loadCatalog(cmd.Context())
			if err != nil {
				return err
			}
			network := strings.ToLower(strings.TrimSpace(networkArg))
			items := make([]assetView, 0)
			for _, a := range catalog.Assets() {
				if network != "" && !containsFold(a.Networks, network) {
					continue
				}
				items = append(items, assetView{
					Coin:         a.Coin,
					Name:         a.Name,
					DisplayName:  assets.CoinDisplayName(a.Coin),
					Stablecoin:   assets.IsStablecoin(a.Coin),
					Networks:     a.Networks,
					TokenDetails: a.TokenDetails,
				})
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), items, res.warnings, res.cache, res.backend)
		},
	}
	listCmd.Flags().StringVar(&networkArg, "network", "", "Only coins available on this network")

	networksCmd := &cobra.Command{
		Use:   "networks <coin>",
		Short: "Networks, chain ids and token contracts for a coin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s.resetCommandDiagnostics()
			catalog, res, err := s.loadCatalog(cmd.Context())
			if err != nil {
				return err
			}
			asset, ok := catalog.Lookup(args[0])
			if !ok {
				return clierr.New(clierr.CodeNotFound, fmt.Sprintf("coin %s is not supported", strings.TrimSpace(args[0])))
			}
			view := assetNetworksView{
				Coin:        asset.Coin,
				DisplayName: assets.CoinDisplayName(asset.Coin),
				Networks:    make([]assetNetworkView, 0, len(asset.Networks)),
			}
			for _, network := range catalog.Networks(asset.Coin) {
				item := assetNetworkView{
					Network:     network,
					DisplayName: chains.FormatNetworkName(network),
					Native:      assets.IsNativeCoin(asset.Coin),
				}
				if id, ok := chains.ChainIDForNetwork(network); ok {
					item.ChainID = id
				}
				if detail, ok := catalog.TokenDetail(asset.Coin, network); ok {
					item.ContractAddress = detail.ContractAddress
					item.Decimals = detail.Decimals
				}
				view.Networks = append(view.Networks, item)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), view, res.warnings, res.cache, res.backend)
		},
	}

	root.AddCommand(listCmd)
	root.AddCommand(networksCmd)
	return root
}

// pairTracker is built on first use, after the backend client exists.
func (s *runtimeState) pairTracker() *assets.PairTracker {
	if s.pairs == nil {
		s.pairs = assets.NewPairTracker(s.api, s.logger)
	}
	return s.pairs
}

// pairFetcher returns the cache key and backend fetch for one pair quote.
func (s *runtimeState) pairFetcher(key assets.PairKey) (string, fetchFn) {
	tracker := s.pairTracker()
	fetch := func(ctx context.Context) (any, *model.BackendStatus, error) {
		start := time.Now()
		info, _, err := tracker.Request(ctx, key)
		backend := s.backendStatus(start, err)
		if err != nil {
			return nil, backend, err
		}
		if err := info.Validate(); err != nil {
			return nil, backend, clierr.Wrap(clierr.CodeServer, "Backend returned an invalid pair quote", err)
		}
		return info, backend, nil
	}
	return cache.Key(cache.NamespacePair, key.SourceCoin, key.DestCoin, key.SourceNetwork, key.DestNetwork), fetch
}

// fetchPair returns a fresh quote for key. Stale cached quotes are never
// used for the minimum check.
func (s *runtimeState) fetchPair(ctx context.Context, key assets.PairKey) (sideshift.PairInfo, cachedResult, error) {
	cacheKey, fetch := s.pairFetcher(key)
	res, err := s.resolveFresh(ctx, cacheKey, pairCacheTTL, fetch)
	if err != nil {
		return sideshift.PairInfo{}, cachedResult{}, err
	}
	var info sideshift.PairInfo
	if err := json.Unmarshal(res.payload, &info); err != nil {
		return sideshift.PairInfo{}, cachedResult{}, clierr.Wrap(clierr.CodeInternal, "decode pair quote", err)
	}
	return info, res, nil
}

func (s *runtimeState) newPairCommand() *cobra.Command {
	var sourceNetwork, destNetwork string
	cmd := &cobra.Command{
		Use:     "pair <deposit-coin> [settle-coin]",
		Short:   "Quote min, max and rate for a coin pair",
		Long:    "Quote min, max and rate for a coin pair. The settle coin defaults to USDC for stablecoins and ETH otherwise.",
		Example: "bridge pair USDC ETH --source-network base --dest-network optimism",
		Args:    cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s.resetCommandDiagnostics()
			key := assets.PairKey{
				SourceCoin:    strings.TrimSpace(args[0]),
				SourceNetwork: strings.TrimSpace(sourceNetwork),
				DestNetwork:   strings.TrimSpace(destNetwork),
			}
			if len(args) > 1 {
				key.DestCoin = strings.TrimSpace(args[1])
			} else {
				key.DestCoin = assets.DefaultDestinationCoin(key.SourceCoin)
			}
			if key.SourceCoin == "" {
				return clierr.New(clierr.CodeUsage, "deposit coin is required")
			}
			cacheKey, fetch := s.pairFetcher(key)
			return s.runCachedCommand(cmd.Context(), trimRootPath(cmd.CommandPath()), cacheKey, pairCacheTTL, fetch)
		},
	}
	cmd.Flags().StringVar(&sourceNetwork, "source-network", "", "Deposit network (e.g. base)")
	cmd.Flags().StringVar(&destNetwork, "dest-network", "", "Settle network (e.g. optimism)")
	return cmd
}

func (s *runtimeState) newNetworksCommand() *cobra.Command {
	root := &cobra.Command{Use: "networks", Short: "Network helpers"}
	var includeTestnets bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List known networks and their EVM chain ids",
		RunE: func(cmd *cobra.Command, args []string) error {
			items := make([]chains.Network, 0)
			for _, n := range chains.All() {
				if n.Testnet && !includeTestnets {
					continue
				}
				items = append(items, n)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), items, nil, cacheMetaBypass(), nil)
		},
	}
	list.Flags().BoolVar(&includeTestnets, "testnets", false, "Include testnets")
	root.AddCommand(list)
	return root
}

func (s *runtimeState) newHealthCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check backend liveness",
		RunE: func(cmd *cobra.Command, args []string) error {
			s.resetCommandDiagnostics()
			ctx, cancel := context.WithTimeout(cmd.Context(), s.settings.Timeout)
			defer cancel()
			start := time.Now()
			health, err := s.api.Health(ctx)
			backend := s.backendStatus(start, err)
			s.captureCommandDiagnostics(nil, backend)
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), health, nil, cacheMetaBypass(), backend)
		},
	}
}

func containsFold(items []string, target string) bool {
	for _, item := range items {
		if strings.EqualFold(strings.TrimSpace(item), target) {
			return true
		}
	}
	return false
}
