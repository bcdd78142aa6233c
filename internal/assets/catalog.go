package assets

import (
	"context"
	"strings"
	"sync"

	clierr "github.com/ggonzalez94/sideshift-bridge/internal/errors"
	"github.com/ggonzalez94/sideshift-bridge/internal/sideshift"
)

// AssetSource is the catalog endpoint of the backend.
type AssetSource interface {
	SupportedAssets(ctx context.Context) (sideshift.SupportedAssetsResponse, error)
}

type LoadState string

const (
	StateLoading LoadState = "loading"
	StateReady   LoadState = "ready"
	StateFailed  LoadState = "failed"
)

type snapshot struct {
	assets      []sideshift.SupportedAsset
	byCoin      map[string]int
	lastUpdated string
}

// Catalog holds the supported-asset snapshot. The snapshot is fetched once
// and replaced as a whole; it is never edited in place.
type Catalog struct {
	source AssetSource

	once sync.Once
	done chan struct{}

	mu    sync.RWMutex
	snap  *snapshot
	state LoadState
	err   error
}

func NewCatalog(source AssetSource) *Catalog {
	return &Catalog{
		source: source,
		done:   make(chan struct{}),
		snap:   newSnapshot(nil, ""),
		state:  StateLoading,
	}
}

// NewCatalogFromSnapshot returns a ready catalog, used when the catalog was
// served from a local cache.
func NewCatalogFromSnapshot(resp sideshift.SupportedAssetsResponse) *Catalog {
	c := &Catalog{done: make(chan struct{})}
	c.once.Do(func() {})
	c.snap = newSnapshot(resp.Assets, resp.LastUpdated)
	c.state = StateReady
	close(c.done)
	return c
}

// Load fetches the catalog exactly once per Catalog. Concurrent callers share
// the same fetch and all see its outcome; a failure is not retried.
func (c *Catalog) Load(ctx context.Context) error {
	c.once.Do(func() {
		go c.fetch(ctx)
	})
	select {
	case <-c.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

func (c *Catalog) fetch(ctx context.Context) {
	defer close(c.done)
	resp, err := c.source.SupportedAssets(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.state = StateFailed
		c.err = err
		c.snap = newSnapshot(nil, "")
		return
	}
	c.snap = newSnapshot(resp.Assets, resp.LastUpdated)
	c.state = StateReady
	c.err = nil
}

// State reports the load state and, when failed, the display message.
func (c *Catalog) State() (LoadState, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.err != nil {
		return c.state, clierr.UserMessage(c.err)
	}
	return c.state, ""
}

// Response returns a copy of the snapshot in wire form.
func (c *Catalog) Response() sideshift.SupportedAssetsResponse {
	c.mu.RLock()
	snap := c.snap
	c.mu.RUnlock()
	return sideshift.SupportedAssetsResponse{Assets: copyAssets(snap.assets), LastUpdated: snap.lastUpdated}
}

func (c *Catalog) Assets() []sideshift.SupportedAsset {
	return c.Response().Assets
}

// Lookup finds an asset by coin symbol, ignoring case.
func (c *Catalog) Lookup(coin string) (sideshift.SupportedAsset, bool) {
	c.mu.RLock()
	snap := c.snap
	c.mu.RUnlock()
	idx, ok := snap.byCoin[strings.ToLower(strings.TrimSpace(coin))]
	if !ok {
		return sideshift.SupportedAsset{}, false
	}
	return copyAsset(snap.assets[idx]), true
}

// Networks returns the coin's networks in catalog order.
func (c *Catalog) Networks(coin string) []string {
	asset, ok := c.Lookup(coin)
	if !ok {
		return nil
	}
	return asset.Networks
}

// TokenDetail returns contract metadata for coin on network, if the catalog
// has any.
func (c *Catalog) TokenDetail(coin, network string) (sideshift.TokenDetail, bool) {
	asset, ok := c.Lookup(coin)
	if !ok || asset.TokenDetails == nil {
		return sideshift.TokenDetail{}, false
	}
	detail, ok := asset.TokenDetails[network]
	if !ok || strings.TrimSpace(detail.ContractAddress) == "" {
		return sideshift.TokenDetail{}, false
	}
	return detail, true
}

func newSnapshot(items []sideshift.SupportedAsset, lastUpdated string) *snapshot {
	s := &snapshot{
		assets:      copyAssets(items),
		byCoin:      make(map[string]int, len(items)),
		lastUpdated: lastUpdated,
	}
	for i, a := range s.assets {
		key := strings.ToLower(strings.TrimSpace(a.Coin))
		if _, exists := s.byCoin[key]; !exists {
			s.byCoin[key] = i
		}
	}
	return s
}

func copyAssets(items []sideshift.SupportedAsset) []sideshift.SupportedAsset {
	out := make([]sideshift.SupportedAsset, 0, len(items))
	for _, a := range items {
		out = append(out, copyAsset(a))
	}
	return out
}

func copyAsset(a sideshift.SupportedAsset) sideshift.SupportedAsset {
	out := a
	out.Networks = append([]string(nil), a.Networks...)
	if a.TokenDetails != nil {
		out.TokenDetails = make(map[string]sideshift.TokenDetail, len(a.TokenDetails))
		for k, v := range a.TokenDetails {
			out.TokenDetails[k] = v
		}
	}
	return out
}
