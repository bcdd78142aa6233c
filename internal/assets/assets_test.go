package assets

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	clierr "github.com/ggonzalez94/sideshift-bridge/internal/errors"
	"github.com/ggonzalez94/sideshift-bridge/internal/sideshift"
)

type fakeAssetSource struct {
	calls int32
	delay time.Duration
	resp  sideshift.SupportedAssetsResponse
	err   error
}

func (f *fakeAssetSource) SupportedAssets(ctx context.Context) (sideshift.SupportedAssetsResponse, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.resp, f.err
}

func sampleCatalog() sideshift.SupportedAssetsResponse {
	return sideshift.SupportedAssetsResponse{
		Assets: []sideshift.SupportedAsset{
			{Coin: "USDC", Name: "USD Coin", Networks: []string{"ethereum", "base", "optimism"}, TokenDetails: map[string]sideshift.TokenDetail{
				"base": {ContractAddress: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", Decimals: 6},
			}},
			{Coin: "ETH", Name: "Ethereum", Networks: []string{"ethereum", "optimism"}},
		},
		LastUpdated: "2024-05-01T00:00:00Z",
	}
}

func TestCatalogLoadsOnceAcrossCallers(t *testing.T) {
	src := &fakeAssetSource{delay: 20 * time.Millisecond, resp: sampleCatalog()}
	c := NewCatalog(src)

	if state, _ := c.State(); state != StateLoading {
		t.Fatalf("expected loading before load, got %s", state)
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.Load(context.Background()); err != nil {
				t.Errorf("Load failed: %v", err)
			}
		}()
	}
	wg.Wait()
	_ = c.Load(context.Background())

	if got := atomic.LoadInt32(&src.calls); got != 1 {
		t.Fatalf("expected a single fetch, got %d", got)
	}
	if state, msg := c.State(); state != StateReady || msg != "" {
		t.Fatalf("expected ready, got %s %q", state, msg)
	}
	if len(c.Assets()) != 2 {
		t.Fatalf("expected 2 assets, got %d", len(c.Assets()))
	}
}

func TestCatalogFailureLeavesEmptyCatalog(t *testing.T) {
	src := &fakeAssetSource{err: clierr.New(clierr.CodeServer, "Server error. Please try again later.")}
	c := NewCatalog(src)

	if err := c.Load(context.Background()); err == nil {
		t.Fatal("expected load error")
	}
	state, msg := c.State()
	if state != StateFailed || msg != "Server error. Please try again later." {
		t.Fatalf("unexpected state %s %q", state, msg)
	}
	if len(c.Assets()) != 0 {
		t.Fatalf("expected empty catalog after failure")
	}
	_ = c.Load(context.Background())
	if got := atomic.LoadInt32(&src.calls); got != 1 {
		t.Fatalf("failed load must not be retried, got %d calls", got)
	}
}

func TestCatalogLookupIgnoresCase(t *testing.T) {
	c := NewCatalogFromSnapshot(sampleCatalog())

	asset, ok := c.Lookup("usdc")
	if !ok || asset.Coin != "USDC" {
		t.Fatalf("lookup failed: %+v %v", asset, ok)
	}
	if nets := c.Networks("Eth"); len(nets) != 2 || nets[1] != "optimism" {
		t.Fatalf("unexpected networks %v", nets)
	}
	detail, ok := c.TokenDetail("usdc", "base")
	if !ok || detail.Decimals != 6 {
		t.Fatalf("unexpected token detail %+v %v", detail, ok)
	}
	if _, ok := c.TokenDetail("usdc", "ethereum"); ok {
		t.Fatal("expected no token detail for ethereum")
	}
	if _, ok := c.Lookup("BTC"); ok {
		t.Fatal("expected BTC to be missing")
	}

	// Mutating a returned asset must not leak into the snapshot.
	asset.Networks[0] = "mutated"
	if again, _ := c.Lookup("USDC"); again.Networks[0] != "ethereum" {
		t.Fatalf("snapshot was mutated: %v", again.Networks)
	}
}

type gatedPairSource struct {
	mu    sync.Mutex
	gates map[string]chan struct{}
	errs  map[string]error
}

func (g *gatedPairSource) gate(network string) chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.gates == nil {
		g.gates = map[string]chan struct{}{}
	}
	ch, ok := g.gates[network]
	if !ok {
		ch = make(chan struct{})
		g.gates[network] = ch
	}
	return ch
}

func (g *gatedPairSource) PairInfo(ctx context.Context, depositCoin, settleCoin, depositNetwork, settleNetwork string) (sideshift.PairInfo, error) {
	<-g.gate(depositNetwork)
	g.mu.Lock()
	err := g.errs[depositNetwork]
	g.mu.Unlock()
	if err != nil {
		return sideshift.PairInfo{}, err
	}
	return sideshift.PairInfo{Min: "1", Max: "10", Rate: "1", DepositCoin: depositCoin, SettleCoin: settleCoin, DepositNetwork: depositNetwork, SettleNetwork: settleNetwork}, nil
}

func TestPairTrackerLastRequestWins(t *testing.T) {
	src := &gatedPairSource{}
	tracker := NewPairTracker(src, nil)

	oldKey := PairKey{SourceCoin: "USDC", DestCoin: "ETH", SourceNetwork: "ethereum", DestNetwork: "optimism"}
	newKey := PairKey{SourceCoin: "USDC", DestCoin: "ETH", SourceNetwork: "base", DestNetwork: "optimism"}

	oldDone := make(chan bool, 1)
	go func() {
		_, applied, _ := tracker.Request(context.Background(), oldKey)
		oldDone <- applied
	}()
	waitFor(t, func() bool { return tracker.Current().Key == oldKey })

	newDone := make(chan bool, 1)
	go func() {
		_, applied, _ := tracker.Request(context.Background(), newKey)
		newDone <- applied
	}()
	waitFor(t, func() bool { return tracker.Current().Key == newKey })

	// Newer request completes first, older one arrives late.
	close(src.gate("base"))
	if applied := <-newDone; !applied {
		t.Fatal("latest request should be applied")
	}
	close(src.gate("ethereum"))
	if applied := <-oldDone; applied {
		t.Fatal("superseded request must not be applied")
	}

	cur := tracker.Current()
	if cur.Info == nil || cur.Info.DepositNetwork != "base" {
		t.Fatalf("expected base pair info, got %+v", cur.Info)
	}
	if cur.Loading {
		t.Fatal("expected loading=false")
	}
}

func TestPairTrackerFailureClearsInfo(t *testing.T) {
	src := &gatedPairSource{errs: map[string]error{"bsc": clierr.New(clierr.CodeNotFound, "Resource not found")}}
	close(src.gate("base"))
	close(src.gate("bsc"))
	tracker := NewPairTracker(src, nil)

	if _, _, err := tracker.Request(context.Background(), PairKey{SourceCoin: "USDC", DestCoin: "ETH", SourceNetwork: "base"}); err != nil {
		t.Fatalf("first request failed: %v", err)
	}
	if tracker.Current().Info == nil {
		t.Fatal("expected info after success")
	}

	_, applied, err := tracker.Request(context.Background(), PairKey{SourceCoin: "USDC", DestCoin: "ETH", SourceNetwork: "bsc"})
	if err == nil || !applied {
		t.Fatalf("expected applied failure, got applied=%v err=%v", applied, err)
	}
	cur := tracker.Current()
	if cur.Info != nil {
		t.Fatalf("stale info must be cleared, got %+v", cur.Info)
	}
	if cur.Err != "Resource not found" {
		t.Fatalf("unexpected error message %q", cur.Err)
	}
}

func TestPairTrackerIgnoresIncompleteKey(t *testing.T) {
	tracker := NewPairTracker(&gatedPairSource{}, nil)
	_, applied, err := tracker.Request(context.Background(), PairKey{SourceCoin: "USDC"})
	if applied || err != nil {
		t.Fatalf("expected no-op, got applied=%v err=%v", applied, err)
	}
}

func TestCurrencyHelpers(t *testing.T) {
	if !IsStablecoin("usdt") || IsStablecoin("ETH") {
		t.Fatal("unexpected stablecoin classification")
	}
	if DefaultDestinationCoin("DAI") != "USDC" || DefaultDestinationCoin("BTC") != "ETH" {
		t.Fatal("unexpected default destination")
	}
	if CoinDisplayName("matic") != "Polygon" || CoinDisplayName("XYZ") != "XYZ" {
		t.Fatal("unexpected display names")
	}
	if !IsNativeCoin("bnb") || IsNativeCoin("USDC") {
		t.Fatal("unexpected native classification")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
