package app

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ggonzalez94/sideshift-bridge/internal/cache"
)

const testUser = "0x00000000000000000000000000000000000000aa"

// fakeBackend serves the bridge backend routes the CLI calls. Status polls
// walk through statuses in order and then repeat the last one.
type fakeBackend struct {
	t *testing.T

	mu          sync.Mutex
	statuses    []string
	statusCalls int
	createCalls int
	failStatus  bool
	failPair    bool
	lastCreate  map[string]any
}

func newFakeBackend(t *testing.T, statuses ...string) (*fakeBackend, *httptest.Server) {
	t.Helper()
	fb := &fakeBackend{t: t, statuses: statuses}
	srv := httptest.NewServer(http.HandlerFunc(fb.serve))
	t.Cleanup(srv.Close)
	return fb, srv
}

func (fb *fakeBackend) serve(w http.ResponseWriter, r *http.Request) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	path := r.URL.Path
	switch {
	case path == "/health":
		_, _ = w.Write([]byte(`{"status":"ok","timestamp":"2024-05-01T00:00:00Z","environment":"test"}`))
	case path == "/api/sideshift/supported-assets":
		_, _ = w.Write([]byte(`{"assets":[
			{"coin":"USDC","name":"USD Coin","networks":["base","optimism"],
			 "tokenDetails":{"base":{"contractAddress":"0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913","decimals":6}}},
			{"coin":"ETH","name":"Ether","networks":["base","optimism"]}],
			"lastUpdated":"2024-05-01T00:00:00Z"}`))
	case strings.HasPrefix(path, "/api/sideshift/pair/"):
		if fb.failPair {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":"pair unavailable"}`))
			return
		}
		_, _ = w.Write([]byte(`{"min":"50","max":"10000","rate":"0.0003","depositCoin":"USDC","settleCoin":"ETH","depositNetwork":"base","settleNetwork":"optimism"}`))
	case path == "/api/sideshift/create-shift" && r.Method == http.MethodPost:
		fb.createCalls++
		buf, _ := io.ReadAll(r.Body)
		fb.lastCreate = map[string]any{}
		_ = json.Unmarshal(buf, &fb.lastCreate)
		_, _ = w.Write([]byte(`{"shift":{"id":"shift-1","sideshiftOrderId":"ord-1","userAddress":"` + testUser + `",
			"sourceAsset":"USDC","destAsset":"ETH","sourceNetwork":"base","destNetwork":"optimism","sourceAmount":"100",
			"depositAddress":"0xdeposit","settleAddress":"` + testUser + `","shiftType":"variable","status":"waiting",
			"createdAt":"2024-05-01T00:00:00Z","expiresAt":"2024-05-01T01:00:00Z"},
			"sideshift":{"orderId":"ord-1","depositAddress":"0xdeposit","depositCoin":"USDC","depositNetwork":"base","expiresAt":"2024-05-01T01:00:00Z"}}`))
	case strings.HasPrefix(path, "/api/sideshift/shift-status/"):
		fb.statusCalls++
		if fb.failStatus {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"boom"}`))
			return
		}
		idx := fb.statusCalls - 1
		if idx >= len(fb.statuses) {
			idx = len(fb.statuses) - 1
		}
		id := strings.TrimPrefix(path, "/api/sideshift/shift-status/")
		_, _ = w.Write([]byte(`{"shift":{"id":"` + id + `","userAddress":"` + testUser + `","sourceAsset":"USDC","destAsset":"ETH",
			"sourceNetwork":"base","destNetwork":"optimism","status":"` + fb.statuses[idx] + `"},
			"sideshiftData":{"id":"ord-1","status":"` + fb.statuses[idx] + `"}}`))
	case strings.HasPrefix(path, "/api/sideshift/user/"):
		_, _ = w.Write([]byte(`{"shifts":[
			{"id":"s-1","userAddress":"` + testUser + `","sourceAsset":"USDC","destAsset":"ETH","status":"settled"},
			{"id":"s-2","userAddress":"` + testUser + `","sourceAsset":"USDC","destAsset":"ETH","status":"waiting"},
			{"id":"s-3","userAddress":"` + testUser + `","sourceAsset":"ETH","destAsset":"USDC","status":"settled"}]}`))
	default:
		fb.t.Errorf("unexpected request %s %s", r.Method, path)
		w.WriteHeader(http.StatusNotFound)
	}
}

func (fb *fakeBackend) setFailures(status, pair bool) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.failStatus = status
	fb.failPair = pair
}

func (fb *fakeBackend) counts() (status, create int) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.statusCalls, fb.createCalls
}

func errorType(t *testing.T, stderr string) (string, string) {
	t.Helper()
	var env struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal([]byte(stderr), &env); err != nil {
		t.Fatalf("decode error envelope: %v output=%s", err, stderr)
	}
	return env.Error.Type, env.Error.Message
}

func TestShiftCreateWatchPersistsHistory(t *testing.T) {
	isolate(t)
	fb, srv := newFakeBackend(t, "waiting", "processing", "settled")

	code, stdout, stderr := runCLI(t, "shift", "create",
		"--address", testUser,
		"--from-coin", "USDC", "--from-network", "base",
		"--to-coin", "ETH", "--to-network", "optimism",
		"--amount", "100", "--watch", "--interval", "10ms",
		"--api-url", srv.URL, "--results-only")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr.String())
	}
	var out struct {
		Created struct {
			ShiftID        string `json:"shift_id"`
			DepositAddress string `json:"deposit_address"`
		} `json:"created"`
		Pair    *struct{ Min string } `json:"pair"`
		Monitor *struct {
			State  string `json:"state"`
			Status string `json:"status"`
		} `json:"monitor"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		t.Fatalf("decode output: %v output=%s", err, stdout.String())
	}
	if out.Created.ShiftID != "shift-1" || out.Created.DepositAddress != "0xdeposit" {
		t.Fatalf("unexpected created event %+v", out.Created)
	}
	if out.Pair == nil || out.Pair.Min != "50" {
		t.Fatalf("expected pair quote in result, got %+v", out.Pair)
	}
	if out.Monitor == nil || out.Monitor.State != "terminal" || out.Monitor.Status != "settled" {
		t.Fatalf("unexpected monitor snapshot %+v", out.Monitor)
	}
	statusCalls, createCalls := fb.counts()
	if statusCalls != 3 || createCalls != 1 {
		t.Fatalf("expected 3 status polls and 1 create, got %d and %d", statusCalls, createCalls)
	}
	if fb.lastCreate["purpose"] != "bridge" || fb.lastCreate["sourceAmount"] != "100" {
		t.Fatalf("unexpected create body %v", fb.lastCreate)
	}

	code, stdout, stderr = runCLI(t, "shift", "history", "--local", "--results-only")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr.String())
	}
	var records []struct {
		ShiftID      string `json:"shift_id"`
		UserAddress  string `json:"user_address"`
		Status       string `json:"status"`
		MonitorState string `json:"monitor_state"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &records); err != nil {
		t.Fatalf("decode history: %v output=%s", err, stdout.String())
	}
	if len(records) != 1 {
		t.Fatalf("expected one local record, got %+v", records)
	}
	rec := records[0]
	if rec.ShiftID != "shift-1" || rec.Status != "settled" || rec.MonitorState != "terminal" || rec.UserAddress != testUser {
		t.Fatalf("unexpected local record %+v", rec)
	}
}

func TestShiftCreateBelowMinimumSkipsBackend(t *testing.T) {
	isolate(t)
	fb, srv := newFakeBackend(t, "waiting")

	code, stdout, stderr := runCLI(t, "shift", "create",
		"--address", testUser,
		"--from-coin", "USDC", "--from-network", "base",
		"--to-coin", "ETH", "--to-network", "optimism",
		"--amount", "10", "--api-url", srv.URL)
	if code != 24 {
		t.Fatalf("expected exit 24, got %d stderr=%s", code, stderr.String())
	}
	if stdout.Len() != 0 {
		t.Fatalf("expected empty stdout, got %s", stdout.String())
	}
	typ, msg := errorType(t, stderr.String())
	if typ != "amount_below_minimum" || msg != "Minimum deposit is 50.00 USDC" {
		t.Fatalf("unexpected error %s %q", typ, msg)
	}
	if _, creates := fb.counts(); creates != 0 {
		t.Fatalf("expected no create call, got %d", creates)
	}
}

func TestShiftCreateRequiresWallet(t *testing.T) {
	isolate(t)
	fb, srv := newFakeBackend(t, "waiting")

	code, _, stderr := runCLI(t, "shift", "create",
		"--from-coin", "USDC", "--from-network", "base",
		"--to-network", "optimism",
		"--amount", "100", "--api-url", srv.URL)
	if code != 20 {
		t.Fatalf("expected exit 20, got %d stderr=%s", code, stderr.String())
	}
	if typ, _ := errorType(t, stderr.String()); typ != "wallet_not_connected" {
		t.Fatalf("unexpected error type %s", typ)
	}
	if _, creates := fb.counts(); creates != 0 {
		t.Fatalf("expected no create call, got %d", creates)
	}
}

func TestShiftStatusOneShot(t *testing.T) {
	isolate(t)
	fb, srv := newFakeBackend(t, "processing")

	code, stdout, stderr := runCLI(t, "shift", "status", "shift-9", "--api-url", srv.URL, "--results-only")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr.String())
	}
	var view struct {
		ShiftID  string `json:"shift_id"`
		Status   string `json:"status"`
		Terminal bool   `json:"terminal"`
		DataKind string `json:"sideshift_data_kind"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &view); err != nil {
		t.Fatalf("decode status: %v output=%s", err, stdout.String())
	}
	if view.ShiftID != "shift-9" || view.Status != "processing" || view.Terminal || view.DataKind != "order" {
		t.Fatalf("unexpected status view %+v", view)
	}
	if polls, _ := fb.counts(); polls != 1 {
		t.Fatalf("expected one status call, got %d", polls)
	}
}

func TestShiftWatchFailsAfterRetries(t *testing.T) {
	isolate(t)
	t.Setenv("BRIDGE_RETRY_BASE_DELAY", "5ms")
	fb, srv := newFakeBackend(t, "waiting")
	fb.setFailures(true, false)

	code, _, stderr := runCLI(t, "shift", "watch", "shift-1", "--max-retries", "1", "--interval", "10ms", "--api-url", srv.URL)
	if code != 32 {
		t.Fatalf("expected exit 32, got %d stderr=%s", code, stderr.String())
	}
	typ, msg := errorType(t, stderr.String())
	if typ != "monitor_failed" || !strings.Contains(msg, "shift-1") {
		t.Fatalf("unexpected error %s %q", typ, msg)
	}
	if polls, _ := fb.counts(); polls != 2 {
		t.Fatalf("expected 2 status calls, got %d", polls)
	}
}

func TestAssetsNetworksShowsContracts(t *testing.T) {
	isolate(t)
	_, srv := newFakeBackend(t)

	code, stdout, stderr := runCLI(t, "assets", "networks", "usdc", "--api-url", srv.URL, "--results-only")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr.String())
	}
	var view struct {
		Coin     string `json:"coin"`
		Networks []struct {
			Network         string `json:"network"`
			ChainID         int64  `json:"chain_id"`
			ContractAddress string `json:"contract_address"`
			Decimals        int    `json:"decimals"`
		} `json:"networks"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &view); err != nil {
		t.Fatalf("decode networks: %v output=%s", err, stdout.String())
	}
	if view.Coin != "USDC" || len(view.Networks) != 2 {
		t.Fatalf("unexpected view %+v", view)
	}
	base := view.Networks[0]
	if base.Network != "base" || base.ChainID != 8453 || base.Decimals != 6 || base.ContractAddress == "" {
		t.Fatalf("unexpected base entry %+v", base)
	}
	if view.Networks[1].ContractAddress != "" {
		t.Fatalf("expected no contract on optimism, got %+v", view.Networks[1])
	}

	code, _, stderr = runCLI(t, "assets", "networks", "doge", "--api-url", srv.URL)
	if code != 12 {
		t.Fatalf("expected not found exit 12, got %d stderr=%s", code, stderr.String())
	}
}

func TestPairCommandCachesQuote(t *testing.T) {
	isolate(t)
	_, srv := newFakeBackend(t)

	args := []string{"pair", "USDC", "ETH", "--source-network", "base", "--dest-network", "optimism", "--api-url", srv.URL}
	code, stdout, stderr := runCLI(t, args...)
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr.String())
	}
	var env struct {
		Data struct {
			Min  string `json:"min"`
			Rate string `json:"rate"`
		} `json:"data"`
		Meta struct {
			Cache struct {
				Status string `json:"status"`
			} `json:"cache"`
		} `json:"meta"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &env); err != nil {
		t.Fatalf("decode pair: %v output=%s", err, stdout.String())
	}
	if env.Data.Min != "50" || env.Data.Rate != "0.0003" || env.Meta.Cache.Status != "write" {
		t.Fatalf("unexpected first pair response %+v", env)
	}

	code, stdout, stderr = runCLI(t, args...)
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr.String())
	}
	if err := json.Unmarshal(stdout.Bytes(), &env); err != nil {
		t.Fatalf("decode pair: %v output=%s", err, stdout.String())
	}
	if env.Meta.Cache.Status != "hit" {
		t.Fatalf("expected cache hit on second call, got %+v", env.Meta.Cache)
	}
}

func TestShiftHistoryFiltersBackendShifts(t *testing.T) {
	isolate(t)
	_, srv := newFakeBackend(t)

	code, stdout, stderr := runCLI(t, "shift", "history", testUser, "--status", "settled", "--limit", "1", "--api-url", srv.URL, "--results-only")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr.String())
	}
	var shifts []struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &shifts); err != nil {
		t.Fatalf("decode history: %v output=%s", err, stdout.String())
	}
	if len(shifts) != 1 || shifts[0].ID != "s-1" {
		t.Fatalf("unexpected filtered history %+v", shifts)
	}

	code, _, _ = runCLI(t, "shift", "history", "--api-url", srv.URL)
	if code != 2 {
		t.Fatalf("expected usage error without address, got %d", code)
	}
}

// seedStalePair writes a pair quote with a one-second TTL into the CLI's
// cache and waits until it is stale.
func seedStalePair(t *testing.T, cacheHome, min string) {
	t.Helper()
	dir := filepath.Join(cacheHome, "bridge")
	c, err := cache.Open(filepath.Join(dir, "cache.db"), filepath.Join(dir, "cache.lock"))
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	key := cache.Key(cache.NamespacePair, "USDC", "ETH", "base", "optimism")
	quote := `{"min":"` + min + `","max":"10000","rate":"0.0003","depositCoin":"USDC","settleCoin":"ETH","depositNetwork":"base","settleNetwork":"optimism"}`
	if err := c.Set(key, []byte(quote), time.Second); err != nil {
		t.Fatalf("seed cache: %v", err)
	}
	_ = c.Close()
	time.Sleep(2100 * time.Millisecond)
}

func TestPairServesStaleQuoteAcrossRuns(t *testing.T) {
	tmp := isolate(t)
	fb, srv := newFakeBackend(t)
	fb.setFailures(false, true)
	seedStalePair(t, tmp, "50")

	code, stdout, stderr := runCLI(t, "pair", "USDC", "ETH", "--source-network", "base", "--dest-network", "optimism", "--api-url", srv.URL)
	if code != 0 {
		t.Fatalf("expected stale fallback, got exit %d stderr=%s", code, stderr.String())
	}
	var env struct {
		Data struct {
			Min string `json:"min"`
		} `json:"data"`
		Warnings []string `json:"warnings"`
		Meta     struct {
			Cache struct {
				Status string `json:"status"`
				Stale  bool   `json:"stale"`
			} `json:"cache"`
		} `json:"meta"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &env); err != nil {
		t.Fatalf("decode pair: %v output=%s", err, stdout.String())
	}
	if env.Data.Min != "50" || env.Meta.Cache.Status != "hit" || !env.Meta.Cache.Stale {
		t.Fatalf("expected stale cache hit, got %+v", env)
	}
	if !containsWarning(env.Warnings, "backend fetch failed; serving stale data within max-stale budget") {
		t.Fatalf("expected stale warning, got %+v", env.Warnings)
	}

	code, _, _ = runCLI(t, "pair", "USDC", "ETH", "--source-network", "base", "--dest-network", "optimism", "--api-url", srv.URL, "--no-stale")
	if code != 30 {
		t.Fatalf("expected stale rejection with --no-stale, got %d", code)
	}
}

func TestShiftCreateIgnoresStalePairQuote(t *testing.T) {
	tmp := isolate(t)
	fb, srv := newFakeBackend(t, "waiting")
	fb.setFailures(false, true)
	// A stale minimum of 500 would reject the amount if it were used.
	seedStalePair(t, tmp, "500")

	code, stdout, stderr := runCLI(t, "shift", "create",
		"--address", testUser,
		"--from-coin", "USDC", "--from-network", "base",
		"--to-coin", "ETH", "--to-network", "optimism",
		"--amount", "100", "--api-url", srv.URL)
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr.String())
	}
	var env struct {
		Data struct {
			Pair *json.RawMessage `json:"pair"`
		} `json:"data"`
		Warnings []string `json:"warnings"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &env); err != nil {
		t.Fatalf("decode create: %v output=%s", err, stdout.String())
	}
	if env.Data.Pair != nil {
		t.Fatalf("expected no pair quote in result, got %s", string(*env.Data.Pair))
	}
	if !containsWarning(env.Warnings, "pair quote unavailable; minimum deposit not checked locally") {
		t.Fatalf("expected pair warning, got %+v", env.Warnings)
	}
	if _, creates := fb.counts(); creates != 1 {
		t.Fatalf("expected one create call, got %d", creates)
	}
}
