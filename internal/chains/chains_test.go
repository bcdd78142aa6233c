package chains

import (
	"testing"

	clierr "github.com/ggonzalez94/sideshift-bridge/internal/errors"
)

func TestChainIDForNetworkTable(t *testing.T) {
	expected := map[string]int64{
		"ethereum":        1,
		"sepolia":         11155111,
		"base":            8453,
		"baseSepolia":     84532,
		"bsc":             56,
		"bscTestnet":      97,
		"polygon":         137,
		"polygonMumbai":   80001,
		"arbitrum":        42161,
		"arbitrumSepolia": 421614,
		"optimism":        10,
		"optimismSepolia": 11155420,
		"avalanche":       43114,
		"avalancheFuji":   43113,
		"avax":            43114,
	}
	for name, want := range expected {
		got, ok := ChainIDForNetwork(name)
		if !ok || got != want {
			t.Fatalf("ChainIDForNetwork(%s) = %d,%v; want %d", name, got, ok, want)
		}
	}
	if _, ok := ChainIDForNetwork("bitcoin"); ok {
		t.Fatal("expected bitcoin to be unmapped")
	}
}

func TestParseNetworkVariants(t *testing.T) {
	n, err := ParseNetwork("BaseSepolia")
	if err != nil || n.Name != "baseSepolia" {
		t.Fatalf("case-insensitive lookup failed: %+v err=%v", n, err)
	}

	n, err = ParseNetwork("8453")
	if err != nil || n.Name != "base" {
		t.Fatalf("chain id lookup failed: %+v err=%v", n, err)
	}

	n, err = ParseNetwork("eip155:43114")
	if err != nil || n.Name != "avalanche" {
		t.Fatalf("CAIP-2 lookup should resolve the canonical network, got %+v err=%v", n, err)
	}

	if _, err := ParseNetwork("solana"); !clierr.Is(err, clierr.CodeUnsupported) {
		t.Fatalf("expected unsupported error, got %v", err)
	}
	if _, err := ParseNetwork(" "); !clierr.Is(err, clierr.CodeUsage) {
		t.Fatalf("expected usage error, got %v", err)
	}
}

func TestFormatNetworkName(t *testing.T) {
	cases := map[string]string{
		"baseSepolia": "Base Sepolia",
		"bsc":         "BSC",
		"avax":        "Avalanche",
		"tron":        "Tron",
		"":            "",
	}
	for in, want := range cases {
		if got := FormatNetworkName(in); got != want {
			t.Fatalf("FormatNetworkName(%q) = %q; want %q", in, got, want)
		}
	}
}

func TestAllPutsAliasesLast(t *testing.T) {
	all := All()
	if len(all) != 15 {
		t.Fatalf("expected 15 entries, got %d", len(all))
	}
	if all[0].Name != "ethereum" {
		t.Fatalf("expected ethereum first, got %s", all[0].Name)
	}
	if !all[len(all)-1].Alias {
		t.Fatalf("expected alias last, got %+v", all[len(all)-1])
	}
}

func TestRPCResolverPrecedence(t *testing.T) {
	r := NewRPCResolver(map[string]string{
		"base":  "https://base.example",
		"10":    "https://op.example",
		"bogus": "https://ignored.example",
	})

	if got, _ := r.Resolve("https://flag.example", 8453); got != "https://flag.example" {
		t.Fatalf("explicit override should win, got %s", got)
	}
	if got, _ := r.Resolve("", 8453); got != "https://base.example" {
		t.Fatalf("network override not applied, got %s", got)
	}
	if got, _ := r.Resolve("", 10); got != "https://op.example" {
		t.Fatalf("chain id override not applied, got %s", got)
	}
	if got, _ := r.Resolve("", 1); got != "https://eth.llamarpc.com" {
		t.Fatalf("default not applied, got %s", got)
	}
	if _, err := r.Resolve("", 999999); err == nil {
		t.Fatal("expected error for unknown chain")
	}
}
