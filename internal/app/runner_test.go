package app

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func runCLI(t *testing.T, args ...string) (int, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	r := NewRunnerWithWriters(&stdout, &stderr)
	code := r.Run(args)
	return code, &stdout, &stderr
}

// isolate points config, cache and store at a temp dir.
func isolate(t *testing.T) string {
	t.Helper()
	tmp := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmp)
	t.Setenv("XDG_CACHE_HOME", tmp)
	t.Setenv("BRIDGE_API_URL", "")
	t.Setenv("BRIDGE_OUTPUT", "")
	return tmp
}

func TestTrimRootPath(t *testing.T) {
	if got := trimRootPath("bridge shift create"); got != "shift create" {
		t.Fatalf("unexpected trim result: %s", got)
	}
	if got := trimRootPath("bridge"); got != "bridge" {
		t.Fatalf("unexpected trim result for root: %s", got)
	}
}

func TestRunnerVersion(t *testing.T) {
	isolate(t)
	code, stdout, stderr := runCLI(t, "version", "--long")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr.String())
	}
	if !strings.HasPrefix(stdout.String(), "bridge ") {
		t.Fatalf("unexpected version output %q", stdout.String())
	}
}

func TestRunnerNetworksList(t *testing.T) {
	isolate(t)
	code, stdout, stderr := runCLI(t, "networks", "list", "--results-only")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr.String())
	}
	var out []map[string]any
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		t.Fatalf("failed to parse output json: %v output=%s", err, stdout.String())
	}
	found := false
	for _, n := range out {
		if n["testnet"] == true {
			t.Fatalf("testnets should be hidden by default: %v", n)
		}
		if n["network"] == "base" && n["chain_id"] == float64(8453) {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected base in networks list, got %s", stdout.String())
	}
}

func TestRunnerErrorEnvelopeIgnoresResultsOnly(t *testing.T) {
	isolate(t)
	code, stdout, stderr := runCLI(t, "networks", "list", "--enable-commands", "shift", "--results-only")
	if code != 31 {
		t.Fatalf("expected exit 31, got %d stderr=%s", code, stderr.String())
	}
	if stdout.Len() != 0 {
		t.Fatalf("expected empty stdout, got %s", stdout.String())
	}
	var env map[string]any
	if err := json.Unmarshal(stderr.Bytes(), &env); err != nil {
		t.Fatalf("failed to parse error envelope: %v output=%s", err, stderr.String())
	}
	if env["success"] != false {
		t.Fatalf("expected success=false, got %v", env["success"])
	}
	errBody, _ := env["error"].(map[string]any)
	if errBody["type"] != "command_blocked" {
		t.Fatalf("unexpected error body %v", errBody)
	}
}

func TestRunnerUnknownFlagIsUsageError(t *testing.T) {
	isolate(t)
	code, _, stderr := runCLI(t, "networks", "list", "--bogus")
	if code != 2 {
		t.Fatalf("expected exit 2, got %d stderr=%s", code, stderr.String())
	}
}

func TestRunnerRejectsBadLogLevel(t *testing.T) {
	isolate(t)
	code, _, stderr := runCLI(t, "networks", "list", "--log-level", "loud")
	if code != 2 {
		t.Fatalf("expected exit 2, got %d stderr=%s", code, stderr.String())
	}
}

func TestRunnerSchemaShiftCreate(t *testing.T) {
	isolate(t)
	code, stdout, stderr := runCLI(t, "schema", "shift", "create", "--results-only")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr.String())
	}
	var out struct {
		Path  string `json:"path"`
		Flags []struct {
			Name string `json:"name"`
		} `json:"flags"`
		GlobalFlags []struct {
			Name string `json:"name"`
		} `json:"global_flags"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		t.Fatalf("decode schema: %v output=%s", err, stdout.String())
	}
	if out.Path != "bridge shift create" {
		t.Fatalf("unexpected path %q", out.Path)
	}
	names := map[string]bool{}
	for _, f := range out.Flags {
		names[f.Name] = true
	}
	for _, want := range []string{"address", "from-coin", "amount", "max", "watch"} {
		if !names[want] {
			t.Fatalf("expected flag %q in schema, got %+v", want, out.Flags)
		}
	}
	if len(out.GlobalFlags) == 0 {
		t.Fatal("expected global flags in schema")
	}

	code, _, _ = runCLI(t, "schema", "shift", "nope")
	if code != 2 {
		t.Fatalf("expected usage error for unknown schema path, got %d", code)
	}
}
