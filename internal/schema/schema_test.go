package schema

import (
	"testing"

	clierr "github.com/ggonzalez94/sideshift-bridge/internal/errors"
	"github.com/spf13/cobra"
)

func TestBuildSchema(t *testing.T) {
	root := &cobra.Command{Use: "bridge"}
	root.PersistentFlags().Bool("json", false, "json output")
	child := &cobra.Command{Use: "shift", Short: "shift commands"}
	leaf := &cobra.Command{Use: "status <shift-id>", Short: "show status", Aliases: []string{"st"}}
	leaf.Flags().Bool("watch", false, "poll until terminal")
	leaf.Flags().String("interval", "5s", "poll interval")
	_ = leaf.MarkFlagRequired("interval")
	child.AddCommand(leaf)
	root.AddCommand(child)

	s, err := Build(root, "shift st")
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if s.Path != "bridge shift status" {
		t.Fatalf("unexpected path: %s", s.Path)
	}
	if len(s.Flags) != 2 || s.Flags[0].Name != "interval" || !s.Flags[0].Required || s.Flags[1].Name != "watch" {
		t.Fatalf("unexpected flags: %+v", s.Flags)
	}
	if len(s.GlobalFlags) != 1 || s.GlobalFlags[0].Name != "json" {
		t.Fatalf("unexpected global flags: %+v", s.GlobalFlags)
	}

	if _, err := Build(root, "shift nope"); !clierr.Is(err, clierr.CodeUsage) {
		t.Fatalf("expected usage error, got %v", err)
	}
}
