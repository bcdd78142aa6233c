package policy

import (
	"strings"

	clierr "github.com/ggonzalez94/sideshift-bridge/internal/errors"
)

// CheckCommandAllowed passes when the allowlist is empty, names the command
// exactly, or names one of its parent groups ("shift" allows "shift status").
func CheckCommandAllowed(allowlist []string, commandPath string) error {
	if len(allowlist) == 0 {
		return nil
	}
	normPath := normalize(commandPath)
	for _, allowed := range allowlist {
		a := normalize(allowed)
		if a == "" {
			continue
		}
		if a == normPath || strings.HasPrefix(normPath, a+" ") {
			return nil
		}
	}
	return clierr.New(clierr.CodeBlocked, "command blocked by --enable-commands policy")
}

func normalize(v string) string {
	parts := strings.Fields(strings.ToLower(strings.TrimSpace(v)))
	return strings.Join(parts, " ")
}
