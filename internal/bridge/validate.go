package bridge

import (
	"fmt"
	"strings"

	clierr "github.com/ggonzalez94/sideshift-bridge/internal/errors"
	"github.com/ggonzalez94/sideshift-bridge/internal/sideshift"
	"github.com/shopspring/decimal"
)

// Validate runs the pre-submission checks in a fixed order and returns the
// first failure. pair may be nil when no quote is known yet, in which case
// the minimum is not checked.
func Validate(form Form, pair *sideshift.PairInfo) error {
	if strings.TrimSpace(form.UserAddress) == "" {
		return clierr.New(clierr.CodeWalletNotConnected, "Please connect your wallet first")
	}
	amount, err := parseAmount(form.Amount)
	if err != nil {
		return err
	}
	if strings.TrimSpace(form.SourceNetwork) == "" {
		return clierr.New(clierr.CodeMissingSourceNetwork, "Please select a source network")
	}
	if strings.TrimSpace(form.DestNetwork) == "" {
		return clierr.New(clierr.CodeMissingDestNetwork, "Please select a destination network")
	}
	if pair != nil {
		minV, err := pair.MinDecimal()
		if err == nil && amount.LessThan(minV) {
			return clierr.New(clierr.CodeAmountBelowMinimum,
				fmt.Sprintf("Minimum deposit is %s %s", minV.StringFixed(2), strings.TrimSpace(form.SourceCoin)))
		}
	}
	return nil
}

// parseAmount accepts a plain positive decimal. Trailing garbage is rejected.
func parseAmount(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	invalid := clierr.New(clierr.CodeInvalidAmount, "Please enter a valid amount")
	if raw == "" {
		return decimal.Decimal{}, invalid
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil || !amount.IsPositive() {
		return decimal.Decimal{}, invalid
	}
	return amount, nil
}
