package bridge

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ggonzalez94/sideshift-bridge/internal/assets"
	"github.com/ggonzalez94/sideshift-bridge/internal/chains"
	clierr "github.com/ggonzalez94/sideshift-bridge/internal/errors"
	"github.com/ggonzalez94/sideshift-bridge/internal/sideshift"
	"github.com/ggonzalez94/sideshift-bridge/internal/wallet"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const nativeDecimals = 18

// GasReserve is kept back from native balances by the max-amount action.
var GasReserve = decimal.RequireFromString("0.01")

// TokenCatalog supplies contract metadata for (coin, network).
type TokenCatalog interface {
	TokenDetail(coin, network string) (sideshift.TokenDetail, bool)
}

type Balance struct {
	Coin     string `json:"coin"`
	Network  string `json:"network"`
	ChainID  int64  `json:"chain_id"`
	Native   bool   `json:"native"`
	Contract string `json:"contract,omitempty"`
	Raw      string `json:"raw"`
	Decimals int32  `json:"decimals"`
	Amount   string `json:"amount"`

	raw *big.Int
}

// BalanceAssist reads the wallet's balance of the source asset and derives
// the max amount. It is advisory and never blocks submission.
type BalanceAssist struct {
	reader  wallet.Reader
	catalog TokenCatalog
	logger  *zap.Logger
}

func NewBalanceAssist(reader wallet.Reader, catalog TokenCatalog, logger *zap.Logger) *BalanceAssist {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BalanceAssist{reader: reader, catalog: catalog, logger: logger}
}

// SwitchTarget returns the chain id the wallet must be on to read balances
// for the form's source network.
func SwitchTarget(form Form) (int64, error) {
	network := strings.TrimSpace(form.SourceNetwork)
	if network == "" {
		return 0, clierr.New(clierr.CodeMissingSourceNetwork, "Please select a source network")
	}
	id, ok := chains.ChainIDForNetwork(network)
	if !ok {
		return 0, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("network %s has no EVM chain", network))
	}
	return id, nil
}

func (b *BalanceAssist) Balance(ctx context.Context, form Form, walletChainID int64) (Balance, error) {
	if strings.TrimSpace(form.UserAddress) == "" {
		return Balance{}, clierr.New(clierr.CodeWalletNotConnected, "Please connect your wallet first")
	}
	expected, ok := chains.ChainIDForNetwork(form.SourceNetwork)
	if !ok || expected != walletChainID {
		return Balance{}, clierr.New(clierr.CodeNetworkMismatch,
			fmt.Sprintf("Switch to %s to use your balance", chains.FormatNetworkName(form.SourceNetwork)))
	}

	coin := strings.ToUpper(strings.TrimSpace(form.SourceCoin))
	out := Balance{Coin: coin, Network: form.SourceNetwork, ChainID: expected}

	if assets.IsNativeCoin(coin) {
		raw, err := b.reader.NativeBalance(ctx, expected, form.UserAddress)
		if err != nil {
			return Balance{}, err
		}
		out.Native = true
		out.Decimals = nativeDecimals
		return finish(out, raw), nil
	}

	var detail sideshift.TokenDetail
	if b.catalog != nil {
		detail, ok = b.catalog.TokenDetail(coin, form.SourceNetwork)
	}
	if !ok || strings.TrimSpace(detail.ContractAddress) == "" {
		return Balance{}, clierr.New(clierr.CodeUnsupported,
			fmt.Sprintf("no token contract known for %s on %s", coin, form.SourceNetwork))
	}
	raw, err := b.reader.TokenBalance(ctx, expected, detail.ContractAddress, form.UserAddress)
	if err != nil {
		return Balance{}, err
	}
	out.Contract = detail.ContractAddress
	out.Decimals = nativeDecimals
	if dec, err := b.reader.TokenDecimals(ctx, expected, detail.ContractAddress); err == nil {
		out.Decimals = int32(dec)
	} else {
		b.logger.Debug("token decimals unavailable, using catalog value",
			zap.String("contract", detail.ContractAddress), zap.Error(err))
		if detail.Decimals > 0 {
			out.Decimals = int32(detail.Decimals)
		}
	}
	return finish(out, raw), nil
}

// MaxAmount is the full token balance, or the native balance less
// GasReserve.
func (b *BalanceAssist) MaxAmount(ctx context.Context, form Form, walletChainID int64) (string, error) {
	bal, err := b.Balance(ctx, form, walletChainID)
	if err != nil {
		return "", err
	}
	if bal.raw == nil || bal.raw.Sign() <= 0 {
		return "", clierr.New(clierr.CodeNoBalance, "You don't have any balance to bridge")
	}
	amount := decimal.NewFromBigInt(bal.raw, -bal.Decimals)
	if !bal.Native {
		return amount.String(), nil
	}
	if !amount.GreaterThan(GasReserve) {
		return "", clierr.New(clierr.CodeInsufficientBalanceForGas, "You need to leave some balance for gas fees")
	}
	return amount.Sub(GasReserve).String(), nil
}

// ApplyMax sets form.Amount to the max amount. The form is left as is on
// any error.
func (b *BalanceAssist) ApplyMax(ctx context.Context, form *Form, walletChainID int64) (string, error) {
	amount, err := b.MaxAmount(ctx, *form, walletChainID)
	if err != nil {
		return "", err
	}
	form.Amount = amount
	return amount, nil
}

func finish(b Balance, raw *big.Int) Balance {
	if raw == nil {
		raw = new(big.Int)
	}
	b.raw = raw
	b.Raw = raw.String()
	b.Amount = decimal.NewFromBigInt(raw, -b.Decimals).String()
	return b
}
