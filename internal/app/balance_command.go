package app

import (
	"context"

	"github.com/ggonzalez94/sideshift-bridge/internal/assets"
	"github.com/ggonzalez94/sideshift-bridge/internal/bridge"
	"github.com/spf13/cobra"
)

type maxAmountView struct {
	Coin       string `json:"coin"`
	Network    string `json:"network"`
	Address    string `json:"address"`
	Amount     string `json:"amount"`
	GasReserve string `json:"gas_reserve,omitempty"`
}

func (s *runtimeState) newBalanceCommand() *cobra.Command {
	root := &cobra.Command{Use: "balance", Short: "Wallet balance helpers"}

	type balanceArgs struct {
		address, coin, network, rpcURL string
		chainID                        int64
	}
	bind := func(cmd *cobra.Command, a *balanceArgs) {
		cmd.Flags().StringVar(&a.address, "address", "", "Connected wallet address")
		cmd.Flags().StringVar(&a.coin, "coin", "", "Source coin (e.g. USDC)")
		cmd.Flags().StringVar(&a.network, "network", "", "Source network (e.g. base)")
		cmd.Flags().Int64Var(&a.chainID, "chain-id", 0, "Chain id the wallet is connected to (defaults to the network's chain)")
		cmd.Flags().StringVar(&a.rpcURL, "rpc-url", "", "RPC URL override")
		_ = cmd.MarkFlagRequired("coin")
	}
	form := func(a balanceArgs) bridge.Form {
		return bridge.Form{UserAddress: a.address, SourceCoin: a.coin, SourceNetwork: a.network}
	}

	var getArgs balanceArgs
	getCmd := &cobra.Command{
		Use:   "get",
		Short: "Read the wallet's balance of the source coin",
		RunE: func(cmd *cobra.Command, args []string) error {
			s.resetCommandDiagnostics()
			assist, f, chainID, done, err := s.balanceAssist(cmd.Context(), form(getArgs), getArgs.chainID, getArgs.rpcURL)
			if err != nil {
				return err
			}
			defer done()
			ctx, cancel := context.WithTimeout(cmd.Context(), s.settings.Timeout)
			defer cancel()
			bal, err := assist.Balance(ctx, f, chainID)
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), bal, nil, cacheMetaBypass(), nil)
		},
	}
	bind(getCmd, &getArgs)

	var maxArgs balanceArgs
	maxCmd := &cobra.Command{
		Use:     "max",
		Short:   "Compute the max bridgeable amount (native coins keep a gas reserve)",
		Example: "bridge balance max --address 0xabc... --coin ETH --network base",
		RunE: func(cmd *cobra.Command, args []string) error {
			s.resetCommandDiagnostics()
			assist, f, chainID, done, err := s.balanceAssist(cmd.Context(), form(maxArgs), maxArgs.chainID, maxArgs.rpcURL)
			if err != nil {
				return err
			}
			defer done()
			ctx, cancel := context.WithTimeout(cmd.Context(), s.settings.Timeout)
			defer cancel()
			amount, err := assist.ApplyMax(ctx, &f, chainID)
			if err != nil {
				return err
			}
			view := maxAmountView{Coin: f.SourceCoin, Network: f.SourceNetwork, Address: f.UserAddress, Amount: amount}
			if assets.IsNativeCoin(f.SourceCoin) {
				view.GasReserve = bridge.GasReserve.String()
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), view, nil, cacheMetaBypass(), nil)
		},
	}
	bind(maxCmd, &maxArgs)

	root.AddCommand(getCmd)
	root.AddCommand(maxCmd)
	return root
}
