package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ggonzalez94/sideshift-bridge/internal/assets"
	"github.com/ggonzalez94/sideshift-bridge/internal/bridge"
	"github.com/ggonzalez94/sideshift-bridge/internal/chains"
	clierr "github.com/ggonzalez94/sideshift-bridge/internal/errors"
	"github.com/ggonzalez94/sideshift-bridge/internal/model"
	"github.com/ggonzalez94/sideshift-bridge/internal/monitor"
	"github.com/ggonzalez94/sideshift-bridge/internal/out"
	"github.com/ggonzalez94/sideshift-bridge/internal/sideshift"
	"github.com/ggonzalez94/sideshift-bridge/internal/store"
	"github.com/ggonzalez94/sideshift-bridge/internal/wallet"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type shiftCreateResult struct {
	Created bridge.ShiftCreated           `json:"created"`
	Shift   sideshift.Shift               `json:"shift"`
	Deposit sideshift.DepositInstructions `json:"deposit"`
	Pair    *sideshift.PairInfo           `json:"pair,omitempty"`
	Monitor *monitor.Snapshot             `json:"monitor,omitempty"`
}

type shiftStatusView struct {
	ShiftID       string                `json:"shift_id"`
	Status        sideshift.Status      `json:"status"`
	Terminal      bool                  `json:"terminal"`
	Description   string                `json:"description,omitempty"`
	Shift         sideshift.Shift       `json:"shift"`
	SideshiftData sideshift.OrderStatus `json:"sideshift_data"`
	DataKind      string                `json:"sideshift_data_kind"`
}

type watchOptions struct {
	interval   time.Duration
	maxRetries int
}

func (s *runtimeState) newShiftCommand() *cobra.Command {
	root := &cobra.Command{Use: "shift", Short: "Create, inspect and watch shifts"}
	root.AddCommand(s.newShiftCreateCommand())
	root.AddCommand(s.newShiftStatusCommand())
	root.AddCommand(s.newShiftWatchCommand())
	root.AddCommand(s.newShiftHistoryCommand())
	return root
}

func (s *runtimeState) newShiftCreateCommand() *cobra.Command {
	var form bridge.Form
	var useMax, watch bool
	var chainID int64
	var rpcURL string
	var interval time.Duration
	var maxRetries int
	cmd := &cobra.Command{
		Use:     "create",
		Short:   "Validate and submit a bridge shift",
		Example: "bridge shift create --address 0xabc... --from-coin USDC --from-network base --to-coin ETH --to-network optimism --amount 100",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s.resetCommandDiagnostics()
			ctx := cmd.Context()
			warnings := []string{}
			if strings.TrimSpace(form.DestCoin) == "" && strings.TrimSpace(form.SourceCoin) != "" {
				form.DestCoin = assets.DefaultDestinationCoin(form.SourceCoin)
			}

			if useMax {
				amount, err := s.maxAmount(ctx, form, chainID, rpcURL)
				if err != nil {
					return err
				}
				form.Amount = amount
			}

			var pair *sideshift.PairInfo
			if key := form.PairKey(); key.SourceCoin != "" && key.DestCoin != "" && key.SourceNetwork != "" && key.DestNetwork != "" {
				info, _, err := s.fetchPair(ctx, key)
				if err != nil {
					s.logger.Warn("pair quote unavailable", zap.Error(err))
					warnings = append(warnings, "pair quote unavailable; minimum deposit not checked locally")
				} else {
					pair = &info
				}
			}

			submitter := bridge.NewSubmitter(s.api, s.logger)
			submitter.OnCreated(func(ev bridge.ShiftCreated) {
				if err := s.persistCreated(ev); err != nil {
					s.logger.Warn("persist created shift", zap.String("shift_id", ev.ShiftID), zap.Error(err))
					warnings = append(warnings, "shift created but not saved to local history")
				}
			})

			createCtx, cancel := context.WithTimeout(ctx, s.settings.Timeout)
			defer cancel()
			start := time.Now()
			created, resp, err := submitter.Submit(createCtx, form, pair)
			var backend *model.BackendStatus
			if !isLocalValidation(err) {
				backend = s.backendStatus(start, err)
			}
			s.captureCommandDiagnostics(warnings, backend)
			if err != nil {
				return err
			}

			result := shiftCreateResult{Created: created, Shift: resp.Shift, Deposit: resp.Sideshift, Pair: pair}
			if watch {
				snaps, err := s.watchShifts(ctx, []string{created.ShiftID}, watchOptions{interval: interval, maxRetries: maxRetries})
				if err != nil {
					return err
				}
				result.Monitor = &snaps[0]
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), result, warnings, cacheMetaBypass(), backend)
		},
	}
	cmd.Flags().StringVar(&form.UserAddress, "address", "", "Connected wallet address")
	cmd.Flags().StringVar(&form.SourceCoin, "from-coin", "", "Deposit coin (e.g. USDC)")
	cmd.Flags().StringVar(&form.SourceNetwork, "from-network", "", "Deposit network (e.g. base)")
	cmd.Flags().StringVar(&form.DestCoin, "to-coin", "", "Settle coin (defaults from the deposit coin)")
	cmd.Flags().StringVar(&form.DestNetwork, "to-network", "", "Settle network (e.g. optimism)")
	cmd.Flags().StringVar(&form.Amount, "amount", "", "Deposit amount in decimal units")
	cmd.Flags().StringVar(&form.RefundAddress, "refund-address", "", "Refund address on the deposit network")
	cmd.Flags().BoolVar(&useMax, "max", false, "Use the wallet's max amount (native coins keep a gas reserve)")
	cmd.Flags().Int64Var(&chainID, "chain-id", 0, "Chain id the wallet is connected to (defaults to the deposit network)")
	cmd.Flags().StringVar(&rpcURL, "rpc-url", "", "RPC URL override for balance reads")
	cmd.Flags().BoolVar(&watch, "watch", false, "Watch the created shift until it settles or fails")
	cmd.Flags().DurationVar(&interval, "interval", 0, "Poll interval when watching (default from config)")
	cmd.Flags().IntVar(&maxRetries, "max-retries", -1, "Retries after consecutive poll errors when watching")
	return cmd
}

func (s *runtimeState) newShiftStatusCommand() *cobra.Command {
	var watch bool
	var interval time.Duration
	var maxRetries int
	cmd := &cobra.Command{
		Use:   "status <shift-id>",
		Short: "Read a shift's status once, or watch it until it settles",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s.resetCommandDiagnostics()
			shiftID := strings.TrimSpace(args[0])
			if shiftID == "" {
				return clierr.New(clierr.CodeUsage, "shift id is required")
			}
			if watch {
				snaps, err := s.watchShifts(cmd.Context(), []string{shiftID}, watchOptions{interval: interval, maxRetries: maxRetries})
				if err != nil {
					return err
				}
				return s.emitSuccess(trimRootPath(cmd.CommandPath()), snaps[0], nil, cacheMetaBypass(), nil)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), s.settings.Timeout)
			defer cancel()
			start := time.Now()
			resp, err := s.api.ShiftStatus(ctx, shiftID)
			backend := s.backendStatus(start, err)
			s.captureCommandDiagnostics(nil, backend)
			if err != nil {
				return err
			}
			status := sideshift.ParseStatus(string(resp.Shift.Status))
			var warnings []string
			if err := s.ensureStore(); err == nil {
				shift := resp.Shift
				if err := s.shifts.Apply(store.StatusUpdate{ShiftID: shiftID, Status: status, Shift: &shift}); err != nil {
					s.logger.Warn("update local shift", zap.String("shift_id", shiftID), zap.Error(err))
				}
			} else {
				s.logger.Debug("shift store unavailable", zap.Error(err))
			}
			if !status.Known() {
				warnings = append(warnings, fmt.Sprintf("unrecognized status %q", status))
			}
			view := shiftStatusView{
				ShiftID:       shiftID,
				Status:        status,
				Terminal:      status.IsTerminal(),
				Description:   status.Description(),
				Shift:         resp.Shift,
				SideshiftData: resp.SideshiftData,
				DataKind:      resp.SideshiftData.Kind(),
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), view, warnings, cacheMetaBypass(), backend)
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "Poll until the shift reaches a terminal status")
	cmd.Flags().DurationVar(&interval, "interval", 0, "Poll interval (default from config)")
	cmd.Flags().IntVar(&maxRetries, "max-retries", -1, "Retries after consecutive poll errors")
	return cmd
}

func (s *runtimeState) newShiftWatchCommand() *cobra.Command {
	var interval time.Duration
	var maxRetries int
	cmd := &cobra.Command{
		Use:   "watch <shift-id>...",
		Short: "Watch several shifts at once, one monitor per shift",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s.resetCommandDiagnostics()
			snaps, err := s.watchShifts(cmd.Context(), args, watchOptions{interval: interval, maxRetries: maxRetries})
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), snaps, nil, cacheMetaBypass(), nil)
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 0, "Poll interval (default from config)")
	cmd.Flags().IntVar(&maxRetries, "max-retries", -1, "Retries after consecutive poll errors")
	return cmd
}

func (s *runtimeState) newShiftHistoryCommand() *cobra.Command {
	var local bool
	var statusArg string
	var limit int
	cmd := &cobra.Command{
		Use:   "history [address]",
		Short: "List shifts for an address from the backend or the local store",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s.resetCommandDiagnostics()
			address := ""
			if len(args) > 0 {
				address = strings.TrimSpace(args[0])
			}
			statusFilter := strings.ToLower(strings.TrimSpace(statusArg))

			if local {
				if err := s.ensureStore(); err != nil {
					return err
				}
				records, err := s.shifts.List(store.Filter{UserAddress: address, Status: statusFilter, Limit: limit})
				if err != nil {
					return err
				}
				return s.emitSuccess(trimRootPath(cmd.CommandPath()), records, nil, cacheMetaBypass(), nil)
			}

			if address == "" {
				return clierr.New(clierr.CodeUsage, "address is required unless --local is set")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), s.settings.Timeout)
			defer cancel()
			start := time.Now()
			shifts, err := s.api.UserShifts(ctx, address)
			backend := s.backendStatus(start, err)
			s.captureCommandDiagnostics(nil, backend)
			if err != nil {
				return err
			}
			items := make([]sideshift.Shift, 0, len(shifts))
			for _, shift := range shifts {
				if statusFilter != "" && string(shift.Status) != statusFilter {
					continue
				}
				items = append(items, shift)
				if limit > 0 && len(items) >= limit {
					break
				}
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), items, nil, cacheMetaBypass(), backend)
		},
	}
	cmd.Flags().BoolVar(&local, "local", false, "Read from the local shift store instead of the backend")
	cmd.Flags().StringVar(&statusArg, "status", "", "Only shifts with this status")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of shifts (local default 20)")
	return cmd
}

// watchShifts runs one monitor per unique id until each one settles, fails
// or the context is cancelled. Every update is written to the local store;
// in plain mode it is also printed to stderr.
func (s *runtimeState) watchShifts(ctx context.Context, ids []string, wo watchOptions) ([]monitor.Snapshot, error) {
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return nil, clierr.New(clierr.CodeUsage, "at least one shift id is required")
	}
	if err := s.ensureStore(); err != nil {
		s.logger.Warn("shift store unavailable, updates will not be saved", zap.Error(err))
	}

	opts := monitor.DefaultOptions()
	opts.Interval = s.settings.PollInterval
	opts.MaxRetries = s.settings.MaxPollRetries
	opts.RetryBaseDelay = s.settings.RetryBaseDelay
	if wo.interval > 0 {
		opts.Interval = wo.interval
	}
	if wo.maxRetries >= 0 {
		opts.MaxRetries = wo.maxRetries
	}
	opts.Logger = s.logger

	var spin *out.Spinner
	var printMu sync.Mutex
	plain := s.settings.OutputMode == "plain"
	if plain {
		spin = out.StartSpinner(s.runner.stderr, fmt.Sprintf("watching %d shift(s)", len(ids)))
		defer spin.Stop()
	}
	opts.OnUpdate = func(snap monitor.Snapshot) {
		s.persistSnapshot(snap)
		if !plain {
			return
		}
		printMu.Lock()
		defer printMu.Unlock()
		line := out.StatusLine(out.StatusView{ShiftID: snap.ShiftID, State: string(snap.State), Status: snap.Status, Err: snap.Err})
		spin.Update(line)
		_, _ = fmt.Fprintln(s.runner.stderr, line)
	}

	mgr := monitor.NewManager(s.api, opts)
	defer mgr.Close()
	monitors := make([]*monitor.Monitor, 0, len(ids))
	for _, id := range ids {
		mon, err := mgr.Start(ctx, id)
		if err != nil {
			return nil, err
		}
		monitors = append(monitors, mon)
	}
	for _, mon := range monitors {
		select {
		case <-mon.Done():
		case <-ctx.Done():
			return nil, clierr.Wrap(clierr.CodeInternal, "watch interrupted", ctx.Err())
		}
	}
	if ctx.Err() != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "watch interrupted", ctx.Err())
	}

	snaps := make([]monitor.Snapshot, 0, len(monitors))
	var failed []string
	for _, mon := range monitors {
		snap := mon.Snapshot()
		snaps = append(snaps, snap)
		if snap.State == monitor.StateFailed {
			failed = append(failed, fmt.Sprintf("%s: %s", snap.ShiftID, snap.Err))
		}
	}
	if len(failed) > 0 {
		s.captureCommandDiagnostics(failed, nil)
		return nil, clierr.New(clierr.CodeMonitorFailed, fmt.Sprintf("Stopped checking status after repeated errors (%s)", strings.Join(failed, "; ")))
	}
	return snaps, nil
}

func (s *runtimeState) persistSnapshot(snap monitor.Snapshot) {
	if snap.ShiftID == "" {
		return
	}
	if err := s.ensureStore(); err != nil {
		s.logger.Debug("shift store unavailable", zap.Error(err))
		return
	}
	update := store.StatusUpdate{
		ShiftID:      snap.ShiftID,
		Status:       snap.Status,
		MonitorState: string(snap.State),
		LastError:    snap.Err,
	}
	if snap.Payload != nil {
		shift := snap.Payload.Shift
		update.Shift = &shift
	}
	if err := s.shifts.Apply(update); err != nil {
		s.logger.Warn("persist monitor update", zap.String("shift_id", snap.ShiftID), zap.Error(err))
	}
}

func (s *runtimeState) persistCreated(ev bridge.ShiftCreated) error {
	if err := s.ensureStore(); err != nil {
		return err
	}
	now := s.runner.now().UTC().Format(time.RFC3339)
	return s.shifts.Save(store.Record{
		ShiftID:     ev.ShiftID,
		UserAddress: ev.UserAddress,
		Status:      sideshift.StatusWaiting,
		Shift: sideshift.Shift{
			ID:             ev.ShiftID,
			UserAddress:    ev.UserAddress,
			Purpose:        sideshift.PurposeBridge,
			SourceAsset:    ev.DepositCoin,
			DestAsset:      ev.DestCoin,
			SourceNetwork:  ev.DepositNetwork,
			DestNetwork:    ev.DestNetwork,
			SourceAmount:   ev.Amount,
			DepositAddress: ev.DepositAddress,
			Status:         sideshift.StatusWaiting,
			CreatedAt:      now,
			ExpiresAt:      ev.ExpiresAt,
		},
		Deposit: &sideshift.DepositInstructions{
			DepositAddress: ev.DepositAddress,
			DepositCoin:    ev.DepositCoin,
			DepositNetwork: ev.DepositNetwork,
			ExpiresAt:      ev.ExpiresAt,
		},
		CreatedAt: now,
		UpdatedAt: now,
	})
}

// maxAmount connects a wallet session for the address and reads its max
// amount of the source coin.
func (s *runtimeState) maxAmount(ctx context.Context, form bridge.Form, chainID int64, rpcURL string) (string, error) {
	assist, form, chainID, done, err := s.balanceAssist(ctx, form, chainID, rpcURL)
	if err != nil {
		return "", err
	}
	defer done()
	readCtx, cancel := context.WithTimeout(ctx, s.settings.Timeout)
	defer cancel()
	return assist.ApplyMax(readCtx, &form, chainID)
}

// balanceAssist connects a wallet session for form.UserAddress on chainID,
// or on the source network's chain when chainID is zero. The returned form
// carries the checksummed address. done releases RPC clients.
func (s *runtimeState) balanceAssist(ctx context.Context, form bridge.Form, chainID int64, rpcURL string) (*bridge.BalanceAssist, bridge.Form, int64, func(), error) {
	session := wallet.NewSession()
	if strings.TrimSpace(form.UserAddress) != "" {
		if chainID == 0 {
			target, err := bridge.SwitchTarget(form)
			if err != nil {
				return nil, form, 0, nil, err
			}
			chainID = target
		}
		if err := session.Connect(form.UserAddress, chainID); err != nil {
			return nil, form, 0, nil, err
		}
		form.UserAddress = session.Address()
	}

	var catalog bridge.TokenCatalog
	if !assets.IsNativeCoin(form.SourceCoin) {
		c, _, err := s.loadCatalog(ctx)
		if err != nil {
			return nil, form, 0, nil, err
		}
		catalog = c
	}

	reader := wallet.NewRPCReader(chains.NewRPCResolver(s.settings.RPCURLs), rpcURL)
	return bridge.NewBalanceAssist(reader, catalog, s.logger), form, session.ChainID(), reader.Close, nil
}

func isLocalValidation(err error) bool {
	cErr, ok := clierr.As(err)
	if !ok {
		return false
	}
	switch cErr.Code {
	case clierr.CodeWalletNotConnected, clierr.CodeInvalidAmount, clierr.CodeMissingSourceNetwork,
		clierr.CodeMissingDestNetwork, clierr.CodeAmountBelowMinimum:
		return true
	}
	return false
}

func uniqueIDs(ids []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
