package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/ggonzalez94/sideshift-bridge/internal/assets"
	"github.com/ggonzalez94/sideshift-bridge/internal/cache"
	"github.com/ggonzalez94/sideshift-bridge/internal/config"
	clierr "github.com/ggonzalez94/sideshift-bridge/internal/errors"
	"github.com/ggonzalez94/sideshift-bridge/internal/httpx"
	"github.com/ggonzalez94/sideshift-bridge/internal/model"
	"github.com/ggonzalez94/sideshift-bridge/internal/out"
	"github.com/ggonzalez94/sideshift-bridge/internal/policy"
	"github.com/ggonzalez94/sideshift-bridge/internal/schema"
	"github.com/ggonzalez94/sideshift-bridge/internal/sideshift"
	"github.com/ggonzalez94/sideshift-bridge/internal/store"
	"github.com/ggonzalez94/sideshift-bridge/internal/version"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type Runner struct {
	stdout io.Writer
	stderr io.Writer
	now    func() time.Time
}

func NewRunner() *Runner {
	return NewRunnerWithWriters(os.Stdout, os.Stderr)
}

func NewRunnerWithWriters(stdout, stderr io.Writer) *Runner {
	return &Runner{
		stdout: stdout,
		stderr: stderr,
		now:    time.Now,
	}
}

type runtimeState struct {
	runner       *Runner
	flags        config.GlobalFlags
	settings     config.Settings
	logger       *zap.Logger
	cache        *cache.Store
	storeMu      sync.Mutex
	shifts       *store.Store
	api          *sideshift.Client
	pairs        *assets.PairTracker
	root         *cobra.Command
	lastCommand  string
	lastWarnings []string
	lastBackend  *model.BackendStatus
}

func (r *Runner) Run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	state := &runtimeState{runner: r, logger: zap.NewNop()}
	root := state.newRootCommand()
	state.root = root
	state.resetCommandDiagnostics()
	root.SetArgs(args)
	root.SetOut(r.stdout)
	root.SetErr(r.stderr)
	root.SilenceUsage = true
	root.SilenceErrors = true

	err := root.ExecuteContext(ctx)
	err = normalizeRunError(err)
	if err != nil {
		state.renderError("", err, state.lastWarnings, state.lastBackend)
	}
	state.close()
	return clierr.ExitCode(err)
}

func (s *runtimeState) close() {
	if s.cache != nil {
		_ = s.cache.Close()
	}
	s.storeMu.Lock()
	if s.shifts != nil {
		_ = s.shifts.Close()
	}
	s.storeMu.Unlock()
	_ = s.logger.Sync()
}

func (s *runtimeState) newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   version.CLIName,
		Short: "Cross-chain bridge CLI over the SideShift backend",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" {
				return nil
			}
			settings, err := config.Load(s.flags)
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "load configuration", err)
			}
			s.settings = settings

			path := trimRootPath(cmd.CommandPath())
			s.lastCommand = path
			if err := policy.CheckCommandAllowed(settings.EnableCommands, path); err != nil {
				return err
			}

			logger, err := newLogger(settings.LogLevel, s.runner.stderr)
			if err != nil {
				return err
			}
			s.logger = logger

			if s.api == nil {
				s.api = sideshift.New(httpx.New(settings.Timeout, settings.Retries), settings.APIURL)
			}

			if settings.CacheEnabled && shouldOpenCache(path) && s.cache == nil {
				cacheStore, err := cache.Open(settings.CachePath, settings.CacheLockPath)
				if err != nil {
					return clierr.Wrap(clierr.CodeInternal, "open cache", err)
				}
				s.cache = cacheStore
				if err := cacheStore.Prune(settings.MaxStale); err != nil {
					s.logger.Debug("cache prune failed", zap.Error(err))
				}
			}
			return nil
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return clierr.Wrap(clierr.CodeUsage, "parse flags", err)
	})

	cmd.PersistentFlags().BoolVar(&s.flags.JSON, "json", false, "Output JSON (default)")
	cmd.PersistentFlags().BoolVar(&s.flags.Plain, "plain", false, "Output plain text")
	cmd.PersistentFlags().StringVar(&s.flags.Select, "select", "", "Select fields from data (comma-separated, dotted paths allowed)")
	cmd.PersistentFlags().BoolVar(&s.flags.ResultsOnly, "results-only", false, "Output only data payload")
	cmd.PersistentFlags().StringVar(&s.flags.EnableCommands, "enable-commands", "", "Allowlist command paths (comma-separated)")
	cmd.PersistentFlags().StringVar(&s.flags.Timeout, "timeout", "", "Backend request timeout")
	cmd.PersistentFlags().IntVar(&s.flags.Retries, "retries", -1, "Retries per backend GET request")
	cmd.PersistentFlags().StringVar(&s.flags.MaxStale, "max-stale", "", "Maximum stale fallback window after TTL expiry")
	cmd.PersistentFlags().BoolVar(&s.flags.NoStale, "no-stale", false, "Reject stale cache entries")
	cmd.PersistentFlags().BoolVar(&s.flags.NoCache, "no-cache", false, "Disable cache reads and writes")
	cmd.PersistentFlags().StringVar(&s.flags.ConfigPath, "config", "", "Path to config file")
	cmd.PersistentFlags().StringVar(&s.flags.APIURL, "api-url", "", "Backend base URL")
	cmd.PersistentFlags().StringVar(&s.flags.LogLevel, "log-level", "", "Log level (debug|info|warn|error)")

	cmd.AddCommand(s.newSchemaCommand())
	cmd.AddCommand(s.newAssetsCommand())
	cmd.AddCommand(s.newPairCommand())
	cmd.AddCommand(s.newNetworksCommand())
	cmd.AddCommand(s.newShiftCommand())
	cmd.AddCommand(s.newBalanceCommand())
	cmd.AddCommand(s.newHealthCommand())
	cmd.AddCommand(s.newServeCommand())
	cmd.AddCommand(newVersionCommand())

	return cmd
}

func newVersionCommand() *cobra.Command {
	var long bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print CLI version",
		Run: func(cmd *cobra.Command, args []string) {
			if long {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.Long())
				return
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.CLIVersion)
		},
	}
	cmd.Flags().BoolVar(&long, "long", false, "Print extended build metadata")
	return cmd
}

func (s *runtimeState) newSchemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "schema [command path]",
		Short:   "Print machine-readable command schema",
		Example: "bridge schema shift create",
		Args:    cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := schema.Build(s.root, strings.Join(args, " "))
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), data, nil, cacheMetaBypass(), nil)
		},
	}
}

// fetchFn fetches fresh data from the backend and reports the call.
type fetchFn func(ctx context.Context) (data any, backend *model.BackendStatus, err error)

type cachedResult struct {
	payload  []byte
	cache    model.CacheStatus
	backend  *model.BackendStatus
	warnings []string
}

// resolveCached serves a fresh cache hit, otherwise fetches. A failed fetch
// falls back to a stale entry within the max-stale budget when the failure
// is transient.
func (s *runtimeState) resolveCached(ctx context.Context, key string, ttl time.Duration, fetch fetchFn) (cachedResult, error) {
	return s.resolve(ctx, key, ttl, fetch, true)
}

// resolveFresh is resolveCached without the stale fallback: a failed fetch
// is returned as is.
func (s *runtimeState) resolveFresh(ctx context.Context, key string, ttl time.Duration, fetch fetchFn) (cachedResult, error) {
	return s.resolve(ctx, key, ttl, fetch, false)
}

func (s *runtimeState) resolve(ctx context.Context, key string, ttl time.Duration, fetch fetchFn, allowStale bool) (cachedResult, error) {
	var (
		stale           []byte
		staleStatus     model.CacheStatus
		staleObservedAt time.Time
		staleAge        time.Duration
	)

	if s.settings.CacheEnabled && s.cache != nil {
		cached, err := s.cache.Get(key, s.settings.MaxStale)
		switch {
		case err != nil:
			s.logger.Debug("cache read failed", zap.String("key", key), zap.Error(err))
		case cached.Hit && !json.Valid(cached.Value):
			if err := s.cache.Delete(key); err != nil {
				s.logger.Debug("cache delete failed", zap.String("key", key), zap.Error(err))
			}
		case cached.Hit:
			entry := model.CacheStatus{Status: "hit", AgeMS: cached.Age.Milliseconds(), Stale: cached.Stale}
			if !cached.Stale {
				return cachedResult{payload: cached.Value, cache: entry}, nil
			}
			if !allowStale {
				break
			}
			stale = cached.Value
			staleStatus = entry
			staleAge = cached.Age
			staleObservedAt = time.Now()
		}
	}

	fetchCtx, cancel := context.WithTimeout(ctx, s.settings.Timeout)
	defer cancel()
	data, backend, err := fetch(fetchCtx)
	s.captureCommandDiagnostics(nil, backend)
	if err != nil {
		if stale == nil || !staleFallbackAllowed(err) {
			return cachedResult{}, err
		}
		age := staleAge + time.Since(staleObservedAt)
		staleStatus.AgeMS = age.Milliseconds()
		if s.settings.NoStale {
			return cachedResult{}, clierr.Wrap(clierr.CodeStale, "fresh backend fetch failed and stale fallback is disabled (--no-stale)", err)
		}
		if staleExceedsBudget(age, ttl, s.settings.MaxStale) {
			return cachedResult{}, clierr.Wrap(clierr.CodeStale, "fresh backend fetch failed and cached data exceeded stale budget", err)
		}
		warnings := []string{"backend fetch failed; serving stale data within max-stale budget"}
		s.captureCommandDiagnostics(warnings, backend)
		return cachedResult{payload: stale, cache: staleStatus, backend: backend, warnings: warnings}, nil
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return cachedResult{}, clierr.Wrap(clierr.CodeInternal, "encode backend response", err)
	}
	status := cacheMetaMiss()
	if s.settings.CacheEnabled && s.cache != nil {
		if err := s.cache.Set(key, payload, ttl); err != nil {
			s.logger.Debug("cache write failed", zap.String("key", key), zap.Error(err))
		} else {
			status = model.CacheStatus{Status: "write"}
		}
	}
	return cachedResult{payload: payload, cache: status, backend: backend}, nil
}

func (s *runtimeState) runCachedCommand(ctx context.Context, commandPath, key string, ttl time.Duration, fetch fetchFn) error {
	s.resetCommandDiagnostics()
	res, err := s.resolveCached(ctx, key, ttl, fetch)
	if err != nil {
		return err
	}
	var data any
	if err := json.Unmarshal(res.payload, &data); err != nil {
		return clierr.Wrap(clierr.CodeInternal, "decode cached payload", err)
	}
	return s.emitSuccess(commandPath, data, res.warnings, res.cache, res.backend)
}

func (s *runtimeState) emitSuccess(commandPath string, data any, warnings []string, cacheStatus model.CacheStatus, backend *model.BackendStatus) error {
	env := model.Envelope{
		Version:  model.EnvelopeVersion,
		Success:  true,
		Data:     data,
		Error:    nil,
		Warnings: warnings,
		Meta: model.EnvelopeMeta{
			RequestID: newRequestID(),
			Timestamp: s.runner.now().UTC(),
			Command:   commandPath,
			Backend:   backend,
			Cache:     cacheStatus,
		},
	}
	return out.Render(s.runner.stdout, env, s.settings)
}

func (s *runtimeState) renderError(commandPath string, err error, warnings []string, backend *model.BackendStatus) {
	if strings.TrimSpace(commandPath) == "" {
		commandPath = s.lastCommand
		if commandPath == "" {
			commandPath = version.CLIName
		}
	}
	code := clierr.ExitCode(err)
	typ := clierr.CodeInternal.Type()
	message := clierr.UserMessage(err)
	if cErr, ok := clierr.As(err); ok {
		typ = cErr.Code.Type()
		switch cErr.Code {
		case clierr.CodeUsage, clierr.CodeInternal, clierr.CodeStale:
			// Local failures keep their cause; backend messages are
			// already normalized for display.
			message = cErr.Error()
		}
	}

	settings := s.settings
	if settings.OutputMode == "" {
		settings.OutputMode = "json"
	}
	settings.ResultsOnly = false
	settings.SelectFields = nil
	env := model.Envelope{
		Version: model.EnvelopeVersion,
		Success: false,
		Data:    []any{},
		Error: &model.ErrorBody{
			Code:    code,
			Type:    typ,
			Message: message,
		},
		Warnings: warnings,
		Meta: model.EnvelopeMeta{
			RequestID: newRequestID(),
			Timestamp: s.runner.now().UTC(),
			Command:   commandPath,
			Backend:   backend,
			Cache:     cacheMetaBypass(),
		},
	}
	_ = out.Render(s.runner.stderr, env, settings)
}

// backendStatus records one backend call for the envelope meta.
func (s *runtimeState) backendStatus(start time.Time, err error) *model.BackendStatus {
	return &model.BackendStatus{
		URL:       s.api.BaseURL(),
		Status:    statusFromErr(err),
		LatencyMS: time.Since(start).Milliseconds(),
	}
}

// ensureStore opens the shift store once. Monitor hooks call it from their
// own goroutines.
func (s *runtimeState) ensureStore() error {
	s.storeMu.Lock()
	defer s.storeMu.Unlock()
	if s.shifts != nil {
		return nil
	}
	st, err := store.Open(s.settings.StorePath, s.settings.StoreLockPath)
	if err != nil {
		return clierr.Wrap(clierr.CodeInternal, "open shift store", err)
	}
	s.shifts = st
	return nil
}

func newRequestID() string {
	return uuid.NewString()
}

func trimRootPath(path string) string {
	parts := strings.Fields(path)
	if len(parts) <= 1 {
		return path
	}
	return strings.Join(parts[1:], " ")
}

func statusFromErr(err error) string {
	if err == nil {
		return "ok"
	}
	if cErr, ok := clierr.As(err); ok {
		return cErr.Code.Type()
	}
	return "error"
}

func cacheMetaBypass() model.CacheStatus {
	return model.CacheStatus{Status: "bypass", AgeMS: 0, Stale: false}
}

func cacheMetaMiss() model.CacheStatus {
	return model.CacheStatus{Status: "miss", AgeMS: 0, Stale: false}
}

func normalizeRunError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := clierr.As(err); ok {
		return err
	}
	if isLikelyUsageError(err) {
		return clierr.Wrap(clierr.CodeUsage, "invalid command input", err)
	}
	return clierr.Wrap(clierr.CodeInternal, "execute command", err)
}

func isLikelyUsageError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	patterns := []string{
		"unknown command",
		"unknown flag",
		"required flag(s)",
		"flag needs an argument",
		"requires at least",
		"requires exactly",
		"accepts ",
		"invalid argument",
		"invalid args",
	}
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

func staleExceedsBudget(age, ttl, maxStale time.Duration) bool {
	if age <= ttl {
		return false
	}
	if maxStale < 0 {
		return false
	}
	return age > ttl+maxStale
}

func staleFallbackAllowed(err error) bool {
	cErr, ok := clierr.As(err)
	if !ok {
		return false
	}
	return cErr.Code == clierr.CodeNetwork || cErr.Code == clierr.CodeServer || cErr.Code == clierr.CodeRateLimited
}

func shouldOpenCache(commandPath string) bool {
	switch normalizeCommandPath(commandPath) {
	case "assets list", "assets networks", "pair", "shift create", "balance get", "balance max":
		return true
	default:
		return false
	}
}

func normalizeCommandPath(commandPath string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(commandPath))), " ")
}

func (s *runtimeState) resetCommandDiagnostics() {
	s.lastWarnings = nil
	s.lastBackend = nil
}

func (s *runtimeState) captureCommandDiagnostics(warnings []string, backend *model.BackendStatus) {
	if len(warnings) == 0 {
		s.lastWarnings = nil
	} else {
		s.lastWarnings = append([]string(nil), warnings...)
	}
	s.lastBackend = backend
}
