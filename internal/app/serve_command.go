package app

import (
	"strings"

	"github.com/ggonzalez94/sideshift-bridge/internal/bridge"
	"github.com/ggonzalez94/sideshift-bridge/internal/monitor"
	"github.com/ggonzalez94/sideshift-bridge/internal/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func (s *runtimeState) newServeCommand() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local shift monitor API until interrupted",
		Long:  "Run the local shift monitor API until interrupted. Exposes /api/shifts, /api/monitors, /health and /metrics.",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr := strings.TrimSpace(listen)
			if addr == "" {
				addr = s.settings.ListenAddr
			}
			if err := s.ensureStore(); err != nil {
				s.logger.Warn("shift store unavailable, updates will not be saved", zap.Error(err))
			}

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

			opts := monitor.DefaultOptions()
			opts.Interval = s.settings.PollInterval
			opts.MaxRetries = s.settings.MaxPollRetries
			opts.RetryBaseDelay = s.settings.RetryBaseDelay
			opts.Logger = s.logger
			opts.Metrics = monitor.NewMetrics(reg)
			opts.OnUpdate = s.persistSnapshot
			monitors := monitor.NewManager(s.api, opts)
			defer monitors.Close()

			submitter := bridge.NewSubmitter(s.api, s.logger)
			submitter.OnCreated(func(ev bridge.ShiftCreated) {
				if err := s.persistCreated(ev); err != nil {
					s.logger.Warn("persist created shift", zap.String("shift_id", ev.ShiftID), zap.Error(err))
				}
			})

			srv := server.New(cmd.Context(), server.Deps{
				Monitors:  monitors,
				Submitter: submitter,
				Pairs:     s.api,
				Registry:  reg,
				Logger:    s.logger,
			})
			return srv.ListenAndServe(cmd.Context(), addr)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (default from config, 127.0.0.1:8080)")
	return cmd
}
