package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ggonzalez94/sideshift-bridge/internal/assets"
	"github.com/ggonzalez94/sideshift-bridge/internal/bridge"
	clierr "github.com/ggonzalez94/sideshift-bridge/internal/errors"
	"github.com/ggonzalez94/sideshift-bridge/internal/monitor"
	"github.com/ggonzalez94/sideshift-bridge/internal/sideshift"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const requestIDHeader = "X-Request-ID"

// ShiftSubmitter validates and creates a shift.
type ShiftSubmitter interface {
	Submit(ctx context.Context, form bridge.Form, pair *sideshift.PairInfo) (bridge.ShiftCreated, sideshift.ShiftResponse, error)
}

type Deps struct {
	Monitors  *monitor.Manager
	Submitter ShiftSubmitter
	// Pairs is optional. Without it the minimum deposit is left to the
	// backend.
	Pairs    assets.PairSource
	Registry *prometheus.Registry
	Logger   *zap.Logger
}

// Server is the local display-layer API over the monitor manager.
type Server struct {
	ctx       context.Context
	monitors  *monitor.Manager
	submitter ShiftSubmitter
	pairs     *assets.PairTracker
	registry  *prometheus.Registry
	logger    *zap.Logger
	router    *mux.Router

	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// New builds the server. ctx is the lifetime of monitors started through
// the API; they outlive the request that created them.
func New(ctx context.Context, deps Deps) *Server {
	reg := deps.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	var pairs *assets.PairTracker
	if deps.Pairs != nil {
		pairs = assets.NewPairTracker(deps.Pairs, logger)
	}
	factory := promauto.With(reg)
	s := &Server{
		ctx:       ctx,
		monitors:  deps.Monitors,
		submitter: deps.Submitter,
		pairs:     pairs,
		registry:  reg,
		logger:    logger,
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_http_requests_total",
			Help: "HTTP requests by route and status code.",
		}, []string{"method", "route", "status"}),
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bridge_http_request_duration_seconds",
			Help:    "Latency of HTTP requests by route.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"method", "route"}),
	}
	s.router = s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.instrument)
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/monitors", s.handleStartMonitor).Methods(http.MethodPost)
	api.HandleFunc("/monitors", s.handleListMonitors).Methods(http.MethodGet)
	api.HandleFunc("/monitors/{id}", s.handleGetMonitor).Methods(http.MethodGet)
	api.HandleFunc("/monitors/{id}", s.handleStopMonitor).Methods(http.MethodDelete)
	api.HandleFunc("/shifts", s.handleCreateShift).Methods(http.MethodPost)
	api.HandleFunc("/pair", s.handleCurrentPair).Methods(http.MethodGet)
	return r
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return clierr.Wrap(clierr.CodeInternal, "serve http", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return clierr.Wrap(clierr.CodeInternal, "shutdown http", err)
		}
		return nil
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		timer := prometheus.NewTimer(s.latency.WithLabelValues(r.Method, route))
		next.ServeHTTP(rec, r)
		timer.ObserveDuration()
		s.requests.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		s.logger.Debug("http request",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", rec.status))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type startMonitorRequest struct {
	ShiftID string `json:"shiftId"`
}

func (s *Server) handleStartMonitor(w http.ResponseWriter, r *http.Request) {
	var req startMonitorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}
	mon, err := s.monitors.Start(s.ctx, req.ShiftID)
	if err != nil {
		respondWithError(w, statusFor(err), clierr.UserMessage(err))
		return
	}
	respondWithJSON(w, http.StatusAccepted, mon.Snapshot())
}

func (s *Server) handleListMonitors(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, s.monitors.List())
}

func (s *Server) handleGetMonitor(w http.ResponseWriter, r *http.Request) {
	mon, ok := s.monitors.Get(mux.Vars(r)["id"])
	if !ok {
		respondWithError(w, http.StatusNotFound, "monitor not found")
		return
	}
	respondWithJSON(w, http.StatusOK, mon.Snapshot())
}

func (s *Server) handleStopMonitor(w http.ResponseWriter, r *http.Request) {
	if !s.monitors.Stop(mux.Vars(r)["id"]) {
		respondWithError(w, http.StatusNotFound, "monitor not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCreateShift(w http.ResponseWriter, r *http.Request) {
	var form bridge.Form
	if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}

	var pair *sideshift.PairInfo
	if key := form.PairKey(); s.pairs != nil && key.SourceCoin != "" && key.DestCoin != "" {
		// A superseded response still answers this request's key.
		info, _, err := s.pairs.Request(r.Context(), key)
		if err != nil {
			s.logger.Warn("pair info unavailable, submitting without minimum check", zap.Error(err))
		} else {
			pair = &info
		}
	}

	created, _, err := s.submitter.Submit(r.Context(), form, pair)
	if err != nil {
		respondWithError(w, statusFor(err), clierr.UserMessage(err))
		return
	}
	if _, err := s.monitors.Start(s.ctx, created.ShiftID); err != nil {
		s.logger.Warn("could not start monitor for created shift", zap.String("shift_id", created.ShiftID), zap.Error(err))
	}
	w.Header().Set("Location", "/api/monitors/"+created.ShiftID)
	respondWithJSON(w, http.StatusCreated, created)
}

// handleCurrentPair reports the quote held for the most recent shift request.
func (s *Server) handleCurrentPair(w http.ResponseWriter, r *http.Request) {
	if s.pairs == nil {
		respondWithError(w, http.StatusNotFound, "pair quotes are not enabled")
		return
	}
	respondWithJSON(w, http.StatusOK, s.pairs.Current())
}

// statusFor maps input problems to 400 and backend failures to 502.
func statusFor(err error) int {
	cErr, ok := clierr.As(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch cErr.Code {
	case clierr.CodeUsage,
		clierr.CodeValidation,
		clierr.CodeWalletNotConnected,
		clierr.CodeInvalidAmount,
		clierr.CodeMissingSourceNetwork,
		clierr.CodeMissingDestNetwork,
		clierr.CodeAmountBelowMinimum,
		clierr.CodeInsufficientBalanceForGas,
		clierr.CodeNetworkMismatch,
		clierr.CodeNoBalance,
		clierr.CodeUnsupported:
		return http.StatusBadRequest
	case clierr.CodeNetwork, clierr.CodeServer, clierr.CodeNotFound, clierr.CodeRateLimited:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}
