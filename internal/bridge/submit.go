package bridge

import (
	"context"
	"strings"
	"sync"

	clierr "github.com/ggonzalez94/sideshift-bridge/internal/errors"
	"github.com/ggonzalez94/sideshift-bridge/internal/sideshift"
	"go.uber.org/zap"
)

// ShiftCreator is the create endpoint of the backend.
type ShiftCreator interface {
	CreateShift(ctx context.Context, req sideshift.ShiftRequest) (sideshift.ShiftResponse, error)
}

// ShiftCreated is emitted once per successful submission.
type ShiftCreated struct {
	ShiftID        string `json:"shift_id"`
	UserAddress    string `json:"user_address"`
	DepositAddress string `json:"deposit_address"`
	DepositCoin    string `json:"deposit_coin"`
	DepositNetwork string `json:"deposit_network"`
	Amount         string `json:"amount"`
	DestCoin       string `json:"dest_coin"`
	DestNetwork    string `json:"dest_network"`
	ExpiresAt      string `json:"expires_at,omitempty"`
}

type Sink func(ShiftCreated)

type Submitter struct {
	api    ShiftCreator
	logger *zap.Logger

	mu    sync.RWMutex
	sinks []Sink
}

func NewSubmitter(api ShiftCreator, logger *zap.Logger) *Submitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Submitter{api: api, logger: logger}
}

// OnCreated registers a consumer of creation events.
func (s *Submitter) OnCreated(sink Sink) {
	if sink == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sinks = append(s.sinks, sink)
}

// Submit validates form and creates the shift. Nothing is emitted on
// failure and form is never modified, so it can be submitted again.
func (s *Submitter) Submit(ctx context.Context, form Form, pair *sideshift.PairInfo) (ShiftCreated, sideshift.ShiftResponse, error) {
	if err := Validate(form, pair); err != nil {
		return ShiftCreated{}, sideshift.ShiftResponse{}, err
	}
	req := form.request()
	resp, err := s.api.CreateShift(ctx, req)
	if err != nil {
		s.logger.Warn("create shift failed",
			zap.String("source_coin", req.SourceCoin),
			zap.String("dest_coin", req.DestCoin),
			zap.String("message", clierr.UserMessage(err)))
		return ShiftCreated{}, sideshift.ShiftResponse{}, err
	}
	if strings.TrimSpace(resp.Shift.ID) == "" {
		return ShiftCreated{}, sideshift.ShiftResponse{}, clierr.New(clierr.CodeServer, "backend returned a shift without an id")
	}

	event := ShiftCreated{
		ShiftID:        resp.Shift.ID,
		UserAddress:    req.UserAddress,
		DepositAddress: resp.Sideshift.DepositAddress,
		DepositCoin:    resp.Sideshift.DepositCoin,
		DepositNetwork: resp.Sideshift.DepositNetwork,
		Amount:         req.SourceAmount,
		DestCoin:       req.DestCoin,
		DestNetwork:    req.DestNetwork,
		ExpiresAt:      resp.Sideshift.ExpiresAt,
	}
	s.logger.Info("shift created", zap.String("shift_id", event.ShiftID), zap.String("deposit_network", event.DepositNetwork))

	s.mu.RLock()
	sinks := append([]Sink(nil), s.sinks...)
	s.mu.RUnlock()
	for _, sink := range sinks {
		sink(event)
	}
	return event, resp, nil
}
