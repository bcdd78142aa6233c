package assets

import (
	"context"
	"strings"
	"sync"

	clierr "github.com/ggonzalez94/sideshift-bridge/internal/errors"
	"github.com/ggonzalez94/sideshift-bridge/internal/sideshift"
	"go.uber.org/zap"
)

// PairSource is the pair endpoint of the backend.
type PairSource interface {
	PairInfo(ctx context.Context, depositCoin, settleCoin, depositNetwork, settleNetwork string) (sideshift.PairInfo, error)
}

// PairKey identifies one quote. Any field change requires a new fetch.
type PairKey struct {
	SourceCoin    string `json:"source_coin"`
	DestCoin      string `json:"dest_coin"`
	SourceNetwork string `json:"source_network,omitempty"`
	DestNetwork   string `json:"dest_network,omitempty"`
}

func (k PairKey) complete() bool {
	return strings.TrimSpace(k.SourceCoin) != "" && strings.TrimSpace(k.DestCoin) != ""
}

// PairState is what the tracker currently holds.
type PairState struct {
	Key     PairKey             `json:"key"`
	Info    *sideshift.PairInfo `json:"info"`
	Loading bool                `json:"loading"`
	Err     string              `json:"error,omitempty"`
}

// PairTracker keeps the quote for the most recently requested key. Results
// are applied by request order: a response for a superseded request is
// dropped even if it arrives last.
type PairTracker struct {
	source PairSource
	logger *zap.Logger

	mu    sync.Mutex
	seq   uint64
	state PairState
}

func NewPairTracker(source PairSource, logger *zap.Logger) *PairTracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PairTracker{source: source, logger: logger}
}

// Request fetches the quote for key and records it as the latest request.
// applied is false when a newer request started before this one finished.
// On failure of the latest request the held info is cleared.
func (t *PairTracker) Request(ctx context.Context, key PairKey) (info sideshift.PairInfo, applied bool, err error) {
	if !key.complete() {
		return sideshift.PairInfo{}, false, nil
	}

	t.mu.Lock()
	t.seq++
	seq := t.seq
	t.state.Key = key
	t.state.Loading = true
	t.mu.Unlock()

	info, err = t.source.PairInfo(ctx, key.SourceCoin, key.DestCoin, key.SourceNetwork, key.DestNetwork)

	t.mu.Lock()
	defer t.mu.Unlock()
	if seq != t.seq {
		t.logger.Debug("discarding superseded pair response",
			zap.String("source_coin", key.SourceCoin),
			zap.String("dest_coin", key.DestCoin),
			zap.Uint64("seq", seq),
			zap.Uint64("latest", t.seq))
		return info, false, err
	}
	t.state.Loading = false
	if err != nil {
		t.state.Info = nil
		t.state.Err = clierr.UserMessage(err)
		t.logger.Warn("pair info fetch failed", zap.String("source_coin", key.SourceCoin), zap.String("dest_coin", key.DestCoin), zap.Error(err))
		return sideshift.PairInfo{}, true, err
	}
	held := info
	t.state.Info = &held
	t.state.Err = ""
	return info, true, nil
}

// Current returns a copy of the held state.
func (t *PairTracker) Current() PairState {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.state
	if out.Info != nil {
		info := *out.Info
		out.Info = &info
	}
	return out
}
