package monitor

import (
	"context"
	"strings"
	"sync"
	"time"

	clierr "github.com/ggonzalez94/sideshift-bridge/internal/errors"
	"github.com/ggonzalez94/sideshift-bridge/internal/sideshift"
	"go.uber.org/zap"
)

type State string

const (
	StateIdle     State = "idle"
	StatePolling  State = "polling"
	StateTerminal State = "terminal"
	StateFailed   State = "failed"
)

const (
	DefaultInterval       = 5 * time.Second
	DefaultMaxRetries     = 3
	DefaultRetryBaseDelay = time.Second
	DefaultRetryMaxDelay  = 30 * time.Second

	subscriberBuffer = 16
)

// StatusSource is the status endpoint of the backend.
type StatusSource interface {
	ShiftStatus(ctx context.Context, shiftID string) (sideshift.ShiftStatusResponse, error)
}

type Options struct {
	// Interval is the delay between a completed poll and the next one.
	Interval time.Duration
	// MaxRetries is the number of retries after consecutive poll errors
	// before the monitor gives up and moves to StateFailed.
	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	Logger   *zap.Logger
	Metrics  *Metrics
	OnUpdate func(Snapshot)
}

func DefaultOptions() Options {
	return Options{
		Interval:       DefaultInterval,
		MaxRetries:     DefaultMaxRetries,
		RetryBaseDelay: DefaultRetryBaseDelay,
		RetryMaxDelay:  DefaultRetryMaxDelay,
	}
}

func (o Options) normalized() Options {
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.RetryBaseDelay <= 0 {
		o.RetryBaseDelay = DefaultRetryBaseDelay
	}
	if o.RetryMaxDelay <= 0 {
		o.RetryMaxDelay = DefaultRetryMaxDelay
	}
	if o.RetryMaxDelay < o.RetryBaseDelay {
		o.RetryMaxDelay = o.RetryBaseDelay
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Snapshot is the monitor state visible to consumers.
type Snapshot struct {
	ShiftID   string                         `json:"shift_id"`
	State     State                          `json:"state"`
	Status    sideshift.Status               `json:"status,omitempty"`
	Payload   *sideshift.ShiftStatusResponse `json:"payload,omitempty"`
	Err       string                         `json:"error,omitempty"`
	Failures  int                            `json:"failures"`
	Polls     int                            `json:"polls"`
	UpdatedAt time.Time                      `json:"updated_at"`
}

// Monitor tracks one shift at a time. Each Watch starts a single task that
// polls until a terminal status, exhaustion of retries, or cancellation.
// Results are applied only while the task's generation is current.
type Monitor struct {
	source StatusSource
	opts   Options

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
	done   chan struct{}
	snap   Snapshot
	subs   map[int]chan Snapshot
	nextID int
}

func New(source StatusSource, opts Options) *Monitor {
	closed := make(chan struct{})
	close(closed)
	return &Monitor{
		source: source,
		opts:   opts.normalized(),
		done:   closed,
		snap:   Snapshot{State: StateIdle, UpdatedAt: time.Now().UTC()},
		subs:   map[int]chan Snapshot{},
	}
}

// Watch switches the monitor to shiftID. Any running task is cancelled and
// its in-flight result will be dropped. An empty id leaves the monitor idle.
// ctx bounds the lifetime of the new task.
func (m *Monitor) Watch(ctx context.Context, shiftID string) {
	shiftID = strings.TrimSpace(shiftID)

	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	prevDone := m.done
	m.gen++
	gen := m.gen

	if shiftID == "" {
		m.setStateLocked(Snapshot{State: StateIdle})
		update := m.publishLocked()
		m.mu.Unlock()
		m.notify(update)
		return
	}

	taskCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done
	m.setStateLocked(Snapshot{ShiftID: shiftID, State: StatePolling})
	update := m.publishLocked()
	m.mu.Unlock()
	m.notify(update)

	m.opts.Metrics.taskStarted()
	go func() {
		defer close(done)
		defer m.opts.Metrics.taskStopped()
		// The previous task may still be inside a request; wait so that at
		// most one request is outstanding.
		<-prevDone
		if taskCtx.Err() != nil {
			return
		}
		m.run(taskCtx, gen, shiftID)
	}()
}

// Stop cancels the running task and waits for it to exit. A monitor that was
// still polling returns to idle; terminal and failed results are kept.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.gen++
	done := m.done
	var update *Snapshot
	if m.snap.State == StatePolling {
		next := m.snap
		next.State = StateIdle
		m.setStateLocked(next)
		update = m.publishLocked()
	}
	m.mu.Unlock()
	m.notify(update)
	<-done
}

func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneSnapshot(m.snap)
}

// Done is closed when the current task exits.
func (m *Monitor) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done
}

// Subscribe delivers every applied snapshot in order. When the reader falls
// behind, the oldest buffered snapshot is dropped. The returned func
// unsubscribes and closes the channel.
func (m *Monitor) Subscribe() (<-chan Snapshot, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	ch := make(chan Snapshot, subscriberBuffer)
	m.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			delete(m.subs, id)
			close(ch)
		})
	}
}

func (m *Monitor) run(ctx context.Context, gen uint64, shiftID string) {
	logger := m.opts.Logger.With(zap.String("shift_id", shiftID))
	failures := 0
	for {
		started := time.Now()
		resp, err := m.source.ShiftStatus(ctx, shiftID)
		took := time.Since(started)

		m.mu.Lock()
		if gen != m.gen || ctx.Err() != nil {
			m.mu.Unlock()
			m.opts.Metrics.observePoll("discarded", took)
			logger.Debug("dropping result of cancelled poll")
			return
		}

		next := m.snap
		next.Polls++
		var wait time.Duration
		if err != nil {
			m.opts.Metrics.observePoll("error", took)
			failures++
			next.Failures = failures
			next.Err = clierr.UserMessage(err)
			if failures > m.opts.MaxRetries {
				next.State = StateFailed
				m.setStateLocked(next)
				update := m.publishLocked()
				m.mu.Unlock()
				m.notify(update)
				logger.Warn("shift monitor gave up", zap.Int("failures", failures), zap.Error(err))
				return
			}
			wait = m.backoff(failures)
			logger.Info("shift status poll failed, retrying", zap.Int("failures", failures), zap.Duration("retry_in", wait), zap.Error(err))
		} else {
			m.opts.Metrics.observePoll("ok", took)
			failures = 0
			payload := resp
			next.Status = sideshift.ParseStatus(string(resp.Shift.Status))
			next.Payload = &payload
			next.Err = ""
			next.Failures = 0
			if next.Status.IsTerminal() {
				next.State = StateTerminal
				m.setStateLocked(next)
				update := m.publishLocked()
				m.mu.Unlock()
				m.notify(update)
				logger.Info("shift reached terminal status", zap.String("status", next.Status.String()))
				return
			}
			wait = m.opts.Interval
		}
		m.setStateLocked(next)
		update := m.publishLocked()
		m.mu.Unlock()
		m.notify(update)

		if !sleep(ctx, wait) {
			return
		}
		m.mu.Lock()
		current := gen == m.gen
		m.mu.Unlock()
		if !current {
			return
		}
	}
}

func (m *Monitor) backoff(failures int) time.Duration {
	delay := m.opts.RetryBaseDelay
	for i := 1; i < failures; i++ {
		delay *= 2
		if delay >= m.opts.RetryMaxDelay {
			return m.opts.RetryMaxDelay
		}
	}
	return delay
}

func (m *Monitor) setStateLocked(next Snapshot) {
	if next.State != m.snap.State {
		m.opts.Metrics.transition(next.State)
	}
	next.UpdatedAt = time.Now().UTC()
	m.snap = next
}

// publishLocked fans the current snapshot out to subscribers and returns a
// copy for the update hook, which runs without the lock held.
func (m *Monitor) publishLocked() *Snapshot {
	snap := cloneSnapshot(m.snap)
	for _, ch := range m.subs {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
	return &snap
}

func (m *Monitor) notify(update *Snapshot) {
	if update == nil || m.opts.OnUpdate == nil {
		return
	}
	m.opts.OnUpdate(*update)
}

func cloneSnapshot(s Snapshot) Snapshot {
	if s.Payload != nil {
		payload := *s.Payload
		s.Payload = &payload
	}
	return s
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
