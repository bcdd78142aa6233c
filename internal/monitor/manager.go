package monitor

import (
	"context"
	"sort"
	"strings"
	"sync"

	clierr "github.com/ggonzalez94/sideshift-bridge/internal/errors"
)

// Manager runs one Monitor per shift id. Monitors share nothing but the
// status source and options, so distinct shifts poll independently.
type Manager struct {
	source StatusSource
	opts   Options

	mu       sync.Mutex
	monitors map[string]*Monitor
	closed   bool
}

func NewManager(source StatusSource, opts Options) *Manager {
	return &Manager{source: source, opts: opts, monitors: map[string]*Monitor{}}
}

// Start begins monitoring shiftID under ctx. Starting an id that already has
// a monitor returns the existing one; if that monitor had failed it polls
// again under ctx.
func (m *Manager) Start(ctx context.Context, shiftID string) (*Monitor, error) {
	shiftID = strings.TrimSpace(shiftID)
	if shiftID == "" {
		return nil, clierr.New(clierr.CodeUsage, "shift id is required")
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, clierr.New(clierr.CodeInternal, "monitor manager is closed")
	}
	if mon, ok := m.monitors[shiftID]; ok {
		m.mu.Unlock()
		if mon.Snapshot().State == StateFailed {
			mon.Watch(ctx, shiftID)
		}
		return mon, nil
	}
	mon := New(m.source, m.opts)
	m.monitors[shiftID] = mon
	m.mu.Unlock()

	mon.Watch(ctx, shiftID)
	return mon, nil
}

func (m *Manager) Get(shiftID string) (*Monitor, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mon, ok := m.monitors[strings.TrimSpace(shiftID)]
	return mon, ok
}

// Stop cancels and forgets the monitor for shiftID.
func (m *Manager) Stop(shiftID string) bool {
	m.mu.Lock()
	mon, ok := m.monitors[strings.TrimSpace(shiftID)]
	if ok {
		delete(m.monitors, strings.TrimSpace(shiftID))
	}
	m.mu.Unlock()
	if ok {
		mon.Stop()
	}
	return ok
}

// List returns snapshots ordered by shift id.
func (m *Manager) List() []Snapshot {
	m.mu.Lock()
	mons := make([]*Monitor, 0, len(m.monitors))
	for _, mon := range m.monitors {
		mons = append(mons, mon)
	}
	m.mu.Unlock()

	out := make([]Snapshot, 0, len(mons))
	for _, mon := range mons {
		out = append(out, mon.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ShiftID < out[j].ShiftID })
	return out
}

func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	mons := m.monitors
	m.monitors = map[string]*Monitor{}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, mon := range mons {
		wg.Add(1)
		go func(mon *Monitor) {
			defer wg.Done()
			mon.Stop()
		}(mon)
	}
	wg.Wait()
}
