package cron

import (
	"context"
	"sync"
	"time"

	"github.com/agentsubstrate/orchestrator-go/graph"
	cronlib "github.com/robfig/cron/v3"
)

type entry struct {
	mu       sync.Mutex
	def      ScheduleDefinition
	schedule cronlib.Schedule // nil for interval-based schedules
	nextRun  time.Time
	lastRun  time.Time

	consecutiveFailures int
	state                State
	sem                  chan struct{}
	queued               int
}

// Manager registers, fires, and tears down ScheduleDefinitions. It owns no
// goroutines until Start is called; Tick can also be driven directly
// (typically against a FakeClock) for deterministic tests.
type Manager struct {
	mu      sync.RWMutex
	clock   Clock
	invoker AgentInvoker
	entries map[string]*entry

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewManager(clock Clock, invoker AgentInvoker) *Manager {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Manager{clock: clock, invoker: invoker, entries: make(map[string]*entry)}
}

// Handle is returned by Register. Go has no destructors, so unlike the
// conceptual "drop stops the task" in the spec's data model, the actual
// mechanism here is the explicit Cancel call; Handle just scopes it to one
// registration.
type Handle struct {
	id  string
	mgr *Manager
}

func (h *Handle) ID() string    { return h.id }
func (h *Handle) Cancel() error { return h.mgr.Unregister(h.id) }

// Register validates def, rejects a duplicate schedule_id with
// AlreadyExists, and starts tracking it in the Running state.
func (m *Manager) Register(def ScheduleDefinition) (*Handle, error) {
	if err := def.validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.entries[def.ScheduleID]; exists {
		return nil, graph.NewError(graph.CodeAlreadyExists, "schedule "+def.ScheduleID+" already registered", nil)
	}

	now := m.clock.Now()
	var sched cronlib.Schedule
	var next time.Time
	if def.CronExpr != "" {
		parsed, err := cronlib.ParseStandard(def.CronExpr)
		if err != nil {
			return nil, graph.NewError(graph.CodeValidationFailed, "invalid cron_expr", err)
		}
		sched = parsed
		next = parsed.Next(now)
	} else {
		next = now.Add(time.Duration(def.IntervalMS) * time.Millisecond)
	}

	m.entries[def.ScheduleID] = &entry{
		def:      def,
		schedule: sched,
		nextRun:  next,
		state:    StateRunning,
		sem:      make(chan struct{}, def.MaxConcurrent),
	}
	return &Handle{id: def.ScheduleID, mgr: m}, nil
}

// Unregister stops tracking a schedule. Idempotent from the caller's
// perspective only in the sense that a second call correctly reports
// NotFound rather than panicking.
func (m *Manager) Unregister(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return graph.NewError(graph.CodeNotFound, "schedule "+id+" not found", nil)
	}
	e.mu.Lock()
	e.state = StateStopped
	e.mu.Unlock()
	delete(m.entries, id)
	return nil
}

func (m *Manager) Pause(id string) error  { return m.setState(id, StatePaused) }
func (m *Manager) Resume(id string) error { return m.setState(id, StateRunning) }

func (m *Manager) setState(id string, state State) error {
	e, err := m.lookup(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateStopped {
		return graph.NewError(graph.CodeNotFound, "schedule "+id+" not found", nil)
	}
	e.state = state
	return nil
}

func (m *Manager) lookup(id string) (*entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, graph.NewError(graph.CodeNotFound, "schedule "+id+" not found", nil)
	}
	return e, nil
}

// List returns a snapshot of every tracked schedule.
func (m *Manager) List() []ScheduleInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ScheduleInfo, 0, len(m.entries))
	for _, e := range m.entries {
		e.mu.Lock()
		out = append(out, ScheduleInfo{
			ID:                  e.def.ScheduleID,
			AgentID:             e.def.AgentID,
			NextRunMS:           e.nextRun.UnixMilli(),
			LastRunMS:           e.lastRun.UnixMilli(),
			ConsecutiveFailures: e.consecutiveFailures,
			IsPaused:            e.state == StatePaused,
		})
		e.mu.Unlock()
	}
	return out
}

// Tick evaluates every registered schedule against now, dispatching those
// that are due and have a free concurrency slot, and applying each
// entry's MissedTickPolicy to the rest. Call this directly for
// deterministic tests; Start drives it from a background loop in
// production.
func (m *Manager) Tick(ctx context.Context, now time.Time) {
	m.mu.RLock()
	entries := make([]*entry, 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	for _, e := range entries {
		m.evaluate(ctx, e, now)
	}
}

func (m *Manager) evaluate(ctx context.Context, e *entry, now time.Time) {
	e.mu.Lock()
	due := false
	for !e.nextRun.After(now) {
		due = true
		e.advanceLocked()
	}
	if !due {
		e.mu.Unlock()
		return
	}
	if e.state == StatePaused || e.state == StateStopped {
		e.queued = 0 // is_paused overrides all policies: ticks are dropped
		e.mu.Unlock()
		return
	}
	policy := e.def.MissedTickPolicy
	e.mu.Unlock()

	if m.tryAcquire(e) {
		m.dispatch(ctx, e)
		return
	}

	e.mu.Lock()
	switch policy {
	case Burst:
		e.queued++
	case DelaySingle:
		if e.queued < 1 {
			e.queued = 1
		}
	case Skip:
		// drop silently, no queued increment
	}
	e.mu.Unlock()
}

func (e *entry) advanceLocked() {
	if e.schedule != nil {
		e.nextRun = e.schedule.Next(e.nextRun)
		return
	}
	e.nextRun = e.nextRun.Add(time.Duration(e.def.IntervalMS) * time.Millisecond)
}

func (m *Manager) tryAcquire(e *entry) bool {
	select {
	case e.sem <- struct{}{}:
		return true
	default:
		return false
	}
}

// dispatch assumes the caller has already acquired one of e.sem's slots.
// It invokes the agent, then drains any queued catch-up ticks (Burst /
// DelaySingle) serially on the same slot before releasing it.
func (m *Manager) dispatch(ctx context.Context, e *entry) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			err := m.invoker.Invoke(ctx, e.def.AgentID, e.def.InputTemplate)

			e.mu.Lock()
			e.lastRun = m.clock.Now()
			if err != nil {
				e.consecutiveFailures++
			} else {
				e.consecutiveFailures = 0
			}
			more := e.queued > 0
			if more {
				e.queued--
			}
			e.mu.Unlock()

			if !more {
				break
			}
		}
		<-e.sem
	}()
}

// Start launches a background loop polling at resolution against the
// Manager's Clock, calling Tick on each wake-up. The loop runs until ctx
// is cancelled or Stop is called; Stop also waits for in-flight
// invocations to finish.
func (m *Manager) Start(ctx context.Context, resolution time.Duration) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(resolution)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Tick(ctx, m.clock.Now())
			}
		}
	}()
}

// Stop halts the background loop started by Start and waits for in-flight
// invocations to finish.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}
