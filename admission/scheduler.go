// Package admission implements the memory-budgeted admission scheduler:
// given a declared memory footprint and a snapshot of in-use MB, decide
// whether a request can run now, should wait in a FIFO deferred queue, or
// must be rejected outright.
package admission

import (
	"sync"
	"sync/atomic"
	"time"
)

// Decision is the closed set of outcomes the scheduler returns.
type Decision string

const (
	Accept Decision = "Accept"
	Defer  Decision = "Defer"
	Reject Decision = "Reject"
)

// Thresholds are MB integers: max is the hard ceiling past which a
// request is rejected outright; defer is the softer ceiling past which
// requests queue instead of running immediately; accept documents the
// comfortable operating level used by callers deciding when to resume
// eagerly accepting (the scheduler itself only compares against max/defer).
type Thresholds struct {
	Max    int64
	Defer  int64
	Accept int64
}

// Result carries the decision plus the numbers that produced it, per the
// data model's "numeric reason (current/required/available MB)".
type Result struct {
	Decision    Decision
	CurrentMB   int64
	RequiredMB  int64
	AvailableMB int64
}

// Scheduler tracks used memory and a deferred-request queue under a single
// mutex; used/active counters are also exposed as atomics for metrics
// readers that don't want to take the lock, as graph/scheduler.go's
// stepExecutor keeps its activity counters in atomics.
type Scheduler struct {
	mu sync.Mutex

	thresholds  Thresholds
	used        int64
	deferredCap int
	maxRetries  int

	deferred []*DeferredRequest
	expired  []*DeferredRequest

	activeCount atomic.Int64
	usedGauge   atomic.Int64
}

// Config parameterizes a Scheduler.
type Config struct {
	Thresholds  Thresholds
	DeferredCap int // 0 means unbounded
	MaxRetries  int // retries allowed before a deferred request expires
}

func NewScheduler(cfg Config) *Scheduler {
	return &Scheduler{
		thresholds:  cfg.Thresholds,
		deferredCap: cfg.DeferredCap,
		maxRetries:  cfg.MaxRetries,
	}
}

// Decide applies the admission decision function against the current used
// total: projected = used + required; projected > Max => Reject; projected
// > Defer => Defer; else Accept. Accept atomically increments used.
func (s *Scheduler) Decide(requiredMB int64) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	projected := s.used + requiredMB
	res := Result{RequiredMB: requiredMB, CurrentMB: s.used, AvailableMB: s.thresholds.Max - s.used}

	switch {
	case projected > s.thresholds.Max:
		res.Decision = Reject
	case projected > s.thresholds.Defer:
		res.Decision = Defer
	default:
		res.Decision = Accept
		s.used = projected
		s.usedGauge.Store(s.used)
		s.activeCount.Add(1)
	}
	return res
}

// Release gives back requiredMB of budget, decrementing used with
// saturating subtraction so a double-release or overcounted release can
// never drive used negative.
func (s *Scheduler) Release(requiredMB int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.used -= requiredMB
	if s.used < 0 {
		s.used = 0
	}
	s.usedGauge.Store(s.used)
	if n := s.activeCount.Add(-1); n < 0 {
		s.activeCount.Store(0)
	}
}

// UsedMB and ActiveCount expose the atomic gauges for metrics readers.
func (s *Scheduler) UsedMB() int64      { return s.usedGauge.Load() }
func (s *Scheduler) ActiveCount() int64 { return s.activeCount.Load() }

// Defer enqueues req iff the deferred queue has room; a full queue is a
// terminal rejection (the spec's ConcurrencyLimit case), not a silent drop.
func (s *Scheduler) Defer(req *DeferredRequest, now time.Time) (Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.deferredCap > 0 && len(s.deferred) >= s.deferredCap {
		return Result{Decision: Reject, RequiredMB: req.RequiredMB}, false
	}
	req.EnqueuedAt = now
	s.deferred = append(s.deferred, req)
	return Result{Decision: Defer, RequiredMB: req.RequiredMB}, true
}
