package admission

import (
	"errors"
	"time"

	"github.com/sony/gobreaker"
)

// StabilityGuard implements the spec's profile-switch cooldown/hysteresis
// check: a switch (e.g. precision downgrade under pressure) is allowed
// only when enough time has passed since the last switch AND memory has
// moved enough since the last reading to be a real signal rather than
// noisy telemetry.
type StabilityGuard struct {
	cooldown     time.Duration
	hysteresisMB int64

	lastSwitch time.Time
	lastMemory int64
}

func NewStabilityGuard(cooldown time.Duration, hysteresisMB int64) *StabilityGuard {
	return &StabilityGuard{cooldown: cooldown, hysteresisMB: hysteresisMB}
}

// AllowSwitch reports whether a profile switch may occur now given the
// current memory reading, and records the switch if allowed.
func (g *StabilityGuard) AllowSwitch(now time.Time, currentMemoryMB int64) bool {
	delta := currentMemoryMB - g.lastMemory
	if delta < 0 {
		delta = -delta
	}
	if !g.lastSwitch.IsZero() && now.Sub(g.lastSwitch) <= g.cooldown {
		return false
	}
	if !g.lastSwitch.IsZero() && delta <= g.hysteresisMB {
		return false
	}
	g.lastSwitch = now
	g.lastMemory = currentMemoryMB
	return true
}

// errRejected is the sentinel tripped into gobreaker's failure count each
// time Decide() returns Reject.
var errRejected = errors.New("admission: rejected")

// RejectionBreaker wraps a *gobreaker.CircuitBreaker over the scheduler's
// Reject decisions: enough consecutive rejections within the breaker's
// window opens it, signaling callers to stop retrying admission for a
// cooldown period instead of hammering a process that's already over
// budget. This reuses gobreaker's hysteresis/cooldown machinery rather
// than hand-rolling a second timer next to StabilityGuard's.
type RejectionBreaker struct {
	cb *gobreaker.CircuitBreaker
}

// NewRejectionBreaker opens after consecutiveRejects rejections in a row
// and stays open for cooldown before allowing a single trial request.
func NewRejectionBreaker(name string, consecutiveRejects uint32, cooldown time.Duration) *RejectionBreaker {
	settings := gobreaker.Settings{
		Name:    name,
		Timeout: cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= consecutiveRejects
		},
	}
	return &RejectionBreaker{cb: gobreaker.NewCircuitBreaker(settings)}
}

// Observe records one admission decision against the breaker. It returns
// an error when the breaker is open (callers should back off) even though
// no admission decision was actually attempted.
func (b *RejectionBreaker) Observe(decision Decision) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		if decision == Reject {
			return nil, errRejected
		}
		return nil, nil
	})
	return err
}

// Open reports whether the breaker is currently tripped.
func (b *RejectionBreaker) Open() bool {
	return b.cb.State() == gobreaker.StateOpen
}
