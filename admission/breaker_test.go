package admission

import (
	"testing"
	"time"
)

func TestStabilityGuard_BlocksWithinCooldown(t *testing.T) {
	g := NewStabilityGuard(time.Minute, 100)
	t0 := time.Unix(0, 0)

	if !g.AllowSwitch(t0, 1000) {
		t.Fatal("expected first switch to be allowed")
	}
	if g.AllowSwitch(t0.Add(time.Second), 2000) {
		t.Fatal("expected switch within cooldown window to be blocked")
	}
}

func TestStabilityGuard_BlocksBelowHysteresis(t *testing.T) {
	g := NewStabilityGuard(0, 500)
	t0 := time.Unix(0, 0)

	g.AllowSwitch(t0, 1000)
	if g.AllowSwitch(t0.Add(time.Hour), 1100) {
		t.Fatal("expected switch blocked: memory delta 100 <= hysteresis 500")
	}
	if !g.AllowSwitch(t0.Add(time.Hour), 2000) {
		t.Fatal("expected switch allowed: memory delta 1000 > hysteresis 500")
	}
}

func TestRejectionBreaker_OpensAfterConsecutiveRejects(t *testing.T) {
	b := NewRejectionBreaker("test", 3, time.Minute)

	for i := 0; i < 2; i++ {
		_ = b.Observe(Reject)
	}
	if b.Open() {
		t.Fatal("breaker should not be open before threshold")
	}
	_ = b.Observe(Reject)
	if !b.Open() {
		t.Fatal("expected breaker open after 3 consecutive rejects")
	}
}

func TestRejectionBreaker_AcceptResetsStreak(t *testing.T) {
	b := NewRejectionBreaker("test2", 3, time.Minute)
	_ = b.Observe(Reject)
	_ = b.Observe(Reject)
	_ = b.Observe(Accept)
	_ = b.Observe(Reject)
	_ = b.Observe(Reject)
	if b.Open() {
		t.Fatal("an Accept should reset the consecutive-reject streak")
	}
}
