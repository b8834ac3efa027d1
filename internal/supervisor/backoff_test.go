package supervisor

import (
	"testing"
	"time"
)

func TestBackoff_Calculate_NoJitter(t *testing.T) {
	b := NewBackoff(1, BackoffConfig{
		Initial:    100 * time.Millisecond,
		Max:        time.Second,
		Multiplier: 2,
	})

	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		time.Second, // capped
		time.Second,
	}
	for i, w := range want {
		if got := b.Next(); got != w {
			t.Errorf("Next() #%d = %v, want %v", i, got, w)
		}
	}
	if b.Attempts() != len(want) {
		t.Errorf("Attempts() = %d, want %d", b.Attempts(), len(want))
	}

	b.Reset()
	if b.Attempts() != 0 || b.Calculate() != 100*time.Millisecond {
		t.Errorf("after Reset() attempts = %d, delay = %v", b.Attempts(), b.Calculate())
	}
}

func TestBackoff_JitterBounds(t *testing.T) {
	cfg := DefaultBackoffConfig()
	b := NewBackoff(42, cfg)

	// JitterPct 0.4 keeps each delay within ±20% of the base.
	lo := time.Duration(float64(cfg.Initial) * 0.8)
	hi := time.Duration(float64(cfg.Initial) * 1.2)
	for i := 0; i < 100; i++ {
		if d := b.Calculate(); d < lo || d > hi {
			t.Fatalf("Calculate() = %v, want within [%v, %v]", d, lo, hi)
		}
	}
}

func TestBackoff_Deterministic(t *testing.T) {
	a := NewBackoff(7, DefaultBackoffConfig())
	b := NewBackoff(7, DefaultBackoffConfig())
	for i := 0; i < 5; i++ {
		if x, y := a.Next(), b.Next(); x != y {
			t.Errorf("Next() #%d differs for equal seeds: %v vs %v", i, x, y)
		}
	}
}

// =============================================================================
// Tests: launchGate
// =============================================================================

func TestLaunchGate(t *testing.T) {
	now := time.Unix(1000, 0)
	g := newLaunchGate(NewBackoff(1, BackoffConfig{
		Initial:    time.Second,
		Max:        10 * time.Second,
		Multiplier: 2,
	}))
	g.now = func() time.Time { return now }

	if _, ok := g.Allow(); !ok {
		t.Fatal("Allow() = false before any failure")
	}

	if d := g.Failure(); d != time.Second {
		t.Errorf("first Failure() = %v, want 1s", d)
	}
	if wait, ok := g.Allow(); ok || wait != time.Second {
		t.Errorf("Allow() = %v, %v; want 1s, false", wait, ok)
	}

	now = now.Add(time.Second)
	if _, ok := g.Allow(); !ok {
		t.Error("Allow() = false after the delay elapsed")
	}

	if d := g.Failure(); d != 2*time.Second {
		t.Errorf("second Failure() = %v, want 2s", d)
	}

	g.Success()
	if _, ok := g.Allow(); !ok {
		t.Error("Allow() = false after Success()")
	}
	if d := g.Failure(); d != time.Second {
		t.Errorf("Failure() after Success() = %v, want 1s", d)
	}
}

func TestLaunchGate_Nil(t *testing.T) {
	var g *launchGate
	if _, ok := g.Allow(); !ok {
		t.Error("nil gate should always allow")
	}
	if d := g.Failure(); d != 0 {
		t.Errorf("nil gate Failure() = %v, want 0", d)
	}
	g.Success()
}
