package supervisor

import (
	"context"
	"math/rand"
	"time"
)

// RampScheduler paces scale-up launches so a large directive does not
// spawn every worker at once. Each launch index gets its own jitter,
// derived from the seed, so a run's pacing is reproducible.
type RampScheduler struct {
	rate      int // launches per second
	maxJitter time.Duration
	seed      int64
}

// NewRampScheduler creates a scheduler seeded from the clock.
func NewRampScheduler(rate int, maxJitter time.Duration) *RampScheduler {
	return NewRampSchedulerWithSeed(rate, maxJitter, time.Now().UnixNano())
}

// NewRampSchedulerWithSeed creates a scheduler with a fixed jitter seed.
func NewRampSchedulerWithSeed(rate int, maxJitter time.Duration, seed int64) *RampScheduler {
	return &RampScheduler{rate: rate, maxJitter: maxJitter, seed: seed}
}

// launchJitter is in [0, maxJitter) and depends only on seed and n.
func (r *RampScheduler) launchJitter(n int) time.Duration {
	if r.maxJitter <= 0 {
		return 0
	}
	rng := rand.New(rand.NewSource(int64(n) ^ r.seed))
	return time.Duration(rng.Int63n(int64(r.maxJitter)))
}

// Delay returns the wait before launch n of a batch.
func (r *RampScheduler) Delay(n int) time.Duration {
	var spacing time.Duration
	if r.rate > 0 {
		spacing = time.Second / time.Duration(r.rate)
	}
	return spacing + r.launchJitter(n)
}

// Schedule blocks for Delay(n) or until ctx is done.
func (r *RampScheduler) Schedule(ctx context.Context, n int) error {
	delay := r.Delay(n)
	if delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// EstimatedRampDuration approximates how long n paced launches take.
func (r *RampScheduler) EstimatedRampDuration(n int) time.Duration {
	if r.rate <= 0 {
		return 0
	}
	return time.Duration(n)*time.Second/time.Duration(r.rate) + r.maxJitter/2
}

func (r *RampScheduler) Rate() int {
	return r.rate
}

func (r *RampScheduler) MaxJitter() time.Duration {
	return r.maxJitter
}
