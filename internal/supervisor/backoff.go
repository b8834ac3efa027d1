package supervisor

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// BackoffConfig holds the configuration for exponential backoff.
type BackoffConfig struct {
	Initial    time.Duration // Initial backoff delay (default: 1s)
	Max        time.Duration // Maximum backoff delay (default: 30s)
	Multiplier float64       // Multiplier for each attempt (default: 1.7)
	JitterPct  float64       // Jitter as a percentage of delay (default: 0.4 = ±20%)
}

// DefaultBackoffConfig returns sensible defaults for launch backoff.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Initial:    time.Second,
		Max:        30 * time.Second,
		Multiplier: 1.7,
		JitterPct:  0.4, // ±20% jitter
	}
}

// Backoff calculates exponential backoff delays with jitter.
type Backoff struct {
	config   BackoffConfig
	attempts int
	rng      *rand.Rand
}

// NewBackoff creates a new Backoff calculator. The seed makes jitter
// reproducible.
func NewBackoff(seed int64, cfg BackoffConfig) *Backoff {
	return &Backoff{
		config: cfg,
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// Next returns the next backoff delay and increments the attempt counter.
func (b *Backoff) Next() time.Duration {
	delay := b.Calculate()
	b.attempts++
	return delay
}

// Calculate returns the current backoff delay without incrementing attempts.
func (b *Backoff) Calculate() time.Duration {
	// initial * multiplier^attempts
	delay := float64(b.config.Initial) * math.Pow(b.config.Multiplier, float64(b.attempts))

	if delay > float64(b.config.Max) {
		delay = float64(b.config.Max)
	}

	// JitterPct=0.4 means ±20%
	if b.config.JitterPct > 0 {
		jitterRange := delay * b.config.JitterPct
		jitter := jitterRange*b.rng.Float64() - jitterRange/2
		delay += jitter
	}

	if delay < 0 {
		delay = 0
	}

	return time.Duration(delay)
}

// Reset resets the attempt counter to zero.
func (b *Backoff) Reset() {
	b.attempts = 0
}

// Attempts returns the current attempt count.
func (b *Backoff) Attempts() int {
	return b.attempts
}

// launchGate holds off new launches after a LaunchError until the backoff
// delay has passed, so a broken worker script is not respawned in a tight
// loop across reconcile ticks.
type launchGate struct {
	mu      sync.Mutex
	backoff *Backoff
	until   time.Time
	now     func() time.Time
}

func newLaunchGate(b *Backoff) *launchGate {
	return &launchGate{backoff: b, now: time.Now}
}

// Allow reports whether a launch batch may start, and if not, how long
// remains before it may.
func (g *launchGate) Allow() (time.Duration, bool) {
	if g == nil {
		return 0, true
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if remaining := g.until.Sub(g.now()); remaining > 0 {
		return remaining, false
	}
	return 0, true
}

// Failure records a failed launch and returns the hold-off delay.
func (g *launchGate) Failure() time.Duration {
	if g == nil {
		return 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	delay := g.backoff.Next()
	g.until = g.now().Add(delay)
	return delay
}

// Success clears the hold-off after a successful launch.
func (g *launchGate) Success() {
	if g == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	g.backoff.Reset()
	g.until = time.Time{}
}
