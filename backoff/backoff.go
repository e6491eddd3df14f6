// Package backoff provides delay strategies shared by the runner (delay
// before a failed attempt becomes claimable again), the queue engines
// (message redelivery) and the stream client (reconnect pacing).
// All strategies are stateless and safe for concurrent use.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before attempt n (1-indexed).
type Strategy interface {
	Delay(attempt int) time.Duration
}

// Func adapts a plain function to Strategy.
type Func func(attempt int) time.Duration

// Delay calls f.
func (f Func) Delay(attempt int) time.Duration { return f(attempt) }

// None retries without waiting. Cron-driven pipelines rely on the sweep
// interval for pacing, so this is the runner's default.
var None Strategy = Func(func(int) time.Duration { return 0 })

// Constant always returns the same delay regardless of attempt number.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a constant backoff strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

// Delay returns the fixed interval.
func (c *Constant) Delay(_ int) time.Duration {
	return c.Interval
}

// Linear grows by Initial per attempt: min(Initial * attempt, Max).
type Linear struct {
	Initial time.Duration
	Max     time.Duration
}

// NewLinear creates a linear backoff strategy.
func NewLinear(initial, maxDelay time.Duration) *Linear {
	return &Linear{Initial: initial, Max: maxDelay}
}

// Delay returns Initial * attempt, capped at Max.
func (l *Linear) Delay(attempt int) time.Duration {
	n := time.Duration(clampAttempt(attempt))
	if l.Initial > 0 && n > maxDuration/l.Initial {
		return capped(math.Inf(1), l.Max)
	}
	d := l.Initial * n
	if l.Max > 0 && d > l.Max {
		return l.Max
	}
	return d
}

// Exponential doubles the delay each attempt: min(Initial * 2^(attempt-1), Max).
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponential creates an exponential backoff strategy.
func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay}
}

// Delay returns Initial * 2^(attempt-1), capped at Max.
func (e *Exponential) Delay(attempt int) time.Duration {
	return capped(exponent(e.Initial, attempt), e.Max)
}

// ExponentialWithJitter draws uniformly from [0, Exponential delay] so that
// many workers failing together do not retry in lockstep.
type ExponentialWithJitter struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponentialWithJitter creates an exponential backoff with full jitter.
func NewExponentialWithJitter(initial, maxDelay time.Duration) *ExponentialWithJitter {
	return &ExponentialWithJitter{Initial: initial, Max: maxDelay}
}

// Delay returns a random duration in [0, min(Initial * 2^(attempt-1), Max)).
func (e *ExponentialWithJitter) Delay(attempt int) time.Duration {
	base := capped(exponent(e.Initial, attempt), e.Max)
	if base <= 0 {
		return 0
	}
	return rand.N(base) //nolint:gosec // jitter intentionally uses non-crypto rand
}

// Redelivery is the queue engines' default delay before a failed message
// becomes visible again.
func Redelivery() Strategy {
	return NewExponentialWithJitter(time.Second, time.Minute)
}

// Reconnect is the stream client's default: 1s doubling up to 30s.
func Reconnect() Strategy {
	return NewExponential(time.Second, 30*time.Second)
}

const maxDuration = time.Duration(math.MaxInt64)

func exponent(initial time.Duration, attempt int) float64 {
	return float64(initial) * math.Pow(2, float64(clampAttempt(attempt)-1))
}

// capped converts d to a Duration no larger than maxDelay, or than the
// largest representable Duration when maxDelay is zero.
func capped(d float64, maxDelay time.Duration) time.Duration {
	if maxDelay > 0 && d > float64(maxDelay) {
		return maxDelay
	}
	if math.IsNaN(d) || d >= float64(maxDuration) {
		return maxDuration
	}
	return time.Duration(d)
}

func clampAttempt(attempt int) int {
	if attempt < 1 {
		return 1
	}
	return attempt
}
