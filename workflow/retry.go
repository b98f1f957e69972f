package workflow

import (
	"math"
	"math/rand"
	"time"

	"github.com/BaSui01/sagaflow/config"
)

// RetryPolicy controls per-step retry behavior: exponential backoff
// with optional ±25% jitter and a hard attempt cap.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts including the first.
	MaxAttempts int
	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration
	// MaxDelay caps the computed delay.
	MaxDelay time.Duration
	// Multiplier is the exponential growth factor.
	Multiplier float64
	// Jitter adds random jitter to spread retry storms.
	Jitter bool
}

// DefaultRetryPolicy returns the default policy: 3 attempts, 1s base
// delay doubling up to 30s, jittered.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// RetryPolicyFromConfig builds a policy from configuration, filling
// invalid values with defaults.
func RetryPolicyFromConfig(cfg config.RetryConfig) RetryPolicy {
	p := RetryPolicy{
		MaxAttempts:  cfg.MaxAttempts,
		InitialDelay: cfg.InitialDelay,
		MaxDelay:     cfg.MaxDelay,
		Multiplier:   cfg.Multiplier,
		Jitter:       cfg.Jitter,
	}
	return p.normalized()
}

// normalized clamps out-of-range fields to usable values.
func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = 1 * time.Second
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	if p.Multiplier < 1.0 {
		p.Multiplier = 2.0
	}
	return p
}

// Exhausted reports whether no further attempt may be dispatched after
// the given number of completed attempts.
func (p RetryPolicy) Exhausted(attempts int) bool {
	return attempts >= p.MaxAttempts
}

// Delay computes the backoff before retry attempt n (n is the attempt
// number about to run, 2-based: the first retry is attempt 2).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}

	delay := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-2))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}

	// ±25% jitter spreads concurrent retries to avoid a stampede.
	if p.Jitter {
		jitter := delay * 0.25
		delay = delay + (rand.Float64()*2-1)*jitter
	}

	if delay < float64(p.InitialDelay) {
		delay = float64(p.InitialDelay)
	}
	return time.Duration(delay)
}
