package worker

import (
	"math"
	"math/rand/v2"
	"time"

	"pharmsync/internal/config"
)

// RetryPolicy spaces out re-imports of a record whose read or store failed.
// Delays grow from InitialDelay by BackoffFactor and stop at MaxDelay. Each
// delay is then shortened by a random share of up to Jitter.
type RetryPolicy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	Jitter        float64

	random func() float64
}

// NewRetryPolicy builds the policy from the queue section of the config.
func NewRetryPolicy(cfg config.QueueConfig) RetryPolicy {
	return RetryPolicy{
		MaxRetries:    cfg.MaxRetries,
		InitialDelay:  time.Duration(cfg.InitialDelaySeconds) * time.Second,
		MaxDelay:      time.Duration(cfg.MaxDelaySeconds) * time.Second,
		BackoffFactor: cfg.BackoffFactor,
		Jitter:        cfg.RetryJitter,
	}
}

// Exhausted reports whether the attempt-th failure of a task is its last.
func (r RetryPolicy) Exhausted(attempt int) bool {
	return r.MaxRetries > 0 && attempt >= r.MaxRetries
}

// NextDelay returns the wait before retry number attempt (1-based).
func (r RetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	initial := r.InitialDelay
	if initial <= 0 {
		initial = time.Second
	}
	factor := r.BackoffFactor
	if factor <= 0 {
		factor = 2
	}

	d := time.Duration(float64(initial) * math.Pow(factor, float64(attempt-1)))
	if r.MaxDelay > 0 && d > r.MaxDelay {
		d = r.MaxDelay
	}
	if jitter := math.Min(math.Max(r.Jitter, 0), 1); jitter > 0 {
		random := r.random
		if random == nil {
			random = rand.Float64
		}
		d -= time.Duration(float64(d) * jitter * random())
	}
	if d <= 0 {
		d = time.Second
	}
	return d
}
