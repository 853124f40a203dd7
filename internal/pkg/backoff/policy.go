// Package backoff computes retry delays. A Policy is a plain value: copy it,
// share it, never lock it.
package backoff

import (
	"math/rand/v2"
	"time"
)

// Policy describes exponential backoff with optional full jitter.
// Attempt 0 is the first retry; the initial call never waits.
type Policy struct {
	Base       time.Duration
	Max        time.Duration
	MaxRetries int
	Jitter     bool
}

// DefaultAPI is tuned for ordinary chat-completion calls.
func DefaultAPI() Policy {
	return Policy{Base: 100 * time.Millisecond, Max: 30 * time.Second, MaxRetries: 5, Jitter: true}
}

// RateLimit backs off harder for endpoints that throttle aggressively.
func RateLimit() Policy {
	return Policy{Base: time.Second, Max: 60 * time.Second, MaxRetries: 3, Jitter: true}
}

// Ceiling returns min(Base*2^attempt, Max) without jitter.
func (p Policy) Ceiling(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if p.Base <= 0 {
		return 0
	}
	limit := p.Max
	if limit <= 0 {
		limit = p.Base
	}
	if p.Base >= limit {
		return limit
	}
	d := p.Base
	for i := 0; i < attempt; i++ {
		if d > limit/2 {
			return limit
		}
		d *= 2
	}
	if d > limit {
		return limit
	}
	return d
}

// Delay is the wait before retry number attempt. With Jitter it is drawn
// uniformly from [0, Ceiling(attempt)].
func (p Policy) Delay(attempt int) time.Duration {
	d := p.Ceiling(attempt)
	if !p.Jitter || d <= 0 {
		return d
	}
	return time.Duration(rand.Int64N(int64(d) + 1))
}

// CanRetry reports whether another retry is allowed after retriesDone retries.
func (p Policy) CanRetry(retriesDone int) bool {
	return retriesDone < p.MaxRetries
}

// WithFloor raises d to floor. Used for server supplied retry-after hints.
func WithFloor(d, floor time.Duration) time.Duration {
	if floor > d {
		return floor
	}
	return d
}
