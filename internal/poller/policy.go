package poller

import (
	"fmt"
	"time"
)

// NoErrorTolerance as MaxConsecutiveErrors ends a session on its first failed query
const NoErrorTolerance = -1

// maxQueryGrace bounds how long a status query may run past the deadline
const maxQueryGrace = 2 * time.Second

// Policy governs how often and how long a session waits.
// A policy is read once at session start and never changes during the session.
type Policy struct {
	// Interval is the sleep between polls
	Interval time.Duration `json:"interval" yaml:"interval"`
	// MaxWait bounds the total wait of one session
	MaxWait time.Duration `json:"max_wait" yaml:"max_wait"`
	// BackoffMultiplier grows the interval after every in-progress poll (0 or 1 = fixed)
	BackoffMultiplier float64 `json:"backoff_multiplier,omitempty" yaml:"backoff_multiplier,omitempty"`
	// MaxInterval caps the grown interval (0 = no cap besides MaxWait)
	MaxInterval time.Duration `json:"max_interval,omitempty" yaml:"max_interval,omitempty"`
	// QueryTimeout bounds a single status query
	QueryTimeout time.Duration `json:"query_timeout,omitempty" yaml:"query_timeout,omitempty"`
	// MaxConsecutiveErrors is how many failed queries in a row are tolerated.
	// 0 takes the default; use NoErrorTolerance for none.
	MaxConsecutiveErrors int `json:"max_consecutive_errors,omitempty" yaml:"max_consecutive_errors,omitempty"`
}

// DefaultPolicy mirrors the classic deployment wait: poll every 10s for up to 30 minutes
func DefaultPolicy() Policy {
	return Policy{
		Interval:             10 * time.Second,
		MaxWait:              30 * time.Minute,
		BackoffMultiplier:    1,
		QueryTimeout:         30 * time.Second,
		MaxConsecutiveErrors: 3,
	}
}

// WithDefaults fills zero-valued optional fields from DefaultPolicy
func (p Policy) WithDefaults() Policy {
	d := DefaultPolicy()
	if p.Interval == 0 {
		p.Interval = d.Interval
	}
	if p.MaxWait == 0 {
		p.MaxWait = d.MaxWait
	}
	if p.BackoffMultiplier == 0 {
		p.BackoffMultiplier = d.BackoffMultiplier
	}
	if p.QueryTimeout == 0 {
		p.QueryTimeout = d.QueryTimeout
	}
	if p.MaxConsecutiveErrors == 0 {
		p.MaxConsecutiveErrors = d.MaxConsecutiveErrors
	}
	return p
}

// Validate checks that the policy can drive a session
func (p Policy) Validate() error {
	if p.Interval <= 0 {
		return fmt.Errorf("poll interval must be positive (got %v)", p.Interval)
	}
	if p.MaxWait <= 0 {
		return fmt.Errorf("max wait must be positive (got %v)", p.MaxWait)
	}
	if p.BackoffMultiplier < 0 {
		return fmt.Errorf("backoff multiplier cannot be negative (got %v)", p.BackoffMultiplier)
	}
	if p.BackoffMultiplier > 0 && p.BackoffMultiplier < 1 {
		return fmt.Errorf("backoff multiplier must be >= 1 (got %v)", p.BackoffMultiplier)
	}
	if p.MaxInterval < 0 {
		return fmt.Errorf("max interval cannot be negative (got %v)", p.MaxInterval)
	}
	if p.MaxInterval > 0 && p.MaxInterval < p.Interval {
		return fmt.Errorf("max interval %v is shorter than interval %v", p.MaxInterval, p.Interval)
	}
	if p.QueryTimeout <= 0 {
		return fmt.Errorf("query timeout must be positive (got %v)", p.QueryTimeout)
	}
	if p.MaxConsecutiveErrors < NoErrorTolerance {
		return fmt.Errorf("max consecutive errors must be >= %d (got %d)", NoErrorTolerance, p.MaxConsecutiveErrors)
	}
	return nil
}

// tolerance is the number of consecutive failed queries a session survives
func (p Policy) tolerance() int {
	return max(p.MaxConsecutiveErrors, 0)
}

// queryTimeout caps QueryTimeout at the time left plus a short grace, so a
// query sent at the deadline can still answer without stretching the session
// by a whole interval
func (p Policy) queryTimeout(remaining time.Duration) time.Duration {
	grace := min(p.Interval/2, maxQueryGrace)
	return min(p.QueryTimeout, max(remaining, 0)+grace)
}

// backoff tracks the current sleep interval of one session
type backoff struct {
	current    time.Duration
	multiplier float64
	max        time.Duration
}

func newBackoff(p Policy) *backoff {
	return &backoff{current: p.Interval, multiplier: p.BackoffMultiplier, max: p.MaxInterval}
}

// next returns the interval to sleep now and advances the schedule
func (b *backoff) next() time.Duration {
	d := b.current
	if b.multiplier > 1 {
		grown := time.Duration(float64(b.current) * b.multiplier)
		if b.max > 0 && grown > b.max {
			grown = b.max
		}
		b.current = grown
	}
	return d
}

// sleepFor picks the next sleep: the backoff interval, raised to a backend
// Retry-After hint, never past the remaining budget
func sleepFor(interval, retryAfter, remaining time.Duration) time.Duration {
	d := interval
	if retryAfter > d {
		d = retryAfter
	}
	if d > remaining {
		d = remaining
	}
	return d
}
