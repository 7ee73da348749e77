package safety

import (
	"fmt"
	"sync"
	"time"
)

// RateLimits configures the rolling-window call ceilings.
type RateLimits struct {
	PerMinute   int           `yaml:"per_minute" json:"per_minute"`
	PerHour     int           `yaml:"per_hour" json:"per_hour"`
	PerDay      int           `yaml:"per_day" json:"per_day"`
	Burst       int           `yaml:"burst" json:"burst"`
	BurstWindow time.Duration `yaml:"burst_window" json:"burst_window"`
	// Cooldown is the minimum circuit-breaker duration after a breach.
	Cooldown time.Duration `yaml:"cooldown" json:"cooldown"`
}

// DefaultRateLimits returns conservative defaults.
func DefaultRateLimits() RateLimits {
	return RateLimits{
		PerMinute:   20,
		PerHour:     300,
		PerDay:      2000,
		Burst:       10,
		BurstWindow: 30 * time.Second,
		Cooldown:    5 * time.Minute,
	}
}

// RateLimiter tracks outbound calls against rolling minute/hour/day windows
// plus a short burst window. A breach trips the circuit breaker: all calls
// are refused until the cooldown elapses. The cooldown is measured from the
// moment the breaker trips and expires strictly on the timer; nothing clears
// it early.
type RateLimiter struct {
	mu        sync.Mutex
	clock     Clock
	limits    RateLimits
	calls     []time.Time
	trippedAt time.Time
}

// NewRateLimiter returns a limiter over the given limits.
func NewRateLimiter(limits RateLimits, clock Clock) *RateLimiter {
	if clock == nil {
		clock = SystemClock()
	}
	return &RateLimiter{clock: clock, limits: limits}
}

// SetLimits replaces the ceilings. Used for live tuning in training mode; an
// active cooldown is not shortened.
func (r *RateLimiter) SetLimits(limits RateLimits) {
	r.mu.Lock()
	r.limits = limits
	r.mu.Unlock()
}

// Allow records one outbound call, or refuses it. Exceeding any window trips
// the breaker and the refused status carries the cooldown expiry.
func (r *RateLimiter) Allow() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	r.prune(now)

	if st, open := r.breakerStatus(now); open {
		return st
	}

	if reason := r.breachedWindow(now, 1); reason != "" {
		r.trippedAt = now
		expires := now.Add(r.limits.Cooldown)
		return Status{
			Safe:              false,
			Reason:            reason,
			RecommendedAction: ActionCooldown,
			Severity:          SeverityCritical,
			ExpiresAt:         &expires,
		}
	}

	r.calls = append(r.calls, now)
	return OK()
}

// Check reports the limiter state without recording a call.
func (r *RateLimiter) Check() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	r.prune(now)

	if st, open := r.breakerStatus(now); open {
		return st
	}
	if reason := r.breachedWindow(now, 0); reason != "" {
		return Status{
			Safe:              false,
			Reason:            reason,
			RecommendedAction: ActionCooldown,
			Severity:          SeverityCritical,
		}
	}
	return OK()
}

// BreakerOpen reports whether the circuit breaker is active.
func (r *RateLimiter) BreakerOpen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, open := r.breakerStatus(r.clock.Now())
	return open
}

func (r *RateLimiter) breakerStatus(now time.Time) (Status, bool) {
	if r.trippedAt.IsZero() {
		return Status{}, false
	}
	expires := r.trippedAt.Add(r.limits.Cooldown)
	if !now.Before(expires) {
		r.trippedAt = time.Time{}
		return Status{}, false
	}
	return Status{
		Safe:              false,
		Reason:            fmt.Sprintf("circuit breaker active until %s", expires.Format(time.RFC3339)),
		RecommendedAction: ActionCooldown,
		Severity:          SeverityCritical,
		ExpiresAt:         &expires,
	}, true
}

// breachedWindow returns a reason string if recording extra more calls would
// exceed any window ceiling.
func (r *RateLimiter) breachedWindow(now time.Time, extra int) string {
	type window struct {
		name  string
		span  time.Duration
		limit int
	}
	windows := []window{
		{"burst", r.limits.BurstWindow, r.limits.Burst},
		{"per-minute", time.Minute, r.limits.PerMinute},
		{"per-hour", time.Hour, r.limits.PerHour},
		{"per-day", 24 * time.Hour, r.limits.PerDay},
	}

	for _, w := range windows {
		if w.limit <= 0 {
			continue
		}
		if r.countSince(now.Add(-w.span))+extra > w.limit {
			return fmt.Sprintf("%s call ceiling exceeded (%d calls allowed)", w.name, w.limit)
		}
	}
	return ""
}

func (r *RateLimiter) countSince(cutoff time.Time) int {
	n := 0
	for _, t := range r.calls {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}

// prune drops calls older than the widest window.
func (r *RateLimiter) prune(now time.Time) {
	cutoff := now.Add(-24 * time.Hour)
	i := 0
	for ; i < len(r.calls); i++ {
		if r.calls[i].After(cutoff) {
			break
		}
	}
	if i > 0 {
		r.calls = append(r.calls[:0], r.calls[i:]...)
	}
}
