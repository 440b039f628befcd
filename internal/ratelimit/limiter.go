// Package ratelimit enforces per-credential request budgets over fixed
// minute/hour/day windows. Counter state lives behind CounterStore so the
// service can run as multiple stateless replicas against Postgres or Redis.
package ratelimit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/quranhub/access-gate/internal/model"
)

// CounterStore atomically adds cost to the counter for one (credential,
// window, window start) cell and returns the post-increment total.
// GetCounter reads a cell without consuming anything; absent cells read as 0.
type CounterStore interface {
	IncrCounter(ctx context.Context, credentialID uuid.UUID, window model.RateLimitWindow, windowStart time.Time, cost int64) (int64, error)
	GetCounter(ctx context.Context, credentialID uuid.UUID, window model.RateLimitWindow, windowStart time.Time) (int64, error)
}

// Decision is the outcome of one admission check.
type Decision struct {
	Admitted   bool
	Window     model.RateLimitWindow // violated window when rejected
	Limit      int
	Remaining  int
	RetryAfter time.Duration
	ResetAt    time.Time
}

type Limiter struct {
	counters CounterStore
	now      func() time.Time
}

func NewLimiter(counters CounterStore) *Limiter {
	return &Limiter{counters: counters, now: time.Now}
}

type windowCheck struct {
	window model.RateLimitWindow
	limit  int
}

// Admit checks the credential against all configured windows, finest first,
// and reports the first violated one. Each check is a single atomic
// increment-and-compare, so concurrent calls can never both take the last
// slot. A rejection in a coarse window leaves the finer-window increments in
// place; rejected attempts counting toward finer windows is deliberate.
func (l *Limiter) Admit(ctx context.Context, credentialID uuid.UUID, limits model.RateLimits, cost int64) (*Decision, error) {
	if cost <= 0 {
		cost = 1
	}
	now := l.now().UTC()

	checks := []windowCheck{
		{model.WindowMinute, limits.PerMinute},
		{model.WindowHour, limits.PerHour},
		{model.WindowDay, limits.PerDay},
	}

	decision := &Decision{Admitted: true}
	for _, c := range checks {
		if c.limit <= 0 {
			continue // window not configured
		}
		start := now.Truncate(c.window.Duration())
		total, err := l.counters.IncrCounter(ctx, credentialID, c.window, start, cost)
		if err != nil {
			return nil, err
		}

		resetAt := start.Add(c.window.Duration())
		if total > int64(c.limit) {
			return &Decision{
				Window:     c.window,
				Limit:      c.limit,
				RetryAfter: resetAt.Sub(now),
				ResetAt:    resetAt,
			}, nil
		}

		remaining := c.limit - int(total)
		if decision.Limit == 0 || remaining < decision.Remaining {
			decision.Window = c.window
			decision.Limit = c.limit
			decision.Remaining = remaining
			decision.ResetAt = resetAt
		}
	}
	return decision, nil
}

// Remaining reports the tightest window's leftover capacity without
// consuming a request. Unconfigured credentials report unlimited via a nil
// decision.
func (l *Limiter) Remaining(ctx context.Context, credentialID uuid.UUID, limits model.RateLimits) (*Decision, error) {
	now := l.now().UTC()

	checks := []windowCheck{
		{model.WindowMinute, limits.PerMinute},
		{model.WindowHour, limits.PerHour},
		{model.WindowDay, limits.PerDay},
	}

	var tightest *Decision
	for _, c := range checks {
		if c.limit <= 0 {
			continue
		}
		start := now.Truncate(c.window.Duration())
		total, err := l.counters.GetCounter(ctx, credentialID, c.window, start)
		if err != nil {
			return nil, err
		}

		remaining := c.limit - int(total)
		if remaining < 0 {
			remaining = 0
		}
		if tightest == nil || remaining < tightest.Remaining {
			tightest = &Decision{
				Admitted:  remaining > 0,
				Window:    c.window,
				Limit:     c.limit,
				Remaining: remaining,
				ResetAt:   start.Add(c.window.Duration()),
			}
		}
	}
	return tightest, nil
}
