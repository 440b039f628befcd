package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/quranhub/access-gate/internal/model"
)

func TestAdmit(t *testing.T) {
	ctx := context.Background()

	t.Run("admits up to the minute limit then rejects", func(t *testing.T) {
		l := NewLimiter(NewMemoryCounters())
		credID := uuid.New()
		limits := model.RateLimits{PerMinute: 3}

		for i := 0; i < 3; i++ {
			d, err := l.Admit(ctx, credID, limits, 1)
			if err != nil {
				t.Fatalf("admit %d: %v", i, err)
			}
			if !d.Admitted {
				t.Fatalf("call %d unexpectedly rejected", i)
			}
			if d.Remaining != 3-(i+1) {
				t.Fatalf("call %d: remaining = %d, want %d", i, d.Remaining, 3-(i+1))
			}
		}

		d, err := l.Admit(ctx, credID, limits, 1)
		if err != nil {
			t.Fatalf("admit: %v", err)
		}
		if d.Admitted {
			t.Fatal("fourth call should be rejected")
		}
		if d.Window != model.WindowMinute {
			t.Fatalf("violated window = %s, want minute", d.Window)
		}
		if d.RetryAfter <= 0 || d.RetryAfter > time.Minute {
			t.Fatalf("retry-after out of range: %v", d.RetryAfter)
		}
	})

	t.Run("day limit rejects after two calls", func(t *testing.T) {
		l := NewLimiter(NewMemoryCounters())
		credID := uuid.New()
		limits := model.RateLimits{PerMinute: 100, PerHour: 100, PerDay: 2}

		for i := 0; i < 2; i++ {
			d, err := l.Admit(ctx, credID, limits, 1)
			if err != nil || !d.Admitted {
				t.Fatalf("call %d: admitted=%v err=%v", i, d.Admitted, err)
			}
		}

		d, err := l.Admit(ctx, credID, limits, 1)
		if err != nil {
			t.Fatalf("admit: %v", err)
		}
		if d.Admitted || d.Window != model.WindowDay {
			t.Fatalf("expected day rejection, got %+v", d)
		}
	})

	t.Run("unconfigured windows are unlimited", func(t *testing.T) {
		l := NewLimiter(NewMemoryCounters())
		credID := uuid.New()

		for i := 0; i < 50; i++ {
			d, err := l.Admit(ctx, credID, model.RateLimits{}, 1)
			if err != nil || !d.Admitted {
				t.Fatalf("call %d: admitted=%v err=%v", i, d.Admitted, err)
			}
		}
	})

	t.Run("cost consumes multiple slots", func(t *testing.T) {
		l := NewLimiter(NewMemoryCounters())
		credID := uuid.New()
		limits := model.RateLimits{PerMinute: 10}

		d, err := l.Admit(ctx, credID, limits, 8)
		if err != nil || !d.Admitted {
			t.Fatalf("bulk admit: admitted=%v err=%v", d.Admitted, err)
		}
		if d.Remaining != 2 {
			t.Fatalf("remaining = %d, want 2", d.Remaining)
		}

		d, err = l.Admit(ctx, credID, limits, 4)
		if err != nil {
			t.Fatalf("admit: %v", err)
		}
		if d.Admitted {
			t.Fatal("over-budget cost should be rejected")
		}
	})

	t.Run("concurrent calls never exceed capacity", func(t *testing.T) {
		l := NewLimiter(NewMemoryCounters())
		credID := uuid.New()
		const limit = 25
		const callers = 100
		limits := model.RateLimits{PerMinute: limit}

		var wg sync.WaitGroup
		var mu sync.Mutex
		admitted := 0

		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				d, err := l.Admit(ctx, credID, limits, 1)
				if err != nil {
					t.Errorf("admit: %v", err)
					return
				}
				if d.Admitted {
					mu.Lock()
					admitted++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		if admitted != limit {
			t.Fatalf("admitted %d calls, want exactly %d", admitted, limit)
		}
	})

	t.Run("reports tightest remaining window on admission", func(t *testing.T) {
		l := NewLimiter(NewMemoryCounters())
		credID := uuid.New()
		limits := model.RateLimits{PerMinute: 100, PerHour: 5}

		d, err := l.Admit(ctx, credID, limits, 1)
		if err != nil || !d.Admitted {
			t.Fatalf("admit: admitted=%v err=%v", d.Admitted, err)
		}
		if d.Window != model.WindowHour || d.Remaining != 4 {
			t.Fatalf("expected hour window with 4 remaining, got %+v", d)
		}
	})
}

func TestRemaining(t *testing.T) {
	ctx := context.Background()

	t.Run("reads capacity without consuming it", func(t *testing.T) {
		l := NewLimiter(NewMemoryCounters())
		credID := uuid.New()
		limits := model.RateLimits{PerMinute: 5}

		for i := 0; i < 3; i++ {
			if _, err := l.Admit(ctx, credID, limits, 1); err != nil {
				t.Fatalf("admit %d: %v", i, err)
			}
		}

		for i := 0; i < 2; i++ {
			d, err := l.Remaining(ctx, credID, limits)
			if err != nil {
				t.Fatalf("remaining: %v", err)
			}
			if d == nil || d.Remaining != 2 {
				t.Fatalf("read %d: expected 2 remaining, got %+v", i, d)
			}
		}
	})

	t.Run("unconfigured credential reports unlimited", func(t *testing.T) {
		l := NewLimiter(NewMemoryCounters())

		d, err := l.Remaining(ctx, uuid.New(), model.RateLimits{})
		if err != nil {
			t.Fatalf("remaining: %v", err)
		}
		if d != nil {
			t.Fatalf("expected nil decision, got %+v", d)
		}
	})

	t.Run("exhausted window clamps at zero", func(t *testing.T) {
		l := NewLimiter(NewMemoryCounters())
		credID := uuid.New()
		limits := model.RateLimits{PerMinute: 1}

		for i := 0; i < 3; i++ {
			l.Admit(ctx, credID, limits, 1)
		}

		d, err := l.Remaining(ctx, credID, limits)
		if err != nil {
			t.Fatalf("remaining: %v", err)
		}
		if d == nil || d.Remaining != 0 || d.Admitted {
			t.Fatalf("expected exhausted window, got %+v", d)
		}
	})
}
