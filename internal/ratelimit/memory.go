package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quranhub/access-gate/internal/model"
)

const (
	cleanupInterval = 5 * time.Minute
	staleCellGrace  = 25 * time.Hour // past the longest window
)

type cellKey struct {
	credentialID uuid.UUID
	window       model.RateLimitWindow
	windowStart  int64 // unix seconds
}

// MemoryCounters is a single-process CounterStore for development and tests.
// Multi-replica deployments use the Postgres or Redis backends instead.
type MemoryCounters struct {
	mu          sync.Mutex
	cells       map[cellKey]int64
	lastCleanup time.Time
}

func NewMemoryCounters() *MemoryCounters {
	return &MemoryCounters{
		cells:       make(map[cellKey]int64),
		lastCleanup: time.Now(),
	}
}

func (m *MemoryCounters) IncrCounter(_ context.Context, credentialID uuid.UUID, window model.RateLimitWindow, windowStart time.Time, cost int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := cellKey{credentialID: credentialID, window: window, windowStart: windowStart.Unix()}
	m.cells[key] += cost
	total := m.cells[key]

	m.cleanupLocked(time.Now())
	return total, nil
}

func (m *MemoryCounters) GetCounter(_ context.Context, credentialID uuid.UUID, window model.RateLimitWindow, windowStart time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cells[cellKey{credentialID: credentialID, window: window, windowStart: windowStart.Unix()}], nil
}

func (m *MemoryCounters) cleanupLocked(now time.Time) {
	if now.Sub(m.lastCleanup) < cleanupInterval {
		return
	}

	for key := range m.cells {
		if now.Sub(time.Unix(key.windowStart, 0)) > staleCellGrace {
			delete(m.cells, key)
		}
	}
	m.lastCleanup = now
}
