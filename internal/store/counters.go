package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/quranhub/access-gate/internal/model"
)

// IncrCounter bumps the fixed-window counter in a single statement. The
// upsert makes increment-and-check atomic across replicas without locks.
func (p *Postgres) IncrCounter(ctx context.Context, credentialID uuid.UUID, window model.RateLimitWindow, windowStart time.Time, cost int64) (int64, error) {
	var total int64
	err := p.pool.QueryRow(ctx, `
		INSERT INTO rate_limit_counters (credential_id, window_type, window_start, count)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (credential_id, window_type, window_start)
		DO UPDATE SET count = rate_limit_counters.count + EXCLUDED.count
		RETURNING count
	`, credentialID, window, windowStart, cost).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("increment rate counter: %w", err)
	}
	return total, nil
}

// GetCounter reads one window cell without consuming anything. Missing cells
// read as zero.
func (p *Postgres) GetCounter(ctx context.Context, credentialID uuid.UUID, window model.RateLimitWindow, windowStart time.Time) (int64, error) {
	var total int64
	err := p.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(count), 0) FROM rate_limit_counters
		WHERE credential_id = $1 AND window_type = $2 AND window_start = $3
	`, credentialID, window, windowStart).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("read rate counter: %w", err)
	}
	return total, nil
}

// PruneCounters removes windows that ended before the cutoff. Called by the
// sweeper; counters are advisory state, not audit data.
func (p *Postgres) PruneCounters(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := p.pool.Exec(ctx, `
		DELETE FROM rate_limit_counters WHERE window_start < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune rate counters: %w", err)
	}
	return tag.RowsAffected(), nil
}
