package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/quranhub/access-gate/internal/model"
)

func (p *Postgres) InsertUsageEvent(ctx context.Context, ev *model.UsageEvent) error {
	err := p.pool.QueryRow(ctx, `
		INSERT INTO usage_events (
			actor_id, resource_id, distribution_id, credential_id,
			event_type, endpoint, request_bytes, response_bytes,
			caller_ip, user_agent, occurred_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`,
		ev.ActorID, ev.ResourceID, ev.DistributionID, ev.CredentialID,
		ev.Type, ev.Endpoint, ev.RequestBytes, ev.ResponseBytes,
		nullString(ev.CallerIP), nullString(ev.UserAgent), ev.OccurredAt,
	).Scan(&ev.ID)
	if err != nil {
		return fmt.Errorf("insert usage_event: %w", err)
	}
	return nil
}

func (p *Postgres) InsertRateLimitEvent(ctx context.Context, ev *model.RateLimitEvent) error {
	err := p.pool.QueryRow(ctx, `
		INSERT INTO rate_limit_events (
			credential_id, distribution_id, window_type, limit_value,
			endpoint, caller_ip, occurred_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`,
		ev.CredentialID, ev.DistributionID, ev.Window, ev.Limit,
		ev.Endpoint, nullString(ev.CallerIP), ev.OccurredAt,
	).Scan(&ev.ID)
	if err != nil {
		return fmt.Errorf("insert rate_limit_event: %w", err)
	}
	return nil
}

func (p *Postgres) CountUsageByCredential(ctx context.Context, credentialID uuid.UUID) (int64, error) {
	var count int64
	err := p.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM usage_events WHERE credential_id = $1
	`, credentialID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count usage_events: %w", err)
	}
	return count, nil
}

func (p *Postgres) DailyUsage(ctx context.Context, from, to time.Time) ([]*model.DailyUsage, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT date_trunc('day', occurred_at) AS day,
			COUNT(*) FILTER (WHERE event_type = 'api_call'),
			COUNT(*) FILTER (WHERE event_type = 'download'),
			COALESCE(SUM(response_bytes), 0)
		FROM usage_events
		WHERE occurred_at >= $1 AND occurred_at < $2
		GROUP BY day ORDER BY day
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("aggregate usage_events: %w", err)
	}
	defer rows.Close()

	var totals []*model.DailyUsage
	for rows.Next() {
		var d model.DailyUsage
		if err := rows.Scan(&d.Day, &d.Calls, &d.Downloads, &d.ResponseBytes); err != nil {
			return nil, fmt.Errorf("scan daily usage: %w", err)
		}
		totals = append(totals, &d)
	}
	return totals, rows.Err()
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
