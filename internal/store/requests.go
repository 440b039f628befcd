package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/quranhub/access-gate/internal/model"
)

const requestColumns = `id, requester_id, distribution_id, status, priority,
	justification, admin_notes, rejection_reason, approver_id,
	requested_at, reviewed_at, expires_at`

func (p *Postgres) CreateAccessRequest(ctx context.Context, req *model.AccessRequest) error {
	err := p.pool.QueryRow(ctx, `
		INSERT INTO access_requests (
			requester_id, distribution_id, status, priority, justification
		) VALUES ($1, $2, $3, $4, $5)
		RETURNING id, requested_at
	`,
		req.RequesterID, req.DistributionID, req.Status, req.Priority, req.Justification,
	).Scan(&req.ID, &req.RequestedAt)
	if err != nil {
		// The partial unique index on active (requester, distribution) pairs
		// backstops the pre-submission duplicate check under races.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateActive
		}
		return fmt.Errorf("insert access_request: %w", err)
	}
	return nil
}

func (p *Postgres) GetAccessRequest(ctx context.Context, id uuid.UUID) (*model.AccessRequest, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+requestColumns+` FROM access_requests WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("query access_request: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, ErrNotFound
	}
	return scanRequestFromRow(rows)
}

func (p *Postgres) HasActiveRequest(ctx context.Context, requesterID, distributionID uuid.UUID) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM access_requests
			WHERE requester_id = $1 AND distribution_id = $2
			  AND status IN ('pending', 'under_review', 'approved')
		)
	`, requesterID, distributionID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check active request: %w", err)
	}
	return exists, nil
}

func (p *Postgres) ListAccessRequests(ctx context.Context, filters RequestFilters) ([]*model.AccessRequest, int, error) {
	where := "WHERE 1=1"
	args := []interface{}{}
	argIdx := 1

	if filters.RequesterID != nil {
		where += fmt.Sprintf(" AND requester_id = $%d", argIdx)
		args = append(args, *filters.RequesterID)
		argIdx++
	}
	if filters.DistributionID != nil {
		where += fmt.Sprintf(" AND distribution_id = $%d", argIdx)
		args = append(args, *filters.DistributionID)
		argIdx++
	}
	if filters.Status != nil {
		where += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, *filters.Status)
		argIdx++
	}
	if filters.Priority != nil {
		where += fmt.Sprintf(" AND priority = $%d", argIdx)
		args = append(args, *filters.Priority)
		argIdx++
	}

	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM access_requests %s", where)
	if err := p.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count access_requests: %w", err)
	}

	page := filters.Page
	if page < 1 {
		page = 1
	}
	perPage := filters.PerPage
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}
	offset := (page - 1) * perPage

	args = append(args, perPage, offset)
	// Urgent requests surface first in the review queue, then oldest first.
	query := fmt.Sprintf(`
		SELECT `+requestColumns+` FROM access_requests %s
		ORDER BY CASE priority
			WHEN 'urgent' THEN 0
			WHEN 'high' THEN 1
			WHEN 'normal' THEN 2
			ELSE 3
		END, requested_at ASC
		LIMIT $%d OFFSET $%d
	`, where, argIdx, argIdx+1)

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list access_requests: %w", err)
	}
	defer rows.Close()

	var reqs []*model.AccessRequest
	for rows.Next() {
		req, err := scanRequestFromRow(rows)
		if err != nil {
			return nil, 0, err
		}
		reqs = append(reqs, req)
	}
	return reqs, total, nil
}

func (p *Postgres) TransitionAccessRequest(ctx context.Context, id uuid.UUID, from []model.RequestStatus, change RequestTransition) (*model.AccessRequest, error) {
	setClauses := []string{"status = $1"}
	args := []interface{}{change.To}
	argIdx := 2

	if change.ApproverID != nil {
		setClauses = append(setClauses, fmt.Sprintf("approver_id = $%d", argIdx))
		args = append(args, *change.ApproverID)
		argIdx++
	}
	if change.ReviewedAt != nil {
		setClauses = append(setClauses, fmt.Sprintf("reviewed_at = $%d", argIdx))
		args = append(args, *change.ReviewedAt)
		argIdx++
	}
	if change.ExpiresAt != nil {
		setClauses = append(setClauses, fmt.Sprintf("expires_at = $%d", argIdx))
		args = append(args, *change.ExpiresAt)
		argIdx++
	}
	if change.RejectionReason != "" {
		setClauses = append(setClauses, fmt.Sprintf("rejection_reason = $%d", argIdx))
		args = append(args, change.RejectionReason)
		argIdx++
	}
	if change.AdminNotes != nil {
		setClauses = append(setClauses, fmt.Sprintf("admin_notes = $%d", argIdx))
		args = append(args, *change.AdminNotes)
		argIdx++
	}

	set := ""
	for i, c := range setClauses {
		if i > 0 {
			set += ", "
		}
		set += c
	}

	statusPlaceholders := ""
	for i := range from {
		if i > 0 {
			statusPlaceholders += ", "
		}
		statusPlaceholders += fmt.Sprintf("$%d", argIdx)
		args = append(args, from[i])
		argIdx++
	}
	args = append(args, id)

	// The status predicate is the compare-and-swap: concurrent transitions on
	// the same request see zero rows affected and lose the race.
	query := fmt.Sprintf(`
		UPDATE access_requests SET %s
		WHERE id = $%d AND status IN (%s)
		RETURNING `+requestColumns, set, argIdx, statusPlaceholders)

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("transition access_request: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		// Distinguish a lost race from a missing row.
		if _, getErr := p.GetAccessRequest(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrStaleState
	}
	return scanRequestFromRow(rows)
}

func (p *Postgres) ExpireApprovedRequests(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	rows, err := p.pool.Query(ctx, `
		UPDATE access_requests SET status = 'expired'
		WHERE status = 'approved' AND expires_at IS NOT NULL AND expires_at < $1
		RETURNING id
	`, now)
	if err != nil {
		return nil, fmt.Errorf("expire approved requests: %w", err)
	}
	defer rows.Close()
	return collectIDs(rows)
}

func (p *Postgres) ExpireStaleReviews(ctx context.Context, olderThan time.Time) ([]uuid.UUID, error) {
	rows, err := p.pool.Query(ctx, `
		UPDATE access_requests SET status = 'expired'
		WHERE status IN ('pending', 'under_review') AND requested_at < $1
		RETURNING id
	`, olderThan)
	if err != nil {
		return nil, fmt.Errorf("expire stale reviews: %w", err)
	}
	defer rows.Close()
	return collectIDs(rows)
}

func collectIDs(rows pgx.Rows) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanRequestFromRow(rows pgx.Rows) (*model.AccessRequest, error) {
	var req model.AccessRequest
	var adminNotes, rejectionReason *string

	err := rows.Scan(
		&req.ID, &req.RequesterID, &req.DistributionID, &req.Status, &req.Priority,
		&req.Justification, &adminNotes, &rejectionReason, &req.ApproverID,
		&req.RequestedAt, &req.ReviewedAt, &req.ExpiresAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan access_request: %w", err)
	}

	if adminNotes != nil {
		req.AdminNotes = *adminNotes
	}
	if rejectionReason != nil {
		req.RejectionReason = model.RejectionReason(*rejectionReason)
	}
	return &req, nil
}
