package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/quranhub/access-gate/internal/model"
)

const credentialColumns = `id, access_request_id, owner_id, distribution_id,
	key_prefix, key_salt, key_hash, scopes, allowed_ips,
	rate_limit_minute, rate_limit_hour, rate_limit_day,
	status, request_count, last_used_at, last_used_ip,
	expires_at, revoked_at, revoked_by, revoked_reason,
	created_at, updated_at`

func (p *Postgres) CreateCredential(ctx context.Context, cred *model.Credential) error {
	scopes, err := json.Marshal(cred.Scopes)
	if err != nil {
		return fmt.Errorf("marshal scopes: %w", err)
	}

	var allowedIPs []byte
	if cred.AllowedIPs != nil {
		allowedIPs, err = json.Marshal(cred.AllowedIPs)
		if err != nil {
			return fmt.Errorf("marshal allowed_ips: %w", err)
		}
	}

	err = p.pool.QueryRow(ctx, `
		INSERT INTO credentials (
			access_request_id, owner_id, distribution_id,
			key_prefix, key_salt, key_hash, scopes, allowed_ips,
			rate_limit_minute, rate_limit_hour, rate_limit_day,
			status, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, created_at, updated_at
	`,
		cred.AccessRequestID, cred.OwnerID, cred.DistributionID,
		cred.KeyPrefix, cred.KeySalt, cred.KeyHash, scopes, allowedIPs,
		cred.Limits.PerMinute, cred.Limits.PerHour, cred.Limits.PerDay,
		cred.Status, cred.ExpiresAt,
	).Scan(&cred.ID, &cred.CreatedAt, &cred.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert credential: %w", err)
	}
	return nil
}

func (p *Postgres) GetCredentialByID(ctx context.Context, id uuid.UUID) (*model.Credential, error) {
	return p.scanCredential(ctx, `SELECT `+credentialColumns+` FROM credentials WHERE id = $1`, id)
}

func (p *Postgres) GetCredentialByRequestID(ctx context.Context, requestID uuid.UUID) (*model.Credential, error) {
	return p.scanCredential(ctx, `SELECT `+credentialColumns+` FROM credentials WHERE access_request_id = $1`, requestID)
}

func (p *Postgres) AuthCandidatesByPrefix(ctx context.Context, keyPrefix string) ([]*AuthCandidate, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT `+qualifiedCredentialColumns+`, r.status
		FROM credentials c
		JOIN access_requests r ON r.id = c.access_request_id
		WHERE c.key_prefix = $1
	`, keyPrefix)
	if err != nil {
		return nil, fmt.Errorf("query auth candidates: %w", err)
	}
	defer rows.Close()

	var candidates []*AuthCandidate
	for rows.Next() {
		cred, reqStatus, err := scanAuthCandidateFromRow(rows)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, &AuthCandidate{Credential: cred, RequestStatus: reqStatus})
	}
	return candidates, rows.Err()
}

func (p *Postgres) ListCredentials(ctx context.Context, ownerID *uuid.UUID, page, perPage int) ([]*model.Credential, int, error) {
	where := ""
	args := []interface{}{}
	argIdx := 1
	if ownerID != nil {
		where = fmt.Sprintf("WHERE owner_id = $%d", argIdx)
		args = append(args, *ownerID)
		argIdx++
	}

	var total int
	if err := p.pool.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM credentials %s", where), args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count credentials: %w", err)
	}

	offset := (page - 1) * perPage
	args = append(args, perPage, offset)
	rows, err := p.pool.Query(ctx, fmt.Sprintf(`
		SELECT `+credentialColumns+` FROM credentials %s
		ORDER BY created_at DESC LIMIT $%d OFFSET $%d
	`, where, argIdx, argIdx+1), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var creds []*model.Credential
	for rows.Next() {
		cred, err := scanCredentialFromRow(rows)
		if err != nil {
			return nil, 0, err
		}
		creds = append(creds, cred)
	}
	return creds, total, nil
}

// RotateCredentialKey swaps salt, hash and prefix in one statement so the old
// secret stops matching exactly when the new one starts.
func (p *Postgres) RotateCredentialKey(ctx context.Context, id uuid.UUID, keyPrefix, keySalt, keyHash string) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE credentials
		SET key_prefix = $1, key_salt = $2, key_hash = $3, updated_at = NOW()
		WHERE id = $4 AND status = 'active'
	`, keyPrefix, keySalt, keyHash, id)
	if err != nil {
		return fmt.Errorf("rotate credential key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := p.GetCredentialByID(ctx, id); getErr != nil {
			return getErr
		}
		return ErrStaleState
	}
	return nil
}

// RevokeCredential is terminal and idempotent: revoking an already-revoked
// credential leaves the original revocation metadata intact.
func (p *Postgres) RevokeCredential(ctx context.Context, id uuid.UUID, actor uuid.UUID, reason string, at time.Time) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE credentials
		SET status = 'revoked', revoked_at = $1, revoked_by = $2, revoked_reason = $3, updated_at = NOW()
		WHERE id = $4 AND status <> 'revoked'
	`, at, actor, reason, id)
	if err != nil {
		return fmt.Errorf("revoke credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := p.GetCredentialByID(ctx, id); getErr != nil {
			return getErr
		}
		// Already revoked.
	}
	return nil
}

// ExpireCredentialsForExpiredRequests expires every active credential whose
// owning request has expired. The join makes each sweep pass pick up
// credentials an earlier failed pass left behind.
func (p *Postgres) ExpireCredentialsForExpiredRequests(ctx context.Context) (int64, error) {
	tag, err := p.pool.Exec(ctx, `
		UPDATE credentials c SET status = 'expired', updated_at = NOW()
		FROM access_requests r
		WHERE r.id = c.access_request_id AND c.status = 'active' AND r.status = 'expired'
	`)
	if err != nil {
		return 0, fmt.Errorf("expire credentials: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (p *Postgres) TouchCredential(ctx context.Context, id uuid.UUID, at time.Time, ip string) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE credentials
		SET request_count = request_count + 1, last_used_at = $1, last_used_ip = $2
		WHERE id = $3
	`, at, ip, id)
	if err != nil {
		return fmt.Errorf("touch credential: %w", err)
	}
	return nil
}

func (p *Postgres) scanCredential(ctx context.Context, query string, args ...interface{}) (*model.Credential, error) {
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query credential: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, ErrNotFound
	}
	return scanCredentialFromRow(rows)
}

const qualifiedCredentialColumns = `c.id, c.access_request_id, c.owner_id, c.distribution_id,
	c.key_prefix, c.key_salt, c.key_hash, c.scopes, c.allowed_ips,
	c.rate_limit_minute, c.rate_limit_hour, c.rate_limit_day,
	c.status, c.request_count, c.last_used_at, c.last_used_ip,
	c.expires_at, c.revoked_at, c.revoked_by, c.revoked_reason,
	c.created_at, c.updated_at`

func scanCredentialFromRow(rows pgx.Rows) (*model.Credential, error) {
	cred, _, err := scanCredentialColumns(rows, false)
	return cred, err
}

func scanAuthCandidateFromRow(rows pgx.Rows) (*model.Credential, model.RequestStatus, error) {
	return scanCredentialColumns(rows, true)
}

func scanCredentialColumns(rows pgx.Rows, withRequestStatus bool) (*model.Credential, model.RequestStatus, error) {
	var cred model.Credential
	var scopesJSON, ipsJSON []byte
	var lastUsedIP, revokedReason *string
	var reqStatus model.RequestStatus

	dest := []interface{}{
		&cred.ID, &cred.AccessRequestID, &cred.OwnerID, &cred.DistributionID,
		&cred.KeyPrefix, &cred.KeySalt, &cred.KeyHash, &scopesJSON, &ipsJSON,
		&cred.Limits.PerMinute, &cred.Limits.PerHour, &cred.Limits.PerDay,
		&cred.Status, &cred.RequestCount, &cred.LastUsedAt, &lastUsedIP,
		&cred.ExpiresAt, &cred.RevokedAt, &cred.RevokedBy, &revokedReason,
		&cred.CreatedAt, &cred.UpdatedAt,
	}
	if withRequestStatus {
		dest = append(dest, &reqStatus)
	}

	if err := rows.Scan(dest...); err != nil {
		return nil, "", fmt.Errorf("scan credential: %w", err)
	}

	if lastUsedIP != nil {
		cred.LastUsedIP = *lastUsedIP
	}
	if revokedReason != nil {
		cred.RevokedReason = *revokedReason
	}
	if scopesJSON != nil {
		if err := json.Unmarshal(scopesJSON, &cred.Scopes); err != nil {
			return nil, "", fmt.Errorf("unmarshal scopes: %w", err)
		}
	}
	if ipsJSON != nil {
		if err := json.Unmarshal(ipsJSON, &cred.AllowedIPs); err != nil {
			return nil, "", fmt.Errorf("unmarshal allowed_ips: %w", err)
		}
	}
	return &cred, reqStatus, nil
}
