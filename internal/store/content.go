package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/quranhub/access-gate/internal/model"
)

// Content reads are plain lookups against CMS-owned tables. This service
// never writes them.

func (p *Postgres) GetResource(ctx context.Context, id uuid.UUID) (*model.Resource, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, resource_type, language, version, checksum, publisher_id, published_at, deleted
		FROM resources WHERE id = $1
	`, id)
	if err != nil {
		return nil, fmt.Errorf("query resource: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, ErrNotFound
	}

	var res model.Resource
	if err := rows.Scan(
		&res.ID, &res.Type, &res.Language, &res.Version, &res.Checksum,
		&res.PublisherID, &res.PublishedAt, &res.Deleted,
	); err != nil {
		return nil, fmt.Errorf("scan resource: %w", err)
	}
	return &res, nil
}

func (p *Postgres) GetDistribution(ctx context.Context, id uuid.UUID) (*model.Distribution, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, resource_id, format, endpoint, version, allowed_auth_methods,
			requests_per_minute, requests_per_hour, requests_per_day, active
		FROM distributions WHERE id = $1
	`, id)
	if err != nil {
		return nil, fmt.Errorf("query distribution: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, ErrNotFound
	}

	var dist model.Distribution
	var authJSON []byte
	if err := rows.Scan(
		&dist.ID, &dist.ResourceID, &dist.Format, &dist.Endpoint, &dist.Version, &authJSON,
		&dist.RequestsPerMinute, &dist.RequestsPerHour, &dist.RequestsPerDay, &dist.Active,
	); err != nil {
		return nil, fmt.Errorf("scan distribution: %w", err)
	}
	if authJSON != nil {
		if err := json.Unmarshal(authJSON, &dist.AllowedAuth); err != nil {
			return nil, fmt.Errorf("unmarshal allowed_auth_methods: %w", err)
		}
	}
	return &dist, nil
}

func (p *Postgres) GetLicenseForResource(ctx context.Context, resourceID uuid.UUID) (*model.License, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, resource_id, license_type, terms, allowed_countries, restricted_countries,
			requests_per_minute, requests_per_hour, requests_per_day,
			requires_attribution, requires_approval, grant_duration_days,
			effective_from, expires_at
		FROM licenses WHERE resource_id = $1
	`, resourceID)
	if err != nil {
		return nil, fmt.Errorf("query license: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, ErrNotFound
	}

	var lic model.License
	var allowedJSON, restrictedJSON []byte
	if err := rows.Scan(
		&lic.ID, &lic.ResourceID, &lic.Type, &lic.Terms, &allowedJSON, &restrictedJSON,
		&lic.RequestsPerMinute, &lic.RequestsPerHour, &lic.RequestsPerDay,
		&lic.RequiresAttribution, &lic.RequiresApproval, &lic.GrantDuration,
		&lic.EffectiveFrom, &lic.ExpiresAt,
	); err != nil {
		return nil, fmt.Errorf("scan license: %w", err)
	}
	if allowedJSON != nil {
		if err := json.Unmarshal(allowedJSON, &lic.AllowedCountries); err != nil {
			return nil, fmt.Errorf("unmarshal allowed_countries: %w", err)
		}
	}
	if restrictedJSON != nil {
		if err := json.Unmarshal(restrictedJSON, &lic.RestrictedCountries); err != nil {
			return nil, fmt.Errorf("unmarshal restricted_countries: %w", err)
		}
	}
	return &lic, nil
}
