package model

import (
	"time"

	"github.com/google/uuid"
)

type CredentialStatus string

const (
	CredentialActive  CredentialStatus = "active"
	CredentialRevoked CredentialStatus = "revoked"
	CredentialExpired CredentialStatus = "expired"
)

// Credential is an issued API key backing one approved AccessRequest. Only a
// salted hash of the secret is ever stored; the cleartext exists solely in an
// IssuedKey returned once at issue or regeneration time.
type Credential struct {
	ID              uuid.UUID           `json:"id"`
	AccessRequestID uuid.UUID           `json:"access_request_id"`
	OwnerID         uuid.UUID           `json:"owner_id"`
	DistributionID  uuid.UUID           `json:"distribution_id"`
	KeyPrefix       string              `json:"key_prefix"`
	KeySalt         string              `json:"-"`
	KeyHash         string              `json:"-"`
	Scopes          map[string][]string `json:"scopes,omitempty"`
	AllowedIPs      []string            `json:"allowed_ips,omitempty"`
	Limits          RateLimits          `json:"rate_limits"`
	Status          CredentialStatus    `json:"status"`
	RequestCount    int64               `json:"request_count"`
	LastUsedAt      *time.Time          `json:"last_used_at,omitempty"`
	LastUsedIP      string              `json:"last_used_ip,omitempty"`
	ExpiresAt       *time.Time          `json:"expires_at,omitempty"`
	RevokedAt       *time.Time          `json:"revoked_at,omitempty"`
	RevokedBy       *uuid.UUID          `json:"revoked_by,omitempty"`
	RevokedReason   string              `json:"revoked_reason,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

// Usable reports whether the credential itself (ignoring the owning request)
// can authenticate at time t.
func (c *Credential) Usable(t time.Time) bool {
	if c.Status != CredentialActive {
		return false
	}
	if c.ExpiresAt != nil && !t.Before(*c.ExpiresAt) {
		return false
	}
	return true
}

// IssuedKey carries the one-time cleartext secret alongside the stored
// record. It is deliberately a separate type from Credential so that
// serializing a Credential can never leak a secret.
type IssuedKey struct {
	Secret     string
	Credential *Credential
}
