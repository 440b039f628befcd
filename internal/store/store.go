package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/quranhub/access-gate/internal/model"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrStaleState is returned when a compare-and-swap transition finds the
	// record no longer in the expected status.
	ErrStaleState = errors.New("stale state")
	// ErrDuplicateActive is returned when the requester already holds an
	// active request for the distribution.
	ErrDuplicateActive = errors.New("duplicate active request")
)

// RequestTransition carries the fields written alongside a status change.
// Nil pointers leave the column untouched.
type RequestTransition struct {
	To              model.RequestStatus
	ApproverID      *uuid.UUID
	ReviewedAt      *time.Time
	ExpiresAt       *time.Time
	RejectionReason model.RejectionReason
	AdminNotes      *string
}

// RequestFilters narrows access-request listings.
type RequestFilters struct {
	RequesterID    *uuid.UUID
	DistributionID *uuid.UUID
	Status         *model.RequestStatus
	Priority       *model.RequestPriority
	Page           int
	PerPage        int
}

// AccessRequestStore owns AccessRequest persistence. All status mutations go
// through TransitionAccessRequest or the sweep methods; both are guarded by a
// status predicate so concurrent writers get exactly one winner.
type AccessRequestStore interface {
	CreateAccessRequest(ctx context.Context, req *model.AccessRequest) error
	GetAccessRequest(ctx context.Context, id uuid.UUID) (*model.AccessRequest, error)
	HasActiveRequest(ctx context.Context, requesterID, distributionID uuid.UUID) (bool, error)
	ListAccessRequests(ctx context.Context, filters RequestFilters) ([]*model.AccessRequest, int, error)
	TransitionAccessRequest(ctx context.Context, id uuid.UUID, from []model.RequestStatus, change RequestTransition) (*model.AccessRequest, error)
	ExpireApprovedRequests(ctx context.Context, now time.Time) ([]uuid.UUID, error)
	ExpireStaleReviews(ctx context.Context, olderThan time.Time) ([]uuid.UUID, error)
}

// AuthCandidate pairs a credential with the current status of its owning
// access request, fetched in one query for authentication.
type AuthCandidate struct {
	Credential    *model.Credential
	RequestStatus model.RequestStatus
}

// CredentialStore owns Credential persistence. Cleartext secrets never reach
// this layer; only salted hashes and display prefixes are stored.
type CredentialStore interface {
	CreateCredential(ctx context.Context, cred *model.Credential) error
	GetCredentialByID(ctx context.Context, id uuid.UUID) (*model.Credential, error)
	GetCredentialByRequestID(ctx context.Context, requestID uuid.UUID) (*model.Credential, error)
	AuthCandidatesByPrefix(ctx context.Context, keyPrefix string) ([]*AuthCandidate, error)
	ListCredentials(ctx context.Context, ownerID *uuid.UUID, page, perPage int) ([]*model.Credential, int, error)
	RotateCredentialKey(ctx context.Context, id uuid.UUID, keyPrefix, keySalt, keyHash string) error
	RevokeCredential(ctx context.Context, id uuid.UUID, actor uuid.UUID, reason string, at time.Time) error
	ExpireCredentialsForExpiredRequests(ctx context.Context) (int64, error)
	TouchCredential(ctx context.Context, id uuid.UUID, at time.Time, ip string) error
}

// UsageStore is the append-only call ledger plus its aggregate read path.
type UsageStore interface {
	InsertUsageEvent(ctx context.Context, ev *model.UsageEvent) error
	InsertRateLimitEvent(ctx context.Context, ev *model.RateLimitEvent) error
	CountUsageByCredential(ctx context.Context, credentialID uuid.UUID) (int64, error)
	DailyUsage(ctx context.Context, from, to time.Time) ([]*model.DailyUsage, error)
}

// RateCounterStore atomically increments a fixed-window counter and returns
// the post-increment total, so admission is a single increment-and-check.
type RateCounterStore interface {
	IncrCounter(ctx context.Context, credentialID uuid.UUID, window model.RateLimitWindow, windowStart time.Time, cost int64) (int64, error)
	GetCounter(ctx context.Context, credentialID uuid.UUID, window model.RateLimitWindow, windowStart time.Time) (int64, error)
}

// ContentStore supplies Resource/License/Distribution records. The content
// CMS owns these tables; this service only reads them.
type ContentStore interface {
	GetResource(ctx context.Context, id uuid.UUID) (*model.Resource, error)
	GetDistribution(ctx context.Context, id uuid.UUID) (*model.Distribution, error)
	GetLicenseForResource(ctx context.Context, resourceID uuid.UUID) (*model.License, error)
}

// Store combines every persistence concern of the service.
type Store interface {
	AccessRequestStore
	CredentialStore
	UsageStore
	RateCounterStore
	ContentStore
}
