package model

import (
	"time"

	"github.com/google/uuid"
)

type UsageEventType string

const (
	UsageAPICall  UsageEventType = "api_call"
	UsageDownload UsageEventType = "download"
	UsageView     UsageEventType = "view"
)

// UsageEvent is one immutable record of an admitted call. Rows are append-only;
// PII fields (IP, user agent) may be blanked for erasure requests but the row
// itself is never deleted.
type UsageEvent struct {
	ID             uuid.UUID      `json:"id"`
	ActorID        uuid.UUID      `json:"actor_id"`
	ResourceID     uuid.UUID      `json:"resource_id"`
	DistributionID uuid.UUID      `json:"distribution_id"`
	CredentialID   uuid.UUID      `json:"credential_id"`
	Type           UsageEventType `json:"type"`
	Endpoint       string         `json:"endpoint"`
	RequestBytes   int64          `json:"request_bytes"`
	ResponseBytes  int64          `json:"response_bytes"`
	CallerIP       string         `json:"caller_ip,omitempty"`
	UserAgent      string         `json:"user_agent,omitempty"`
	OccurredAt     time.Time      `json:"occurred_at"`
}

type RateLimitWindow string

const (
	WindowMinute RateLimitWindow = "minute"
	WindowHour   RateLimitWindow = "hour"
	WindowDay    RateLimitWindow = "day"
)

// Duration returns the wall-clock span of the window.
func (w RateLimitWindow) Duration() time.Duration {
	switch w {
	case WindowMinute:
		return time.Minute
	case WindowHour:
		return time.Hour
	default:
		return 24 * time.Hour
	}
}

// RateLimitEvent records one rejected call. Emitted synchronously with the
// rejection so the audit trail never lags the decision.
type RateLimitEvent struct {
	ID             uuid.UUID       `json:"id"`
	CredentialID   uuid.UUID       `json:"credential_id"`
	DistributionID uuid.UUID       `json:"distribution_id"`
	Window         RateLimitWindow `json:"window"`
	Limit          int             `json:"limit"`
	Endpoint       string          `json:"endpoint"`
	CallerIP       string          `json:"caller_ip,omitempty"`
	OccurredAt     time.Time       `json:"occurred_at"`
}

// DailyUsage is an aggregate row computed from the usage ledger.
type DailyUsage struct {
	Day           time.Time `json:"day"`
	Calls         int64     `json:"calls"`
	Downloads     int64     `json:"downloads"`
	ResponseBytes int64     `json:"response_bytes"`
}
