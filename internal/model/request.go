package model

import (
	"time"

	"github.com/google/uuid"
)

type RequestStatus string

const (
	StatusPending     RequestStatus = "pending"
	StatusUnderReview RequestStatus = "under_review"
	StatusApproved    RequestStatus = "approved"
	StatusRejected    RequestStatus = "rejected"
	StatusRevoked     RequestStatus = "revoked"
	StatusExpired     RequestStatus = "expired"
)

// Active reports whether the status counts toward the one-active-request-per-
// (requester, distribution) rule.
func (s RequestStatus) Active() bool {
	switch s {
	case StatusPending, StatusUnderReview, StatusApproved:
		return true
	}
	return false
}

// Terminal statuses admit no further transitions.
func (s RequestStatus) Terminal() bool {
	switch s {
	case StatusRejected, StatusRevoked, StatusExpired:
		return true
	}
	return false
}

type RequestPriority string

const (
	PriorityLow    RequestPriority = "low"
	PriorityNormal RequestPriority = "normal"
	PriorityHigh   RequestPriority = "high"
	PriorityUrgent RequestPriority = "urgent"
)

// ValidPriority reports whether p is one of the defined priorities.
func ValidPriority(p RequestPriority) bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

type RejectionReason string

const (
	RejectionIncompleteProfile RejectionReason = "incomplete_profile"
	RejectionInsufficientInfo  RejectionReason = "insufficient_justification"
	RejectionLicenseViolation  RejectionReason = "license_violation"
	RejectionAbuseSuspected    RejectionReason = "abuse_suspected"
	RejectionOther             RejectionReason = "other"
)

// ValidRejectionReason reports whether r is one of the defined reasons.
func ValidRejectionReason(r RejectionReason) bool {
	switch r {
	case RejectionIncompleteProfile, RejectionInsufficientInfo,
		RejectionLicenseViolation, RejectionAbuseSuspected, RejectionOther:
		return true
	}
	return false
}

// AccessRequest is a developer's bid for a credential to one Distribution.
type AccessRequest struct {
	ID              uuid.UUID       `json:"id"`
	RequesterID     uuid.UUID       `json:"requester_id"`
	DistributionID  uuid.UUID       `json:"distribution_id"`
	Status          RequestStatus   `json:"status"`
	Priority        RequestPriority `json:"priority"`
	Justification   string          `json:"justification"`
	AdminNotes      string          `json:"admin_notes,omitempty"`
	RejectionReason RejectionReason `json:"rejection_reason,omitempty"`
	ApproverID      *uuid.UUID      `json:"approver_id,omitempty"`
	RequestedAt     time.Time       `json:"requested_at"`
	ReviewedAt      *time.Time      `json:"reviewed_at,omitempty"`
	ExpiresAt       *time.Time      `json:"expires_at,omitempty"`
}
