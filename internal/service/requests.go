package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/quranhub/access-gate/internal/metrics"
	"github.com/quranhub/access-gate/internal/model"
	"github.com/quranhub/access-gate/internal/policy"
	"github.com/quranhub/access-gate/internal/store"
)

const maxJustificationLen = 4000

// RequestService owns the AccessRequest lifecycle. It is the only component
// that mutates request status; every transition is a compare-and-swap in the
// store so concurrent reviewers get exactly one winner.
type RequestService struct {
	requests    store.AccessRequestStore
	content     store.ContentStore
	credentials *CredentialService
}

func NewRequestService(requests store.AccessRequestStore, content store.ContentStore, credentials *CredentialService) *RequestService {
	return &RequestService{requests: requests, content: content, credentials: credentials}
}

// SubmitInput carries one access-request submission.
type SubmitInput struct {
	DistributionID uuid.UUID
	Justification  string
	Priority       model.RequestPriority
}

// SubmitResult is the created request plus, on auto-approval, the one-time
// issued key.
type SubmitResult struct {
	Request   *model.AccessRequest
	IssuedKey *model.IssuedKey
}

// Submit runs the policy evaluator and creates a pending request, approving
// it immediately when the policy directs auto-approval.
func (s *RequestService) Submit(ctx context.Context, principal *model.Principal, input SubmitInput) (*SubmitResult, error) {
	if strings.TrimSpace(input.Justification) == "" {
		return nil, NewBadRequest("invalid_request", "justification is required")
	}
	if len(input.Justification) > maxJustificationLen {
		return nil, NewBadRequest("invalid_request", "justification is too long")
	}
	if input.Priority == "" {
		input.Priority = model.PriorityNormal
	}
	if !model.ValidPriority(input.Priority) {
		return nil, NewBadRequest("invalid_request", "invalid priority")
	}

	dist, license, _, err := s.loadDistribution(ctx, input.DistributionID)
	if err != nil {
		return nil, err
	}

	hasActive, err := s.requests.HasActiveRequest(ctx, principal.ID, dist.ID)
	if err != nil {
		log.Error().Err(err).Msg("failed to check active requests")
		return nil, NewInternal("internal_error", "Failed to submit access request")
	}

	decision := policy.Evaluate(policy.Input{
		Principal:        principal,
		License:          license,
		Distribution:     dist,
		HasActiveRequest: hasActive,
		Now:              time.Now().UTC(),
	})
	if !decision.Allow {
		metrics.RequestsSubmitted.WithLabelValues(string(decision.Reason)).Inc()
		return nil, policyDeniedError(decision.Reason)
	}

	req := &model.AccessRequest{
		RequesterID:    principal.ID,
		DistributionID: dist.ID,
		Status:         model.StatusPending,
		Priority:       input.Priority,
		Justification:  input.Justification,
	}
	if err := s.requests.CreateAccessRequest(ctx, req); err != nil {
		if errors.Is(err, store.ErrDuplicateActive) {
			// Lost a submission race; same answer as the policy check.
			metrics.RequestsSubmitted.WithLabelValues(string(policy.DenyDuplicateRequest)).Inc()
			return nil, policyDeniedError(policy.DenyDuplicateRequest)
		}
		log.Error().Err(err).Msg("failed to create access request")
		return nil, NewInternal("internal_error", "Failed to submit access request")
	}
	metrics.RequestsSubmitted.WithLabelValues("accepted").Inc()

	result := &SubmitResult{Request: req}
	if decision.AutoApprove {
		approved, issued, err := s.approve(ctx, req.ID, nil, "")
		if err != nil {
			// The pending request stands; a reviewer can still approve it.
			log.Error().Err(err).Str("request_id", req.ID.String()).Msg("auto-approval failed, request left pending")
			return result, nil
		}
		result.Request = approved
		result.IssuedKey = issued
	}
	return result, nil
}

// Claim moves a pending request into review. Claiming a request that is
// already under review is a no-op, so concurrent reviewer UIs don't error.
func (s *RequestService) Claim(ctx context.Context, reviewer *model.Principal, id uuid.UUID) (*model.AccessRequest, error) {
	req, err := s.requests.TransitionAccessRequest(ctx, id,
		[]model.RequestStatus{model.StatusPending},
		store.RequestTransition{To: model.StatusUnderReview})
	if err == nil {
		metrics.ReviewDecisions.WithLabelValues("claim").Inc()
		return req, nil
	}
	if errors.Is(err, store.ErrStaleState) {
		current, getErr := s.requests.GetAccessRequest(ctx, id)
		if getErr == nil && current.Status == model.StatusUnderReview {
			return current, nil
		}
		return nil, NewConflict("stale_state", "Request is no longer claimable")
	}
	return nil, s.mapStoreError(err, "Failed to claim request")
}

// Approve transitions a request to approved and mints its credential.
// Concurrent approve/reject attempts resolve to exactly one winner; the
// loser gets a stale_state conflict and no side effects.
func (s *RequestService) Approve(ctx context.Context, reviewer *model.Principal, id uuid.UUID, notes string) (*model.AccessRequest, *model.IssuedKey, error) {
	if !reviewer.HasRole(model.RoleAdmin) {
		return nil, nil, NewForbidden("forbidden", "Approval requires admin capability")
	}
	req, issued, err := s.approve(ctx, id, &reviewer.ID, notes)
	if err != nil {
		return nil, nil, err
	}
	metrics.ReviewDecisions.WithLabelValues("approve").Inc()
	return req, issued, nil
}

func (s *RequestService) approve(ctx context.Context, id uuid.UUID, approverID *uuid.UUID, notes string) (*model.AccessRequest, *model.IssuedKey, error) {
	pending, err := s.requests.GetAccessRequest(ctx, id)
	if err != nil {
		return nil, nil, s.mapStoreError(err, "Failed to load request")
	}

	dist, license, resource, err := s.loadDistribution(ctx, pending.DistributionID)
	if err != nil {
		return nil, nil, err
	}

	// An earlier approval may have committed the transition and then failed
	// the mint. Finish the mint here so retrying the approval converges
	// instead of reporting a stale transition.
	if pending.Status == model.StatusApproved {
		_, credErr := s.credentials.store.GetCredentialByRequestID(ctx, pending.ID)
		switch {
		case errors.Is(credErr, store.ErrNotFound):
			issued, err := s.credentials.Issue(ctx, pending, resource.ID, model.EffectiveLimits(license, dist))
			if err != nil {
				return nil, nil, err
			}
			return pending, issued, nil
		case credErr != nil:
			log.Error().Err(credErr).Str("request_id", pending.ID.String()).Msg("failed to check for existing credential")
			return nil, nil, NewInternal("internal_error", "Failed to approve request")
		default:
			return nil, nil, NewConflict("stale_state", "Request is already approved")
		}
	}

	now := time.Now().UTC()
	change := store.RequestTransition{
		To:         model.StatusApproved,
		ReviewedAt: &now,
		ApproverID: approverID,
	}
	if notes != "" {
		change.AdminNotes = &notes
	}
	if license.GrantDuration > 0 {
		expiry := now.AddDate(0, 0, license.GrantDuration)
		change.ExpiresAt = &expiry
	}

	req, err := s.requests.TransitionAccessRequest(ctx, id,
		[]model.RequestStatus{model.StatusPending, model.StatusUnderReview}, change)
	if err != nil {
		return nil, nil, s.mapStoreError(err, "Failed to approve request")
	}

	issued, err := s.credentials.Issue(ctx, req, resource.ID, model.EffectiveLimits(license, dist))
	if err != nil {
		return nil, nil, err
	}
	return req, issued, nil
}

// Reject transitions a request to rejected. A rejection reason from the
// fixed enum is mandatory.
func (s *RequestService) Reject(ctx context.Context, reviewer *model.Principal, id uuid.UUID, reason model.RejectionReason, notes string) (*model.AccessRequest, error) {
	if !model.ValidRejectionReason(reason) {
		return nil, NewBadRequest("invalid_request", "invalid rejection reason")
	}

	now := time.Now().UTC()
	change := store.RequestTransition{
		To:              model.StatusRejected,
		ReviewedAt:      &now,
		ApproverID:      &reviewer.ID,
		RejectionReason: reason,
	}
	if notes != "" {
		change.AdminNotes = &notes
	}

	req, err := s.requests.TransitionAccessRequest(ctx, id,
		[]model.RequestStatus{model.StatusPending, model.StatusUnderReview}, change)
	if err != nil {
		return nil, s.mapStoreError(err, "Failed to reject request")
	}
	metrics.ReviewDecisions.WithLabelValues("reject").Inc()
	return req, nil
}

// Revoke withdraws an approved grant and cascades to its credential.
func (s *RequestService) Revoke(ctx context.Context, admin *model.Principal, id uuid.UUID, reason string) (*model.AccessRequest, error) {
	if !admin.HasRole(model.RoleAdmin) {
		return nil, NewForbidden("forbidden", "Revocation requires admin capability")
	}

	req, err := s.requests.TransitionAccessRequest(ctx, id,
		[]model.RequestStatus{model.StatusApproved},
		store.RequestTransition{To: model.StatusRevoked})
	if err != nil {
		return nil, s.mapStoreError(err, "Failed to revoke request")
	}
	metrics.ReviewDecisions.WithLabelValues("revoke").Inc()

	if s.credentials != nil {
		if cred, err := s.credentials.store.GetCredentialByRequestID(ctx, id); err == nil {
			if _, err := s.credentials.Revoke(ctx, cred.ID, admin.ID, reason); err != nil {
				log.Error().Err(err).Str("request_id", id.String()).Msg("credential cascade revoke failed")
			}
		}
	}
	return req, nil
}

func (s *RequestService) Get(ctx context.Context, id uuid.UUID) (*model.AccessRequest, error) {
	req, err := s.requests.GetAccessRequest(ctx, id)
	if err != nil {
		return nil, s.mapStoreError(err, "Failed to load request")
	}
	return req, nil
}

func (s *RequestService) List(ctx context.Context, filters store.RequestFilters) ([]*model.AccessRequest, int, error) {
	reqs, total, err := s.requests.ListAccessRequests(ctx, filters)
	if err != nil {
		log.Error().Err(err).Msg("failed to list access requests")
		return nil, 0, NewInternal("internal_error", "Failed to list requests")
	}
	return reqs, total, nil
}

func (s *RequestService) loadDistribution(ctx context.Context, id uuid.UUID) (*model.Distribution, *model.License, *model.Resource, error) {
	dist, err := s.content.GetDistribution(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, nil, NewNotFound("not_found", "Distribution not found")
		}
		log.Error().Err(err).Msg("failed to load distribution")
		return nil, nil, nil, NewInternal("internal_error", "Failed to load distribution")
	}
	if !dist.Active {
		return nil, nil, nil, NewNotFound("not_found", "Distribution not found")
	}

	resource, err := s.content.GetResource(ctx, dist.ResourceID)
	if err != nil {
		log.Error().Err(err).Msg("failed to load resource")
		return nil, nil, nil, NewInternal("internal_error", "Failed to load resource")
	}
	if !resource.Published() {
		// Unpublished resources behave exactly like inactive licenses.
		return nil, nil, nil, policyDeniedError(policy.DenyLicenseInactive)
	}

	license, err := s.content.GetLicenseForResource(ctx, dist.ResourceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, nil, policyDeniedError(policy.DenyLicenseInactive)
		}
		log.Error().Err(err).Msg("failed to load license")
		return nil, nil, nil, NewInternal("internal_error", "Failed to load license")
	}

	return dist, license, resource, nil
}

func (s *RequestService) mapStoreError(err error, fallback string) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return NewNotFound("not_found", "Request not found")
	case errors.Is(err, store.ErrStaleState):
		return NewConflict("stale_state", "Request was modified concurrently")
	default:
		log.Error().Err(err).Msg(fallback)
		return NewInternal("internal_error", fallback)
	}
}

func policyDeniedError(reason policy.DenyReason) *Error {
	switch reason {
	case policy.DenyDuplicateRequest:
		return NewConflict(string(reason), "An active request for this distribution already exists")
	case policy.DenyGeoRestricted:
		return NewForbidden(string(reason), "This license is not available in your region")
	default:
		return NewForbidden(string(reason), "The license for this distribution is not active")
	}
}
