package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/quranhub/access-gate/internal/metrics"
	"github.com/quranhub/access-gate/internal/model"
	"github.com/quranhub/access-gate/internal/ratelimit"
	"github.com/quranhub/access-gate/internal/store"
	"github.com/quranhub/access-gate/internal/usage"
)

// GatewayService admits authenticated distribution calls: rate-limit check,
// then usage recording. It holds no state of its own, so replicas scale
// horizontally.
type GatewayService struct {
	credentials *CredentialService
	content     store.ContentStore
	credStore   store.CredentialStore
	limiter     *ratelimit.Limiter
	recorder    *usage.Recorder
}

func NewGatewayService(credentials *CredentialService, content store.ContentStore, credStore store.CredentialStore, limiter *ratelimit.Limiter, recorder *usage.Recorder) *GatewayService {
	return &GatewayService{
		credentials: credentials,
		content:     content,
		credStore:   credStore,
		limiter:     limiter,
		recorder:    recorder,
	}
}

// CallInput describes one inbound distribution call.
type CallInput struct {
	Secret         string
	DistributionID uuid.UUID
	Endpoint       string
	EventType      model.UsageEventType
	Cost           int64
	CallerIP       string
	UserAgent      string
	RequestBytes   int64
}

// CallResult is returned for admitted calls; the rate-limit fields feed the
// response headers.
type CallResult struct {
	Credential   *model.Credential
	Distribution *model.Distribution
	Limit        int
	Remaining    int
	ResetAt      time.Time

	// event is the pending usage record; Finalize completes and writes it
	// once the response has been streamed.
	event *model.UsageEvent
}

// Authorize authenticates and admits one call. On rate-limit rejection the
// RateLimitEvent is written synchronously before the error returns; on
// admission the UsageEvent is prepared here and written by Finalize, so it
// carries the bytes actually sent back to the caller.
func (s *GatewayService) Authorize(ctx context.Context, input CallInput) (*CallResult, error) {
	cred, err := s.credentials.Authenticate(ctx, input.Secret)
	if err != nil {
		metrics.GatewayCalls.WithLabelValues("auth_failed").Inc()
		return nil, err
	}

	if cred.DistributionID != input.DistributionID {
		metrics.GatewayCalls.WithLabelValues("forbidden").Inc()
		return nil, NewForbidden("forbidden", "Credential is not scoped to this distribution")
	}

	if !ipAllowed(cred.AllowedIPs, input.CallerIP) {
		metrics.GatewayCalls.WithLabelValues("forbidden").Inc()
		return nil, NewForbidden("ip_not_allowed", "Caller IP is not on the credential allow list")
	}

	dist, err := s.content.GetDistribution(ctx, input.DistributionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, NewNotFound("not_found", "Distribution not found")
		}
		log.Error().Err(err).Msg("failed to load distribution")
		return nil, NewInternal("internal_error", "Failed to load distribution")
	}
	if !dist.Active {
		// The CMS pulled the distribution; existing credentials stop serving.
		return nil, NewNotFound("not_found", "Distribution not found")
	}

	decision, err := s.limiter.Admit(ctx, cred.ID, cred.Limits, input.Cost)
	if err != nil {
		log.Error().Err(err).Msg("rate limiter unavailable")
		return nil, NewUnavailable("rate_limiter_unavailable", "Rate limiting temporarily unavailable")
	}

	if !decision.Admitted {
		metrics.GatewayCalls.WithLabelValues("rate_limited").Inc()
		metrics.RateLimitRejections.WithLabelValues(string(decision.Window)).Inc()

		// Audit trail before the rejection is returned.
		ev := &model.RateLimitEvent{
			CredentialID:   cred.ID,
			DistributionID: dist.ID,
			Window:         decision.Window,
			Limit:          decision.Limit,
			Endpoint:       input.Endpoint,
			CallerIP:       input.CallerIP,
		}
		if err := s.recorder.RecordRejection(ctx, ev); err != nil {
			log.Error().Err(err).Msg("failed to record rate-limit event")
		}
		return nil, NewRateLimited("rate_limited", "Rate limit exceeded for "+string(decision.Window)+" window", decision.RetryAfter)
	}

	now := time.Now().UTC()
	if err := s.credStore.TouchCredential(ctx, cred.ID, now, input.CallerIP); err != nil {
		log.Warn().Err(err).Msg("failed to update credential usage stamp")
	}

	eventType := input.EventType
	if eventType == "" {
		eventType = model.UsageAPICall
	}
	metrics.GatewayCalls.WithLabelValues("admitted").Inc()

	return &CallResult{
		Credential:   cred,
		Distribution: dist,
		Limit:        decision.Limit,
		Remaining:    decision.Remaining,
		ResetAt:      decision.ResetAt,
		event: &model.UsageEvent{
			ActorID:        cred.OwnerID,
			ResourceID:     dist.ResourceID,
			DistributionID: dist.ID,
			CredentialID:   cred.ID,
			Type:           eventType,
			Endpoint:       input.Endpoint,
			RequestBytes:   input.RequestBytes,
			CallerIP:       input.CallerIP,
			UserAgent:      input.UserAgent,
			OccurredAt:     now,
		},
	}, nil
}

// Finalize records the usage event for an admitted call after the response
// has been written. Exactly one event is recorded per admission.
func (s *GatewayService) Finalize(ctx context.Context, result *CallResult, responseBytes int64) {
	if result == nil || result.event == nil {
		return
	}
	result.event.ResponseBytes = responseBytes
	s.recorder.Record(ctx, result.event)
	result.event = nil
}

func ipAllowed(allowed []string, callerIP string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, ip := range allowed {
		if ip == callerIP {
			return true
		}
	}
	return false
}
