package handler

import (
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quranhub/access-gate/internal/middleware"
	"github.com/quranhub/access-gate/internal/ratelimit"
	"github.com/quranhub/access-gate/internal/store"
)

type UsageHandler struct {
	store   store.UsageStore
	limiter *ratelimit.Limiter
}

func NewUsageHandler(s store.UsageStore, limiter *ratelimit.Limiter) *UsageHandler {
	return &UsageHandler{store: s, limiter: limiter}
}

type UsageResponse struct {
	KeyPrefix      string         `json:"key_prefix"`
	DistributionID string         `json:"distribution_id"`
	Status         string         `json:"status"`
	RateLimits     RateLimitInfo  `json:"rate_limits"`
	Remaining      *RemainingInfo `json:"remaining,omitempty"`
	TotalRequests  int64          `json:"total_requests"`
	LastUsedAt     string         `json:"last_used_at,omitempty"`
	ExpiresAt      string         `json:"expires_at,omitempty"`
}

type RateLimitInfo struct {
	PerMinute int `json:"requests_per_minute,omitempty"`
	PerHour   int `json:"requests_per_hour,omitempty"`
	PerDay    int `json:"requests_per_day,omitempty"`
}

// RemainingInfo is the tightest window's leftover capacity. Reading it does
// not consume a request.
type RemainingInfo struct {
	Window    string `json:"window"`
	Limit     int    `json:"limit"`
	Remaining int    `json:"remaining"`
	ResetAt   string `json:"reset_at"`
}

func (h *UsageHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cred := middleware.GetCredential(r.Context())
	if cred == nil {
		RespondError(w, http.StatusUnauthorized, "invalid_api_key", "Missing API key")
		return
	}

	total, err := h.store.CountUsageByCredential(r.Context(), cred.ID)
	if err != nil {
		log.Error().Err(err).Msg("failed to count usage events")
		total = cred.RequestCount
	}

	resp := UsageResponse{
		KeyPrefix:      cred.KeyPrefix,
		DistributionID: cred.DistributionID.String(),
		Status:         string(cred.Status),
		RateLimits: RateLimitInfo{
			PerMinute: cred.Limits.PerMinute,
			PerHour:   cred.Limits.PerHour,
			PerDay:    cred.Limits.PerDay,
		},
		TotalRequests: total,
	}

	if h.limiter != nil {
		decision, err := h.limiter.Remaining(r.Context(), cred.ID, cred.Limits)
		if err != nil {
			log.Warn().Err(err).Msg("failed to read remaining capacity")
		} else if decision != nil {
			resp.Remaining = &RemainingInfo{
				Window:    string(decision.Window),
				Limit:     decision.Limit,
				Remaining: decision.Remaining,
				ResetAt:   decision.ResetAt.Format(time.RFC3339),
			}
		}
	}

	if cred.LastUsedAt != nil {
		resp.LastUsedAt = cred.LastUsedAt.Format(time.RFC3339)
	}
	if cred.ExpiresAt != nil {
		resp.ExpiresAt = cred.ExpiresAt.Format(time.RFC3339)
	}

	RespondJSON(w, http.StatusOK, resp)
}
