package service

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quranhub/access-gate/internal/metrics"
	"github.com/quranhub/access-gate/internal/store"
)

// CounterPruner is implemented by stores that keep window counters and can
// discard finished windows.
type CounterPruner interface {
	PruneCounters(ctx context.Context, cutoff time.Time) (int64, error)
}

// Sweeper time-expires stale requests and credentials. Every transition it
// performs is a set-based compare-and-swap on status, so concurrent sweep
// workers and mid-run kills are safe; re-running is a no-op.
type Sweeper struct {
	requests    store.AccessRequestStore
	credentials store.CredentialStore
	pruner      CounterPruner
	pendingSLA  time.Duration
}

func NewSweeper(requests store.AccessRequestStore, credentials store.CredentialStore, pruner CounterPruner, pendingSLA time.Duration) *Sweeper {
	return &Sweeper{
		requests:    requests,
		credentials: credentials,
		pruner:      pruner,
		pendingSLA:  pendingSLA,
	}
}

// SweepResult summarizes one pass.
type SweepResult struct {
	ApprovedExpired    int `json:"approved_expired"`
	CredentialsExpired int `json:"credentials_expired"`
	ReviewsExpired     int `json:"reviews_expired"`
}

// RunOnce performs a single sweep pass.
func (s *Sweeper) RunOnce(ctx context.Context) (*SweepResult, error) {
	now := time.Now().UTC()
	result := &SweepResult{}

	expired, err := s.requests.ExpireApprovedRequests(ctx, now)
	if err != nil {
		return nil, NewInternal("internal_error", "Sweep failed expiring approved requests")
	}
	result.ApprovedExpired = len(expired)
	if len(expired) > 0 {
		metrics.SweepTransitions.WithLabelValues("approved").Add(float64(len(expired)))
	}

	// The cascade joins on expired requests and runs every pass, so a pass
	// that fails here is caught up by the next one. Authentication rejects
	// these credentials through the request-status check in the meantime.
	swept, err := s.credentials.ExpireCredentialsForExpiredRequests(ctx)
	if err != nil {
		log.Error().Err(err).Msg("sweep credential cascade failed")
	}
	result.CredentialsExpired = int(swept)

	stale, err := s.requests.ExpireStaleReviews(ctx, now.Add(-s.pendingSLA))
	if err != nil {
		return nil, NewInternal("internal_error", "Sweep failed expiring stale reviews")
	}
	result.ReviewsExpired = len(stale)
	if len(stale) > 0 {
		metrics.SweepTransitions.WithLabelValues("pending").Add(float64(len(stale)))
	}

	if s.pruner != nil {
		if _, err := s.pruner.PruneCounters(ctx, now.Add(-48*time.Hour)); err != nil {
			log.Warn().Err(err).Msg("rate counter prune failed")
		}
	}

	log.Info().
		Int("approved_expired", result.ApprovedExpired).
		Int("credentials_expired", result.CredentialsExpired).
		Int("reviews_expired", result.ReviewsExpired).
		Msg("sweep pass complete")
	return result, nil
}

// Run executes sweep passes on a fixed interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				log.Error().Err(err).Msg("sweep pass failed")
			}
		}
	}
}
