// Package usage owns the append-only call ledger. Recording an admitted call
// must never fail the call itself: failed writes are parked on a bounded
// retry queue and drained out-of-band.
package usage

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quranhub/access-gate/internal/metrics"
	"github.com/quranhub/access-gate/internal/model"
	"github.com/quranhub/access-gate/internal/store"
)

// Mirror receives a copy of each recorded usage event, for the analytics
// pipeline. Mirror failures are logged and ignored.
type Mirror interface {
	Publish(ctx context.Context, ev *model.UsageEvent) error
}

type Recorder struct {
	store        store.UsageStore
	mirror       Mirror
	queue        chan *model.UsageEvent
	done         chan struct{}
	writeTimeout time.Duration
	retryDelay   time.Duration
}

type RecorderOption func(*Recorder)

// WithMirror attaches an analytics mirror.
func WithMirror(m Mirror) RecorderOption {
	return func(r *Recorder) { r.mirror = m }
}

// WithQueueSize bounds the retry queue.
func WithQueueSize(n int) RecorderOption {
	return func(r *Recorder) { r.queue = make(chan *model.UsageEvent, n) }
}

func NewRecorder(s store.UsageStore, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		store:        s,
		queue:        make(chan *model.UsageEvent, 1024),
		done:         make(chan struct{}),
		writeTimeout: 5 * time.Second,
		retryDelay:   2 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start launches the retry worker. Call Close to drain and stop it.
func (r *Recorder) Start() {
	go r.retryLoop()
}

// Record appends one usage event. It never reports failure to the caller;
// a failed insert goes to the retry queue. If the caller's context is
// already cancelled the event is skipped entirely — an event write, once
// begun, runs on a detached context so it is never partially applied.
func (r *Recorder) Record(ctx context.Context, ev *model.UsageEvent) {
	if ctx.Err() != nil {
		return
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.writeTimeout)
	defer cancel()

	if err := r.store.InsertUsageEvent(writeCtx, ev); err != nil {
		metrics.UsageRecordFailures.Inc()
		log.Warn().Err(err).
			Str("credential_id", ev.CredentialID.String()).
			Msg("usage event write failed, queueing for retry")
		r.enqueue(ev)
		return
	}
	r.publishMirror(ev)
}

// RecordRejection writes a rate-limit event synchronously. The gateway calls
// this before returning the rejection so the audit trail never lags the
// decision.
func (r *Recorder) RecordRejection(ctx context.Context, ev *model.RateLimitEvent) error {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	return r.store.InsertRateLimitEvent(ctx, ev)
}

// Close stops the retry worker. Events still queued are flushed with one
// final attempt each.
func (r *Recorder) Close() {
	close(r.done)
}

func (r *Recorder) enqueue(ev *model.UsageEvent) {
	select {
	case r.queue <- ev:
		metrics.UsageRetryQueueDepth.Set(float64(len(r.queue)))
	default:
		metrics.UsageRecordDrops.Inc()
		log.Error().
			Str("credential_id", ev.CredentialID.String()).
			Msg("usage retry queue full, dropping event")
	}
}

func (r *Recorder) retryLoop() {
	for {
		select {
		case <-r.done:
			r.drain()
			return
		case ev := <-r.queue:
			metrics.UsageRetryQueueDepth.Set(float64(len(r.queue)))
			r.retryOne(ev)
		}
	}
}

func (r *Recorder) retryOne(ev *model.UsageEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), r.writeTimeout)
	err := r.store.InsertUsageEvent(ctx, ev)
	cancel()
	if err == nil {
		r.publishMirror(ev)
		return
	}

	log.Warn().Err(err).Msg("usage event retry failed")
	select {
	case <-r.done:
		metrics.UsageRecordDrops.Inc()
	case <-time.After(r.retryDelay):
		r.enqueue(ev)
	}
}

func (r *Recorder) drain() {
	for {
		select {
		case ev := <-r.queue:
			ctx, cancel := context.WithTimeout(context.Background(), r.writeTimeout)
			if err := r.store.InsertUsageEvent(ctx, ev); err != nil {
				metrics.UsageRecordDrops.Inc()
				log.Error().Err(err).Msg("dropping usage event at shutdown")
			}
			cancel()
		default:
			return
		}
	}
}

func (r *Recorder) publishMirror(ev *model.UsageEvent) {
	if r.mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.writeTimeout)
	defer cancel()
	if err := r.mirror.Publish(ctx, ev); err != nil {
		log.Warn().Err(err).Msg("usage mirror publish failed")
	}
}
