package usage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/quranhub/access-gate/internal/model"
)

type fakeUsageStore struct {
	mu          sync.Mutex
	events      []*model.UsageEvent
	rejections  []*model.RateLimitEvent
	failWrites  int // fail this many inserts before succeeding
	insertCalls int
}

func (f *fakeUsageStore) InsertUsageEvent(_ context.Context, ev *model.UsageEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.insertCalls++
	if f.failWrites > 0 {
		f.failWrites--
		return errors.New("storage unavailable")
	}
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeUsageStore) InsertRateLimitEvent(_ context.Context, ev *model.RateLimitEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejections = append(f.rejections, ev)
	return nil
}

func (f *fakeUsageStore) CountUsageByCredential(context.Context, uuid.UUID) (int64, error) {
	return 0, nil
}

func (f *fakeUsageStore) DailyUsage(context.Context, time.Time, time.Time) ([]*model.DailyUsage, error) {
	return nil, nil
}

func (f *fakeUsageStore) eventCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func testEvent() *model.UsageEvent {
	return &model.UsageEvent{
		ActorID:        uuid.New(),
		ResourceID:     uuid.New(),
		DistributionID: uuid.New(),
		CredentialID:   uuid.New(),
		Type:           model.UsageAPICall,
		Endpoint:       "/v1/verses/1:1",
	}
}

func TestRecord(t *testing.T) {
	t.Run("writes one event per call", func(t *testing.T) {
		fs := &fakeUsageStore{}
		r := NewRecorder(fs)

		for i := 0; i < 5; i++ {
			r.Record(context.Background(), testEvent())
		}
		if got := fs.eventCount(); got != 5 {
			t.Fatalf("recorded %d events, want 5", got)
		}
	})

	t.Run("write failure does not surface and is retried", func(t *testing.T) {
		fs := &fakeUsageStore{failWrites: 1}
		r := NewRecorder(fs)
		r.retryDelay = 10 * time.Millisecond
		r.Start()
		defer r.Close()

		r.Record(context.Background(), testEvent())
		if got := fs.eventCount(); got != 0 {
			t.Fatalf("event stored despite failure: %d", got)
		}

		deadline := time.After(2 * time.Second)
		for fs.eventCount() == 0 {
			select {
			case <-deadline:
				t.Fatal("retry never landed the event")
			case <-time.After(10 * time.Millisecond):
			}
		}
	})

	t.Run("cancelled context records nothing", func(t *testing.T) {
		fs := &fakeUsageStore{}
		r := NewRecorder(fs)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		r.Record(ctx, testEvent())

		if got := fs.eventCount(); got != 0 {
			t.Fatalf("cancelled call recorded %d events", got)
		}
	})

	t.Run("sets occurred_at when zero", func(t *testing.T) {
		fs := &fakeUsageStore{}
		r := NewRecorder(fs)

		r.Record(context.Background(), testEvent())
		fs.mu.Lock()
		defer fs.mu.Unlock()
		if fs.events[0].OccurredAt.IsZero() {
			t.Fatal("occurred_at left zero")
		}
	})
}

func TestRecordRejection(t *testing.T) {
	fs := &fakeUsageStore{}
	r := NewRecorder(fs)

	err := r.RecordRejection(context.Background(), &model.RateLimitEvent{
		CredentialID:   uuid.New(),
		DistributionID: uuid.New(),
		Window:         model.WindowMinute,
		Limit:          60,
		Endpoint:       "/v1/verses/1:1",
	})
	if err != nil {
		t.Fatalf("record rejection: %v", err)
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if len(fs.rejections) != 1 {
		t.Fatalf("recorded %d rejections, want 1", len(fs.rejections))
	}
	if fs.rejections[0].OccurredAt.IsZero() {
		t.Fatal("occurred_at left zero")
	}
}
