package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/allocation-engine/generic"
)

var _ generic.OutboxSignal = (*Relay)(nil)

// Relay publishes committed outbox events. It wakes on Signal after each
// commit and on a fixed interval for events whose publish failed earlier.
type Relay struct {
	Store     generic.OutboxStore
	Publisher generic.Publisher
	Logger    *zap.Logger
	BatchSize int
	Now       func() time.Time

	wake chan struct{}
	mu   sync.Mutex
}

func NewRelay(store generic.OutboxStore, pub generic.Publisher, logger *zap.Logger) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{
		Store:     store,
		Publisher: pub,
		Logger:    logger,
		BatchSize: 100,
		Now:       time.Now,
		wake:      make(chan struct{}, 1),
	}
}

// Signal wakes Run without blocking; repeated signals coalesce.
func (r *Relay) Signal() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Run flushes on every signal and tick until ctx is done. A non-positive
// interval disables the tick; the scheduler then owns periodic retries.
func (r *Relay) Run(ctx context.Context, interval time.Duration) {
	var tick <-chan time.Time
	if interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.wake:
		case <-tick:
		}
		if _, err := r.Flush(ctx); err != nil {
			r.Logger.Warn("outbox flush failed", zap.Error(err))
		}
	}
}

// Flush publishes one batch of pending events and returns how many were delivered.
// A failed event stays pending for the next flush.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pending, err := r.Store.PendingOutbox(ctx, r.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("load pending events: %w", err)
	}
	delivered := 0
	for _, rec := range pending {
		if err := r.Publisher.Publish(ctx, rec.Event); err != nil {
			r.Logger.Warn("event publish failed",
				zap.String("id", rec.Event.ID),
				zap.String("type", rec.Event.Type),
				zap.Int("attempts", rec.Attempts+1),
				zap.Error(err))
			if err := r.Store.MarkOutboxFailed(ctx, rec.Event.ID, err.Error()); err != nil {
				return delivered, err
			}
			continue
		}
		if err := r.Store.MarkOutboxDelivered(ctx, rec.Event.ID, r.Now().UTC()); err != nil {
			return delivered, err
		}
		delivered++
	}
	return delivered, nil
}
