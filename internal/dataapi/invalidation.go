package dataapi

import (
	"context"
	"log/slog"
	"time"

	"github.com/crenshan/experiment-factory/internal/observability"
)

// InvalidationSource delivers experiment ids whose cached definitions changed.
// cache.RedisCache implements it.
type InvalidationSource interface {
	SubscribeInvalidations(ctx context.Context, fn func(experimentID string)) error
}

// Invalidator drops in-process cache entries. cache.ExperimentReader implements it.
type Invalidator interface {
	Invalidate(experimentID string)
	Purge()
}

const maxResubscribeDelay = 30 * time.Second

// RunInvalidationListener keeps L1 consistent with the syncer's invalidation
// messages until ctx is done. When the subscription drops it is re-established
// with backoff and the whole L1 is purged, since messages may have been missed.
func RunInvalidationListener(ctx context.Context, log *slog.Logger, src InvalidationSource, l1 Invalidator, baseDelay time.Duration) {
	log = log.With(slog.String("component", "invalidation_listener"))
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	delay := baseDelay

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			l1.Purge()
		}

		err := src.SubscribeInvalidations(ctx, func(id string) {
			observability.DataPlaneInvalidations.Inc()
			l1.Invalidate(id)
			log.Debug("l1 entry invalidated", slog.String("experiment_id", id))
			delay = baseDelay
		})
		if ctx.Err() != nil {
			log.Info("invalidation listener stopped")
			return
		}

		if err != nil {
			log.Error("invalidation subscription failed, retrying",
				slog.Int("attempt", attempt+1),
				slog.Duration("retry_in", delay),
				slog.String("error", err.Error()),
			)
		}

		select {
		case <-ctx.Done():
			log.Info("invalidation listener stopped")
			return
		case <-time.After(delay):
		}
		delay = min(delay*2, maxResubscribeDelay)
	}
}
