package controlapi

import (
	"context"
	"log/slog"
	"time"

	"github.com/crenshan/experiment-factory/internal/observability"
)

// notifyCacheAsync enqueues the changed experiment for the syncer in the
// background, retrying with exponential backoff. The request never waits for it
// and a failure leaves the stale entry until the next hydration.
func (a *API) notifyCacheAsync(log *slog.Logger, experimentID string, version int64) {
	a.notifications.Add(1)

	go func() {
		defer a.notifications.Done()

		for attempt := 0; ; attempt++ {
			ctx, cancel := context.WithTimeout(context.Background(), a.notifyTimeout)
			err := a.publisher.PublishUpdate(ctx, experimentID, version)
			cancel()

			if err == nil {
				observability.ControlPlaneNotifyTotal.WithLabelValues("success").Inc()
				return
			}

			if attempt >= a.notifyMaxRetries {
				observability.ControlPlaneNotifyTotal.WithLabelValues("fail").Inc()
				log.Error("failed to enqueue cache update after retries",
					slog.String("experiment_id", experimentID),
					slog.Int64("version", version),
					slog.Int("attempts", attempt+1),
					slog.String("error", err.Error()),
				)
				return
			}

			log.Warn("failed to enqueue cache update, retrying",
				slog.String("experiment_id", experimentID),
				slog.Int("attempt", attempt+1),
				slog.String("error", err.Error()),
			)
			time.Sleep(a.notifyBaseDelay * time.Duration(1<<attempt))
		}
	}()
}
