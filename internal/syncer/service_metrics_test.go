//go:build integration

package syncer_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/crenshan/experiment-factory/internal/cache"
	"github.com/crenshan/experiment-factory/internal/config"
	"github.com/crenshan/experiment-factory/internal/experiment"
	"github.com/crenshan/experiment-factory/internal/store"
	"github.com/crenshan/experiment-factory/internal/syncer"
	"github.com/crenshan/experiment-factory/internal/testsupport"
)

func TestSyncer_Metrics_Integration(t *testing.T) {
	env := setupIntegration(t)
	ctx := context.Background()

	cfg := config.SyncerConfig{
		PopTimeout:             100 * time.Millisecond,
		HydrationCheckInterval: time.Hour,
		MaxRetries:             1,
		BaseRetryDelay:         time.Millisecond,
		HydrationConcurrency:   2,
	}

	t.Run("Should record job processing metrics on successful event", func(t *testing.T) {
		require.NoError(t, env.spy.FlushAll(ctx).Err())

		exp := &experiment.Experiment{ID: fmt.Sprintf("metric-success-%d", time.Now().UnixNano()), Name: "Metric test"}
		require.NoError(t, env.repo.CreateExperiment(ctx, exp))

		runSyncer(t, syncer.New(discard, cfg, env.repo, env.cache))
		require.Eventually(t, func() bool {
			ok, _ := env.cache.IsHydrated(ctx)
			return ok
		}, 5*time.Second, 50*time.Millisecond)

		name := "Metric test v2"
		updated, err := env.repo.UpdateExperiment(ctx, exp.ID, store.ExperimentPatch{Name: &name})
		require.NoError(t, err)

		testsupport.AssertMetricDeltaAsync(t, "factory_syncer_jobs_total", map[string]string{"status": "success"}, 1, func() {
			require.NoError(t, env.cache.PublishUpdate(ctx, exp.ID, updated.Version))
		})

		testsupport.AssertHistogramRecorded(t, "factory_syncer_job_processing_duration_seconds", nil)
	})

	t.Run("Should count stale jobs as skipped", func(t *testing.T) {
		require.NoError(t, env.spy.FlushAll(ctx).Err())

		exp := &experiment.Experiment{ID: fmt.Sprintf("metric-skip-%d", time.Now().UnixNano()), Name: "Skip test"}
		require.NoError(t, env.repo.CreateExperiment(ctx, exp))

		runSyncer(t, syncer.New(discard, cfg, env.repo, env.cache))
		require.Eventually(t, func() bool {
			ok, _ := env.cache.IsHydrated(ctx)
			return ok
		}, 5*time.Second, 50*time.Millisecond)

		testsupport.AssertMetricDeltaAsync(t, "factory_syncer_jobs_total", map[string]string{"status": "skipped"}, 1, func() {
			require.NoError(t, env.cache.PublishUpdate(ctx, exp.ID, exp.Version))
		})
	})

	t.Run("Should track queue depth over time", func(t *testing.T) {
		require.NoError(t, env.spy.FlushAll(ctx).Err())

		for i := range 3 {
			require.NoError(t, env.cache.PublishUpdate(ctx, fmt.Sprintf("queue-test-%d", i), 1))
		}

		monitorCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		cache.RunQueueMonitor(monitorCtx, env.cache, 100*time.Millisecond)

		require.Equal(t, float64(3), testsupport.GetMetricValue(t, "factory_redis_queue_depth", nil),
			"queue depth metric should reflect the 3 queued messages")
	})
}
