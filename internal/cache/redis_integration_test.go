//go:build integration

package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crenshan/experiment-factory/internal/cache"
	"github.com/crenshan/experiment-factory/internal/experiment"
	"github.com/crenshan/experiment-factory/internal/testsupport"
)

// startRedis returns the cache under test plus a raw client for peeking at stored
// values or injecting corruption.
func startRedis(t *testing.T) (*cache.RedisCache, *redis.Client) {
	t.Helper()
	ctx := context.Background()

	redisCtr, err := testsupport.StartRedisContainer(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = redisCtr.Terminate(context.Background()) })

	endpoint, err := redisCtr.Container.PortEndpoint(ctx, "6379/tcp", "")
	require.NoError(t, err)

	spy := redis.NewClient(&redis.Options{Addr: endpoint})
	t.Cleanup(func() { _ = spy.Close() })

	return redisCtr.Cache, spy
}

func TestRedisCache_ExperimentCAS_Integration(t *testing.T) {
	ctx := context.Background()
	appCache, spy := startRedis(t)

	exp := &experiment.Experiment{
		ID:       "checkout-button",
		Name:     "Checkout button",
		Status:   experiment.StatusRunning,
		Variants: experiment.DefaultVariants(),
		Version:  10,
	}
	redisKey := "factory:experiment:checkout-button"

	t.Run("Should insert a new experiment and return SetResultUpdated", func(t *testing.T) {
		res, err := appCache.SetExperimentSafely(ctx, exp)
		require.NoError(t, err)
		assert.Equal(t, cache.SetResultUpdated, res)

		val, err := spy.Get(ctx, redisKey).Result()
		require.NoError(t, err)
		assert.Contains(t, val, "10|")
		assert.Contains(t, val, `"name":"Checkout button"`)
	})

	t.Run("Should update when the version is higher", func(t *testing.T) {
		next := *exp
		next.Version = 11
		next.Status = experiment.StatusPaused

		res, err := appCache.SetExperimentSafely(ctx, &next)
		require.NoError(t, err)
		assert.Equal(t, cache.SetResultUpdated, res)

		got, err := appCache.GetExperiment(ctx, exp.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(11), got.Version)
		assert.Equal(t, experiment.StatusPaused, got.Status)
	})

	t.Run("Should skip lower and equal versions", func(t *testing.T) {
		for _, v := range []int64{5, 11} {
			stale := *exp
			stale.Version = v

			res, err := appCache.SetExperimentSafely(ctx, &stale)
			require.NoError(t, err)
			assert.Equal(t, cache.SetResultSkipped, res, "version %d", v)
		}

		val, _ := spy.Get(ctx, redisKey).Result()
		assert.Contains(t, val, "11|")
	})

	t.Run("Should repair a value without a version prefix", func(t *testing.T) {
		require.NoError(t, spy.Set(ctx, "factory:experiment:corrupted", `{"raw":"json_without_pipe"}`, 0).Err())

		res, err := appCache.SetExperimentSafely(ctx, &experiment.Experiment{ID: "corrupted", Version: 50})
		require.NoError(t, err)
		assert.Equal(t, cache.SetResultRepaired, res)

		val, _ := spy.Get(ctx, "factory:experiment:corrupted").Result()
		assert.Contains(t, val, "50|")
	})

	t.Run("Should report a miss for unknown and deleted experiments", func(t *testing.T) {
		_, err := appCache.GetExperiment(ctx, "unknown")
		assert.ErrorIs(t, err, cache.ErrCacheMiss)

		require.NoError(t, appCache.DeleteExperiment(ctx, exp.ID))
		_, err = appCache.GetExperiment(ctx, exp.ID)
		assert.ErrorIs(t, err, cache.ErrCacheMiss)
	})
}

func TestRedisCache_Assignments_Integration(t *testing.T) {
	ctx := context.Background()
	appCache, spy := startRedis(t)

	first := &experiment.Assignment{
		ExperimentID: "exp-1",
		UserKey:      "users/42",
		Variant:      experiment.Variant{ID: "A", Name: "Control", Weight: 50},
		AssignedAt:   time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC),
	}

	t.Run("Should store the first assignment with a TTL", func(t *testing.T) {
		stored, err := appCache.SetAssignment(ctx, first, time.Hour)
		require.NoError(t, err)
		assert.True(t, stored)

		ttl, err := spy.TTL(ctx, "factory:assignment:exp-1__users_42").Result()
		require.NoError(t, err)
		assert.Greater(t, ttl, time.Duration(0))
	})

	t.Run("Should never overwrite an existing assignment", func(t *testing.T) {
		other := *first
		other.Variant = experiment.Variant{ID: "B", Name: "Treatment", Weight: 50}

		stored, err := appCache.SetAssignment(ctx, &other, time.Hour)
		require.NoError(t, err)
		assert.False(t, stored)

		got, err := appCache.GetAssignment(ctx, "exp-1", "users/42")
		require.NoError(t, err)
		assert.Equal(t, "A", got.Variant.ID)
		assert.True(t, first.AssignedAt.Equal(got.AssignedAt))
	})

	t.Run("Should report a miss for unknown users", func(t *testing.T) {
		_, err := appCache.GetAssignment(ctx, "exp-1", "nobody")
		assert.ErrorIs(t, err, cache.ErrCacheMiss)
	})
}

func TestRedisCache_UpdateQueue_Integration(t *testing.T) {
	ctx := context.Background()
	appCache, _ := startRedis(t)

	t.Run("Should time out on an empty queue", func(t *testing.T) {
		_, _, ok, err := appCache.PopUpdate(ctx, 100*time.Millisecond)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Should pop updates in publish order", func(t *testing.T) {
		require.NoError(t, appCache.PublishUpdate(ctx, "exp:with:colons", 3))
		require.NoError(t, appCache.PublishUpdate(ctx, "exp-2", 7))

		depth, err := appCache.QueueDepth(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), depth)

		id, version, ok, err := appCache.PopUpdate(ctx, time.Second)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "exp:with:colons", id)
		assert.Equal(t, int64(3), version)

		id, version, ok, err = appCache.PopUpdate(ctx, time.Second)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "exp-2", id)
		assert.Equal(t, int64(7), version)
	})
}

func TestRedisCache_Invalidations_Integration(t *testing.T) {
	ctx := context.Background()
	appCache, _ := startRedis(t)

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	received := make(chan string, 1)
	done := make(chan error, 1)
	go func() {
		done <- appCache.SubscribeInvalidations(subCtx, func(id string) { received <- id })
	}()

	// The subscription is asynchronous; publish until it is observed.
	require.Eventually(t, func() bool {
		require.NoError(t, appCache.PublishInvalidation(ctx, "exp-9"))
		select {
		case id := <-received:
			return id == "exp-9"
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 100*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber did not stop after cancellation")
	}
}

func TestRedisCache_HydrationMarker_Integration(t *testing.T) {
	ctx := context.Background()
	appCache, spy := startRedis(t)

	hydrated, err := appCache.IsHydrated(ctx)
	require.NoError(t, err)
	assert.False(t, hydrated)

	require.NoError(t, appCache.MarkHydrated(ctx, time.Minute))

	hydrated, err = appCache.IsHydrated(ctx)
	require.NoError(t, err)
	assert.True(t, hydrated)

	require.NoError(t, spy.Del(ctx, "factory:sys:hydrated").Err())
	hydrated, err = appCache.IsHydrated(ctx)
	require.NoError(t, err)
	assert.False(t, hydrated)

	assert.NoError(t, appCache.HealthCheck(ctx))
}
