//go:build integration

package dataapi_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/crenshan/experiment-factory/internal/dataapi"
	"github.com/crenshan/experiment-factory/internal/testsupport"
)

func TestApiMetrics_Integration(t *testing.T) {
	env := setupRedisEnv(t)
	ctx := context.Background()

	t.Run("records invalidation metrics", func(t *testing.T) {
		testsupport.AssertMetricDeltaAsync(t, "factory_data_plane_l1_invalidations_total", nil, 1, func() {
			require.NoError(t, env.l2.PublishInvalidation(ctx, "target-experiment"))
		})
	})

	t.Run("degrades to the store when Redis is down", func(t *testing.T) {
		id := fmt.Sprintf("degraded-%d", time.Now().UnixNano())
		seedExperiment(t, env, id)

		require.NoError(t, env.l2.Close()) // Sabotage Redis

		labels := map[string]string{"method": dataapi.MethodGetAssignment, "code": "OK"}
		testsupport.AssertMetricDelta(t, "factory_data_plane_grpc_requests_total", labels, 1, func() {
			_, err := env.client.GetAssignment(anonymous("visitor-1"), &dataapi.GetAssignmentRequest{ExperimentID: id})
			require.NoError(t, err)
		})

		// Both the L2 read and the backfill fail.
		testsupport.AssertMetricDelta(t, "factory_cache_l2_errors_total", map[string]string{"cache": "experiment"}, 2, func() {
			_, err := env.client.LogEvent(anonymous("visitor-1"), &dataapi.LogEventRequest{ExperimentID: id, VariantID: "A", Type: "EXPOSURE"})
			require.NoError(t, err)
		})
	})
}
