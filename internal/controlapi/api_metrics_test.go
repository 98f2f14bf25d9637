package controlapi_test

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/crenshan/experiment-factory/internal/testsupport"
)

func TestMetrics(t *testing.T) {
	// Prometheus collectors are global, so these scenarios run serially.
	env := newTestEnv(t)
	adminHeaders := map[string]string{"Authorization": "Bearer " + env.token(t, "uid-admin", "admin@example.com")}

	t.Run("records metrics for successful request", func(t *testing.T) {
		counterLabels := map[string]string{"method": "GET", "route": "/health", "code": "200"}

		testsupport.AssertMetricDelta(t, "factory_control_plane_http_requests_total", counterLabels, 1, func() {
			rr := httptest.NewRecorder()
			env.api.Router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
			require.Equal(t, http.StatusOK, rr.Code)
		})

		testsupport.AssertHistogramRecorded(t, "factory_control_plane_http_handling_seconds",
			map[string]string{"method": "GET", "route": "/health"})
	})

	t.Run("records metrics for business 404 (preserves route pattern)", func(t *testing.T) {
		labels := map[string]string{"method": "GET", "route": "/api/v1/experiments/{id}", "code": "404"}

		testsupport.AssertMetricDelta(t, "factory_control_plane_http_requests_total", labels, 1, func() {
			rr := env.do(t, http.MethodGet, "/api/v1/experiments/missing-exp-123", "", adminHeaders)
			require.Equal(t, http.StatusNotFound, rr.Code)
		})
	})

	t.Run("records metrics for infra 404 (collapses to not_found)", func(t *testing.T) {
		labels := map[string]string{"method": "GET", "route": "not_found", "code": "404"}

		testsupport.AssertMetricDelta(t, "factory_control_plane_http_requests_total", labels, 1, func() {
			rr := httptest.NewRecorder()
			env.api.Router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/admin.php", nil))
			require.Equal(t, http.StatusNotFound, rr.Code)
		})
	})

	t.Run("records metrics for bad request", func(t *testing.T) {
		labels := map[string]string{"method": "POST", "route": "/api/v1/experiments", "code": "400"}

		testsupport.AssertMetricDelta(t, "factory_control_plane_http_requests_total", labels, 1, func() {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/experiments", bytes.NewBufferString(`{invalid-json`))
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Authorization", adminHeaders["Authorization"])
			rr := httptest.NewRecorder()
			env.api.Router.ServeHTTP(rr, req)
			require.Equal(t, http.StatusBadRequest, rr.Code)
		})
	})

	t.Run("counts cache notifications", func(t *testing.T) {
		testsupport.AssertMetricDeltaAsync(t, "factory_control_plane_cache_notifications_total", map[string]string{"status": "success"}, 1, func() {
			rr := env.do(t, http.MethodPost, "/api/v1/experiments", `{"id":"notify-metric","name":"Notify"}`, adminHeaders)
			require.Equal(t, http.StatusCreated, rr.Code)
		})
	})
}
