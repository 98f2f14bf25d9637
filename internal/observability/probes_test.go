package observability

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crenshan/experiment-factory/internal/config"
)

func testServer(checkers ...Checker) *Server {
	cfg := &config.ObservabilityConfig{
		Port:          "0",
		Timeout:       200 * time.Millisecond,
		LivenessPath:  "/healthz",
		ReadinessPath: "/readyz",
		MetricsPath:   "/metrics",
	}
	return NewServer(slog.New(slog.NewTextHandler(io.Discard, nil)), cfg, checkers...)
}

func healthy(name string) Checker {
	return CheckerFunc{ComponentName: name, Fn: func(context.Context) error { return nil }}
}

func failing(name string, err error) Checker {
	return CheckerFunc{ComponentName: name, Fn: func(context.Context) error { return err }}
}

func TestServer_Probes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		checkers   []Checker
		path       string
		wantStatus int
		wantReport *ReadinessReport
	}{
		{
			name:       "Should answer liveness without running checkers",
			checkers:   []Checker{failing("postgres", errors.New("boom"))},
			path:       "/healthz",
			wantStatus: http.StatusOK,
		},
		{
			name:       "Should be ready when every dependency is up",
			checkers:   []Checker{healthy("postgres"), healthy("redis")},
			path:       "/readyz",
			wantStatus: http.StatusOK,
			wantReport: &ReadinessReport{Ready: true, Status: map[string]string{"postgres": "up", "redis": "up"}},
		},
		{
			name:       "Should report 503 when one dependency is down",
			checkers:   []Checker{healthy("postgres"), failing("redis", errors.New("connection refused"))},
			path:       "/readyz",
			wantStatus: http.StatusServiceUnavailable,
			wantReport: &ReadinessReport{Status: map[string]string{"postgres": "up", "redis": "down: connection refused"}},
		},
		{
			name:       "Should be ready with no dependencies",
			path:       "/readyz",
			wantStatus: http.StatusOK,
			wantReport: &ReadinessReport{Ready: true, Status: map[string]string{}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := httptest.NewRecorder()
			testServer(tt.checkers...).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantReport == nil {
				return
			}

			var got ReadinessReport
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
			assert.Equal(t, *tt.wantReport, got)
		})
	}
}

func TestServer_ReadinessTimeout(t *testing.T) {
	t.Parallel()

	slow := CheckerFunc{ComponentName: "slow", Fn: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}

	rec := httptest.NewRecorder()
	testServer(slow).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "deadline exceeded")
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()

	AssignmentsTotal.WithLabelValues(OutcomeCreated).Add(0)

	rec := httptest.NewRecorder()
	testServer().Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "factory_engine_assignments_total")
}
