// Package controlapi implements the HTTP control plane: experiment administration,
// metrics reports, and HTTP access to the assignment and event operations.
package controlapi

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/crenshan/experiment-factory/internal/config"
	"github.com/crenshan/experiment-factory/internal/engine"
	"github.com/crenshan/experiment-factory/internal/experiment"
	"github.com/crenshan/experiment-factory/internal/identity"
	"github.com/crenshan/experiment-factory/internal/store"
)

// Engine is the subset of engine.Service the handlers call.
type Engine interface {
	GetAssignment(ctx context.Context, id identity.Identity, experimentID string) (*experiment.Assignment, error)
	LogEvent(ctx context.Context, id identity.Identity, in engine.LogEventInput) (*experiment.Event, error)
	ExperimentMetrics(ctx context.Context, id identity.Identity, experimentID string) (*experiment.Metrics, error)
	CreateExperiment(ctx context.Context, id identity.Identity, in engine.CreateExperimentInput) (*experiment.Experiment, error)
	UpdateExperiment(ctx context.Context, id identity.Identity, experimentID string, patch store.ExperimentPatch) (*experiment.Experiment, error)
	GetExperiment(ctx context.Context, id identity.Identity, experimentID string) (*experiment.Experiment, error)
	ListExperiments(ctx context.Context, id identity.Identity, limit, offset int) ([]*experiment.Experiment, int64, error)
}

// UpdatePublisher enqueues changed experiments for the syncer. cache.RedisCache satisfies it.
type UpdatePublisher interface {
	PublishUpdate(ctx context.Context, experimentID string, version int64) error
}

// API holds the router and the dependencies of the control plane handlers.
type API struct {
	Router *chi.Mux

	logger    *slog.Logger
	engine    Engine
	publisher UpdatePublisher
	resolver  *identity.Resolver

	anonymousCookie string
	anonymousHeader string
	maxBodyBytes    int64

	notifyTimeout    time.Duration
	notifyMaxRetries int
	notifyBaseDelay  time.Duration
	notifications    sync.WaitGroup
}

// NewAPI wires the control plane. Every dependency is required.
func NewAPI(
	logger *slog.Logger,
	eng Engine,
	publisher UpdatePublisher,
	resolver *identity.Resolver,
	cfg *config.ControlPlaneConfig,
	auth *config.AuthConfig,
) *API {
	if eng == nil {
		panic("controlapi: engine cannot be nil")
	}
	if publisher == nil {
		panic("controlapi: update publisher cannot be nil")
	}
	if resolver == nil || cfg == nil || auth == nil {
		panic("controlapi: resolver and configuration are required")
	}

	api := &API{
		Router:           chi.NewRouter(),
		logger:           logger.With(slog.String("component", "controlapi")),
		engine:           eng,
		publisher:        publisher,
		resolver:         resolver,
		anonymousCookie:  auth.AnonymousCookie,
		anonymousHeader:  auth.AnonymousHeader,
		maxBodyBytes:     cfg.MaxBodyBytes,
		notifyTimeout:    cfg.NotifyTimeout,
		notifyMaxRetries: cfg.NotifyMaxRetries,
		notifyBaseDelay:  100 * time.Millisecond,
	}

	api.configureRoutes()
	return api
}

// WaitNotifications blocks until in-flight cache notifications finish or ctx is done.
func (a *API) WaitNotifications(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		a.notifications.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *API) configureRoutes() {
	a.Router.Use(middleware.RequestID)
	a.Router.Use(middleware.RealIP)
	a.Router.Use(a.requestLogger)
	a.Router.Use(metricsMiddleware)
	a.Router.Use(middleware.Recoverer)
	a.Router.Use(render.SetContentType(render.ContentTypeJSON))

	a.Router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeErrorResponse(w, r, http.StatusNotFound, "ERR_NOT_FOUND", "Route not found")
	})
	a.Router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeErrorResponse(w, r, http.StatusMethodNotAllowed, "ERR_METHOD_NOT_ALLOWED", "Method not allowed")
	})

	a.Router.Get("/health", a.handleHealthCheck)

	a.Router.Route("/api/v1", func(r chi.Router) {
		r.Use(a.resolveIdentity)
		r.Use(a.limitBody)

		r.Route("/experiments", func(r chi.Router) {
			r.Post("/", a.handleCreateExperiment)
			r.Get("/", a.handleListExperiments)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", a.handleGetExperiment)
				r.Patch("/", a.handleUpdateExperiment)
				r.Get("/metrics", a.handleExperimentMetrics)
				r.Get("/assignment", a.handleGetAssignment)
				r.Post("/events", a.handleLogEvent)
			})
		})
	})
}

// handleHealthCheck reports that the HTTP server is serving. Dependency checks
// live on the observability server's readiness probe.
func (a *API) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]string{"status": "ok"})
}
