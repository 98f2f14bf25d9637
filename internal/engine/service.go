// Package engine orchestrates bucketing, storage and caching for the transports.
//
// Every operation takes the caller's identity.Identity explicitly. The engine
// never reads headers or tokens; the control and data planes resolve the
// identity at the boundary.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/crenshan/experiment-factory/internal/bucketing"
	"github.com/crenshan/experiment-factory/internal/experiment"
	"github.com/crenshan/experiment-factory/internal/identity"
	"github.com/crenshan/experiment-factory/internal/observability"
	"github.com/crenshan/experiment-factory/internal/report"
	"github.com/crenshan/experiment-factory/internal/store"
)

// MaxEventNameLength bounds the free-form event label.
const MaxEventNameLength = 255

// ExperimentReader loads experiment definitions, possibly from a cache.
// cache.ExperimentReader and every store.ExperimentRepository satisfy it.
type ExperimentReader interface {
	GetExperiment(ctx context.Context, id string) (*experiment.Experiment, error)
}

// AssignmentCache holds persisted assignments. cache.AssignmentCache satisfies it.
type AssignmentCache interface {
	Get(ctx context.Context, experimentID, userKey string) (*experiment.Assignment, bool)
	Put(ctx context.Context, a *experiment.Assignment)
}

// Authorizer gates administrative operations. identity.Allowlist satisfies it.
type Authorizer interface {
	RequireAdmin(id identity.Identity) error
}

// Service is the engine used by both planes and the CLI.
type Service struct {
	logger      *slog.Logger
	repo        store.Store
	admins      Authorizer
	experiments ExperimentReader
	assignments AssignmentCache
	now         func() time.Time
}

// Option customises a Service.
type Option func(*Service)

// WithExperimentReader routes event validation reads through r instead of the store.
func WithExperimentReader(r ExperimentReader) Option {
	return func(s *Service) { s.experiments = r }
}

// WithAssignmentCache consults c before the store and fills it afterwards.
func WithAssignmentCache(c AssignmentCache) Option {
	return func(s *Service) { s.assignments = c }
}

// WithClock overrides the time source used for report timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New builds a Service. repo and admins are required.
func New(logger *slog.Logger, repo store.Store, admins Authorizer, opts ...Option) *Service {
	if repo == nil {
		panic("engine: store cannot be nil")
	}
	if admins == nil {
		panic("engine: authorizer cannot be nil")
	}

	s := &Service{
		logger:      logger.With(slog.String("component", "engine")),
		repo:        repo,
		admins:      admins,
		experiments: repo,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetAssignment returns the caller's sticky variant, creating it on the first call.
func (s *Service) GetAssignment(ctx context.Context, id identity.Identity, experimentID string) (*experiment.Assignment, error) {
	userKey, err := requireCaller(id)
	if err != nil {
		return nil, err
	}
	if experimentID = strings.TrimSpace(experimentID); experimentID == "" {
		return nil, fmt.Errorf("%w: experiment id is required", experiment.ErrInvalidArgument)
	}

	if s.assignments != nil {
		if a, ok := s.assignments.Get(ctx, experimentID, userKey); ok {
			observability.AssignmentsTotal.WithLabelValues(observability.OutcomeExisting).Inc()
			return a, nil
		}
	}

	a, created, err := s.repo.GetOrCreateAssignment(ctx, experimentID, userKey, bucketing.PickVariant)
	if err != nil {
		observability.AssignmentsTotal.WithLabelValues(observability.OutcomeError).Inc()
		return nil, fmt.Errorf("failed to resolve assignment for experiment %q: %w", experimentID, err)
	}

	if created {
		observability.AssignmentsTotal.WithLabelValues(observability.OutcomeCreated).Inc()
		s.logger.DebugContext(ctx, "assignment created",
			slog.String("experiment_id", experimentID),
			slog.String("variant_id", a.Variant.ID),
			slog.String("identity", identity.Kind(id)),
		)
	} else {
		observability.AssignmentsTotal.WithLabelValues(observability.OutcomeExisting).Inc()
	}

	if s.assignments != nil {
		s.assignments.Put(ctx, a)
	}
	return a, nil
}

// LogEventInput carries the caller-supplied fields of LogEvent.
type LogEventInput struct {
	ExperimentID   string
	VariantID      string
	Type           string
	Name           string
	IdempotencyKey string
}

// LogEvent records an event for the caller. The variant must be declared by the
// experiment; its name is taken from the current definition.
func (s *Service) LogEvent(ctx context.Context, id identity.Identity, in LogEventInput) (*experiment.Event, error) {
	userKey, err := requireCaller(id)
	if err != nil {
		return nil, err
	}

	typ, err := experiment.ParseEventType(in.Type)
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(in.Name)
	if len(name) > MaxEventNameLength {
		return nil, fmt.Errorf("%w: event name must be at most %d characters", experiment.ErrInvalidArgument, MaxEventNameLength)
	}

	exp, err := s.experiments.GetExperiment(ctx, strings.TrimSpace(in.ExperimentID))
	if err != nil {
		return nil, err
	}

	variant, ok := exp.Variant(in.VariantID)
	if !ok {
		return nil, fmt.Errorf("%w: variant %q does not belong to experiment %q",
			experiment.ErrInvalidArgument, in.VariantID, exp.ID)
	}

	ev, created, err := s.repo.LogEvent(ctx, experiment.NewEvent{
		ExperimentID:   exp.ID,
		UserKey:        userKey,
		VariantID:      variant.ID,
		VariantName:    variant.Name,
		Type:           typ,
		Name:           name,
		IdempotencyKey: strings.TrimSpace(in.IdempotencyKey),
	})
	if err != nil {
		observability.EventsTotal.WithLabelValues(string(typ), observability.OutcomeError).Inc()
		return nil, fmt.Errorf("failed to log event: %w", err)
	}

	outcome := observability.OutcomeCreated
	if !created {
		outcome = observability.OutcomeDuplicate
	}
	observability.EventsTotal.WithLabelValues(string(typ), outcome).Inc()

	return ev, nil
}

// ExperimentMetrics computes the per-variant report. Administrators only.
func (s *Service) ExperimentMetrics(ctx context.Context, id identity.Identity, experimentID string) (*experiment.Metrics, error) {
	if err := s.admins.RequireAdmin(id); err != nil {
		return nil, err
	}
	return s.Report(ctx, experimentID)
}

// Report computes the metrics report without an identity check. It backs the
// operator CLI, whose access is governed by database credentials.
func (s *Service) Report(ctx context.Context, experimentID string) (*experiment.Metrics, error) {
	exp, err := s.repo.GetExperiment(ctx, experimentID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	m, err := report.Compute(ctx, exp, s.repo, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to compute metrics for experiment %q: %w", experimentID, err)
	}
	observability.MetricsReportDuration.Observe(time.Since(start).Seconds())

	return m, nil
}

// requireCaller returns the caller's user key or ErrUnauthenticated.
func requireCaller(id identity.Identity) (string, error) {
	if id == nil {
		return "", fmt.Errorf("%w: an identity token or anonymous key is required", experiment.ErrUnauthenticated)
	}
	key := strings.TrimSpace(id.UserKey())
	if key == "" {
		return "", fmt.Errorf("%w: empty user key", experiment.ErrUnauthenticated)
	}
	return key, nil
}
