// Package dataapi implements the gRPC data plane: the assignment and event
// operations called by client applications on their hot path.
package dataapi

import (
	"context"
	"log/slog"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/crenshan/experiment-factory/internal/engine"
	"github.com/crenshan/experiment-factory/internal/experiment"
	"github.com/crenshan/experiment-factory/internal/identity"
	"github.com/crenshan/experiment-factory/internal/logger"
)

// Engine is the subset of engine.Service the data plane calls.
type Engine interface {
	GetAssignment(ctx context.Context, id identity.Identity, experimentID string) (*experiment.Assignment, error)
	LogEvent(ctx context.Context, id identity.Identity, in engine.LogEventInput) (*experiment.Event, error)
}

// API implements AssignmentsServer on top of the engine.
type API struct {
	engine Engine
}

var _ AssignmentsServer = (*API)(nil)

// NewAPI creates the data plane handlers.
func NewAPI(eng Engine) *API {
	if eng == nil {
		panic("dataapi: engine cannot be nil")
	}
	return &API{engine: eng}
}

// Register connects this implementation to the grpc.Server.
func (a *API) Register(s grpc.ServiceRegistrar) {
	RegisterAssignmentsServer(s, a)
}

// GetAssignment returns the caller's sticky variant, creating it on first visit.
func (a *API) GetAssignment(ctx context.Context, req *GetAssignmentRequest) (*GetAssignmentResponse, error) {
	if strings.TrimSpace(req.ExperimentID) == "" {
		logger.FromContext(ctx).Warn("bad request: missing experiment_id")
		return nil, status.Error(codes.InvalidArgument, "experiment_id is required")
	}
	ctx = logger.With(ctx, slog.String("experiment_id", req.ExperimentID))

	asg, err := a.engine.GetAssignment(ctx, identity.FromContext(ctx), req.ExperimentID)
	if err != nil {
		return nil, toStatus(ctx, err)
	}

	logger.FromContext(ctx).Debug("assignment resolved", slog.String("variant_id", asg.Variant.ID))
	return &GetAssignmentResponse{Assignment: asg}, nil
}

// LogEvent records an event. Replaying an idempotency key returns the original event.
func (a *API) LogEvent(ctx context.Context, req *LogEventRequest) (*LogEventResponse, error) {
	if strings.TrimSpace(req.ExperimentID) == "" {
		logger.FromContext(ctx).Warn("bad request: missing experiment_id")
		return nil, status.Error(codes.InvalidArgument, "experiment_id is required")
	}
	ctx = logger.With(ctx, slog.String("experiment_id", req.ExperimentID))

	ev, err := a.engine.LogEvent(ctx, identity.FromContext(ctx), engine.LogEventInput{
		ExperimentID:   req.ExperimentID,
		VariantID:      req.VariantID,
		Type:           req.Type,
		Name:           req.Name,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return nil, toStatus(ctx, err)
	}

	return &LogEventResponse{Event: ev}, nil
}
