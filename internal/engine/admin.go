package engine

import (
	"context"
	"log/slog"
	"strings"

	"github.com/crenshan/experiment-factory/internal/experiment"
	"github.com/crenshan/experiment-factory/internal/identity"
	"github.com/crenshan/experiment-factory/internal/store"
)

// CreateExperimentInput is the administrative payload for a new experiment.
// Empty Status and Variants take the store defaults (DRAFT, A/B 50/50).
type CreateExperimentInput struct {
	ID       string
	Name     string
	Status   experiment.Status
	Variants []experiment.Variant
}

// CreateExperiment stores a new experiment owned by the calling administrator.
func (s *Service) CreateExperiment(ctx context.Context, id identity.Identity, in CreateExperimentInput) (*experiment.Experiment, error) {
	if err := s.admins.RequireAdmin(id); err != nil {
		return nil, err
	}

	exp := &experiment.Experiment{
		ID:       strings.TrimSpace(in.ID),
		Name:     strings.TrimSpace(in.Name),
		Status:   in.Status,
		Variants: in.Variants,
	}
	if auth, ok := id.(identity.Authenticated); ok {
		exp.CreatedByEmail = auth.Email
	}

	if err := s.repo.CreateExperiment(ctx, exp); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "experiment created",
		slog.String("experiment_id", exp.ID),
		slog.Int("variants", len(exp.Variants)),
	)
	return exp, nil
}

// UpdateExperiment applies a partial update. Existing assignments are never re-bucketed.
func (s *Service) UpdateExperiment(ctx context.Context, id identity.Identity, experimentID string, patch store.ExperimentPatch) (*experiment.Experiment, error) {
	if err := s.admins.RequireAdmin(id); err != nil {
		return nil, err
	}

	if patch.Name != nil {
		trimmed := strings.TrimSpace(*patch.Name)
		patch.Name = &trimmed
	}

	exp, err := s.repo.UpdateExperiment(ctx, experimentID, patch)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "experiment updated",
		slog.String("experiment_id", exp.ID),
		slog.Int64("version", exp.Version),
	)
	return exp, nil
}

// GetExperiment reads the authoritative definition.
func (s *Service) GetExperiment(ctx context.Context, id identity.Identity, experimentID string) (*experiment.Experiment, error) {
	if err := s.admins.RequireAdmin(id); err != nil {
		return nil, err
	}
	return s.repo.GetExperiment(ctx, experimentID)
}

// ListExperiments returns one page of experiments, most recently updated first, plus the total.
func (s *Service) ListExperiments(ctx context.Context, id identity.Identity, limit, offset int) ([]*experiment.Experiment, int64, error) {
	if err := s.admins.RequireAdmin(id); err != nil {
		return nil, 0, err
	}
	return s.repo.ListExperiments(ctx, limit, offset)
}
