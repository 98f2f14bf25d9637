// Package store provides the Data Access Layer for the experiment factory.
//
// Two implementations share the same repository interfaces: PostgresStore (pgx) used by
// every binary, and MemoryStore used by unit tests and local tooling. Both give the
// same guarantees: one assignment per (experiment, user) and one event per
// idempotency key, even under concurrent writers.
package store

import (
	"context"
	"fmt"

	"github.com/crenshan/experiment-factory/internal/experiment"
)

// Compile-time checks that both implementations satisfy the full Store contract.
var (
	_ Store = (*PostgresStore)(nil)
	_ Store = (*MemoryStore)(nil)
)

// PickFunc chooses the variant for a user that has no assignment yet.
// bucketing.PickVariant satisfies it.
type PickFunc func(experimentID, userKey string, variants []experiment.Variant) (experiment.Variant, error)

// ExperimentPatch is a partial update. Nil fields are left unchanged.
type ExperimentPatch struct {
	Name     *string
	Status   *experiment.Status
	Variants []experiment.Variant
}

// ExperimentRepository persists experiment definitions.
type ExperimentRepository interface {
	// CreateExperiment inserts e, filling ID (when empty), Version and timestamps.
	CreateExperiment(ctx context.Context, e *experiment.Experiment) error

	// GetExperiment returns experiment.ErrNotFound when id does not exist.
	GetExperiment(ctx context.Context, id string) (*experiment.Experiment, error)

	// ListExperiments returns a page ordered by most recently updated, plus the total count.
	ListExperiments(ctx context.Context, limit, offset int) ([]*experiment.Experiment, int64, error)

	// ListExperimentIDs returns every experiment id. Used for cache hydration.
	ListExperimentIDs(ctx context.Context) ([]string, error)

	// UpdateExperiment applies patch, bumps Version and UpdatedAt, and returns the new state.
	UpdateExperiment(ctx context.Context, id string, patch ExperimentPatch) (*experiment.Experiment, error)
}

// AssignmentRepository persists sticky assignments.
type AssignmentRepository interface {
	// GetOrCreateAssignment returns the existing assignment for (experimentID, userKey)
	// or, atomically, creates one using pick. The bool reports whether this call created it.
	// pick is not called when an assignment already exists.
	GetOrCreateAssignment(ctx context.Context, experimentID, userKey string, pick PickFunc) (*experiment.Assignment, bool, error)

	// ScanAssignments streams every assignment of an experiment to fn, stopping at the first error.
	ScanAssignments(ctx context.Context, experimentID string, fn func(*experiment.Assignment) error) error
}

// EventRepository persists the append-only event log.
type EventRepository interface {
	// LogEvent stores ev. With an idempotency key, a repeated call returns the first
	// stored event unchanged and reports created=false.
	LogEvent(ctx context.Context, ev experiment.NewEvent) (*experiment.Event, bool, error)

	// ScanEvents streams every event of an experiment in creation order to fn.
	ScanEvents(ctx context.Context, experimentID string, fn func(*experiment.Event) error) error
}

// Store is the full persistence contract used by the engine.
type Store interface {
	ExperimentRepository
	AssignmentRepository
	EventRepository
}

// applyPatch mutates e with the non-nil fields of p and validates the result.
func applyPatch(e *experiment.Experiment, p ExperimentPatch) error {
	if p.Name != nil {
		if err := experiment.ValidateName(*p.Name); err != nil {
			return err
		}
		e.Name = *p.Name
	}
	if p.Status != nil {
		if !p.Status.Valid() {
			return fmt.Errorf("%w: unknown status %q", experiment.ErrInvalidArgument, *p.Status)
		}
		e.Status = *p.Status
	}
	if p.Variants != nil {
		if err := experiment.ValidateVariants(p.Variants); err != nil {
			return err
		}
		e.Variants = p.Variants
	}
	return nil
}

// prepareNew fills defaults on a new experiment and validates it.
func prepareNew(e *experiment.Experiment, newID func() string) error {
	if e.ID == "" {
		e.ID = newID()
	}
	if e.Status == "" {
		e.Status = experiment.StatusDraft
	}
	if len(e.Variants) == 0 {
		e.Variants = experiment.DefaultVariants()
	}
	if err := experiment.ValidateName(e.Name); err != nil {
		return err
	}
	if !e.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", experiment.ErrInvalidArgument, e.Status)
	}
	return experiment.ValidateVariants(e.Variants)
}

// sanitizedEventID returns the storage id for an idempotent event.
func sanitizedEventID(idempotencyKey string) string {
	return experiment.SanitizeKey(idempotencyKey)
}
