package cache

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/crenshan/experiment-factory/internal/experiment"
	"github.com/crenshan/experiment-factory/internal/observability"
)

// ExperimentSource is the authoritative experiment store.
type ExperimentSource interface {
	GetExperiment(ctx context.Context, id string) (*experiment.Experiment, error)
}

// ExperimentL2 is the shared experiment cache. RedisCache implements it.
type ExperimentL2 interface {
	GetExperiment(ctx context.Context, id string) (*experiment.Experiment, error)
	SetExperimentSafely(ctx context.Context, exp *experiment.Experiment) (SetResult, error)
}

// AssignmentL2 is the shared assignment cache. RedisCache implements it.
type AssignmentL2 interface {
	GetAssignment(ctx context.Context, experimentID, userKey string) (*experiment.Assignment, error)
	SetAssignment(ctx context.Context, a *experiment.Assignment, ttl time.Duration) (bool, error)
}

// ExperimentReader reads experiment definitions through L1, then L2, then the database.
// Cache failures are logged and fall through to the next layer.
type ExperimentReader struct {
	l1     *MemoryCache[string, *experiment.Experiment]
	l2     ExperimentL2
	db     ExperimentSource
	logger *slog.Logger
}

// NewExperimentReader wires the layers. l2 may be nil to skip Redis.
func NewExperimentReader(l1 *MemoryCache[string, *experiment.Experiment], l2 ExperimentL2, db ExperimentSource, logger *slog.Logger) *ExperimentReader {
	if l1 == nil || db == nil {
		panic("cache: experiment reader needs an L1 cache and a source")
	}
	return &ExperimentReader{l1: l1, l2: l2, db: db, logger: logger}
}

// GetExperiment returns a copy of the experiment. ErrNotFound comes from the database.
func (r *ExperimentReader) GetExperiment(ctx context.Context, id string) (*experiment.Experiment, error) {
	if exp, ok := r.l1.Get(id); ok {
		return cloneExperiment(exp), nil
	}

	if r.l2 != nil {
		exp, err := r.l2.GetExperiment(ctx, id)
		switch {
		case err == nil:
			observability.CacheL2Hits.WithLabelValues(observability.CacheExperiment).Inc()
			r.l1.Set(id, exp)
			return cloneExperiment(exp), nil
		case errors.Is(err, ErrCacheMiss):
			observability.CacheL2Misses.WithLabelValues(observability.CacheExperiment).Inc()
		default:
			observability.CacheL2Errors.WithLabelValues(observability.CacheExperiment).Inc()
			r.logger.WarnContext(ctx, "experiment L2 read failed, using database",
				slog.String("experiment_id", id),
				slog.String("error", err.Error()),
			)
		}
	}

	exp, err := r.db.GetExperiment(ctx, id)
	if err != nil {
		return nil, err
	}

	r.l1.Set(id, exp)
	if r.l2 != nil {
		if _, err := r.l2.SetExperimentSafely(ctx, exp); err != nil {
			observability.CacheL2Errors.WithLabelValues(observability.CacheExperiment).Inc()
			r.logger.WarnContext(ctx, "experiment L2 backfill failed",
				slog.String("experiment_id", id),
				slog.String("error", err.Error()),
			)
		}
	}

	return cloneExperiment(exp), nil
}

// Invalidate drops the L1 entry so the next read goes to L2.
func (r *ExperimentReader) Invalidate(id string) {
	r.l1.Del(id)
}

// Purge drops every L1 entry. Used when invalidation messages may have been lost.
func (r *ExperimentReader) Purge() {
	r.l1.Clear()
}

// AssignmentCache caches stored assignments. Assignments are immutable, so a cached
// value is always correct and entries are never invalidated.
type AssignmentCache struct {
	l1     *MemoryCache[string, *experiment.Assignment]
	l2     AssignmentL2
	l2TTL  time.Duration
	logger *slog.Logger
}

// NewAssignmentCache wires the layers. l2 may be nil to skip Redis.
func NewAssignmentCache(l1 *MemoryCache[string, *experiment.Assignment], l2 AssignmentL2, l2TTL time.Duration, logger *slog.Logger) *AssignmentCache {
	if l1 == nil {
		panic("cache: assignment cache needs an L1 cache")
	}
	return &AssignmentCache{l1: l1, l2: l2, l2TTL: l2TTL, logger: logger}
}

// Get returns a cached assignment, consulting L2 on an L1 miss.
func (c *AssignmentCache) Get(ctx context.Context, experimentID, userKey string) (*experiment.Assignment, bool) {
	key := experiment.AssignmentKey(experimentID, userKey)
	if a, ok := c.l1.Get(key); ok && a.ExperimentID == experimentID && a.UserKey == userKey {
		copied := *a
		return &copied, true
	}

	if c.l2 == nil {
		return nil, false
	}

	a, err := c.l2.GetAssignment(ctx, experimentID, userKey)
	switch {
	case err == nil && a.ExperimentID == experimentID && a.UserKey == userKey:
		observability.CacheL2Hits.WithLabelValues(observability.CacheAssignment).Inc()
		c.l1.Set(key, a)
		copied := *a
		return &copied, true
	case err == nil, errors.Is(err, ErrCacheMiss):
		observability.CacheL2Misses.WithLabelValues(observability.CacheAssignment).Inc()
	default:
		observability.CacheL2Errors.WithLabelValues(observability.CacheAssignment).Inc()
		c.logger.WarnContext(ctx, "assignment L2 read failed, using database",
			slog.String("experiment_id", experimentID),
			slog.String("error", err.Error()),
		)
	}
	return nil, false
}

// Put stores a persisted assignment in both layers.
func (c *AssignmentCache) Put(ctx context.Context, a *experiment.Assignment) {
	copied := *a
	c.l1.Set(experiment.AssignmentKey(a.ExperimentID, a.UserKey), &copied)

	if c.l2 == nil {
		return
	}
	if _, err := c.l2.SetAssignment(ctx, &copied, c.l2TTL); err != nil {
		observability.CacheL2Errors.WithLabelValues(observability.CacheAssignment).Inc()
		c.logger.WarnContext(ctx, "assignment L2 write failed",
			slog.String("experiment_id", a.ExperimentID),
			slog.String("error", err.Error()),
		)
	}
}

func cloneExperiment(e *experiment.Experiment) *experiment.Experiment {
	c := *e
	c.Variants = slices.Clone(e.Variants)
	return &c
}
