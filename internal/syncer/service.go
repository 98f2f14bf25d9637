// Package syncer implements the background worker that propagates experiment
// definitions from PostgreSQL to the shared Redis cache and tells the data
// planes which in-process entries to drop.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/crenshan/experiment-factory/internal/cache"
	"github.com/crenshan/experiment-factory/internal/config"
	"github.com/crenshan/experiment-factory/internal/experiment"
	"github.com/crenshan/experiment-factory/internal/observability"
)

// Repository is the authoritative experiment source. store.Store satisfies it.
type Repository interface {
	ListExperimentIDs(ctx context.Context) ([]string, error)
	GetExperiment(ctx context.Context, id string) (*experiment.Experiment, error)
}

// Cache is the Redis surface the syncer writes to. cache.RedisCache satisfies it.
type Cache interface {
	SetExperimentSafely(ctx context.Context, exp *experiment.Experiment) (cache.SetResult, error)
	DeleteExperiment(ctx context.Context, id string) error
	PopUpdate(ctx context.Context, timeout time.Duration) (string, int64, bool, error)
	PublishInvalidation(ctx context.Context, experimentID string) error
	MarkHydrated(ctx context.Context, ttl time.Duration) error
	IsHydrated(ctx context.Context) (bool, error)
}

// Job outcomes recorded in factory_syncer_jobs_total.
const (
	statusSuccess = "success"
	statusFail    = "fail"
	statusSkipped = "skipped"
)

// Service hydrates Redis on startup and then applies queued updates.
type Service struct {
	logger *slog.Logger
	config config.SyncerConfig
	repo   Repository
	cache  Cache
}

// New creates a new Syncer service.
func New(logger *slog.Logger, cfg config.SyncerConfig, repo Repository, c Cache) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if repo == nil {
		panic("syncer: experiment repository cannot be nil")
	}
	if c == nil {
		panic("syncer: cache cannot be nil")
	}

	if cfg.PopTimeout <= 0 {
		cfg.PopTimeout = 5 * time.Second
	}
	if cfg.HydrationCheckInterval <= 0 {
		cfg.HydrationCheckInterval = 10 * time.Second
	}
	if cfg.BaseRetryDelay <= 0 {
		cfg.BaseRetryDelay = time.Second
	}
	if cfg.HydrationConcurrency < 1 {
		cfg.HydrationConcurrency = 1
	}

	return &Service{
		logger: logger.With(slog.String("component", "syncer")),
		config: cfg,
		repo:   repo,
		cache:  c,
	}
}

// Run hydrates the cache, then runs the update loop and the hydration watchdog
// until ctx is cancelled. A failed initial hydration is retried by the watchdog.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info("starting syncer service",
		slog.Duration("pop_timeout", s.config.PopTimeout),
		slog.Duration("hydration_check_interval", s.config.HydrationCheckInterval),
	)

	if err := s.Hydrate(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("initial hydration failed", slog.String("error", err.Error()))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.runWatchdog(gctx)
		return nil
	})
	g.Go(func() error {
		s.runUpdateLoop(gctx)
		return nil
	})

	err := g.Wait()
	s.logger.Info("syncer service stopped")
	return err
}

// Hydrate copies every experiment into Redis and sets the hydration marker.
// Entries already holding the same or a newer version are left alone; every
// written entry is also invalidated on the data planes.
func (s *Service) Hydrate(ctx context.Context) error {
	start := time.Now()

	ids, err := s.repo.ListExperimentIDs(ctx)
	if err != nil {
		observability.SyncerHydrationsTotal.WithLabelValues(statusFail).Inc()
		return fmt.Errorf("failed to list experiments: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.HydrationConcurrency)

	for _, id := range ids {
		g.Go(func() error {
			exp, err := s.repo.GetExperiment(gctx, id)
			if errors.Is(err, experiment.ErrNotFound) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("failed to load experiment %q: %w", id, err)
			}
			res, err := s.cache.SetExperimentSafely(gctx, exp)
			if err != nil {
				return fmt.Errorf("failed to cache experiment %q: %w", id, err)
			}
			if res != cache.SetResultSkipped {
				// Data planes may hold a copy older than the one just written.
				if err := s.cache.PublishInvalidation(gctx, id); err != nil {
					s.logger.Warn("failed to publish invalidation",
						slog.String("experiment_id", id),
						slog.String("error", err.Error()),
					)
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		observability.SyncerHydrationsTotal.WithLabelValues(statusFail).Inc()
		return err
	}

	if err := s.cache.MarkHydrated(ctx, 0); err != nil {
		observability.SyncerHydrationsTotal.WithLabelValues(statusFail).Inc()
		return fmt.Errorf("failed to set hydration marker: %w", err)
	}

	observability.SyncerHydrationsTotal.WithLabelValues(statusSuccess).Inc()
	s.logger.Info("cache hydrated",
		slog.Int("experiments", len(ids)),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

// runWatchdog re-hydrates whenever the marker disappears, e.g. after a Redis
// restart or eviction.
func (s *Service) runWatchdog(ctx context.Context) {
	ticker := time.NewTicker(s.config.HydrationCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hydrated, err := s.cache.IsHydrated(ctx)
			if err != nil {
				if ctx.Err() == nil {
					s.logger.Warn("hydration check failed", slog.String("error", err.Error()))
				}
				continue
			}
			if hydrated {
				continue
			}

			s.logger.Warn("hydration marker missing, re-hydrating")
			if err := s.Hydrate(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("re-hydration failed", slog.String("error", err.Error()))
			}
		}
	}
}

// runUpdateLoop pops queued updates one at a time. Pop errors back off before
// the next attempt so a Redis outage does not spin.
func (s *Service) runUpdateLoop(ctx context.Context) {
	backoff := s.config.BaseRetryDelay

	for ctx.Err() == nil {
		id, version, ok, err := s.cache.PopUpdate(ctx, s.config.PopTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Error("failed to pop update", slog.String("error", err.Error()))
			if !sleep(ctx, backoff) {
				return
			}
			backoff = nextDelay(backoff, s.config.BaseRetryDelay)
			continue
		}
		backoff = s.config.BaseRetryDelay

		if !ok {
			continue
		}
		s.processUpdate(ctx, id, version)
	}
}

// processUpdate refreshes one experiment in Redis and broadcasts an invalidation
// when the stored entry changed.
func (s *Service) processUpdate(ctx context.Context, id string, version int64) {
	start := time.Now()
	log := s.logger.With(slog.String("experiment_id", id), slog.Int64("queued_version", version))

	var result cache.SetResult
	err := s.withRetry(ctx, func() error {
		exp, err := s.repo.GetExperiment(ctx, id)
		if errors.Is(err, experiment.ErrNotFound) {
			// Gone from the source of truth: drop the cached copy too.
			if err := s.cache.DeleteExperiment(ctx, id); err != nil {
				return err
			}
			result = cache.SetResultUpdated
			return nil
		}
		if err != nil {
			return err
		}
		result, err = s.cache.SetExperimentSafely(ctx, exp)
		return err
	})
	if err != nil {
		observability.SyncerJobsTotal.WithLabelValues(statusFail).Inc()
		log.Error("failed to propagate update", slog.String("error", err.Error()))
		return
	}

	if result == cache.SetResultSkipped {
		observability.SyncerJobsTotal.WithLabelValues(statusSkipped).Inc()
		observability.SyncerJobDuration.Observe(time.Since(start).Seconds())
		log.Debug("cache already holds this version or newer")
		return
	}

	if err := s.cache.PublishInvalidation(ctx, id); err != nil {
		// Data planes converge when their L1 TTL expires.
		log.Warn("failed to publish invalidation", slog.String("error", err.Error()))
	}

	observability.SyncerJobsTotal.WithLabelValues(statusSuccess).Inc()
	observability.SyncerJobDuration.Observe(time.Since(start).Seconds())
	log.Info("experiment propagated", slog.String("result", result.String()))
}

// withRetry runs fn up to MaxRetries+1 times with exponential backoff.
func (s *Service) withRetry(ctx context.Context, fn func() error) error {
	delay := s.config.BaseRetryDelay

	var err error
	for attempt := 0; attempt <= s.config.MaxRetries; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == s.config.MaxRetries {
			break
		}
		s.logger.Warn("sync attempt failed, retrying",
			slog.Int("attempt", attempt+1),
			slog.Duration("retry_in", delay),
			slog.String("error", err.Error()),
		)
		if !sleep(ctx, delay) {
			return ctx.Err()
		}
		delay = nextDelay(delay, s.config.BaseRetryDelay)
	}
	return err
}

const maxRetryDelay = 30 * time.Second

func nextDelay(current, base time.Duration) time.Duration {
	if current <= 0 {
		return base
	}
	return min(current*2, maxRetryDelay)
}

// sleep waits for d or until ctx is done. It reports whether the full delay elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
