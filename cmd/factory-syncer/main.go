// Package main runs the experiment factory Syncer worker.
//
// The worker hydrates Redis from PostgreSQL, applies queued experiment updates
// and broadcasts invalidations to the data planes.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/crenshan/experiment-factory/internal/cache"
	"github.com/crenshan/experiment-factory/internal/config"
	"github.com/crenshan/experiment-factory/internal/database"
	"github.com/crenshan/experiment-factory/internal/logger"
	"github.com/crenshan/experiment-factory/internal/observability"
	"github.com/crenshan/experiment-factory/internal/store"
	"github.com/crenshan/experiment-factory/internal/syncer"
)

func main() {
	if err := run(); err != nil {
		log.Printf("fatal error: %v", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logr := logger.New(&cfg.App).With(slog.String("service", "syncer"))
	cfg.LogConfig(logr)

	if !cfg.Syncer.Enabled {
		logr.Warn("syncer disabled by configuration, exiting")
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithContext(ctx, logr)

	pool, err := database.NewPostgresPool(ctx, &cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer pool.Close()

	redisClient, err := cache.NewRedisClient(ctx, &cfg.Redis)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	redisCache := cache.NewRedisCache(redisClient)
	defer redisCache.Close()

	svc := syncer.New(logr, cfg.Syncer, store.NewPostgresStore(pool), redisCache)

	obs := observability.NewServer(logr, &cfg.Observability,
		database.NewHealthChecker(pool),
		cache.NewHealthChecker(redisClient),
		observability.CheckerFunc{
			ComponentName: "hydration",
			Fn: func(ctx context.Context) error {
				ok, err := redisCache.IsHydrated(ctx)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("cache not hydrated")
				}
				return nil
			},
		},
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(obs.ListenAndServe)
	g.Go(func() error { return svc.Run(gctx) })
	g.Go(func() error {
		database.RunPoolMonitor(gctx, pool, cfg.Database.MonitorInterval)
		return nil
	})
	g.Go(func() error {
		cache.RunPoolMonitor(gctx, redisClient, cfg.Redis.MonitorInterval)
		return nil
	})
	g.Go(func() error {
		cache.RunQueueMonitor(gctx, redisCache, cfg.Redis.MonitorInterval)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logr.Info("shutting down syncer")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
		defer cancel()
		return obs.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logr.Info("syncer exited")
	return nil
}
