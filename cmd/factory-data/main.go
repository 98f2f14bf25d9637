// Package main initializes and runs the experiment factory Data Plane service.
//
// It acts as the composition root for the gRPC assignment and event API,
// wiring the two-level experiment and assignment caches and keeping the
// in-process layer fresh through the syncer's invalidation channel.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/crenshan/experiment-factory/internal/cache"
	"github.com/crenshan/experiment-factory/internal/config"
	"github.com/crenshan/experiment-factory/internal/database"
	"github.com/crenshan/experiment-factory/internal/dataapi"
	"github.com/crenshan/experiment-factory/internal/engine"
	"github.com/crenshan/experiment-factory/internal/experiment"
	"github.com/crenshan/experiment-factory/internal/identity"
	"github.com/crenshan/experiment-factory/internal/logger"
	"github.com/crenshan/experiment-factory/internal/observability"
	"github.com/crenshan/experiment-factory/internal/store"
)

func main() {
	if err := run(); err != nil {
		log.Printf("fatal error: %v", err)
		os.Exit(1)
	}
}

func run() error {
	// -------------------------------------------------------------------------
	// 1. Configuration & logging
	// -------------------------------------------------------------------------
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logr := logger.New(&cfg.App).With(slog.String("service", "data-plane"))
	cfg.LogConfig(logr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithContext(ctx, logr)

	// -------------------------------------------------------------------------
	// 2. Infrastructure
	// -------------------------------------------------------------------------
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

	experimentL1, err := cache.NewMemoryCache[string, *experiment.Experiment](observability.CacheExperiment, cfg.Cache.ExperimentCapacity, cfg.Cache.ExperimentTTL)
	if err != nil {
		return fmt.Errorf("failed to create experiment cache: %w", err)
	}
	defer experimentL1.Close()

	assignmentL1, err := cache.NewMemoryCache[string, *experiment.Assignment](observability.CacheAssignment, cfg.Cache.AssignmentCapacity, cfg.Cache.AssignmentTTL)
	if err != nil {
		return fmt.Errorf("failed to create assignment cache: %w", err)
	}
	defer assignmentL1.Close()

	// -------------------------------------------------------------------------
	// 3. Wiring
	// -------------------------------------------------------------------------
	repo := store.NewPostgresStore(pool)
	reader := cache.NewExperimentReader(experimentL1, redisCache, repo, logr)

	var verifier *identity.TokenVerifier
	if cfg.Auth.JWTSecret != "" {
		verifier = identity.NewTokenVerifier(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer, cfg.Auth.JWTAudience)
	} else {
		logr.Warn("no JWT secret configured, only anonymous identities are accepted")
	}

	eng := engine.New(logr, repo, identity.NewAllowlist(cfg.Auth.AdminEmails),
		engine.WithExperimentReader(reader),
		engine.WithAssignmentCache(cache.NewAssignmentCache(assignmentL1, redisCache, cfg.Cache.AssignmentL2TTL, logr)),
	)

	grpcServer := dataapi.NewServer(logr, &cfg.Server.Data, identity.NewResolver(verifier))
	dataapi.NewAPI(eng).Register(grpcServer)

	obs := observability.NewServer(logr, &cfg.Observability,
		database.NewHealthChecker(pool),
		cache.NewHealthChecker(redisClient),
	)

	// Fail fast if the port is taken.
	listener, err := net.Listen("tcp", cfg.Server.Data.Address())
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", cfg.Server.Data.Address(), err)
	}

	// -------------------------------------------------------------------------
	// 4. Serve
	// -------------------------------------------------------------------------
	g, gctx := errgroup.WithContext(ctx)

	g.Go(obs.ListenAndServe)
	g.Go(func() error {
		logr.Info("data plane listening", slog.String("addr", listener.Addr().String()))
		if err := grpcServer.Serve(listener); err != nil {
			return fmt.Errorf("failed to serve gRPC: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		dataapi.RunInvalidationListener(gctx, logr, redisCache, reader, cfg.Syncer.BaseRetryDelay)
		return nil
	})
	g.Go(func() error {
		database.RunPoolMonitor(gctx, pool, cfg.Database.MonitorInterval)
		return nil
	})
	g.Go(func() error {
		cache.RunPoolMonitor(gctx, redisClient, cfg.Redis.MonitorInterval)
		return nil
	})
	g.Go(func() error {
		experimentL1.RunMetricsCollector(gctx, cfg.Cache.MetricsInterval)
		return nil
	})
	g.Go(func() error {
		assignmentL1.RunMetricsCollector(gctx, cfg.Cache.MetricsInterval)
		return nil
	})

	// -------------------------------------------------------------------------
	// 5. Graceful shutdown
	// -------------------------------------------------------------------------
	g.Go(func() error {
		<-gctx.Done()
		logr.Info("shutting down data plane")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
		defer cancel()

		// GracefulStop has no deadline of its own.
		stopped := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-shutdownCtx.Done():
			logr.Warn("graceful stop timed out, forcing")
			grpcServer.Stop()
		}

		return obs.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logr.Info("data plane exited")
	return nil
}
