// Package main initializes and runs the experiment factory Control Plane service.
//
// It is the composition root for the HTTP API: experiment administration,
// assignments, event logging and metrics reports.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/crenshan/experiment-factory/internal/cache"
	"github.com/crenshan/experiment-factory/internal/config"
	"github.com/crenshan/experiment-factory/internal/controlapi"
	"github.com/crenshan/experiment-factory/internal/database"
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

	logr := logger.New(&cfg.App).With(slog.String("service", "control-plane"))
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

	// -------------------------------------------------------------------------
	// 3. Wiring
	// -------------------------------------------------------------------------
	repo := store.NewPostgresStore(pool)

	assignmentL1, err := cache.NewMemoryCache[string, *experiment.Assignment](observability.CacheAssignment, cfg.Cache.AssignmentCapacity, cfg.Cache.AssignmentTTL)
	if err != nil {
		return fmt.Errorf("failed to create assignment cache: %w", err)
	}
	defer assignmentL1.Close()

	var verifier *identity.TokenVerifier
	if cfg.Auth.JWTSecret != "" {
		verifier = identity.NewTokenVerifier(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer, cfg.Auth.JWTAudience)
	} else {
		logr.Warn("no JWT secret configured, only anonymous identities are accepted")
	}

	eng := engine.New(logr, repo, identity.NewAllowlist(cfg.Auth.AdminEmails),
		engine.WithAssignmentCache(cache.NewAssignmentCache(assignmentL1, redisCache, cfg.Cache.AssignmentL2TTL, logr)),
	)

	api := controlapi.NewAPI(logr, eng, redisCache, identity.NewResolver(verifier), &cfg.Server.Control, &cfg.Auth)

	obs := observability.NewServer(logr, &cfg.Observability,
		database.NewHealthChecker(pool),
		cache.NewHealthChecker(redisClient),
	)

	srv := &http.Server{
		Addr:              cfg.Server.Control.Address(),
		Handler:           api.Router,
		ReadTimeout:       cfg.Server.Control.ReadTimeout,
		WriteTimeout:      cfg.Server.Control.WriteTimeout,
		ReadHeaderTimeout: cfg.Server.Control.ReadHeaderTimeout,
		IdleTimeout:       cfg.Server.Control.IdleTimeout,
		MaxHeaderBytes:    cfg.Server.Control.MaxHeaderBytes,
	}

	// -------------------------------------------------------------------------
	// 4. Serve
	// -------------------------------------------------------------------------
	g, gctx := errgroup.WithContext(ctx)

	g.Go(obs.ListenAndServe)
	g.Go(func() error {
		logr.Info("control plane listening",
			slog.String("addr", srv.Addr),
			slog.Bool("tls", cfg.Server.Control.TLSEnabled),
		)
		var err error
		if cfg.Server.Control.TLSEnabled {
			err = srv.ListenAndServeTLS(cfg.Server.Control.TLSCert, cfg.Server.Control.TLSKey)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("control plane server failed: %w", err)
		}
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
		cache.RunQueueMonitor(gctx, redisCache, cfg.Redis.MonitorInterval)
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
		logr.Info("shutting down control plane")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
		defer cancel()

		err := srv.Shutdown(shutdownCtx)
		if werr := api.WaitNotifications(shutdownCtx); werr != nil {
			logr.Warn("cache notifications still pending at shutdown", slog.String("error", werr.Error()))
		}
		return errors.Join(err, obs.Shutdown(shutdownCtx))
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logr.Info("control plane exited")
	return nil
}
