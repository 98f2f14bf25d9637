package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/crenshan/experiment-factory/internal/bucketing"
	"github.com/crenshan/experiment-factory/internal/config"
	"github.com/crenshan/experiment-factory/internal/database"
	"github.com/crenshan/experiment-factory/internal/engine"
	"github.com/crenshan/experiment-factory/internal/experiment"
	"github.com/crenshan/experiment-factory/internal/identity"
	"github.com/crenshan/experiment-factory/internal/logger"
	"github.com/crenshan/experiment-factory/internal/store"
)

// bucketResult is the output of the bucket command.
type bucketResult struct {
	Seed        string `json:"seed"`
	Hash        uint32 `json:"hash"`
	TotalWeight int64  `json:"total_weight"`
	Bucket      int64  `json:"bucket"`
	VariantID   string `json:"variant_id"`
}

func runBucket(out io.Writer, experimentID, userKey string, pairs []string) error {
	variants, err := parseVariants(pairs)
	if err != nil {
		return err
	}

	v, err := bucketing.PickVariant(experimentID, userKey, variants)
	if err != nil {
		return err
	}

	seed := bucketing.Seed(experimentID, userKey)
	total := bucketing.TotalWeight(variants)
	return writeJSON(out, bucketResult{
		Seed:        seed,
		Hash:        bucketing.Hash(seed),
		TotalWeight: total,
		Bucket:      bucketing.Bucket(experimentID, userKey, total),
		VariantID:   v.ID,
	})
}

// parseVariants reads "id:weight" pairs in declaration order.
func parseVariants(pairs []string) ([]experiment.Variant, error) {
	variants := make([]experiment.Variant, 0, len(pairs))
	for _, raw := range pairs {
		id, weight, ok := strings.Cut(raw, ":")
		id = strings.TrimSpace(id)
		if !ok || id == "" {
			return nil, fmt.Errorf("invalid variant %q, want id:weight", raw)
		}
		w, err := strconv.Atoi(strings.TrimSpace(weight))
		if err != nil {
			return nil, fmt.Errorf("invalid weight in %q: %w", raw, err)
		}
		variants = append(variants, experiment.Variant{ID: id, Name: id, Weight: w})
	}
	if err := experiment.ValidateVariants(variants); err != nil {
		return nil, err
	}
	return variants, nil
}

// assignmentSource is the read-only storage surface of the verify command.
type assignmentSource interface {
	GetExperiment(ctx context.Context, id string) (*experiment.Experiment, error)
	ScanAssignments(ctx context.Context, experimentID string, fn func(*experiment.Assignment) error) error
}

// driftReport summarizes how stored assignments compare with a fresh recomputation.
type driftReport struct {
	ExperimentID string           `json:"experiment_id"`
	Checked      int64            `json:"checked"`
	Drifted      int64            `json:"drifted"`
	DriftedFrom  map[string]int64 `json:"drifted_from,omitempty"`
}

func verifyAssignments(ctx context.Context, src assignmentSource, experimentID string) (*driftReport, error) {
	exp, err := src.GetExperiment(ctx, experimentID)
	if err != nil {
		return nil, err
	}

	report := &driftReport{ExperimentID: experimentID, DriftedFrom: make(map[string]int64)}
	err = src.ScanAssignments(ctx, experimentID, func(a *experiment.Assignment) error {
		report.Checked++
		v, err := bucketing.PickVariant(exp.ID, a.UserKey, exp.Variants)
		if err != nil {
			return err
		}
		if v.ID != a.Variant.ID {
			report.Drifted++
			report.DriftedFrom[a.Variant.ID]++
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan assignments: %w", err)
	}
	return report, nil
}

func runVerify(ctx context.Context, out io.Writer, experimentID string) error {
	repo, _, closeFn, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	report, err := verifyAssignments(ctx, repo, experimentID)
	if err != nil {
		return err
	}
	return writeJSON(out, report)
}

func runReport(ctx context.Context, out io.Writer, experimentID string) error {
	repo, log, closeFn, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	// Operators holding database credentials are trusted, so no allowlist applies.
	eng := engine.New(log, repo, identity.NewAllowlist(nil))
	metrics, err := eng.Report(ctx, experimentID)
	if err != nil {
		return err
	}
	return writeJSON(out, metrics)
}

func runToken(out io.Writer, uid, email string, ttl time.Duration) error {
	var auth config.AuthConfig
	if err := envconfig.Process(config.EnvPrefix+"_AUTH", &auth); err != nil {
		return fmt.Errorf("failed to read auth settings: %w", err)
	}
	if auth.JWTSecret == "" {
		return errors.New(config.EnvPrefix + "_AUTH_JWT_SECRET is not set")
	}

	token, err := identity.NewTokenVerifier(auth.JWTSecret, auth.JWTIssuer, auth.JWTAudience).Sign(uid, email, ttl)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, token)
	return err
}

// openStore connects to PostgreSQL with the services' configuration. Logs go to
// stderr so stdout stays machine-readable.
func openStore(ctx context.Context) (*store.PostgresStore, *slog.Logger, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, err
	}

	log := logger.NewWithWriter(&cfg.App, os.Stderr)
	pool, err := database.NewPostgresPool(logger.WithContext(ctx, log), &cfg.Database)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return store.NewPostgresStore(pool), log, pool.Close, nil
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
