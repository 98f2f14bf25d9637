package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/crenshan/experiment-factory/internal/experiment"
)

const experimentColumns = `id, name, status, variants, COALESCE(created_by_email, ''), version, created_at, updated_at`

// CreateExperiment inserts a new experiment. Missing id, status and variants get
// their defaults (uuid, DRAFT, A/B 50/50).
func (s *PostgresStore) CreateExperiment(ctx context.Context, e *experiment.Experiment) error {
	if err := prepareNew(e, uuid.NewString); err != nil {
		return err
	}

	variants, err := json.Marshal(e.Variants)
	if err != nil {
		return fmt.Errorf("failed to encode variants: %w", err)
	}

	query := `
		INSERT INTO experiments (id, name, status, variants, created_by_email)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''))
		RETURNING version, created_at, updated_at
	`

	err = s.db.QueryRow(ctx, query, e.ID, e.Name, e.Status, variants, e.CreatedByEmail).
		Scan(&e.Version, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("%w: experiment %q", experiment.ErrAlreadyExists, e.ID)
		}
		return fmt.Errorf("failed to insert experiment: %w", err)
	}

	return nil
}

// GetExperiment loads one experiment by id.
func (s *PostgresStore) GetExperiment(ctx context.Context, id string) (*experiment.Experiment, error) {
	return getExperiment(ctx, s.db, id, false)
}

// getExperiment is shared with the transactional paths. forUpdate locks the row.
func getExperiment(ctx context.Context, q querier, id string, forUpdate bool) (*experiment.Experiment, error) {
	query := `SELECT ` + experimentColumns + ` FROM experiments WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	e, err := scanExperiment(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: experiment %q", experiment.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get experiment: %w", err)
	}
	return e, nil
}

// ListExperiments retrieves a page of experiments and the total count.
func (s *PostgresStore) ListExperiments(ctx context.Context, limit, offset int) ([]*experiment.Experiment, int64, error) {
	var total int64
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM experiments`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count experiments: %w", err)
	}

	if total == 0 {
		return []*experiment.Experiment{}, 0, nil
	}

	query := `
		SELECT ` + experimentColumns + `
		FROM experiments
		ORDER BY updated_at DESC, id
		LIMIT $1 OFFSET $2
	`

	rows, err := s.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list experiments: %w", err)
	}
	defer rows.Close()

	exps := make([]*experiment.Experiment, 0, limit)
	for rows.Next() {
		e, err := scanExperiment(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan experiment row: %w", err)
		}
		exps = append(exps, e)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows iteration error: %w", err)
	}

	return exps, total, nil
}

// ListExperimentIDs returns the ids of all experiments.
func (s *PostgresStore) ListExperimentIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT id FROM experiments ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list experiment ids: %w", err)
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to collect experiment ids: %w", err)
	}
	return ids, nil
}

// UpdateExperiment locks the row, applies the patch and bumps the version in one transaction.
func (s *PostgresStore) UpdateExperiment(ctx context.Context, id string, patch ExperimentPatch) (*experiment.Experiment, error) {
	var updated *experiment.Experiment

	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		e, err := getExperiment(ctx, tx, id, true)
		if err != nil {
			return err
		}

		if err := applyPatch(e, patch); err != nil {
			return err
		}

		variants, err := json.Marshal(e.Variants)
		if err != nil {
			return fmt.Errorf("failed to encode variants: %w", err)
		}

		query := `
			UPDATE experiments
			SET name = $2, status = $3, variants = $4, version = version + 1, updated_at = now()
			WHERE id = $1
			RETURNING version, updated_at
		`
		if err := tx.QueryRow(ctx, query, id, e.Name, e.Status, variants).Scan(&e.Version, &e.UpdatedAt); err != nil {
			return fmt.Errorf("failed to update experiment: %w", err)
		}

		updated = e
		return nil
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

// scanExperiment maps one row selected with experimentColumns.
func scanExperiment(row pgx.Row) (*experiment.Experiment, error) {
	var (
		e        experiment.Experiment
		variants []byte
	)

	if err := row.Scan(
		&e.ID,
		&e.Name,
		&e.Status,
		&variants,
		&e.CreatedByEmail,
		&e.Version,
		&e.CreatedAt,
		&e.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal(variants, &e.Variants); err != nil {
		return nil, fmt.Errorf("failed to decode variants of %q: %w", e.ID, err)
	}

	return &e, nil
}
