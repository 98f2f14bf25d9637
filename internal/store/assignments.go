package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/crenshan/experiment-factory/internal/experiment"
)

const assignmentColumns = `experiment_id, user_key, variant_id, variant_name, variant_weight, journey_id, assigned_at`

// GetOrCreateAssignment is an insert-or-fetch on the (experiment_id, user_key) primary key.
//
// Inside one transaction it reads the existing row; when absent it loads the experiment,
// picks a variant and inserts with ON CONFLICT DO NOTHING. If a concurrent transaction
// won the race the insert returns no row and the committed winner is read back, so every
// caller observes the same variant.
func (s *PostgresStore) GetOrCreateAssignment(ctx context.Context, experimentID, userKey string, pick PickFunc) (*experiment.Assignment, bool, error) {
	var (
		result  *experiment.Assignment
		created bool
	)

	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		// 1. Fast path: already assigned.
		existing, err := selectAssignment(ctx, tx, experimentID, userKey)
		if err == nil {
			result = existing
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("failed to read assignment: %w", err)
		}

		// 2. Resolve the variant from the current definition.
		exp, err := getExperiment(ctx, tx, experimentID, false)
		if err != nil {
			return err
		}

		variant, err := pick(experimentID, userKey, exp.Variants)
		if err != nil {
			return err
		}

		// 3. Insert, or lose the race gracefully.
		query := `
			INSERT INTO assignments (experiment_id, user_key, variant_id, variant_name, variant_weight, journey_id)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (experiment_id, user_key) DO NOTHING
			RETURNING ` + assignmentColumns

		inserted, err := scanAssignment(tx.QueryRow(ctx, query,
			experimentID, userKey, variant.ID, variant.Name, variant.Weight, variant.JourneyID,
		))
		if err == nil {
			result, created = inserted, true
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("failed to insert assignment: %w", err)
		}

		// 4. Another writer committed first; its row is now visible to this statement.
		winner, err := selectAssignment(ctx, tx, experimentID, userKey)
		if err != nil {
			return fmt.Errorf("failed to read concurrent assignment: %w", err)
		}
		result = winner
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	return result, created, nil
}

// ScanAssignments streams the assignments of one experiment ordered by assignment time.
func (s *PostgresStore) ScanAssignments(ctx context.Context, experimentID string, fn func(*experiment.Assignment) error) error {
	query := `SELECT ` + assignmentColumns + ` FROM assignments WHERE experiment_id = $1 ORDER BY assigned_at, user_key`

	rows, err := s.db.Query(ctx, query, experimentID)
	if err != nil {
		return fmt.Errorf("failed to query assignments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return fmt.Errorf("failed to scan assignment row: %w", err)
		}
		if err := fn(a); err != nil {
			return err
		}
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows iteration error: %w", err)
	}
	return nil
}

func selectAssignment(ctx context.Context, q querier, experimentID, userKey string) (*experiment.Assignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM assignments WHERE experiment_id = $1 AND user_key = $2`
	return scanAssignment(q.QueryRow(ctx, query, experimentID, userKey))
}

func scanAssignment(row pgx.Row) (*experiment.Assignment, error) {
	var a experiment.Assignment
	if err := row.Scan(
		&a.ExperimentID,
		&a.UserKey,
		&a.Variant.ID,
		&a.Variant.Name,
		&a.Variant.Weight,
		&a.Variant.JourneyID,
		&a.AssignedAt,
	); err != nil {
		return nil, err
	}
	return &a, nil
}
