package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/crenshan/experiment-factory/internal/experiment"
)

const eventColumns = `id, experiment_id, user_key, variant_id, variant_name, type, name, COALESCE(idempotency_key, ''), created_at`

// LogEvent appends an event.
//
// Without an idempotency key a fresh ULID is used and the insert is unconditional.
// With a key, the sanitized key is the primary key and the first write wins: a later
// call returns the stored event untouched, whatever arguments it carries.
func (s *PostgresStore) LogEvent(ctx context.Context, ev experiment.NewEvent) (*experiment.Event, bool, error) {
	insert := `
		INSERT INTO events (id, experiment_id, user_key, variant_id, variant_name, type, name, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''))`

	args := func(id string) []any {
		return []any{id, ev.ExperimentID, ev.UserKey, ev.VariantID, ev.VariantName, ev.Type, ev.Name, ev.IdempotencyKey}
	}

	if ev.IdempotencyKey == "" {
		stored, err := scanEvent(s.db.QueryRow(ctx, insert+` RETURNING `+eventColumns, args(s.newEventID())...))
		if err != nil {
			return nil, false, fmt.Errorf("failed to insert event: %w", err)
		}
		return stored, true, nil
	}

	id := sanitizedEventID(ev.IdempotencyKey)

	var (
		result  *experiment.Event
		created bool
	)

	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		stored, err := scanEvent(tx.QueryRow(ctx, insert+` ON CONFLICT (id) DO NOTHING RETURNING `+eventColumns, args(id)...))
		if err == nil {
			result, created = stored, true
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("failed to insert event: %w", err)
		}

		existing, err := scanEvent(tx.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id))
		if err != nil {
			return fmt.Errorf("failed to read existing event: %w", err)
		}
		result = existing
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	return result, created, nil
}

// ScanEvents streams every event of an experiment in creation order.
func (s *PostgresStore) ScanEvents(ctx context.Context, experimentID string, fn func(*experiment.Event) error) error {
	query := `SELECT ` + eventColumns + ` FROM events WHERE experiment_id = $1 ORDER BY created_at, id`

	rows, err := s.db.Query(ctx, query, experimentID)
	if err != nil {
		return fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return fmt.Errorf("failed to scan event row: %w", err)
		}
		if err := fn(e); err != nil {
			return err
		}
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows iteration error: %w", err)
	}
	return nil
}

func scanEvent(row pgx.Row) (*experiment.Event, error) {
	var e experiment.Event
	if err := row.Scan(
		&e.ID,
		&e.ExperimentID,
		&e.UserKey,
		&e.VariantID,
		&e.VariantName,
		&e.Type,
		&e.Name,
		&e.IdempotencyKey,
		&e.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &e, nil
}
