package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crenshan/experiment-factory/internal/bucketing"
	"github.com/crenshan/experiment-factory/internal/experiment"
)

func newTestStore(t *testing.T) (*MemoryStore, *experiment.Experiment) {
	t.Helper()

	s := NewMemoryStore()
	exp := &experiment.Experiment{ID: "exp-1", Name: "Homepage CTA"}
	require.NoError(t, s.CreateExperiment(context.Background(), exp))
	return s, exp
}

func TestMemoryStore_CreateExperiment(t *testing.T) {
	t.Parallel()

	t.Run("Should apply defaults", func(t *testing.T) {
		s := NewMemoryStore()
		exp := &experiment.Experiment{Name: "Defaults"}

		require.NoError(t, s.CreateExperiment(context.Background(), exp))

		assert.NotEmpty(t, exp.ID, "expected a generated id")
		assert.Equal(t, experiment.StatusDraft, exp.Status)
		assert.Equal(t, experiment.DefaultVariants(), exp.Variants)
		assert.Equal(t, int64(1), exp.Version)
		assert.False(t, exp.CreatedAt.IsZero())
	})

	t.Run("Should reject a duplicate id", func(t *testing.T) {
		s, _ := newTestStore(t)
		err := s.CreateExperiment(context.Background(), &experiment.Experiment{ID: "exp-1", Name: "Again"})
		assert.ErrorIs(t, err, experiment.ErrAlreadyExists)
	})

	t.Run("Should reject invalid variants", func(t *testing.T) {
		s := NewMemoryStore()
		err := s.CreateExperiment(context.Background(), &experiment.Experiment{
			Name:     "Broken",
			Variants: []experiment.Variant{{ID: "A", Weight: 0}},
		})
		assert.ErrorIs(t, err, experiment.ErrInvalidArgument)
	})
}

func TestMemoryStore_UpdateExperiment(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	ctx := context.Background()

	name := "Renamed"
	running := experiment.StatusRunning
	updated, err := s.UpdateExperiment(ctx, "exp-1", ExperimentPatch{Name: &name, Status: &running})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Name)
	assert.Equal(t, experiment.StatusRunning, updated.Status)
	assert.Equal(t, int64(2), updated.Version)

	_, err = s.UpdateExperiment(ctx, "missing", ExperimentPatch{Name: &name})
	assert.ErrorIs(t, err, experiment.ErrNotFound)

	_, err = s.UpdateExperiment(ctx, "exp-1", ExperimentPatch{Variants: []experiment.Variant{}})
	assert.ErrorIs(t, err, experiment.ErrInvalidArgument)

	got, err := s.GetExperiment(ctx, "exp-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version, "a failed update must not bump the version")
}

func TestMemoryStore_ListExperiments(t *testing.T) {
	t.Parallel()

	tick := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewMemoryStore(WithClock(func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}))
	ctx := context.Background()

	for i := range 5 {
		require.NoError(t, s.CreateExperiment(ctx, &experiment.Experiment{ID: fmt.Sprintf("exp-%d", i), Name: "E"}))
	}

	page, total, err := s.ListExperiments(ctx, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	require.Len(t, page, 2)
	assert.Equal(t, "exp-3", page[0].ID, "newest first")
	assert.Equal(t, "exp-2", page[1].ID)

	ids, err := s.ListExperimentIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"exp-0", "exp-1", "exp-2", "exp-3", "exp-4"}, ids)
}

func TestMemoryStore_GetOrCreateAssignment(t *testing.T) {
	t.Parallel()

	t.Run("Should keep users apart whose sanitized keys collide", func(t *testing.T) {
		s, _ := newTestStore(t)
		ctx := context.Background()

		pairs := [][2]string{
			{"exp-1", "team/alice"},
			{"exp-1", "team_alice"},
			{"exp-1", "x__y"},
			{"exp-1", "x_y"},
		}
		for _, p := range pairs {
			a, created, err := s.GetOrCreateAssignment(ctx, p[0], p[1], bucketing.PickVariant)
			require.NoError(t, err)
			assert.True(t, created, "user %q", p[1])
			assert.Equal(t, p[1], a.UserKey)
		}

		var stored int
		require.NoError(t, s.ScanAssignments(ctx, "exp-1", func(*experiment.Assignment) error {
			stored++
			return nil
		}))
		assert.Equal(t, len(pairs), stored)
	})

	t.Run("Should be idempotent and skip the resolver on the fast path", func(t *testing.T) {
		s, _ := newTestStore(t)
		ctx := context.Background()

		first, created, err := s.GetOrCreateAssignment(ctx, "exp-1", "user-1", bucketing.PickVariant)
		require.NoError(t, err)
		assert.True(t, created)

		calls := 0
		countingPick := func(e, u string, v []experiment.Variant) (experiment.Variant, error) {
			calls++
			return bucketing.PickVariant(e, u, v)
		}

		for range 10 {
			again, created, err := s.GetOrCreateAssignment(ctx, "exp-1", "user-1", countingPick)
			require.NoError(t, err)
			assert.False(t, created)
			assert.Equal(t, first, again)
		}
		assert.Zero(t, calls)
	})

	t.Run("Should keep the original variant after weights change", func(t *testing.T) {
		s, _ := newTestStore(t)
		ctx := context.Background()

		first, _, err := s.GetOrCreateAssignment(ctx, "exp-1", "user-1", bucketing.PickVariant)
		require.NoError(t, err)

		other := "B"
		if first.Variant.ID == "B" {
			other = "A"
		}
		_, err = s.UpdateExperiment(ctx, "exp-1", ExperimentPatch{Variants: []experiment.Variant{
			{ID: first.Variant.ID, Weight: 0},
			{ID: other, Weight: 100},
		}})
		require.NoError(t, err)

		again, created, err := s.GetOrCreateAssignment(ctx, "exp-1", "user-1", bucketing.PickVariant)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, first.Variant.ID, again.Variant.ID)
	})

	t.Run("Should fail with NotFound for an unknown experiment", func(t *testing.T) {
		s := NewMemoryStore()
		_, _, err := s.GetOrCreateAssignment(context.Background(), "nope", "user-1", bucketing.PickVariant)
		assert.ErrorIs(t, err, experiment.ErrNotFound)
	})

	t.Run("Should propagate resolver errors and persist nothing", func(t *testing.T) {
		s, _ := newTestStore(t)
		ctx := context.Background()

		failing := func(string, string, []experiment.Variant) (experiment.Variant, error) {
			return experiment.Variant{}, experiment.ErrInvalidExperimentState
		}
		_, _, err := s.GetOrCreateAssignment(ctx, "exp-1", "user-1", failing)
		assert.ErrorIs(t, err, experiment.ErrInvalidExperimentState)

		count := 0
		require.NoError(t, s.ScanAssignments(ctx, "exp-1", func(*experiment.Assignment) error { count++; return nil }))
		assert.Zero(t, count)
	})

	t.Run("Should create exactly one assignment under concurrent first visits", func(t *testing.T) {
		s, _ := newTestStore(t)
		ctx := context.Background()

		const workers = 50
		var (
			wg       sync.WaitGroup
			creators atomic.Int32
			results  = make([]string, workers)
		)

		for i := range workers {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				a, created, err := s.GetOrCreateAssignment(ctx, "exp-1", "racer", bucketing.PickVariant)
				if err != nil {
					t.Errorf("worker %d: %v", idx, err)
					return
				}
				if created {
					creators.Add(1)
				}
				results[idx] = a.Variant.ID
			}(i)
		}
		wg.Wait()

		assert.Equal(t, int32(1), creators.Load())
		for _, id := range results {
			assert.Equal(t, results[0], id)
		}
	})
}

func TestMemoryStore_LogEvent(t *testing.T) {
	t.Parallel()

	base := experiment.NewEvent{
		ExperimentID: "exp-1",
		UserKey:      "user-1",
		VariantID:    "A",
		VariantName:  "A",
		Type:         experiment.EventExposure,
		Name:         "page_view",
	}

	t.Run("Should always insert without an idempotency key", func(t *testing.T) {
		s := NewMemoryStore()
		ctx := context.Background()

		first, created, err := s.LogEvent(ctx, base)
		require.NoError(t, err)
		assert.True(t, created)
		second, created, err := s.LogEvent(ctx, base)
		require.NoError(t, err)
		assert.True(t, created)
		assert.NotEqual(t, first.ID, second.ID)
	})

	t.Run("Should return the first event for a repeated key", func(t *testing.T) {
		s := NewMemoryStore()
		ctx := context.Background()

		keyed := base
		keyed.IdempotencyKey = "exposure__exp-1__user/1"

		first, created, err := s.LogEvent(ctx, keyed)
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, "exposure__exp-1__user_1", first.ID)

		retry := keyed
		retry.Name = "different"
		retry.Type = experiment.EventConversion
		second, created, err := s.LogEvent(ctx, retry)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, first, second, "first write wins")
	})

	t.Run("Should store one event under concurrent retries", func(t *testing.T) {
		s := NewMemoryStore()
		ctx := context.Background()

		keyed := base
		keyed.IdempotencyKey = "conversion__exp-1__user-1__demo"

		var wg sync.WaitGroup
		for range 20 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _, _ = s.LogEvent(ctx, keyed)
			}()
		}
		wg.Wait()

		count := 0
		require.NoError(t, s.ScanEvents(ctx, "exp-1", func(*experiment.Event) error { count++; return nil }))
		assert.Equal(t, 1, count)
	})

	t.Run("Should scan in insertion order and stop on callback error", func(t *testing.T) {
		s := NewMemoryStore()
		ctx := context.Background()

		for i := range 3 {
			ev := base
			ev.Name = fmt.Sprintf("e%d", i)
			_, _, err := s.LogEvent(ctx, ev)
			require.NoError(t, err)
		}
		other := base
		other.ExperimentID = "exp-2"
		_, _, err := s.LogEvent(ctx, other)
		require.NoError(t, err)

		var names []string
		require.NoError(t, s.ScanEvents(ctx, "exp-1", func(e *experiment.Event) error {
			names = append(names, e.Name)
			return nil
		}))
		assert.Equal(t, []string{"e0", "e1", "e2"}, names)

		stop := errors.New("stop")
		err = s.ScanEvents(ctx, "exp-1", func(*experiment.Event) error { return stop })
		assert.ErrorIs(t, err, stop)
	})
}
