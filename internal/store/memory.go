package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/crenshan/experiment-factory/internal/experiment"
)

// assignmentID is the raw composite key, mirroring the assignments primary key.
// The sanitized document key is not unique enough: "team/alice" and "team_alice" collide.
type assignmentID struct {
	experimentID string
	userKey      string
}

// MemoryStore is an in-process Store. A single mutex serializes every
// check-then-act sequence, which gives the same at-most-once guarantees as the
// Postgres unique keys.
type MemoryStore struct {
	mu          sync.RWMutex
	experiments map[string]*experiment.Experiment
	assignments map[assignmentID]*experiment.Assignment
	events      map[string]*experiment.Event
	eventLog    []string // event ids in insertion order

	now        func() time.Time
	newEventID func() string
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		experiments: make(map[string]*experiment.Experiment),
		assignments: make(map[assignmentID]*experiment.Assignment),
		events:      make(map[string]*experiment.Event),
		now:         func() time.Time { return time.Now().UTC() },
		newEventID:  func() string { return ulid.Make().String() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) CreateExperiment(ctx context.Context, e *experiment.Experiment) error {
	if err := prepareNew(e, uuid.NewString); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.experiments[e.ID]; exists {
		return fmt.Errorf("%w: experiment %q", experiment.ErrAlreadyExists, e.ID)
	}

	now := s.now()
	e.Version = 1
	e.CreatedAt = now
	e.UpdatedAt = now
	s.experiments[e.ID] = cloneExperiment(e)
	return nil
}

func (s *MemoryStore) GetExperiment(ctx context.Context, id string) (*experiment.Experiment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getExperimentLocked(id)
}

func (s *MemoryStore) getExperimentLocked(id string) (*experiment.Experiment, error) {
	e, ok := s.experiments[id]
	if !ok {
		return nil, fmt.Errorf("%w: experiment %q", experiment.ErrNotFound, id)
	}
	return cloneExperiment(e), nil
}

func (s *MemoryStore) ListExperiments(ctx context.Context, limit, offset int) ([]*experiment.Experiment, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]*experiment.Experiment, 0, len(s.experiments))
	for _, e := range s.experiments {
		all = append(all, cloneExperiment(e))
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].UpdatedAt.Equal(all[j].UpdatedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].UpdatedAt.After(all[j].UpdatedAt)
	})

	total := int64(len(all))
	if offset < 0 {
		offset = 0
	}
	if offset > len(all) {
		offset = len(all)
	}
	end := len(all)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return all[offset:end], total, nil
}

func (s *MemoryStore) ListExperimentIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.experiments))
	for id := range s.experiments {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) UpdateExperiment(ctx context.Context, id string, patch ExperimentPatch) (*experiment.Experiment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.getExperimentLocked(id)
	if err != nil {
		return nil, err
	}
	if err := applyPatch(e, patch); err != nil {
		return nil, err
	}

	e.Version++
	e.UpdatedAt = s.now()
	s.experiments[id] = cloneExperiment(e)
	return e, nil
}

func (s *MemoryStore) GetOrCreateAssignment(ctx context.Context, experimentID, userKey string, pick PickFunc) (*experiment.Assignment, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	key := assignmentID{experimentID: experimentID, userKey: userKey}

	s.mu.Lock()
	defer s.mu.Unlock()

	if a, ok := s.assignments[key]; ok {
		copied := *a
		return &copied, false, nil
	}

	exp, err := s.getExperimentLocked(experimentID)
	if err != nil {
		return nil, false, err
	}

	variant, err := pick(experimentID, userKey, exp.Variants)
	if err != nil {
		return nil, false, err
	}

	a := &experiment.Assignment{
		ExperimentID: experimentID,
		UserKey:      userKey,
		Variant:      variant,
		AssignedAt:   s.now(),
	}
	s.assignments[key] = a

	copied := *a
	return &copied, true, nil
}

func (s *MemoryStore) ScanAssignments(ctx context.Context, experimentID string, fn func(*experiment.Assignment) error) error {
	s.mu.RLock()
	matched := make([]experiment.Assignment, 0)
	for _, a := range s.assignments {
		if a.ExperimentID == experimentID {
			matched = append(matched, *a)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].AssignedAt.Equal(matched[j].AssignedAt) {
			return matched[i].UserKey < matched[j].UserKey
		}
		return matched[i].AssignedAt.Before(matched[j].AssignedAt)
	})

	for i := range matched {
		if err := fn(&matched[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemoryStore) LogEvent(ctx context.Context, ev experiment.NewEvent) (*experiment.Event, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.newEventID()
	if ev.IdempotencyKey != "" {
		id = sanitizedEventID(ev.IdempotencyKey)
		if existing, ok := s.events[id]; ok {
			copied := *existing
			return &copied, false, nil
		}
	}

	stored := &experiment.Event{
		ID:             id,
		ExperimentID:   ev.ExperimentID,
		UserKey:        ev.UserKey,
		VariantID:      ev.VariantID,
		VariantName:    ev.VariantName,
		Type:           ev.Type,
		Name:           ev.Name,
		IdempotencyKey: ev.IdempotencyKey,
		CreatedAt:      s.now(),
	}
	s.events[id] = stored
	s.eventLog = append(s.eventLog, id)

	copied := *stored
	return &copied, true, nil
}

func (s *MemoryStore) ScanEvents(ctx context.Context, experimentID string, fn func(*experiment.Event) error) error {
	s.mu.RLock()
	matched := make([]experiment.Event, 0)
	for _, id := range s.eventLog {
		if e := s.events[id]; e.ExperimentID == experimentID {
			matched = append(matched, *e)
		}
	}
	s.mu.RUnlock()

	for i := range matched {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(&matched[i]); err != nil {
			return err
		}
	}
	return nil
}

func cloneExperiment(e *experiment.Experiment) *experiment.Experiment {
	c := *e
	c.Variants = slices.Clone(e.Variants)
	return &c
}
