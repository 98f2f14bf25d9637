// Package experiment holds the domain model shared by every layer of the factory:
// experiments and their weighted variants, sticky assignments, logged events and
// the derived metrics report.
package experiment

import (
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of an experiment.
type Status string

const (
	StatusDraft   Status = "DRAFT"
	StatusRunning Status = "RUNNING"
	StatusPaused  Status = "PAUSED"
)

// Valid reports whether s is one of the known lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusRunning, StatusPaused:
		return true
	}
	return false
}

// ParseStatus normalizes and validates a status string.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalidArgument, s)
	}
	return st, nil
}

// Variant is one weighted arm of an experiment.
type Variant struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Weight    int    `json:"weight"`
	JourneyID string `json:"journey_id,omitempty"`
}

// Experiment is the administrative record consulted for assignment.
// Variants are ordered; the order is part of the bucketing contract.
type Experiment struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Status         Status    `json:"status"`
	Variants       []Variant `json:"variants"`
	CreatedByEmail string    `json:"created_by_email,omitempty"`
	Version        int64     `json:"version"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Variant returns the declared variant with the given id.
func (e *Experiment) Variant(id string) (Variant, bool) {
	for _, v := range e.Variants {
		if v.ID == id {
			return v, true
		}
	}
	return Variant{}, false
}

// DefaultVariants is the A/B 50/50 split used when an experiment is created without variants.
func DefaultVariants() []Variant {
	return []Variant{
		{ID: "A", Name: "A", Weight: 50},
		{ID: "B", Name: "B", Weight: 50},
	}
}

// Assignment is the persisted, immutable mapping of one user to one variant.
// The variant is a snapshot taken at assignment time.
type Assignment struct {
	ExperimentID string    `json:"experiment_id"`
	UserKey      string    `json:"user_key"`
	Variant      Variant   `json:"variant"`
	AssignedAt   time.Time `json:"assigned_at"`
}

// EventType classifies a logged event.
type EventType string

const (
	EventExposure    EventType = "EXPOSURE"
	EventInteraction EventType = "INTERACTION"
	EventConversion  EventType = "CONVERSION"
)

// ParseEventType validates an event type received from a caller.
func ParseEventType(s string) (EventType, error) {
	t := EventType(strings.ToUpper(strings.TrimSpace(s)))
	switch t {
	case EventExposure, EventInteraction, EventConversion:
		return t, nil
	}
	return "", fmt.Errorf("%w: unknown event type %q", ErrInvalidArgument, s)
}

// Event is an immutable, append-only record of something a user did while assigned.
type Event struct {
	ID             string    `json:"id"`
	ExperimentID   string    `json:"experiment_id"`
	UserKey        string    `json:"user_key"`
	VariantID      string    `json:"variant_id"`
	VariantName    string    `json:"variant_name"`
	Type           EventType `json:"type"`
	Name           string    `json:"name"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// NewEvent carries the caller-supplied fields of an event before it is stored.
type NewEvent struct {
	ExperimentID   string
	UserKey        string
	VariantID      string
	VariantName    string
	Type           EventType
	Name           string
	IdempotencyKey string
}

// VariantMetrics is one row of the metrics report.
type VariantMetrics struct {
	VariantID      string  `json:"variant_id"`
	VariantName    string  `json:"variant_name"`
	Exposures      int64   `json:"exposures"`
	Conversions    int64   `json:"conversions"`
	ConversionRate float64 `json:"conversion_rate"`
}

// Totals aggregates the variant rows of a report.
type Totals struct {
	Exposures      int64   `json:"exposures"`
	Conversions    int64   `json:"conversions"`
	ConversionRate float64 `json:"conversion_rate"`
}

// Metrics is the derived report for one experiment. It is never persisted.
type Metrics struct {
	ExperimentID string           `json:"experiment_id"`
	Variants     []VariantMetrics `json:"variants"`
	Totals       Totals           `json:"totals"`
	GeneratedAt  time.Time        `json:"generated_at"`
}

// ConversionRate returns conversions/exposures, or 0 when there are no exposures.
func ConversionRate(conversions, exposures int64) float64 {
	if exposures <= 0 {
		return 0
	}
	return float64(conversions) / float64(exposures)
}
