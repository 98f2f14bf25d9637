// Package report derives the per-variant metrics of an experiment from its event log.
//
// The computation is a full scan grouped by variant. It is meant for on-demand
// administrative reports, not for hot paths.
package report

import (
	"context"
	"time"

	"github.com/crenshan/experiment-factory/internal/experiment"
)

// EventScanner streams the events of one experiment. store.EventRepository satisfies it.
type EventScanner interface {
	ScanEvents(ctx context.Context, experimentID string, fn func(*experiment.Event) error) error
}

// Aggregator accumulates event counts for the declared variants of one experiment.
// It is not safe for concurrent use.
type Aggregator struct {
	experimentID string
	rows         []experiment.VariantMetrics
	index        map[string]int
	skipped      int64
}

// NewAggregator prepares one zeroed row per declared variant, in declaration order.
// Rows carry the variant's current name.
func NewAggregator(exp *experiment.Experiment) *Aggregator {
	a := &Aggregator{
		experimentID: exp.ID,
		rows:         make([]experiment.VariantMetrics, 0, len(exp.Variants)),
		index:        make(map[string]int, len(exp.Variants)),
	}
	for _, v := range exp.Variants {
		if _, dup := a.index[v.ID]; dup {
			continue
		}
		a.index[v.ID] = len(a.rows)
		a.rows = append(a.rows, experiment.VariantMetrics{VariantID: v.ID, VariantName: v.Name})
	}
	return a
}

// Add counts one event. INTERACTION events, events of another experiment and events
// whose variant is empty or no longer declared are not counted.
func (a *Aggregator) Add(e *experiment.Event) {
	if e == nil || e.ExperimentID != a.experimentID {
		a.skipped++
		return
	}

	i, ok := a.index[e.VariantID]
	if !ok || e.VariantID == "" {
		a.skipped++
		return
	}

	switch e.Type {
	case experiment.EventExposure:
		a.rows[i].Exposures++
	case experiment.EventConversion:
		a.rows[i].Conversions++
	}
}

// Skipped returns how many events Add ignored because of their experiment or variant.
func (a *Aggregator) Skipped() int64 {
	return a.skipped
}

// Result computes rates and totals. The Aggregator can keep accepting events afterwards.
func (a *Aggregator) Result(generatedAt time.Time) *experiment.Metrics {
	m := &experiment.Metrics{
		ExperimentID: a.experimentID,
		Variants:     make([]experiment.VariantMetrics, len(a.rows)),
		GeneratedAt:  generatedAt,
	}

	for i, row := range a.rows {
		row.ConversionRate = experiment.ConversionRate(row.Conversions, row.Exposures)
		m.Variants[i] = row
		m.Totals.Exposures += row.Exposures
		m.Totals.Conversions += row.Conversions
	}
	m.Totals.ConversionRate = experiment.ConversionRate(m.Totals.Conversions, m.Totals.Exposures)

	return m
}

// Compute scans every event of exp and returns its metrics.
func Compute(ctx context.Context, exp *experiment.Experiment, events EventScanner, now time.Time) (*experiment.Metrics, error) {
	agg := NewAggregator(exp)
	err := events.ScanEvents(ctx, exp.ID, func(e *experiment.Event) error {
		agg.Add(e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return agg.Result(now), nil
}
