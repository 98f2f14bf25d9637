package testsupport

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Polling budget for AssertMetricDeltaAsync. The syncer and the cache
// notifier update their counters off the request goroutine.
const (
	asyncWait = 2 * time.Second
	asyncTick = 50 * time.Millisecond
)

// GetMetricValue reads one series from the default registry. Counters and
// gauges yield their value, histograms their sample count. A series that was
// never touched reads as 0, so deltas work from a clean registry.
func GetMetricValue(t *testing.T, metricName string, labelFilter map[string]string) float64 {
	t.Helper()

	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err, "gather metrics")

	for _, family := range families {
		if family.GetName() != metricName {
			continue
		}
		for _, m := range family.GetMetric() {
			if hasLabels(m, labelFilter) {
				return sampleValue(m)
			}
		}
	}
	return 0
}

func sampleValue(m *dto.Metric) float64 {
	switch {
	case m.GetCounter() != nil:
		return m.GetCounter().GetValue()
	case m.GetGauge() != nil:
		return m.GetGauge().GetValue()
	case m.GetHistogram() != nil:
		return float64(m.GetHistogram().GetSampleCount())
	}
	return 0
}

// hasLabels reports whether m carries every pair in want. Extra labels on m are fine.
func hasLabels(m *dto.Metric, want map[string]string) bool {
	matched := 0
	for _, pair := range m.GetLabel() {
		if v, ok := want[pair.GetName()]; ok {
			if v != pair.GetValue() {
				return false
			}
			matched++
		}
	}
	return matched == len(want)
}

// AssertMetricDelta runs fn and checks the series moved by exactly expectedDelta.
func AssertMetricDelta(t *testing.T, metricName string, labels map[string]string, expectedDelta float64, fn func()) {
	t.Helper()

	before := GetMetricValue(t, metricName, labels)
	fn()
	after := GetMetricValue(t, metricName, labels)

	assert.Equal(t, expectedDelta, after-before, "unexpected change in %s%v", metricName, labels)
}

// AssertMetricDeltaAsync is AssertMetricDelta for series updated by a
// background goroutine: it polls until the delta is reached or gives up.
func AssertMetricDeltaAsync(t *testing.T, metricName string, labels map[string]string, expectedDelta float64, fn func()) {
	t.Helper()

	want := GetMetricValue(t, metricName, labels) + expectedDelta
	fn()

	require.Eventually(t, func() bool {
		return GetMetricValue(t, metricName, labels) == want
	}, asyncWait, asyncTick, "%s%v never moved by %+.0f", metricName, labels, expectedDelta)
}

// AssertHistogramRecorded checks that a histogram series holds at least one observation.
func AssertHistogramRecorded(t *testing.T, metricName string, labels map[string]string) {
	t.Helper()

	assert.Positive(t, GetMetricValue(t, metricName, labels), "no observations in %s%v", metricName, labels)
}
