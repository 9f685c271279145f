package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordOutcome(t *testing.T) {
	m := NewManagerWithRegistry(prometheus.NewRegistry()).GetPrometheusMetrics()

	m.RecordOutcome("corrected", 0.005)
	m.RecordOutcome("corrected", 0.002)
	m.RecordOutcome("major_discrepancy", 50)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.OutcomesTotal.WithLabelValues("corrected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OutcomesTotal.WithLabelValues("major_discrepancy")))
}

func TestRunGauges(t *testing.T) {
	m := NewManagerWithRegistry(prometheus.NewRegistry()).GetPrometheusMetrics()

	m.SetRunInProgress(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunInProgress))
	m.SetRunInProgress(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.RunInProgress))

	m.RecordRun("manual", "success", 2*time.Second)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("manual", "success")))
	assert.Greater(t, testutil.ToFloat64(m.LastRunTimestamp), 0.0)
}

func TestSeparateRegistries(t *testing.T) {
	require.NotPanics(t, func() {
		NewManagerWithRegistry(prometheus.NewRegistry())
		NewManagerWithRegistry(prometheus.NewRegistry())
	})
}
