package reconciler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/rsk-balance-reconciler/internal/models"
)

type countingRunner struct {
	runs int32
	err  error
}

func (r *countingRunner) RunFullReconciliation(_ context.Context, trigger models.Trigger) (*models.Report, error) {
	atomic.AddInt32(&r.runs, 1)
	if r.err != nil {
		return nil, r.err
	}
	return &models.Report{ReportSummary: models.ReportSummary{ID: "r", Trigger: trigger}}, nil
}

func (r *countingRunner) ListReports(context.Context, int, int) ([]*models.ReportSummary, error) {
	return nil, nil
}

func (r *countingRunner) GetReport(context.Context, string) (*models.Report, error) {
	return nil, nil
}

func TestSchedulerRunsOnInterval(t *testing.T) {
	runner := &countingRunner{}
	scheduler := NewScheduler(runner, 10*time.Millisecond, true)

	require.NoError(t, scheduler.Start(context.Background()))
	assert.True(t, scheduler.IsRunning())
	assert.Error(t, scheduler.Start(context.Background()))

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&runner.runs) >= 3
	}, time.Second, 5*time.Millisecond)

	scheduler.Stop()
	assert.False(t, scheduler.IsRunning())

	require.NotNil(t, scheduler.LastRun())
	assert.Equal(t, models.TriggerScheduled, scheduler.LastRun().Trigger)

	stopped := atomic.LoadInt32(&runner.runs)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stopped, atomic.LoadInt32(&runner.runs))
}

func TestSchedulerSkipsWhenRunInProgress(t *testing.T) {
	runner := &countingRunner{err: ErrRunInProgress}
	scheduler := NewScheduler(runner, 10*time.Millisecond, false)

	require.NoError(t, scheduler.Start(context.Background()))
	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&runner.runs) >= 2
	}, time.Second, 5*time.Millisecond)
	scheduler.Stop()

	assert.Nil(t, scheduler.LastRun())
}

func TestSchedulerDisabled(t *testing.T) {
	runner := &countingRunner{}
	scheduler := NewScheduler(runner, 0, true)

	require.NoError(t, scheduler.Start(context.Background()))
	assert.False(t, scheduler.IsRunning())
	scheduler.Stop()
	assert.Equal(t, int32(0), atomic.LoadInt32(&runner.runs))
}
