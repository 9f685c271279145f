package reconciler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/rsk-balance-reconciler/internal/models"
	"github.com/smartdevs17/rsk-balance-reconciler/pkg/utils"
)

// Scheduler triggers reconciliation runs on a fixed interval
type Scheduler struct {
	runner     Runner
	interval   time.Duration
	runOnStart bool
	logger     *logrus.Entry

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	lastRun  *models.ReportSummary
}

// NewScheduler creates a scheduler. An interval of zero disables it.
func NewScheduler(runner Runner, interval time.Duration, runOnStart bool) *Scheduler {
	return &Scheduler{
		runner:     runner,
		interval:   interval,
		runOnStart: runOnStart,
		logger:     utils.ComponentLogger("scheduler"),
		stopChan:   make(chan struct{}),
	}
}

// Start launches the scheduling loop
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return utils.NewAppError(utils.ErrCodeInternal, "Scheduler already running")
	}
	if s.interval <= 0 {
		s.logger.Info("Scheduled reconciliation disabled")
		return nil
	}

	s.running = true
	s.wg.Add(1)
	go s.loop(ctx)

	s.logger.WithFields(logrus.Fields{
		"interval":     s.interval,
		"run_on_start": s.runOnStart,
	}).Info("Scheduler started")
	return nil
}

// Stop ends the loop and waits for an in-flight run to finish
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()

	s.logger.Info("Scheduler stopped")
}

// IsRunning returns whether the loop is active
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// LastRun returns the summary of the last scheduled run, if any
func (s *Scheduler) LastRun() *models.ReportSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	if s.runOnStart {
		s.tick(ctx)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopped by context")
			return
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	report, err := s.runner.RunFullReconciliation(ctx, models.TriggerScheduled)
	if errors.Is(err, ErrRunInProgress) {
		s.logger.Info("Reconciliation already in progress, skipping scheduled run")
		return
	}
	if err != nil {
		s.logger.WithError(err).Error("Scheduled reconciliation failed")
		return
	}

	summary := report.ReportSummary
	s.mu.Lock()
	s.lastRun = &summary
	s.mu.Unlock()
}
