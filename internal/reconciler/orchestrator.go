package reconciler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/smartdevs17/rsk-balance-reconciler/internal/metrics"
	"github.com/smartdevs17/rsk-balance-reconciler/internal/models"
	"github.com/smartdevs17/rsk-balance-reconciler/internal/storage"
	"github.com/smartdevs17/rsk-balance-reconciler/pkg/utils"
)

const (
	DefaultBatchSize   = 50
	DefaultConcurrency = 10

	defaultReportLimit = 20
	maxReportLimit     = 100

	reportPersistTimeout = 30 * time.Second
)

// Runner starts reconciliation runs and serves their reports
type Runner interface {
	RunFullReconciliation(ctx context.Context, trigger models.Trigger) (*models.Report, error)
	ListReports(ctx context.Context, limit, offset int) ([]*models.ReportSummary, error)
	GetReport(ctx context.Context, id string) (*models.Report, error)
}

// Orchestrator walks every active account page by page and builds the run report
type Orchestrator struct {
	accounts     storage.AccountStore
	reports      storage.ReportStore
	reconciler   *Reconciler
	synchronizer *Synchronizer
	lock         RunLock
	batchSize    int
	concurrency  int
	metrics      *metrics.Manager
	logger       *logrus.Entry
}

// accountResult is what one worker hands back to the page aggregator
type accountResult struct {
	outcome models.Outcome
	synced  bool
	err     error
}

// NewOrchestrator creates a batch orchestrator. lock and metricsManager may be nil.
func NewOrchestrator(
	accounts storage.AccountStore,
	reports storage.ReportStore,
	reconciler *Reconciler,
	synchronizer *Synchronizer,
	lock RunLock,
	batchSize, concurrency int,
	metricsManager *metrics.Manager,
) *Orchestrator {
	if batchSize < 1 {
		batchSize = DefaultBatchSize
	}
	if concurrency < 1 {
		concurrency = DefaultConcurrency
	}
	if lock == nil {
		lock = NewLocalLock()
	}

	return &Orchestrator{
		accounts:     accounts,
		reports:      reports,
		reconciler:   reconciler,
		synchronizer: synchronizer,
		lock:         lock,
		batchSize:    batchSize,
		concurrency:  concurrency,
		metrics:      metricsManager,
		logger:       utils.ComponentLogger("orchestrator"),
	}
}

// RunFullReconciliation reconciles every active account and persists one report.
// It returns ErrRunInProgress when another run holds the lock.
func (o *Orchestrator) RunFullReconciliation(ctx context.Context, trigger models.Trigger) (*models.Report, error) {
	release, err := o.lock.TryAcquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	if o.metrics != nil {
		o.metrics.GetPrometheusMetrics().SetRunInProgress(true)
		defer o.metrics.GetPrometheusMetrics().SetRunInProgress(false)
	}

	report := &models.Report{
		ReportSummary: models.ReportSummary{
			ID:        uuid.New().String(),
			Trigger:   trigger,
			StartedAt: time.Now().UTC(),
		},
		Details: []models.Outcome{},
		Errors:  []models.ErrorDetail{},
	}

	log := o.logger.WithFields(logrus.Fields{
		"report_id": report.ID,
		"trigger":   trigger,
	})
	log.Info("Starting reconciliation run")

	for offset := 0; ; offset += o.batchSize {
		if err := ctx.Err(); err != nil {
			report.RecordError("", fmt.Errorf("run interrupted: %w", err))
			break
		}

		page, err := o.accounts.ListActiveAccounts(ctx, o.batchSize, offset)
		if err != nil {
			if offset == 0 {
				o.recordRun(trigger, "failed", report.StartedAt)
				return nil, utils.WrapAppError(utils.ErrCodeReconcile, "Failed to list tracked accounts", err)
			}
			log.WithError(err).WithField("offset", offset).Error("Failed to list account page, stopping run")
			report.RecordError("", fmt.Errorf("list accounts at offset %d: %w", offset, err))
			break
		}

		for _, result := range o.processPage(ctx, page) {
			o.aggregate(report, result)
		}

		if len(page) < o.batchSize {
			break
		}
	}

	report.FinishedAt = time.Now().UTC()
	report.DurationMs = report.FinishedAt.Sub(report.StartedAt).Milliseconds()

	o.persist(ctx, report)

	result := "completed"
	if report.ErrorCount > 0 {
		result = "completed_with_errors"
	}
	o.recordRun(trigger, result, report.StartedAt)

	log.WithFields(logrus.Fields{
		"total_accounts":          report.TotalAccounts,
		"ok":                      report.OkCount,
		"corrected":               report.CorrectedCount,
		"flagged":                 report.FlaggedCount,
		"major":                   report.MajorCount,
		"skipped":                 report.SkippedCount,
		"errors":                  report.ErrorCount,
		"app_balance_corrections": report.AppBalanceCorrections,
		"duration_ms":             report.DurationMs,
	}).Info("Reconciliation run finished")

	return report, nil
}

// processPage reconciles one page with bounded concurrency. Results keep page order.
func (o *Orchestrator) processPage(ctx context.Context, page []*models.TrackedAccount) []accountResult {
	results := make([]accountResult, len(page))
	sem := semaphore.NewWeighted(int64(o.concurrency))

	var wg sync.WaitGroup
	for i, account := range page {
		if err := sem.Acquire(ctx, 1); err != nil {
			// Cancelled: the remaining accounts are reported as errors
			for j := i; j < len(page); j++ {
				results[j] = accountResult{
					outcome: models.Outcome{Address: page[j].Address},
					err:     fmt.Errorf("run interrupted: %w", err),
				}
			}
			break
		}

		wg.Add(1)
		go func(i int, account *models.TrackedAccount) {
			defer wg.Done()
			defer sem.Release(1)
			defer func() {
				if r := recover(); r != nil {
					o.logger.WithField("address", account.Address).Errorf("Panic while reconciling account: %v", r)
					results[i] = accountResult{
						outcome: models.Outcome{Address: account.Address},
						err:     utils.NewAppError(utils.ErrCodeInternal, "Panic while reconciling account", fmt.Sprint(r)),
					}
				}
			}()

			results[i] = o.processAccount(ctx, account)
		}(i, account)
	}
	wg.Wait()

	return results
}

// processAccount reconciles one account and, after a correction, syncs its owner's balance
func (o *Orchestrator) processAccount(ctx context.Context, account *models.TrackedAccount) accountResult {
	outcome, err := o.reconciler.Reconcile(ctx, account)
	if err != nil {
		return accountResult{outcome: outcome, err: err}
	}

	result := accountResult{outcome: outcome}
	if !outcome.Status.Corrective() || o.synchronizer == nil {
		return result
	}

	log := o.logger.WithField("address", account.Address)

	refreshed, err := o.accounts.GetAccount(ctx, account.Address)
	if err != nil {
		log.WithError(err).Warn("Failed to reload corrected account, app balance not synced")
		return result
	}
	if refreshed == nil {
		log.Warn("Corrected account disappeared, app balance not synced")
		return result
	}

	synced, err := o.synchronizer.SyncAppBalance(ctx, refreshed)
	if err != nil {
		log.WithError(err).Warn("Failed to sync app balance")
		return result
	}
	result.synced = synced != nil

	return result
}

func (o *Orchestrator) aggregate(report *models.Report, result accountResult) {
	report.TotalAccounts++

	if result.err != nil {
		o.logger.WithError(result.err).WithField("address", result.outcome.Address).Error("Failed to reconcile account")
		report.RecordError(result.outcome.Address, result.err)
		o.recordOutcome(models.StatusError, 0)
		return
	}

	report.Record(result.outcome)
	abs, _ := result.outcome.AbsoluteDiscrepancy.Float64()
	o.recordOutcome(result.outcome.Status, abs)

	if result.synced {
		report.AppBalanceCorrections++
		if o.metrics != nil {
			o.metrics.GetPrometheusMetrics().RecordAppBalanceCorrection()
		}
	}
}

// persist appends the report. Failures are logged, the run result stands.
func (o *Orchestrator) persist(ctx context.Context, report *models.Report) {
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reportPersistTimeout)
	defer cancel()

	if err := o.reports.AppendReport(persistCtx, report); err != nil {
		o.logger.WithError(err).WithField("report_id", report.ID).Error("Failed to persist reconciliation report")
	}
}

func (o *Orchestrator) recordOutcome(status models.Status, abs float64) {
	if o.metrics != nil {
		o.metrics.GetPrometheusMetrics().RecordOutcome(string(status), abs)
	}
}

func (o *Orchestrator) recordRun(trigger models.Trigger, result string, startedAt time.Time) {
	if o.metrics != nil {
		o.metrics.GetPrometheusMetrics().RecordRun(string(trigger), result, time.Since(startedAt))
	}
}

// ListReports returns report summaries newest first. limit is clamped to 1..100.
func (o *Orchestrator) ListReports(ctx context.Context, limit, offset int) ([]*models.ReportSummary, error) {
	if limit <= 0 {
		limit = defaultReportLimit
	}
	if limit > maxReportLimit {
		limit = maxReportLimit
	}
	if offset < 0 {
		offset = 0
	}
	return o.reports.ListReports(ctx, limit, offset)
}

// GetReport returns the full report, or nil when id is unknown
func (o *Orchestrator) GetReport(ctx context.Context, id string) (*models.Report, error) {
	return o.reports.GetReport(ctx, id)
}
