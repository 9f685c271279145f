package storage

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/smartdevs17/rsk-balance-reconciler/internal/metrics"
	"github.com/smartdevs17/rsk-balance-reconciler/internal/models"
)

// StorageWithMetrics wraps a storage implementation with metrics
type StorageWithMetrics struct {
	Storage
	metricsManager *metrics.Manager
}

// NewStorageWithMetrics creates a storage wrapper with metrics
func NewStorageWithMetrics(storage Storage, metricsManager *metrics.Manager) *StorageWithMetrics {
	return &StorageWithMetrics{
		Storage:        storage,
		metricsManager: metricsManager,
	}
}

func (s *StorageWithMetrics) record(operation, table string, start time.Time, err error) {
	if s.metricsManager == nil {
		return
	}

	status := "success"
	if err != nil {
		status = "error"
	}

	s.metricsManager.GetPrometheusMetrics().RecordDatabaseOperation(operation, table, status, time.Since(start))
}

// ListActiveAccounts lists accounts and records metrics
func (s *StorageWithMetrics) ListActiveAccounts(ctx context.Context, limit, offset int) ([]*models.TrackedAccount, error) {
	start := time.Now()
	accounts, err := s.Storage.ListActiveAccounts(ctx, limit, offset)
	s.record("select", "tracked_accounts", start, err)
	return accounts, err
}

// GetAccount gets an account and records metrics
func (s *StorageWithMetrics) GetAccount(ctx context.Context, address string) (*models.TrackedAccount, error) {
	start := time.Now()
	account, err := s.Storage.GetAccount(ctx, address)
	s.record("select", "tracked_accounts", start, err)
	return account, err
}

// UpdateAccountBalance updates an account balance and records metrics
func (s *StorageWithMetrics) UpdateAccountBalance(ctx context.Context, address string, native decimal.Decimal, snapshot []models.AssetBalance) (*models.TrackedAccount, error) {
	start := time.Now()
	account, err := s.Storage.UpdateAccountBalance(ctx, address, native, snapshot)
	s.record("update", "tracked_accounts", start, err)
	return account, err
}

// GetBalance gets an internal balance and records metrics
func (s *StorageWithMetrics) GetBalance(ctx context.Context, userID, assetID string) (*models.InternalBalanceRecord, error) {
	start := time.Now()
	record, err := s.Storage.GetBalance(ctx, userID, assetID)
	s.record("select", "balances", start, err)
	return record, err
}

// UpdateBalance updates an internal balance and records metrics
func (s *StorageWithMetrics) UpdateBalance(ctx context.Context, id string, amount, valuation decimal.Decimal) error {
	start := time.Now()
	err := s.Storage.UpdateBalance(ctx, id, amount, valuation)
	s.record("update", "balances", start, err)
	return err
}

// SaveNotification saves a notification and records metrics
func (s *StorageWithMetrics) SaveNotification(ctx context.Context, notification *models.Notification) error {
	start := time.Now()
	err := s.Storage.SaveNotification(ctx, notification)
	s.record("insert", "notifications", start, err)
	return err
}

// AppendReport appends a report and records metrics
func (s *StorageWithMetrics) AppendReport(ctx context.Context, report *models.Report) error {
	start := time.Now()
	err := s.Storage.AppendReport(ctx, report)
	s.record("insert", "reconciliation_reports", start, err)
	return err
}

// ListReports lists reports and records metrics
func (s *StorageWithMetrics) ListReports(ctx context.Context, limit, offset int) ([]*models.ReportSummary, error) {
	start := time.Now()
	summaries, err := s.Storage.ListReports(ctx, limit, offset)
	s.record("select", "reconciliation_reports", start, err)
	return summaries, err
}

// GetReport gets a report and records metrics
func (s *StorageWithMetrics) GetReport(ctx context.Context, id string) (*models.Report, error) {
	start := time.Now()
	report, err := s.Storage.GetReport(ctx, id)
	s.record("select", "reconciliation_reports", start, err)
	return report, err
}
