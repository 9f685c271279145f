package storage

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/smartdevs17/rsk-balance-reconciler/internal/models"
)

// ErrReportExists is returned when a report with the same ID was already appended
var ErrReportExists = errors.New("report already exists")

// AccountStore persists tracked accounts
type AccountStore interface {
	// ListActiveAccounts returns active accounts in a stable order
	ListActiveAccounts(ctx context.Context, limit, offset int) ([]*models.TrackedAccount, error)
	// GetAccount returns nil when the address is not tracked
	GetAccount(ctx context.Context, address string) (*models.TrackedAccount, error)
	SaveAccount(ctx context.Context, account *models.TrackedAccount) error
	// UpdateAccountBalance overwrites the recorded balance and snapshot and returns the stored row
	UpdateAccountBalance(ctx context.Context, address string, native decimal.Decimal, snapshot []models.AssetBalance) (*models.TrackedAccount, error)
}

// BalanceStore persists assets and per-user internal balances
type BalanceStore interface {
	// GetAssetBySymbol returns nil when the asset is unknown
	GetAssetBySymbol(ctx context.Context, symbol string) (*models.Asset, error)
	SaveAsset(ctx context.Context, asset *models.Asset) error
	// GetBalance returns nil when the user has no row for the asset
	GetBalance(ctx context.Context, userID, assetID string) (*models.InternalBalanceRecord, error)
	SaveBalance(ctx context.Context, record *models.InternalBalanceRecord) error
	UpdateBalance(ctx context.Context, id string, amount, valuation decimal.Decimal) error
}

// NotificationStore persists user-visible alerts
type NotificationStore interface {
	SaveNotification(ctx context.Context, notification *models.Notification) error
	GetNotifications(ctx context.Context, userID string, limit int) ([]*models.Notification, error)
}

// ReportStore is the append-only audit log of reconciliation runs
type ReportStore interface {
	// AppendReport inserts report; it returns ErrReportExists for a repeated ID
	AppendReport(ctx context.Context, report *models.Report) error
	// ListReports returns summaries newest first
	ListReports(ctx context.Context, limit, offset int) ([]*models.ReportSummary, error)
	// GetReport returns nil when no report has the ID
	GetReport(ctx context.Context, id string) (*models.Report, error)
}

// Storage defines the full persistence interface of the reconciler
type Storage interface {
	// Connection management
	Connect() error
	Close() error
	Ping() error
	Migrate() error

	AccountStore
	BalanceStore
	NotificationStore
	ReportStore

	// Statistics and monitoring
	GetStorageStats(ctx context.Context) (*StorageStats, error)
}

// StorageStats provides storage statistics
type StorageStats struct {
	TotalAccounts      int64      `json:"total_accounts"`
	ActiveAccounts     int64      `json:"active_accounts"`
	TotalReports       int64      `json:"total_reports"`
	TotalNotifications int64      `json:"total_notifications"`
	LatestReportAt     *time.Time `json:"latest_report_at,omitempty"`
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	Type             string        `json:"type"`
	ConnectionString string        `json:"connection_string"`
	MaxConnections   int           `json:"max_connections"`
	MaxIdleTime      time.Duration `json:"max_idle_time"`
}
