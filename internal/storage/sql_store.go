package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/rsk-balance-reconciler/internal/models"
	"github.com/smartdevs17/rsk-balance-reconciler/pkg/utils"
)

// sqlStore holds the queries shared by the SQLite and PostgreSQL backends.
// Queries are written with ? placeholders and passed through rebind.
type sqlStore struct {
	db     *sql.DB
	rebind func(string) string
	logger *logrus.Entry
}

const accountColumns = `address, owning_user_id, recorded_balance, asset_snapshot, is_active,
	last_synced_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAccount(row rowScanner) (*models.TrackedAccount, error) {
	var (
		account  models.TrackedAccount
		owner    sql.NullString
		snapshot string
		synced   sql.NullTime
	)

	err := row.Scan(&account.Address, &owner, &account.RecordedBalance, &snapshot,
		&account.IsActive, &synced, &account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if owner.Valid {
		account.OwningUserID = &owner.String
	}
	if synced.Valid {
		account.LastSyncedAt = &synced.Time
	}
	if err := json.Unmarshal([]byte(snapshot), &account.AssetSnapshot); err != nil {
		return nil, utils.WrapAppError(utils.ErrCodeDatabase, "Failed to decode asset snapshot", err)
	}

	return &account, nil
}

func nullString(value *string) sql.NullString {
	if value == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *value, Valid: true}
}

func nullTime(value *time.Time) sql.NullTime {
	if value == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *value, Valid: true}
}

func encodeSnapshot(snapshot []models.AssetBalance) (string, error) {
	if snapshot == nil {
		snapshot = []models.AssetBalance{}
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return "", utils.WrapAppError(utils.ErrCodeDatabase, "Failed to encode asset snapshot", err)
	}
	return string(data), nil
}

// ListActiveAccounts returns active accounts ordered by creation
func (s *sqlStore) ListActiveAccounts(ctx context.Context, limit, offset int) ([]*models.TrackedAccount, error) {
	query := s.rebind(`SELECT ` + accountColumns + ` FROM tracked_accounts
		WHERE is_active = ?
		ORDER BY created_at ASC, address ASC
		LIMIT ? OFFSET ?`)

	rows, err := s.db.QueryContext(ctx, query, true, limit, offset)
	if err != nil {
		return nil, utils.WrapAppError(utils.ErrCodeDatabase, "Failed to list active accounts", err)
	}
	defer rows.Close()

	accounts := make([]*models.TrackedAccount, 0, limit)
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, utils.WrapAppError(utils.ErrCodeDatabase, "Failed to scan account", err)
		}
		accounts = append(accounts, account)
	}

	if err := rows.Err(); err != nil {
		return nil, utils.WrapAppError(utils.ErrCodeDatabase, "Failed to iterate accounts", err)
	}

	return accounts, nil
}

// GetAccount returns a tracked account by address
func (s *sqlStore) GetAccount(ctx context.Context, address string) (*models.TrackedAccount, error) {
	query := s.rebind(`SELECT ` + accountColumns + ` FROM tracked_accounts WHERE address = ?`)

	account, err := scanAccount(s.db.QueryRowContext(ctx, query, utils.NormalizeAddress(address)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, utils.WrapAppError(utils.ErrCodeDatabase, "Failed to get account", err)
	}

	return account, nil
}

// SaveAccount inserts or replaces a tracked account
func (s *sqlStore) SaveAccount(ctx context.Context, account *models.TrackedAccount) error {
	account.Address = utils.NormalizeAddress(account.Address)

	now := time.Now().UTC()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = now

	snapshot, err := encodeSnapshot(account.AssetSnapshot)
	if err != nil {
		return err
	}

	query := s.rebind(`INSERT INTO tracked_accounts (` + accountColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (address) DO UPDATE SET
			owning_user_id = excluded.owning_user_id,
			recorded_balance = excluded.recorded_balance,
			asset_snapshot = excluded.asset_snapshot,
			is_active = excluded.is_active,
			last_synced_at = excluded.last_synced_at,
			updated_at = excluded.updated_at`)

	_, err = s.db.ExecContext(ctx, query,
		account.Address, nullString(account.OwningUserID), account.RecordedBalance, snapshot,
		account.IsActive, nullTime(account.LastSyncedAt), account.CreatedAt, account.UpdatedAt)
	if err != nil {
		return utils.WrapAppError(utils.ErrCodeDatabase, "Failed to save account", err)
	}

	return nil
}

// UpdateAccountBalance overwrites the recorded balance and snapshot of an account
func (s *sqlStore) UpdateAccountBalance(ctx context.Context, address string, native decimal.Decimal, snapshot []models.AssetBalance) (*models.TrackedAccount, error) {
	encoded, err := encodeSnapshot(snapshot)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	query := s.rebind(`UPDATE tracked_accounts
		SET recorded_balance = ?, asset_snapshot = ?, last_synced_at = ?, updated_at = ?
		WHERE address = ?`)

	result, err := s.db.ExecContext(ctx, query, native, encoded, now, now, utils.NormalizeAddress(address))
	if err != nil {
		return nil, utils.WrapAppError(utils.ErrCodeDatabase, "Failed to update account balance", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, utils.WrapAppError(utils.ErrCodeDatabase, "Failed to update account balance", err)
	}
	if affected == 0 {
		return nil, utils.NewAppError(utils.ErrCodeNotFound, "Account not found", address)
	}

	return s.GetAccount(ctx, address)
}

// GetAssetBySymbol returns an asset by symbol
func (s *sqlStore) GetAssetBySymbol(ctx context.Context, symbol string) (*models.Asset, error) {
	query := s.rebind(`SELECT id, symbol, decimals, price_usd, is_native, updated_at
		FROM assets WHERE symbol = ?`)

	var asset models.Asset
	err := s.db.QueryRowContext(ctx, query, symbol).Scan(
		&asset.ID, &asset.Symbol, &asset.Decimals, &asset.PriceUSD, &asset.IsNative, &asset.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, utils.WrapAppError(utils.ErrCodeDatabase, "Failed to get asset", err)
	}

	return &asset, nil
}

// SaveAsset inserts or updates an asset keyed by symbol
func (s *sqlStore) SaveAsset(ctx context.Context, asset *models.Asset) error {
	if asset.ID == "" {
		asset.ID = utils.GenerateID()
	}
	asset.UpdatedAt = time.Now().UTC()

	query := s.rebind(`INSERT INTO assets (id, symbol, decimals, price_usd, is_native, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (symbol) DO UPDATE SET
			decimals = excluded.decimals,
			price_usd = excluded.price_usd,
			is_native = excluded.is_native,
			updated_at = excluded.updated_at`)

	_, err := s.db.ExecContext(ctx, query,
		asset.ID, asset.Symbol, asset.Decimals, asset.PriceUSD, asset.IsNative, asset.UpdatedAt)
	if err != nil {
		return utils.WrapAppError(utils.ErrCodeDatabase, "Failed to save asset", err)
	}

	return nil
}

// GetBalance returns the internal balance of a user for an asset
func (s *sqlStore) GetBalance(ctx context.Context, userID, assetID string) (*models.InternalBalanceRecord, error) {
	query := s.rebind(`SELECT id, user_id, asset_id, amount, valuation, updated_at
		FROM balances WHERE user_id = ? AND asset_id = ?`)

	var record models.InternalBalanceRecord
	err := s.db.QueryRowContext(ctx, query, userID, assetID).Scan(
		&record.ID, &record.UserID, &record.AssetID, &record.Amount, &record.Valuation, &record.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, utils.WrapAppError(utils.ErrCodeDatabase, "Failed to get balance", err)
	}

	return &record, nil
}

// SaveBalance inserts a new internal balance row
func (s *sqlStore) SaveBalance(ctx context.Context, record *models.InternalBalanceRecord) error {
	if record.ID == "" {
		record.ID = utils.GenerateID()
	}
	record.UpdatedAt = time.Now().UTC()

	query := s.rebind(`INSERT INTO balances (id, user_id, asset_id, amount, valuation, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`)

	_, err := s.db.ExecContext(ctx, query,
		record.ID, record.UserID, record.AssetID, record.Amount, record.Valuation, record.UpdatedAt)
	if err != nil {
		return utils.WrapAppError(utils.ErrCodeDatabase, "Failed to save balance", err)
	}

	return nil
}

// UpdateBalance overwrites the amount and valuation of a balance row
func (s *sqlStore) UpdateBalance(ctx context.Context, id string, amount, valuation decimal.Decimal) error {
	query := s.rebind(`UPDATE balances SET amount = ?, valuation = ?, updated_at = ? WHERE id = ?`)

	result, err := s.db.ExecContext(ctx, query, amount, valuation, time.Now().UTC(), id)
	if err != nil {
		return utils.WrapAppError(utils.ErrCodeDatabase, "Failed to update balance", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return utils.WrapAppError(utils.ErrCodeDatabase, "Failed to update balance", err)
	}
	if affected == 0 {
		return utils.NewAppError(utils.ErrCodeNotFound, "Balance not found", id)
	}

	return nil
}

// SaveNotification stores a user notification
func (s *sqlStore) SaveNotification(ctx context.Context, notification *models.Notification) error {
	if notification.ID == "" {
		notification.ID = utils.GenerateID()
	}
	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = time.Now().UTC()
	}

	query := s.rebind(`INSERT INTO notifications (id, user_id, type, title, body, read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)

	_, err := s.db.ExecContext(ctx, query,
		notification.ID, notification.UserID, string(notification.Type), notification.Title,
		notification.Body, notification.Read, notification.CreatedAt)
	if err != nil {
		return utils.WrapAppError(utils.ErrCodeDatabase, "Failed to save notification", err)
	}

	return nil
}

// GetNotifications returns the newest notifications of a user
func (s *sqlStore) GetNotifications(ctx context.Context, userID string, limit int) ([]*models.Notification, error) {
	query := s.rebind(`SELECT id, user_id, type, title, body, read, created_at
		FROM notifications WHERE user_id = ?
		ORDER BY created_at DESC LIMIT ?`)

	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, utils.WrapAppError(utils.ErrCodeDatabase, "Failed to get notifications", err)
	}
	defer rows.Close()

	var notifications []*models.Notification
	for rows.Next() {
		var (
			n        models.Notification
			category string
		)
		if err := rows.Scan(&n.ID, &n.UserID, &category, &n.Title, &n.Body, &n.Read, &n.CreatedAt); err != nil {
			return nil, utils.WrapAppError(utils.ErrCodeDatabase, "Failed to scan notification", err)
		}
		n.Type = models.NotificationType(category)
		notifications = append(notifications, &n)
	}

	return notifications, rows.Err()
}

const reportSummaryColumns = `id, run_trigger, started_at, finished_at, duration_ms, total_accounts,
	ok_count, corrected_count, flagged_count, major_count, skipped_count, error_count,
	app_balance_corrections`

func summaryDest(summary *models.ReportSummary, trigger *string) []interface{} {
	return []interface{}{
		&summary.ID, trigger, &summary.StartedAt, &summary.FinishedAt, &summary.DurationMs,
		&summary.TotalAccounts, &summary.OkCount, &summary.CorrectedCount, &summary.FlaggedCount,
		&summary.MajorCount, &summary.SkippedCount, &summary.ErrorCount, &summary.AppBalanceCorrections,
	}
}

// AppendReport inserts a report. Existing reports are never overwritten.
func (s *sqlStore) AppendReport(ctx context.Context, report *models.Report) error {
	details, err := json.Marshal(nonNilOutcomes(report.Details))
	if err != nil {
		return utils.WrapAppError(utils.ErrCodeDatabase, "Failed to encode report details", err)
	}
	errorDetails, err := json.Marshal(nonNilErrors(report.Errors))
	if err != nil {
		return utils.WrapAppError(utils.ErrCodeDatabase, "Failed to encode report errors", err)
	}

	query := s.rebind(`INSERT INTO reconciliation_reports (` + reportSummaryColumns + `, details, errors)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`)

	result, err := s.db.ExecContext(ctx, query,
		report.ID, string(report.Trigger), report.StartedAt, report.FinishedAt, report.DurationMs,
		report.TotalAccounts, report.OkCount, report.CorrectedCount, report.FlaggedCount,
		report.MajorCount, report.SkippedCount, report.ErrorCount, report.AppBalanceCorrections,
		string(details), string(errorDetails))
	if err != nil {
		return utils.WrapAppError(utils.ErrCodeDatabase, "Failed to append report", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return utils.WrapAppError(utils.ErrCodeDatabase, "Failed to append report", err)
	}
	if affected == 0 {
		return ErrReportExists
	}

	return nil
}

// ListReports returns report summaries newest first
func (s *sqlStore) ListReports(ctx context.Context, limit, offset int) ([]*models.ReportSummary, error) {
	query := s.rebind(`SELECT ` + reportSummaryColumns + ` FROM reconciliation_reports
		ORDER BY started_at DESC, id DESC
		LIMIT ? OFFSET ?`)

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, utils.WrapAppError(utils.ErrCodeDatabase, "Failed to list reports", err)
	}
	defer rows.Close()

	summaries := make([]*models.ReportSummary, 0, limit)
	for rows.Next() {
		var (
			summary models.ReportSummary
			trigger string
		)
		if err := rows.Scan(summaryDest(&summary, &trigger)...); err != nil {
			return nil, utils.WrapAppError(utils.ErrCodeDatabase, "Failed to scan report", err)
		}
		summary.Trigger = models.Trigger(trigger)
		summaries = append(summaries, &summary)
	}

	if err := rows.Err(); err != nil {
		return nil, utils.WrapAppError(utils.ErrCodeDatabase, "Failed to iterate reports", err)
	}

	return summaries, nil
}

// GetReport returns a full report by ID
func (s *sqlStore) GetReport(ctx context.Context, id string) (*models.Report, error) {
	query := s.rebind(`SELECT ` + reportSummaryColumns + `, details, errors
		FROM reconciliation_reports WHERE id = ?`)

	var (
		report       models.Report
		trigger      string
		details      string
		errorDetails string
	)
	dest := append(summaryDest(&report.ReportSummary, &trigger), &details, &errorDetails)

	err := s.db.QueryRowContext(ctx, query, id).Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, utils.WrapAppError(utils.ErrCodeDatabase, "Failed to get report", err)
	}

	report.Trigger = models.Trigger(trigger)
	if err := json.Unmarshal([]byte(details), &report.Details); err != nil {
		return nil, utils.WrapAppError(utils.ErrCodeDatabase, "Failed to decode report details", err)
	}
	if err := json.Unmarshal([]byte(errorDetails), &report.Errors); err != nil {
		return nil, utils.WrapAppError(utils.ErrCodeDatabase, "Failed to decode report errors", err)
	}

	return &report, nil
}

// GetStorageStats returns row counts for the reconciler tables
func (s *sqlStore) GetStorageStats(ctx context.Context) (*StorageStats, error) {
	stats := &StorageStats{}

	counts := []struct {
		query string
		dest  *int64
	}{
		{"SELECT COUNT(*) FROM tracked_accounts", &stats.TotalAccounts},
		{s.rebind("SELECT COUNT(*) FROM tracked_accounts WHERE is_active = ?"), &stats.ActiveAccounts},
		{"SELECT COUNT(*) FROM reconciliation_reports", &stats.TotalReports},
		{"SELECT COUNT(*) FROM notifications", &stats.TotalNotifications},
	}

	for i, c := range counts {
		var args []interface{}
		if i == 1 {
			args = append(args, true)
		}
		if err := s.db.QueryRowContext(ctx, c.query, args...).Scan(c.dest); err != nil {
			return nil, utils.WrapAppError(utils.ErrCodeDatabase, "Failed to collect storage stats", err)
		}
	}

	var latest sql.NullTime
	err := s.db.QueryRowContext(ctx,
		"SELECT started_at FROM reconciliation_reports ORDER BY started_at DESC LIMIT 1").Scan(&latest)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, utils.WrapAppError(utils.ErrCodeDatabase, "Failed to collect storage stats", err)
	}
	if latest.Valid {
		stats.LatestReportAt = &latest.Time
	}

	return stats, nil
}

func nonNilOutcomes(outcomes []models.Outcome) []models.Outcome {
	if outcomes == nil {
		return []models.Outcome{}
	}
	return outcomes
}

func nonNilErrors(details []models.ErrorDetail) []models.ErrorDetail {
	if details == nil {
		return []models.ErrorDetail{}
	}
	return details
}
