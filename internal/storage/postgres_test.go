package storage

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/rsk-balance-reconciler/internal/config"
	"github.com/smartdevs17/rsk-balance-reconciler/internal/models"
)

func newMockPostgres(t *testing.T) (*PostgreSQLStorage, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgreSQLStorageWithDB(db), mock
}

func TestRebindDollar(t *testing.T) {
	assert.Equal(t,
		"UPDATE balances SET amount = $1, valuation = $2 WHERE id = $3",
		rebindDollar("UPDATE balances SET amount = ?, valuation = ? WHERE id = ?"))
	assert.Equal(t, "SELECT 1", rebindDollar("SELECT 1"))
}

func TestPostgresAppendReportDuplicate(t *testing.T) {
	store, mock := newMockPostgres(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO reconciliation_reports")).
		WithArgs("report-1", "scheduled", sqlmock.AnyArg(), sqlmock.AnyArg(), int64(10),
			0, 0, 0, 0, 0, 0, 0, 0, "[]", "[]").
		WillReturnResult(sqlmock.NewResult(0, 0))

	report := &models.Report{ReportSummary: models.ReportSummary{
		ID:         "report-1",
		Trigger:    models.TriggerScheduled,
		StartedAt:  time.Now().UTC(),
		FinishedAt: time.Now().UTC(),
		DurationMs: 10,
	}}

	err := store.AppendReport(context.Background(), report)
	assert.ErrorIs(t, err, ErrReportExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetAccountUsesDollarPlaceholders(t *testing.T) {
	store, mock := newMockPostgres(t)
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{
		"address", "owning_user_id", "recorded_balance", "asset_snapshot", "is_active",
		"last_synced_at", "created_at", "updated_at",
	}).AddRow("0xabc", nil, "100.500000000000000000", `[{"asset":"RBTC","amount":"100.5"}]`, true, nil, now, now)

	mock.ExpectQuery(regexp.QuoteMeta("FROM tracked_accounts WHERE address = $1")).
		WithArgs("0xabc").
		WillReturnRows(rows)

	account, err := store.GetAccount(context.Background(), "0xABC")
	require.NoError(t, err)
	require.NotNil(t, account)
	assert.Nil(t, account.OwningUserID)
	assert.True(t, account.RecordedBalance.Equal(decimal.RequireFromString("100.5")))
	require.Len(t, account.AssetSnapshot, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetAccountMissing(t *testing.T) {
	store, mock := newMockPostgres(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM tracked_accounts WHERE address = $1")).
		WillReturnError(sql.ErrNoRows)

	account, err := store.GetAccount(context.Background(), "0xabc")
	assert.NoError(t, err)
	assert.Nil(t, account)
}

func TestPostgresUpdateBalanceNotFound(t *testing.T) {
	store, mock := newMockPostgres(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE balances SET amount = $1, valuation = $2, updated_at = $3 WHERE id = $4")).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), "missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.UpdateBalance(context.Background(), "missing", decimal.NewFromInt(1), decimal.NewFromInt(2))
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewStorageRejectsUnknownType(t *testing.T) {
	_, err := NewStorage(&config.StorageConfig{Type: "mongo", ConnectionString: "x", MaxConnections: 1})
	assert.Error(t, err)
}
