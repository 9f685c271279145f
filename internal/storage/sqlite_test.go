package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"github.com/smartdevs17/rsk-balance-reconciler/internal/metrics"
	"github.com/smartdevs17/rsk-balance-reconciler/internal/models"
)

type SQLiteStorageSuite struct {
	suite.Suite
	store *SQLiteStorage
	ctx   context.Context
}

func TestSQLiteStorageSuite(t *testing.T) {
	suite.Run(t, new(SQLiteStorageSuite))
}

func (s *SQLiteStorageSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = NewSQLiteStorage(&StorageConfig{Type: "sqlite", ConnectionString: ":memory:"})
	s.Require().NoError(s.store.Connect())
	s.Require().NoError(s.store.Migrate())
}

func (s *SQLiteStorageSuite) TearDownTest() {
	s.Require().NoError(s.store.Close())
}

func (s *SQLiteStorageSuite) seedAccount(address string, balance string, active bool) *models.TrackedAccount {
	owner := "user-" + address[len(address)-4:]
	account := &models.TrackedAccount{
		Address:         address,
		OwningUserID:    &owner,
		RecordedBalance: decimal.RequireFromString(balance),
		IsActive:        active,
	}
	s.Require().NoError(s.store.SaveAccount(s.ctx, account))
	return account
}

func (s *SQLiteStorageSuite) TestMigrateIsRepeatable() {
	s.NoError(s.store.Migrate())
}

func (s *SQLiteStorageSuite) TestAccountRoundTrip() {
	s.seedAccount("0xAAAA00000000000000000000000000000000aaaa", "100.005", true)

	account, err := s.store.GetAccount(s.ctx, "0xaaaa00000000000000000000000000000000aaaa")
	s.Require().NoError(err)
	s.Require().NotNil(account)
	s.Equal("0xaaaa00000000000000000000000000000000aaaa", account.Address)
	s.True(account.RecordedBalance.Equal(decimal.RequireFromString("100.005")))
	s.Require().NotNil(account.OwningUserID)
	s.Equal("user-aaaa", *account.OwningUserID)
	s.Empty(account.AssetSnapshot)
	s.Nil(account.LastSyncedAt)
}

func (s *SQLiteStorageSuite) TestGetAccountMissing() {
	account, err := s.store.GetAccount(s.ctx, "0x0000000000000000000000000000000000000001")
	s.NoError(err)
	s.Nil(account)
}

func (s *SQLiteStorageSuite) TestListActiveAccountsPaginates() {
	for i, addr := range []string{
		"0x1000000000000000000000000000000000000001",
		"0x1000000000000000000000000000000000000002",
		"0x1000000000000000000000000000000000000003",
	} {
		s.seedAccount(addr, "1", i != 1)
		time.Sleep(2 * time.Millisecond)
	}

	first, err := s.store.ListActiveAccounts(s.ctx, 1, 0)
	s.Require().NoError(err)
	s.Require().Len(first, 1)
	s.Equal("0x1000000000000000000000000000000000000001", first[0].Address)

	second, err := s.store.ListActiveAccounts(s.ctx, 1, 1)
	s.Require().NoError(err)
	s.Require().Len(second, 1)
	s.Equal("0x1000000000000000000000000000000000000003", second[0].Address)

	rest, err := s.store.ListActiveAccounts(s.ctx, 1, 2)
	s.Require().NoError(err)
	s.Empty(rest)
}

func (s *SQLiteStorageSuite) TestUpdateAccountBalance() {
	s.seedAccount("0x2000000000000000000000000000000000000002", "100", true)

	snapshot := []models.AssetBalance{
		{Asset: "RBTC", Amount: decimal.RequireFromString("100.5")},
		{Asset: "RIF", Contract: "0x19f64674d8a5b4e652319f5e239efd3bc969a1fe", Amount: decimal.RequireFromString("3")},
	}
	updated, err := s.store.UpdateAccountBalance(s.ctx, "0x2000000000000000000000000000000000000002",
		decimal.RequireFromString("100.5"), snapshot)
	s.Require().NoError(err)

	s.True(updated.RecordedBalance.Equal(decimal.RequireFromString("100.5")))
	s.Require().Len(updated.AssetSnapshot, 2)
	s.Equal("RIF", updated.AssetSnapshot[1].Asset)
	s.True(updated.AssetSnapshot[1].Amount.Equal(decimal.NewFromInt(3)))
	s.NotNil(updated.LastSyncedAt)
}

func (s *SQLiteStorageSuite) TestUpdateAccountBalanceMissing() {
	_, err := s.store.UpdateAccountBalance(s.ctx, "0x3000000000000000000000000000000000000003", decimal.NewFromInt(1), nil)
	s.Error(err)
}

func (s *SQLiteStorageSuite) TestBalances() {
	asset := &models.Asset{Symbol: "RBTC", Decimals: 18, PriceUSD: decimal.NewFromInt(60000), IsNative: true}
	s.Require().NoError(s.store.SaveAsset(s.ctx, asset))

	stored, err := s.store.GetAssetBySymbol(s.ctx, "RBTC")
	s.Require().NoError(err)
	s.Require().NotNil(stored)
	s.True(stored.IsNative)
	s.True(stored.PriceUSD.Equal(decimal.NewFromInt(60000)))

	missing, err := s.store.GetAssetBySymbol(s.ctx, "DOC")
	s.NoError(err)
	s.Nil(missing)

	record := &models.InternalBalanceRecord{UserID: "user-1", AssetID: stored.ID, Amount: decimal.NewFromInt(2)}
	s.Require().NoError(s.store.SaveBalance(s.ctx, record))

	s.Require().NoError(s.store.UpdateBalance(s.ctx, record.ID, decimal.RequireFromString("2.5"), decimal.NewFromInt(150000)))

	got, err := s.store.GetBalance(s.ctx, "user-1", stored.ID)
	s.Require().NoError(err)
	s.Require().NotNil(got)
	s.True(got.Amount.Equal(decimal.RequireFromString("2.5")))
	s.True(got.Valuation.Equal(decimal.NewFromInt(150000)))

	none, err := s.store.GetBalance(s.ctx, "user-2", stored.ID)
	s.NoError(err)
	s.Nil(none)
}

func (s *SQLiteStorageSuite) TestNotifications() {
	for _, title := range []string{"first", "second"} {
		s.Require().NoError(s.store.SaveNotification(s.ctx, &models.Notification{
			UserID: "user-1",
			Type:   models.NotificationTypeBalanceAlert,
			Title:  title,
			Body:   "body",
		}))
		time.Sleep(2 * time.Millisecond)
	}

	notifications, err := s.store.GetNotifications(s.ctx, "user-1", 10)
	s.Require().NoError(err)
	s.Require().Len(notifications, 2)
	s.Equal("second", notifications[0].Title)
	s.Equal(models.NotificationTypeBalanceAlert, notifications[0].Type)
}

func (s *SQLiteStorageSuite) newReport(id string, startedAt time.Time) *models.Report {
	chain := decimal.RequireFromString("100.005")
	report := &models.Report{ReportSummary: models.ReportSummary{
		ID:         id,
		Trigger:    models.TriggerManual,
		StartedAt:  startedAt,
		FinishedAt: startedAt.Add(time.Second),
		DurationMs: 1000,
	}}
	report.TotalAccounts = 2
	report.Record(models.Outcome{
		Address:      "0xabc",
		ChainBalance: &chain,
		Status:       models.StatusCorrected,
		Correction:   &models.Correction{OldBalance: decimal.NewFromInt(100), NewBalance: chain},
	})
	report.RecordError("0xdef", errors.New("timeout"))
	return report
}

func (s *SQLiteStorageSuite) TestReportsAreWriteOnce() {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	first := s.newReport("report-1", base)
	s.Require().NoError(s.store.AppendReport(s.ctx, first))

	before, err := s.store.GetReport(s.ctx, "report-1")
	s.Require().NoError(err)

	s.Require().NoError(s.store.AppendReport(s.ctx, s.newReport("report-2", base.Add(time.Hour))))

	duplicate := s.newReport("report-1", base.Add(2*time.Hour))
	duplicate.OkCount = 99
	s.ErrorIs(s.store.AppendReport(s.ctx, duplicate), ErrReportExists)

	after, err := s.store.GetReport(s.ctx, "report-1")
	s.Require().NoError(err)
	s.Equal(before.OkCount, after.OkCount)
	s.True(before.StartedAt.Equal(after.StartedAt))
	s.Require().Len(after.Details, 1)
	s.Equal(models.StatusCorrected, after.Details[0].Status)
	s.True(after.Details[0].Correction.NewBalance.Equal(decimal.RequireFromString("100.005")))
	s.Equal([]models.ErrorDetail{{Address: "0xdef", ErrorMessage: "timeout"}}, after.Errors)
}

func (s *SQLiteStorageSuite) TestListReportsNewestFirst() {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		s.Require().NoError(s.store.AppendReport(s.ctx, s.newReport(id, base.Add(time.Duration(i)*time.Hour))))
	}

	summaries, err := s.store.ListReports(s.ctx, 2, 0)
	s.Require().NoError(err)
	s.Require().Len(summaries, 2)
	s.Equal("c", summaries[0].ID)
	s.Equal("b", summaries[1].ID)
	s.Equal(1, summaries[0].CorrectedCount)
	s.Equal(1, summaries[0].ErrorCount)

	older, err := s.store.ListReports(s.ctx, 2, 2)
	s.Require().NoError(err)
	s.Require().Len(older, 1)
	s.Equal("a", older[0].ID)

	missing, err := s.store.GetReport(s.ctx, "zzz")
	s.NoError(err)
	s.Nil(missing)
}

func (s *SQLiteStorageSuite) TestStorageStats() {
	s.seedAccount("0x4000000000000000000000000000000000000004", "1", true)
	s.seedAccount("0x5000000000000000000000000000000000000005", "1", false)
	s.Require().NoError(s.store.AppendReport(s.ctx, s.newReport("r", time.Now().UTC())))

	stats, err := s.store.GetStorageStats(s.ctx)
	s.Require().NoError(err)
	s.Equal(int64(2), stats.TotalAccounts)
	s.Equal(int64(1), stats.ActiveAccounts)
	s.Equal(int64(1), stats.TotalReports)
	s.NotNil(stats.LatestReportAt)
}

func (s *SQLiteStorageSuite) TestStorageWithMetrics() {
	wrapped := NewStorageWithMetrics(s.store, metrics.NewManagerWithRegistry(prometheus.NewRegistry()))
	s.seedAccount("0x6000000000000000000000000000000000000006", "1", true)

	accounts, err := wrapped.ListActiveAccounts(s.ctx, 10, 0)
	s.Require().NoError(err)
	s.Len(accounts, 1)
}
