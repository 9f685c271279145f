package server

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/rsk-balance-reconciler/internal/config"
	"github.com/smartdevs17/rsk-balance-reconciler/internal/ledger"
	"github.com/smartdevs17/rsk-balance-reconciler/internal/models"
	"github.com/smartdevs17/rsk-balance-reconciler/internal/reconciler"
	"github.com/smartdevs17/rsk-balance-reconciler/internal/storage"
)

// slowLedger answers every lookup with the same balance after a fixed delay
type slowLedger struct {
	balance decimal.Decimal
	delay   time.Duration
}

func (l slowLedger) GetBalance(ctx context.Context, address string) ledger.Lookup {
	select {
	case <-ctx.Done():
		return ledger.Failed(ctx.Err())
	case <-time.After(l.delay):
	}
	return ledger.Found(&models.ChainBalance{Native: l.balance})
}

// blockingRunner holds every run until its context ends
type blockingRunner struct {
	started chan struct{}
	once    sync.Once
	mu      sync.Mutex
	err     error
}

func (b *blockingRunner) RunFullReconciliation(ctx context.Context, trigger models.Trigger) (*models.Report, error) {
	b.once.Do(func() { close(b.started) })
	<-ctx.Done()
	b.mu.Lock()
	b.err = ctx.Err()
	b.mu.Unlock()
	return nil, ctx.Err()
}

func (b *blockingRunner) ListReports(context.Context, int, int) ([]*models.ReportSummary, error) {
	return nil, nil
}

func (b *blockingRunner) GetReport(context.Context, string) (*models.Report, error) {
	return nil, nil
}

func (b *blockingRunner) runErr() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

func newRunStore(t *testing.T, accounts int, balance decimal.Decimal) storage.Storage {
	t.Helper()

	store, err := storage.NewStorage(&config.StorageConfig{Type: "sqlite", ConnectionString: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, store.Connect())
	require.NoError(t, store.Migrate())
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	for i := 0; i < accounts; i++ {
		require.NoError(t, store.SaveAccount(ctx, &models.TrackedAccount{
			Address:         fmt.Sprintf("0x%040x", i+1),
			RecordedBalance: balance,
			IsActive:        true,
		}))
	}
	return store
}

func TestTriggerRunSurvivesClientDisconnect(t *testing.T) {
	balance := decimal.NewFromInt(100)
	store := newRunStore(t, 20, balance)

	client := slowLedger{balance: balance, delay: 20 * time.Millisecond}
	thresholds := reconciler.DefaultThresholds()
	rec := reconciler.NewReconciler(client, store, reconciler.NewAlerter(nil, nil, "RBTC"), thresholds, time.Second)
	syn := reconciler.NewSynchronizer(store, "RBTC", thresholds.Minor)
	orch := reconciler.NewOrchestrator(store, store, rec, syn, reconciler.NewLocalLock(), 5, 4, nil)

	ts := httptest.NewServer(newTestServer(orch, testToken, nil).Handler())
	defer ts.Close()

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/v1/reconciliation/runs", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testToken)

	impatient := &http.Client{Timeout: 60 * time.Millisecond}
	_, err = impatient.Do(req)
	require.Error(t, err)

	var reports []*models.ReportSummary
	require.Eventually(t, func() bool {
		reports, err = store.ListReports(context.Background(), 10, 0)
		return err == nil && len(reports) == 1
	}, 5*time.Second, 20*time.Millisecond)

	report := reports[0]
	assert.Equal(t, models.TriggerManual, report.Trigger)
	assert.Equal(t, 20, report.TotalAccounts)
	assert.Equal(t, 20, report.OkCount)
	assert.Equal(t, 0, report.ErrorCount)
}

func TestTriggerRunStopsOnShutdown(t *testing.T) {
	runner := &blockingRunner{started: make(chan struct{})}
	s := newTestServer(runner, testToken, nil)

	ctx, cancel := context.WithCancel(context.Background())
	s.baseCtx = ctx

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		done <- serve(s, http.MethodPost, "/api/v1/reconciliation/runs", testToken)
	}()

	<-runner.started
	cancel()

	select {
	case rec := <-done:
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.ErrorIs(t, runner.runErr(), context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("run was not interrupted by shutdown")
	}
}

func TestAdminAPIDisabledWithoutToken(t *testing.T) {
	runner := &blockingRunner{started: make(chan struct{})}
	s := newTestServer(runner, "", nil)

	assert.Equal(t, http.StatusForbidden, serve(s, http.MethodPost, "/api/v1/reconciliation/runs", "").Code)
	assert.Equal(t, http.StatusForbidden, serve(s, http.MethodPost, "/api/v1/reconciliation/runs", "anything").Code)
	assert.Equal(t, http.StatusForbidden, serve(s, http.MethodGet, "/api/v1/reconciliation/reports", "").Code)

	select {
	case <-runner.started:
		t.Fatal("run started without an admin token")
	default:
	}

	assert.Equal(t, http.StatusOK, serve(s, http.MethodGet, "/api/v1/health", "").Code)
}
