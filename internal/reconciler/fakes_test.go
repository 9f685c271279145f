package reconciler

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"github.com/smartdevs17/rsk-balance-reconciler/internal/ledger"
	"github.com/smartdevs17/rsk-balance-reconciler/internal/models"
	"github.com/smartdevs17/rsk-balance-reconciler/internal/storage"
)

// mockLedger is a testify mock of ledger.Client
type mockLedger struct {
	mock.Mock
}

func (m *mockLedger) GetBalance(ctx context.Context, address string) ledger.Lookup {
	args := m.Called(ctx, address)
	return args.Get(0).(ledger.Lookup)
}

// fakeLedger serves fixed chain balances
type fakeLedger struct {
	mu       sync.Mutex
	balances map[string]decimal.Decimal
	failures map[string]error
	delay    time.Duration
	calls    map[string]int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		balances: make(map[string]decimal.Decimal),
		failures: make(map[string]error),
		calls:    make(map[string]int),
	}
}

func (f *fakeLedger) set(address, balance string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[address] = decimal.RequireFromString(balance)
}

func (f *fakeLedger) GetBalance(ctx context.Context, address string) ledger.Lookup {
	f.mu.Lock()
	f.calls[address]++
	balance, found := f.balances[address]
	failure := f.failures[address]
	delay := f.delay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ledger.Failed(ctx.Err())
		}
	}
	if failure != nil {
		return ledger.Failed(failure)
	}
	if !found {
		return ledger.NotFound()
	}
	return ledger.Found(&models.ChainBalance{
		Native: balance,
		Assets: []models.AssetBalance{{Asset: "RBTC", Amount: balance}},
	})
}

func (f *fakeLedger) callCount(address string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[address]
}

// memoryAccountStore keeps accounts in insertion order
type memoryAccountStore struct {
	mu        sync.Mutex
	accounts  []*models.TrackedAccount
	listCalls []int
	listErr   map[int]error // by offset
	updateErr error
	updates   int
}

func newMemoryAccountStore() *memoryAccountStore {
	return &memoryAccountStore{listErr: make(map[int]error)}
}

func (s *memoryAccountStore) add(address, balance string, owner *string) *models.TrackedAccount {
	s.mu.Lock()
	defer s.mu.Unlock()
	account := &models.TrackedAccount{
		Address:         address,
		OwningUserID:    owner,
		RecordedBalance: decimal.RequireFromString(balance),
		IsActive:        true,
		CreatedAt:       time.Now().UTC(),
	}
	s.accounts = append(s.accounts, account)
	return copyAccount(account)
}

func (s *memoryAccountStore) ListActiveAccounts(_ context.Context, limit, offset int) ([]*models.TrackedAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.listErr[offset]; err != nil {
		return nil, err
	}

	var active []*models.TrackedAccount
	for _, a := range s.accounts {
		if a.IsActive {
			active = append(active, a)
		}
	}

	page := []*models.TrackedAccount{}
	for i := offset; i < len(active) && i < offset+limit; i++ {
		page = append(page, copyAccount(active[i]))
	}
	s.listCalls = append(s.listCalls, len(page))
	return page, nil
}

func (s *memoryAccountStore) GetAccount(_ context.Context, address string) (*models.TrackedAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if a.Address == address {
			return copyAccount(a), nil
		}
	}
	return nil, nil
}

func (s *memoryAccountStore) SaveAccount(_ context.Context, account *models.TrackedAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts = append(s.accounts, copyAccount(account))
	return nil
}

func (s *memoryAccountStore) UpdateAccountBalance(_ context.Context, address string, native decimal.Decimal, snapshot []models.AssetBalance) (*models.TrackedAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return nil, s.updateErr
	}
	for _, a := range s.accounts {
		if a.Address == address {
			now := time.Now().UTC()
			a.RecordedBalance = native
			a.AssetSnapshot = snapshot
			a.LastSyncedAt = &now
			a.UpdatedAt = now
			s.updates++
			return copyAccount(a), nil
		}
	}
	return nil, errors.New("account not found")
}

func (s *memoryAccountStore) balanceOf(address string) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if a.Address == address {
			return a.RecordedBalance
		}
	}
	return decimal.Zero
}

func (s *memoryAccountStore) updateCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updates
}

func copyAccount(a *models.TrackedAccount) *models.TrackedAccount {
	c := *a
	c.AssetSnapshot = append([]models.AssetBalance(nil), a.AssetSnapshot...)
	return &c
}

// memoryBalanceStore holds assets by symbol and balances by user and asset
type memoryBalanceStore struct {
	mu       sync.Mutex
	assets   map[string]*models.Asset
	balances map[string]*models.InternalBalanceRecord
	updates  int
}

func newMemoryBalanceStore() *memoryBalanceStore {
	return &memoryBalanceStore{
		assets:   make(map[string]*models.Asset),
		balances: make(map[string]*models.InternalBalanceRecord),
	}
}

func (s *memoryBalanceStore) GetAssetBySymbol(_ context.Context, symbol string) (*models.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.assets[symbol]; ok {
		c := *a
		return &c, nil
	}
	return nil, nil
}

func (s *memoryBalanceStore) SaveAsset(_ context.Context, asset *models.Asset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *asset
	s.assets[asset.Symbol] = &c
	return nil
}

func (s *memoryBalanceStore) GetBalance(_ context.Context, userID, assetID string) (*models.InternalBalanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.balances[userID+"/"+assetID]; ok {
		c := *r
		return &c, nil
	}
	return nil, nil
}

func (s *memoryBalanceStore) SaveBalance(_ context.Context, record *models.InternalBalanceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *record
	s.balances[record.UserID+"/"+record.AssetID] = &c
	return nil
}

func (s *memoryBalanceStore) UpdateBalance(_ context.Context, id string, amount, valuation decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.balances {
		if r.ID == id {
			r.Amount = amount
			r.Valuation = valuation
			s.updates++
			return nil
		}
	}
	return errors.New("balance not found")
}

func (s *memoryBalanceStore) amountOf(userID, assetID string) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[userID+"/"+assetID].Amount
}

func (s *memoryBalanceStore) updateCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updates
}

// memoryReportStore is an append-only report log
type memoryReportStore struct {
	mu        sync.Mutex
	reports   map[string]models.Report
	appendErr error
	appends   int
}

func newMemoryReportStore() *memoryReportStore {
	return &memoryReportStore{reports: make(map[string]models.Report)}
}

func (s *memoryReportStore) AppendReport(_ context.Context, report *models.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appends++
	if s.appendErr != nil {
		return s.appendErr
	}
	if _, ok := s.reports[report.ID]; ok {
		return storage.ErrReportExists
	}
	c := *report
	c.Details = append([]models.Outcome(nil), report.Details...)
	c.Errors = append([]models.ErrorDetail(nil), report.Errors...)
	s.reports[report.ID] = c
	return nil
}

func (s *memoryReportStore) ListReports(_ context.Context, limit, offset int) ([]*models.ReportSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	summaries := make([]*models.ReportSummary, 0, len(s.reports))
	for _, r := range s.reports {
		summary := r.ReportSummary
		summaries = append(summaries, &summary)
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].StartedAt.After(summaries[j].StartedAt)
	})

	if offset >= len(summaries) {
		return []*models.ReportSummary{}, nil
	}
	end := offset + limit
	if end > len(summaries) {
		end = len(summaries)
	}
	return summaries[offset:end], nil
}

func (s *memoryReportStore) GetReport(_ context.Context, id string) (*models.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.reports[id]; ok {
		return &r, nil
	}
	return nil, nil
}

// recordingNotifier records user notifications
type recordingNotifier struct {
	mu     sync.Mutex
	sent   []string
	err    error
	alerts []*models.OperatorAlert
}

func (n *recordingNotifier) Notify(_ context.Context, userID, title, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, userID)
	return nil
}

func (n *recordingNotifier) AlertOperator(_ context.Context, alert *models.OperatorAlert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.alerts = append(n.alerts, alert)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

func strPtr(s string) *string {
	return &s
}
