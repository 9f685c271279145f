package reconciler

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/rsk-balance-reconciler/internal/models"
	"github.com/smartdevs17/rsk-balance-reconciler/internal/storage"
	"github.com/smartdevs17/rsk-balance-reconciler/pkg/utils"
)

// SyncResult describes one rewritten user balance
type SyncResult struct {
	BalanceID string          `json:"balance_id"`
	UserID    string          `json:"user_id"`
	OldAmount decimal.Decimal `json:"old_amount"`
	NewAmount decimal.Decimal `json:"new_amount"`
	Diff      decimal.Decimal `json:"diff"`
}

// Synchronizer propagates a corrected account balance to the owner's internal balance
type Synchronizer struct {
	balances    storage.BalanceStore
	nativeAsset string
	minor       decimal.Decimal
	logger      *logrus.Entry
}

// NewSynchronizer creates an app-ledger synchronizer
func NewSynchronizer(balances storage.BalanceStore, nativeAsset string, minor decimal.Decimal) *Synchronizer {
	return &Synchronizer{
		balances:    balances,
		nativeAsset: nativeAsset,
		minor:       minor,
		logger:      utils.ComponentLogger("synchronizer"),
	}
}

// SyncAppBalance rewrites the owner's native balance row when it differs from the
// account's recorded balance by more than the minor threshold. It returns nil when
// there is nothing to sync.
func (s *Synchronizer) SyncAppBalance(ctx context.Context, account *models.TrackedAccount) (*SyncResult, error) {
	if account.OwningUserID == nil {
		return nil, nil
	}
	userID := *account.OwningUserID

	asset, err := s.balances.GetAssetBySymbol(ctx, s.nativeAsset)
	if err != nil {
		return nil, err
	}
	if asset == nil {
		return nil, utils.NewAppError(utils.ErrCodeNotFound, "Native asset not registered", s.nativeAsset)
	}

	record, err := s.balances.GetBalance(ctx, userID, asset.ID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, nil
	}

	diff := record.Amount.Sub(account.RecordedBalance).Abs()
	if diff.LessThanOrEqual(s.minor) {
		return nil, nil
	}

	newAmount := account.RecordedBalance
	if err := s.balances.UpdateBalance(ctx, record.ID, newAmount, asset.Valuate(newAmount)); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"address":    account.Address,
		"user_id":    userID,
		"old_amount": record.Amount.String(),
		"new_amount": newAmount.String(),
	}).Info("App balance synchronized")

	return &SyncResult{
		BalanceID: record.ID,
		UserID:    userID,
		OldAmount: record.Amount,
		NewAmount: newAmount,
		Diff:      diff,
	}, nil
}
