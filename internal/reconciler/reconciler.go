package reconciler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/rsk-balance-reconciler/internal/ledger"
	"github.com/smartdevs17/rsk-balance-reconciler/internal/models"
	"github.com/smartdevs17/rsk-balance-reconciler/internal/storage"
	"github.com/smartdevs17/rsk-balance-reconciler/pkg/utils"
)

// Thresholds are the discrepancy cutoffs in native units
type Thresholds struct {
	Minor decimal.Decimal
	Major decimal.Decimal
}

// DefaultThresholds returns 0.01 / 1.0
func DefaultThresholds() Thresholds {
	return Thresholds{
		Minor: decimal.New(1, -2),
		Major: decimal.NewFromInt(1),
	}
}

// Classify maps an absolute discrepancy to a status
func (t Thresholds) Classify(abs decimal.Decimal) models.Status {
	switch {
	case abs.IsZero():
		return models.StatusOK
	case abs.LessThanOrEqual(t.Minor):
		return models.StatusCorrected
	case abs.LessThanOrEqual(t.Major):
		return models.StatusCorrectedAndFlagged
	default:
		return models.StatusMajorDiscrepancy
	}
}

// Reconciler compares one account against the ledger and applies bounded corrections
type Reconciler struct {
	ledger        ledger.Client
	accounts      storage.AccountStore
	alerter       *Alerter
	thresholds    Thresholds
	ledgerTimeout time.Duration
	logger        *logrus.Entry
}

// NewReconciler creates an account reconciler
func NewReconciler(client ledger.Client, accounts storage.AccountStore, alerter *Alerter, thresholds Thresholds, ledgerTimeout time.Duration) *Reconciler {
	return &Reconciler{
		ledger:        client,
		accounts:      accounts,
		alerter:       alerter,
		thresholds:    thresholds,
		ledgerTimeout: ledgerTimeout,
		logger:        utils.ComponentLogger("reconciler"),
	}
}

// Reconcile fetches the chain balance of account, classifies the discrepancy and
// overwrites the recorded balance when it is within the major threshold.
// Ledger failures other than not-found are returned as errors.
func (r *Reconciler) Reconcile(ctx context.Context, account *models.TrackedAccount) (models.Outcome, error) {
	outcome := models.Outcome{
		Address:         account.Address,
		OwningUserID:    account.OwningUserID,
		InternalBalance: account.RecordedBalance,
	}

	lookup := r.lookup(ctx, account.Address)

	switch lookup.Kind {
	case ledger.KindNotFound:
		outcome.Status = models.StatusSkipped
		outcome.SkipReason = models.SkipReasonNotFoundOnChain
		return outcome, nil
	case ledger.KindFailed:
		return outcome, lookup.Err
	case ledger.KindFound:
	default:
		return outcome, utils.NewAppError(utils.ErrCodeLedger, "Unexpected ledger lookup result", lookup.Kind.String())
	}

	chain := lookup.Balance.Native
	discrepancy := chain.Sub(account.RecordedBalance)
	abs := discrepancy.Abs()

	outcome.ChainBalance = &chain
	outcome.Discrepancy = discrepancy
	outcome.AbsoluteDiscrepancy = abs
	outcome.Status = r.thresholds.Classify(abs)

	log := r.logger.WithFields(logrus.Fields{
		"address":     account.Address,
		"recorded":    account.RecordedBalance.String(),
		"chain":       chain.String(),
		"discrepancy": discrepancy.String(),
		"status":      outcome.Status,
	})

	switch outcome.Status {
	case models.StatusOK:
		log.Debug("Account balance matches chain")

	case models.StatusCorrected, models.StatusCorrectedAndFlagged:
		if _, err := r.accounts.UpdateAccountBalance(ctx, account.Address, chain, lookup.Balance.Assets); err != nil {
			return outcome, fmt.Errorf("correct account balance: %w", err)
		}
		outcome.Correction = &models.Correction{OldBalance: account.RecordedBalance, NewBalance: chain}
		outcome.ActionTaken = fmt.Sprintf("account balance updated from %s to %s", account.RecordedBalance, chain)

		if outcome.Status == models.StatusCorrectedAndFlagged {
			log.Warn("Account balance corrected, flagged for review")
		} else {
			log.Info("Account balance corrected")
		}

	case models.StatusMajorDiscrepancy:
		outcome.ActionTaken = "alert raised, account record unchanged"
		if r.alerter != nil {
			r.alerter.MajorDiscrepancy(ctx, account, chain, discrepancy)
		}
	}

	return outcome, nil
}

// lookup queries the ledger under the per-call timeout
func (r *Reconciler) lookup(ctx context.Context, address string) ledger.Lookup {
	if r.ledgerTimeout <= 0 {
		return r.ledger.GetBalance(ctx, address)
	}

	lookupCtx, cancel := context.WithTimeout(ctx, r.ledgerTimeout)
	defer cancel()

	lookup := r.ledger.GetBalance(lookupCtx, address)
	if lookup.Kind != ledger.KindFound && errors.Is(lookupCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		// A lookup that ran out of time is never a not-found
		return ledger.Failed(utils.NewAppError(utils.ErrCodeLedger, "Ledger lookup timed out",
			fmt.Sprintf("%s after %s", address, r.ledgerTimeout)))
	}
	return lookup
}
