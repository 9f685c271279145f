package reconciler

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/rsk-balance-reconciler/internal/models"
	"github.com/smartdevs17/rsk-balance-reconciler/internal/notification"
	"github.com/smartdevs17/rsk-balance-reconciler/pkg/utils"
)

const majorDiscrepancyTitle = "Balance discrepancy detected"

// Alerter raises major discrepancies to the owning user and to operators
type Alerter struct {
	notifier    notification.Notifier
	operator    notification.OperatorAlerter
	nativeAsset string
	logger      *logrus.Entry
}

// NewAlerter creates an alerter. operator may be nil.
func NewAlerter(notifier notification.Notifier, operator notification.OperatorAlerter, nativeAsset string) *Alerter {
	return &Alerter{
		notifier:    notifier,
		operator:    operator,
		nativeAsset: nativeAsset,
		logger:      utils.ComponentLogger("alerting"),
	}
}

// MajorDiscrepancy logs the discrepancy and delivers alerts. Delivery failures are
// logged and never returned.
func (a *Alerter) MajorDiscrepancy(ctx context.Context, account *models.TrackedAccount, chain, discrepancy decimal.Decimal) {
	log := a.logger.WithFields(logrus.Fields{
		"address":          account.Address,
		"recorded_balance": account.RecordedBalance.String(),
		"chain_balance":    chain.String(),
		"discrepancy":      discrepancy.String(),
	})
	log.Error("Major balance discrepancy detected")

	if account.OwningUserID != nil && a.notifier != nil {
		body := fmt.Sprintf("A discrepancy of %s %s was detected on account %s. It has been sent for review.",
			discrepancy.Abs().String(), a.nativeAsset, account.Address)

		if err := a.notifier.Notify(ctx, *account.OwningUserID, majorDiscrepancyTitle, body); err != nil {
			log.WithError(err).Warn("Failed to notify account owner")
		}
	}

	if a.operator != nil {
		alert := &models.OperatorAlert{
			Event:           string(models.StatusMajorDiscrepancy),
			Address:         account.Address,
			OwningUserID:    account.OwningUserID,
			RecordedBalance: account.RecordedBalance.String(),
			ChainBalance:    chain.String(),
			Discrepancy:     discrepancy.String(),
			DetectedAt:      time.Now().UTC(),
		}
		if err := a.operator.AlertOperator(ctx, alert); err != nil {
			log.WithError(err).Warn("Failed to alert operators")
		}
	}
}
