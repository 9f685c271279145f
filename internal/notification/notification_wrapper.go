package notification

import (
	"context"

	"github.com/smartdevs17/rsk-balance-reconciler/internal/metrics"
	"github.com/smartdevs17/rsk-balance-reconciler/internal/models"
)

// ManagerWithMetrics wraps Manager and counts delivered and failed alerts per channel
type ManagerWithMetrics struct {
	*Manager
	metricsManager *metrics.Manager
}

// NewManagerWithMetrics creates a notification manager wrapper with metrics
func NewManagerWithMetrics(manager *Manager, metricsManager *metrics.Manager) *ManagerWithMetrics {
	return &ManagerWithMetrics{
		Manager:        manager,
		metricsManager: metricsManager,
	}
}

// Notify records a user notification and its outcome
func (nm *ManagerWithMetrics) Notify(ctx context.Context, userID, title, body string) error {
	err := nm.Manager.Notify(ctx, userID, title, body)
	nm.record("user", err)
	return err
}

// AlertOperator posts an operator alert and records its outcome
func (nm *ManagerWithMetrics) AlertOperator(ctx context.Context, alert *models.OperatorAlert) error {
	if nm.webhook == nil {
		return nil
	}
	err := nm.Manager.AlertOperator(ctx, alert)
	nm.record("webhook", err)
	return err
}

func (nm *ManagerWithMetrics) record(channel string, err error) {
	if nm.metricsManager == nil {
		return
	}
	if err != nil {
		nm.metricsManager.GetPrometheusMetrics().RecordNotificationFailure(channel)
		return
	}
	nm.metricsManager.GetPrometheusMetrics().RecordNotificationSent(channel)
}
