package notification

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/rsk-balance-reconciler/internal/models"
	"github.com/smartdevs17/rsk-balance-reconciler/internal/storage"
	"github.com/smartdevs17/rsk-balance-reconciler/pkg/utils"
)

// Notifier records a user-visible alert
type Notifier interface {
	Notify(ctx context.Context, userID, title, body string) error
}

// OperatorAlerter forwards a discrepancy to the operations team
type OperatorAlerter interface {
	AlertOperator(ctx context.Context, alert *models.OperatorAlert) error
}

// Manager stores user notifications and forwards operator alerts to a webhook
type Manager struct {
	store   storage.NotificationStore
	webhook *WebhookSender
	enabled bool
	logger  *logrus.Entry
}

// NewManager creates a notification manager. webhook may be nil.
func NewManager(store storage.NotificationStore, webhook *WebhookSender, enabled bool) *Manager {
	return &Manager{
		store:   store,
		webhook: webhook,
		enabled: enabled,
		logger:  utils.ComponentLogger("notification"),
	}
}

// Notify persists a balance alert for userID
func (m *Manager) Notify(ctx context.Context, userID, title, body string) error {
	if !m.enabled {
		m.logger.WithField("user_id", userID).Debug("Notifications disabled, dropping alert")
		return nil
	}

	notification := &models.Notification{
		ID:        utils.GenerateID(),
		UserID:    userID,
		Type:      models.NotificationTypeBalanceAlert,
		Title:     title,
		Body:      body,
		CreatedAt: time.Now().UTC(),
	}

	if err := m.store.SaveNotification(ctx, notification); err != nil {
		return utils.WrapAppError(utils.ErrCodeNotification, "Failed to record notification", err)
	}

	m.logger.WithFields(logrus.Fields{
		"notification_id": notification.ID,
		"user_id":         userID,
	}).Info("Notification recorded")

	return nil
}

// AlertOperator posts alert to the operator webhook when one is configured
func (m *Manager) AlertOperator(ctx context.Context, alert *models.OperatorAlert) error {
	if !m.enabled || m.webhook == nil {
		return nil
	}
	return m.webhook.Send(ctx, alert)
}
