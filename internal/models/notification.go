package models

import (
	"time"
)

// NotificationType defines the type of notification
type NotificationType string

const (
	NotificationTypeBalanceAlert NotificationType = "balance_alert"
	NotificationTypeSystem       NotificationType = "system"
)

// Notification is a user-visible alert
type Notification struct {
	ID        string           `json:"id"`
	UserID    string           `json:"user_id"`
	Type      NotificationType `json:"type"`
	Title     string           `json:"title"`
	Body      string           `json:"body"`
	Read      bool             `json:"read"`
	CreatedAt time.Time        `json:"created_at"`
}

// OperatorAlert is the payload posted to the operator webhook
type OperatorAlert struct {
	Event           string    `json:"event"`
	Address         string    `json:"address"`
	OwningUserID    *string   `json:"owning_user_id,omitempty"`
	RecordedBalance string    `json:"recorded_balance"`
	ChainBalance    string    `json:"chain_balance"`
	Discrepancy     string    `json:"discrepancy"`
	DetectedAt      time.Time `json:"detected_at"`
}
