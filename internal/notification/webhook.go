package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/rsk-balance-reconciler/internal/config"
	"github.com/smartdevs17/rsk-balance-reconciler/pkg/utils"
)

const maxRetryDelay = 30 * time.Second

// WebhookSender posts JSON payloads to the operator webhook with retry
type WebhookSender struct {
	url           string
	retryAttempts int
	retryDelay    time.Duration
	httpClient    *http.Client
	logger        *logrus.Entry
}

// WebhookPayload defines the webhook payload structure
type WebhookPayload struct {
	Timestamp time.Time   `json:"timestamp"`
	Source    string      `json:"source"`
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Version   string      `json:"version"`
}

// NewWebhookSender creates a sender from configuration; it returns nil when no URL is set
func NewWebhookSender(cfg *config.NotificationConfig) *WebhookSender {
	if cfg.WebhookURL == "" {
		return nil
	}

	attempts := cfg.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}

	return &WebhookSender{
		url:           cfg.WebhookURL,
		retryAttempts: attempts,
		retryDelay:    cfg.RetryDelay,
		logger:        utils.ComponentLogger("webhook_sender"),
		httpClient: &http.Client{
			Timeout: cfg.WebhookTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     30 * time.Second,
			},
		},
	}
}

// Send posts data, retrying with exponential backoff until an attempt returns 2xx
func (ws *WebhookSender) Send(ctx context.Context, data interface{}) error {
	payload := &WebhookPayload{
		Timestamp: time.Now().UTC(),
		Source:    "rsk-balance-reconciler",
		Type:      "major_discrepancy",
		Data:      data,
		Version:   "1.0",
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return utils.WrapAppError(utils.ErrCodeInternal, "Failed to marshal webhook payload", err)
	}

	var lastErr error
	for attempt := 1; attempt <= ws.retryAttempts; attempt++ {
		if attempt > 1 {
			delay := ws.retryDelayFor(attempt)
			ws.logger.WithFields(logrus.Fields{
				"attempt": attempt,
				"delay":   delay,
			}).Debug("Retrying webhook")

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = ws.post(ctx, body)
		if lastErr == nil {
			return nil
		}

		ws.logger.WithError(lastErr).WithFields(logrus.Fields{
			"url":     ws.url,
			"attempt": attempt,
		}).Warn("Webhook attempt failed")
	}

	return lastErr
}

func (ws *WebhookSender) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ws.url, bytes.NewReader(body))
	if err != nil {
		return utils.WrapAppError(utils.ErrCodeInternal, "Failed to create webhook request", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "RSK-Balance-Reconciler/1.0")
	req.Header.Set("X-Timestamp", fmt.Sprintf("%d", time.Now().Unix()))
	req.Header.Set("X-Request-ID", utils.GenerateID())

	resp, err := ws.httpClient.Do(req)
	if err != nil {
		return utils.WrapAppError(utils.ErrCodeNotification, "Failed to send webhook", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return utils.NewAppError(utils.ErrCodeNotification,
		"Webhook returned non-success status",
		fmt.Sprintf("status: %d, body: %s", resp.StatusCode, snippet))
}

// retryDelayFor returns base_delay * 2^(attempt-2), capped. A zero base means no backoff.
func (ws *WebhookSender) retryDelayFor(attempt int) time.Duration {
	if ws.retryDelay <= 0 {
		return 0
	}

	shift := attempt - 2
	if shift < 0 {
		shift = 0
	}
	if shift > 30 || ws.retryDelay > maxRetryDelay>>uint(shift) {
		return maxRetryDelay
	}
	return ws.retryDelay << uint(shift)
}
