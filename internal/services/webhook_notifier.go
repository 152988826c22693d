package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"purchase-sync/internal/models"
	"purchase-sync/pkg/logging"
	"time"

	"github.com/go-resty/resty/v2"
)

// WebhookNotifier handles webhook notifications to App Backend
type WebhookNotifier struct {
	http        *resty.Client
	retryDelays []time.Duration
}

// NewWebhookNotifier creates a new webhook notifier
// Retry schedule: 1s, 5s, 30s
func NewWebhookNotifier(timeout time.Duration) *WebhookNotifier {
	return NewWebhookNotifierWithDelays(timeout, []time.Duration{1 * time.Second, 5 * time.Second, 30 * time.Second})
}

// NewWebhookNotifierWithDelays creates a notifier with a custom retry schedule
func NewWebhookNotifierWithDelays(timeout time.Duration, retryDelays []time.Duration) *WebhookNotifier {
	return &WebhookNotifier{
		http: resty.New().
			SetTimeout(timeout).
			SetHeader("User-Agent", "PurchaseSync-Webhook/1.0"),
		retryDelays: retryDelays,
	}
}

// WebhookPayload represents the payload sent to App Backend
type WebhookPayload struct {
	Event                 string `json:"event"` // e.g., "transaction.updated"
	TransactionID         string `json:"transaction_id"`
	OriginalTransactionID string `json:"original_transaction_id"`
	UserID                string `json:"user_id"`
	Status                string `json:"status"` // active, cancelled, expired, refunded, failed
	ProductID             string `json:"product_id"`
	ExpiresAt             string `json:"expires_at,omitempty"` // ISO 8601 format
	Timestamp             string `json:"timestamp"`            // ISO 8601 format
}

// NotifyAppBackend sends webhook notification to App Backend
// Callers run it in a goroutine; it blocks for the whole retry schedule
func (wn *WebhookNotifier) NotifyAppBackend(ctx context.Context, callbackURL, secret string, transaction *models.Transaction) error {
	if callbackURL == "" {
		// No webhook configured, skip
		return nil
	}

	payload := WebhookPayload{
		Event:                 "transaction.updated",
		TransactionID:         transaction.TransactionID,
		OriginalTransactionID: transaction.OriginalTransactionID,
		UserID:                transaction.UserID,
		Status:                transaction.Status,
		ProductID:             transaction.ProductID,
		Timestamp:             time.Now().UTC().Format(time.RFC3339),
	}
	if transaction.ExpiresAt != nil {
		payload.ExpiresAt = transaction.ExpiresAt.UTC().Format(time.RFC3339)
	}

	return wn.sendWithRetry(ctx, callbackURL, secret, payload)
}

// sendWithRetry sends webhook with retry mechanism
func (wn *WebhookNotifier) sendWithRetry(ctx context.Context, callbackURL, secret string, payload WebhookPayload) error {
	maxAttempts := len(wn.retryDelays)
	if maxAttempts == 0 {
		maxAttempts = 1
	}

	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = wn.sendWebhook(ctx, callbackURL, secret, payload)
		if err == nil {
			logging.Infof("Webhook notification sent successfully - url: %s, transaction: %s, attempt: %d",
				callbackURL, payload.TransactionID, attempt+1)
			return nil
		}

		logging.Errorf("Webhook notification failed - url: %s, transaction: %s, attempt: %d, error: %v",
			callbackURL, payload.TransactionID, attempt+1, err)

		// If not the last attempt, wait before retry
		if attempt < maxAttempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wn.retryDelays[attempt]):
			}
		}
	}

	logging.Errorf("Webhook notification failed after %d attempts - url: %s, transaction: %s",
		maxAttempts, callbackURL, payload.TransactionID)
	return err
}

// sendWebhook sends a single webhook request
func (wn *WebhookNotifier) sendWebhook(ctx context.Context, callbackURL, secret string, payload WebhookPayload) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req := wn.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(jsonData)

	// Add signature if secret is provided
	if secret != "" {
		req.SetHeader("X-PurchaseSync-Signature", GenerateSignature(jsonData, secret))
	}

	resp, err := req.Post(callbackURL)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}

	// Check response status
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode())
	}

	return nil
}

// GenerateSignature generates HMAC-SHA256 signature for webhook payload
func GenerateSignature(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
