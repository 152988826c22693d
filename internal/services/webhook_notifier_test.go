package services

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"purchase-sync/internal/models"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func webhookTransaction() *models.Transaction {
	expires := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	return &models.Transaction{
		TransactionID:         "t1",
		OriginalTransactionID: "o1",
		UserID:                "user-1",
		ProductID:             "com.app.monthly",
		Status:                models.StatusRefunded,
		ExpiresAt:             &expires,
	}
}

func TestNotifyAppBackendRetriesUntilSuccess(t *testing.T) {
	var attempts atomic.Int32
	var payload WebhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := attempts.Add(1)
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, GenerateSignature(body, "secret"), r.Header.Get("X-PurchaseSync-Signature"))
		if n < 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		assert.NoError(t, json.Unmarshal(body, &payload))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	notifier := NewWebhookNotifierWithDelays(time.Second, []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond})
	err := notifier.NotifyAppBackend(context.Background(), srv.URL, "secret", webhookTransaction())
	require.NoError(t, err)

	assert.Equal(t, int32(2), attempts.Load())
	assert.Equal(t, "transaction.updated", payload.Event)
	assert.Equal(t, "t1", payload.TransactionID)
	assert.Equal(t, "o1", payload.OriginalTransactionID)
	assert.Equal(t, "user-1", payload.UserID)
	assert.Equal(t, models.StatusRefunded, payload.Status)
	assert.Equal(t, "2030-01-02T03:04:05Z", payload.ExpiresAt)
	assert.NotEmpty(t, payload.Timestamp)
}

func TestNotifyAppBackendGivesUp(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		assert.Empty(t, r.Header.Get("X-PurchaseSync-Signature"))
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	notifier := NewWebhookNotifierWithDelays(time.Second, []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond})
	err := notifier.NotifyAppBackend(context.Background(), srv.URL, "", webhookTransaction())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
	assert.Equal(t, int32(3), attempts.Load())
}

func TestNotifyAppBackendStopsOnCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	notifier := NewWebhookNotifierWithDelays(time.Second, []time.Duration{time.Hour, time.Hour})
	err := notifier.NotifyAppBackend(ctx, srv.URL, "", webhookTransaction())
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNotifyAppBackendWithoutURL(t *testing.T) {
	notifier := NewWebhookNotifier(time.Second)
	assert.NoError(t, notifier.NotifyAppBackend(context.Background(), "", "secret", webhookTransaction()))
}

func TestGenerateSignature(t *testing.T) {
	// HMAC-SHA256("key", "The quick brown fox jumps over the lazy dog")
	assert.Equal(t,
		"f7bc83f430538424b13298e6aa6fb143ef4d59a14946175997479dbc2d1a3cd8",
		GenerateSignature([]byte("The quick brown fox jumps over the lazy dog"), "key"))
}
