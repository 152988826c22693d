package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"purchase-sync/internal/config"
	"purchase-sync/internal/database"
	"purchase-sync/internal/models"
	"purchase-sync/pkg/logging"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// ErrInvalidReceipt is returned for receipts that can never verify.
var ErrInvalidReceipt = errors.New("invalid receipt")

// ErrUpstreamUnavailable is returned when Apple cannot be reached.
var ErrUpstreamUnavailable = errors.New("app store unavailable")

// ReceiptVerificationService verifies receipts submitted by the SDK
type ReceiptVerificationService struct {
	http          *resty.Client
	decoder       *JWSDecoder
	productionURL string
	sandboxURL    string
	sharedSecret  string
	now           func() time.Time
}

// NewReceiptVerificationService creates a new receipt verification service
func NewReceiptVerificationService(decoder *JWSDecoder) *ReceiptVerificationService {
	return &ReceiptVerificationService{
		http:          resty.New().SetTimeout(30 * time.Second),
		decoder:       decoder,
		productionURL: config.AppConfig.AppStoreProductionURL,
		sandboxURL:    config.AppConfig.AppStoreSandboxURL,
		sharedSecret:  config.AppConfig.AppStoreSharedSecret,
		now:           time.Now,
	}
}

// VerifyRequest is one receipt submission.
type VerifyRequest struct {
	Project  *models.Project
	UserID   string
	ScreenID string
	// Body is the base64 text the SDK posted.
	Body string
}

// AppleReceiptResponse represents Apple receipt verification response
type AppleReceiptResponse struct {
	Status      int    `json:"status"`
	Environment string `json:"environment"`
	IsRetryable bool   `json:"is-retryable"`
	Receipt     struct {
		BundleID string             `json:"bundle_id"`
		InApp    []AppleReceiptItem `json:"in_app"`
	} `json:"receipt"`
	LatestReceiptInfo  []AppleReceiptItem `json:"latest_receipt_info"`
	PendingRenewalInfo []struct {
		OriginalTransactionID string `json:"original_transaction_id"`
		AutoRenewStatus       string `json:"auto_renew_status"`
	} `json:"pending_renewal_info"`
}

// AppleReceiptItem is one transaction inside a receipt.
type AppleReceiptItem struct {
	TransactionID         string `json:"transaction_id"`
	OriginalTransactionID string `json:"original_transaction_id"`
	ProductID             string `json:"product_id"`
	PurchaseDateMS        string `json:"purchase_date_ms"`
	ExpiresDateMS         string `json:"expires_date_ms"`
	CancellationDateMS    string `json:"cancellation_date_ms"`
}

// AppleVerificationError represents Apple verification error
type AppleVerificationError struct {
	Status int
}

func (e *AppleVerificationError) Error() string {
	return fmt.Sprintf("Apple verification failed with status: %d", e.Status)
}

// Retryable reports whether Apple asked the caller to try again later.
func (e *AppleVerificationError) Retryable() bool {
	return e.Status == 21005 || e.Status == 21009 || (e.Status >= 21100 && e.Status <= 21199)
}

// Verify decodes the submitted receipt, verifies it and stores the resulting
// transaction. The body is base64; it carries either a signed App Store
// transaction (JWS) or a legacy app receipt.
func (s *ReceiptVerificationService) Verify(ctx context.Context, req VerifyRequest) (*models.Transaction, error) {
	body := strings.TrimSpace(req.Body)
	if body == "" {
		return nil, fmt.Errorf("%w: empty body", ErrInvalidReceipt)
	}
	decoded, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return nil, fmt.Errorf("%w: body is not base64: %v", ErrInvalidReceipt, err)
	}

	var transaction *models.Transaction
	if looksLikeJWS(decoded) {
		transaction, err = s.verifySignedTransaction(string(decoded), req.Project)
	} else {
		secret := s.sharedSecret
		if req.Project.SharedSecret != "" {
			secret = req.Project.SharedSecret
		}
		transaction, err = s.VerifyAppleReceipt(ctx, body, secret)
	}
	if err != nil {
		return nil, err
	}

	transaction.ProjectID = req.Project.ProjectID
	transaction.UserID = req.UserID
	transaction.ScreenID = req.ScreenID

	// Save or update transaction
	if err := database.CreateOrUpdateTransaction(transaction); err != nil {
		return nil, fmt.Errorf("failed to save transaction: %w", err)
	}
	return transaction, nil
}

// verifySignedTransaction handles a JWS transaction from StoreKit 2
func (s *ReceiptVerificationService) verifySignedTransaction(token string, project *models.Project) (*models.Transaction, error) {
	info, err := s.decoder.DecodeTransaction(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidReceipt, err)
	}
	if project.BundleID != "" && info.BundleID != "" && info.BundleID != project.BundleID {
		return nil, fmt.Errorf("%w: bundle %s does not belong to project", ErrInvalidReceipt, info.BundleID)
	}
	return TransactionFromInfo(info, s.now()), nil
}

// VerifyAppleReceipt verifies a legacy app receipt
// Returns error code 21007 means receipt is from sandbox, should retry with sandbox URL
func (s *ReceiptVerificationService) VerifyAppleReceipt(ctx context.Context, receiptData, sharedSecret string) (*models.Transaction, error) {
	// Try production first
	transaction, err := s.verifyWithApple(ctx, receiptData, sharedSecret, s.productionURL)
	if err != nil {
		// If error is 21007 (sandbox receipt), retry with sandbox
		var appleErr *AppleVerificationError
		if errors.As(err, &appleErr) && appleErr.Status == 21007 {
			logging.Infof("Receipt is from sandbox, retrying with sandbox URL")
			return s.verifyWithApple(ctx, receiptData, sharedSecret, s.sandboxURL)
		}
		return nil, err
	}
	return transaction, nil
}

// verifyWithApple verifies receipt with Apple's API
func (s *ReceiptVerificationService) verifyWithApple(ctx context.Context, receiptData, sharedSecret, url string) (*models.Transaction, error) {
	// Prepare request body
	requestBody := map[string]interface{}{
		"receipt-data":             receiptData,
		"exclude-old-transactions": true,
	}
	if sharedSecret != "" {
		requestBody["password"] = sharedSecret
	}

	resp, err := s.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(requestBody).
		Post(url)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	if resp.StatusCode() >= 500 {
		return nil, fmt.Errorf("%w: status %d", ErrUpstreamUnavailable, resp.StatusCode())
	}

	var appleResp AppleReceiptResponse
	if err := json.Unmarshal(resp.Body(), &appleResp); err != nil {
		return nil, fmt.Errorf("%w: failed to parse response: %v", ErrUpstreamUnavailable, err)
	}

	// Check status
	if appleResp.Status != 0 {
		return nil, &AppleVerificationError{Status: appleResp.Status}
	}

	items := appleResp.LatestReceiptInfo
	if len(items) == 0 {
		items = appleResp.Receipt.InApp
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: no transactions in receipt", ErrInvalidReceipt)
	}

	// Get the most recent transaction
	latest := items[0]
	for _, item := range items[1:] {
		if parseAppleTimestamp(item.PurchaseDateMS).After(parseAppleTimestamp(latest.PurchaseDateMS)) {
			latest = item
		}
	}

	autoRenew := false
	for _, renewal := range appleResp.PendingRenewalInfo {
		if renewal.OriginalTransactionID == latest.OriginalTransactionID {
			autoRenew = renewal.AutoRenewStatus == "1"
		}
	}

	transaction := &models.Transaction{
		TransactionID:         latest.TransactionID,
		OriginalTransactionID: latest.OriginalTransactionID,
		ProductID:             latest.ProductID,
		Type:                  "non_consumable",
		Environment:           strings.ToLower(appleResp.Environment),
		PurchasedAt:           parseAppleTimestamp(latest.PurchaseDateMS),
		AutoRenewStatus:       autoRenew,
	}
	if latest.ExpiresDateMS != "" {
		expires := parseAppleTimestamp(latest.ExpiresDateMS)
		transaction.ExpiresAt = &expires
		transaction.Type = "subscription"
	}
	transaction.Status = statusAt(transaction.ExpiresAt, latest.CancellationDateMS != "", s.now())
	return transaction, nil
}

// TransactionFromInfo converts a decoded JWS transaction
func TransactionFromInfo(info *models.TransactionInfo, now time.Time) *models.Transaction {
	transaction := &models.Transaction{
		TransactionID:         info.TransactionID,
		OriginalTransactionID: info.OriginalTransactionID,
		ProductID:             info.ProductID,
		Type:                  "non_consumable",
		Environment:           strings.ToLower(info.Environment),
		PurchasedAt:           time.UnixMilli(info.PurchaseDate),
		AutoRenewStatus:       info.ExpiresDate > 0,
	}
	if info.ExpiresDate > 0 {
		expires := time.UnixMilli(info.ExpiresDate)
		transaction.ExpiresAt = &expires
		transaction.Type = "subscription"
	}
	transaction.Status = statusAt(transaction.ExpiresAt, info.RevocationDate > 0, now)
	return transaction
}

func statusAt(expiresAt *time.Time, revoked bool, now time.Time) string {
	switch {
	case revoked:
		return models.StatusRefunded
	case expiresAt != nil && !expiresAt.After(now):
		return models.StatusExpired
	default:
		return models.StatusActive
	}
}

// parseAppleTimestamp parses Apple timestamp (milliseconds since epoch)
func parseAppleTimestamp(timestampStr string) time.Time {
	ms, err := strconv.ParseInt(timestampStr, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
