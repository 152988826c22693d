package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"purchase-sync/internal/database"
	"purchase-sync/internal/models"
	"purchase-sync/internal/services"
	"purchase-sync/pkg/logging"
	"time"

	"github.com/gin-gonic/gin"
)

// AppStoreNotificationHandler handles App Store Server Notifications V2
// POST /v1/appstore/notifications/:environment
func AppStoreNotificationHandler(c *gin.Context) {
	startTime := time.Now()

	environment := c.Param("environment")
	if environment != "production" && environment != "sandbox" {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"message": "Unknown environment: " + environment,
		})
		return
	}

	body, err := c.GetRawData()
	if err != nil || len(body) == 0 {
		logging.Errorf("Empty or unreadable notification body: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "Empty request body",
		})
		return
	}

	// Parse the wrapper to get signedPayload
	var wrapper models.AppStoreNotificationWrapper
	if err := json.Unmarshal(body, &wrapper); err != nil || wrapper.SignedPayload == "" {
		logging.Errorf("Failed to parse notification wrapper: %v, body length: %d", err, len(body))
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "Invalid notification format",
		})
		return
	}

	notification, err := jwsDecoder.DecodeNotification(wrapper.SignedPayload)
	if err != nil {
		logging.Errorf("Failed to decode signedPayload: %v", err)
		c.JSON(http.StatusUnauthorized, gin.H{
			"success": false,
			"message": "Invalid signedPayload",
		})
		return
	}

	logging.Infof("Parsed notification - type: %s, subtype: %s, bundle_id: %s, environment: %s, uuid: %s",
		notification.NotificationType, notification.Subtype, notification.Data.BundleID, notification.Data.Environment, notification.NotificationUUID)

	// Handle heartbeat
	if notification.NotificationType == "" || notification.NotificationType == "TEST" {
		logging.Infof("AppStore heartbeat - environment: %s", environment)
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"status":  "heartbeat_ok",
		})
		return
	}

	// Check for replay attacks
	replay, err := replayGuard.IsReplay(c.Request.Context(), notification.NotificationUUID, notification.SignedDate)
	if err != nil {
		logging.Errorf("Replay check failed: %v", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"success": false,
			"message": "Replay check unavailable",
		})
		return
	}
	if replay {
		logging.Infof("Duplicate notification ignored - notification_uuid: %s, signed_date: %d", notification.NotificationUUID, notification.SignedDate)
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"status":  "duplicate",
		})
		return
	}

	// Get project by bundle_id
	project, err := projectService.GetProjectByBundleID(notification.Data.BundleID)
	if err != nil {
		logging.Errorf("Project not found for bundle_id: %s, error: %v", notification.Data.BundleID, err)
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "Project not found for bundle_id: " + notification.Data.BundleID,
		})
		return
	}

	info, err := jwsDecoder.DecodeTransaction(notification.Data.SignedTransactionInfo)
	if err != nil {
		logging.Errorf("Failed to parse transaction info: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "Failed to parse transaction info",
		})
		return
	}
	if info.Environment == "" {
		info.Environment = environment
	}

	transaction, err := handleNotificationByType(notification, info, project)
	if err != nil {
		logging.Errorf("Failed to handle notification: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"message": "Failed to process notification",
		})
		return
	}

	// Notify App Backend via webhook if configured
	if transaction != nil && project.WebhookCallbackURL != "" {
		go func(notifier *services.WebhookNotifier, url, secret string, tx *models.Transaction) {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()
			if err := notifier.NotifyAppBackend(ctx, url, secret, tx); err != nil {
				logging.Errorf("Webhook delivery gave up - transaction: %s, error: %v", tx.TransactionID, err)
			}
		}(webhookNotifier, project.WebhookCallbackURL, project.WebhookSecret, transaction)
	}

	logging.Infof("AppStore notification processed - type: %s, transaction: %s, time: %v",
		notification.NotificationType, info.TransactionID, time.Since(startTime))

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Notification processed successfully",
	})
}

// handleNotificationByType applies the notification to the stored transaction.
// Returns the updated transaction, nil for types that change nothing.
func handleNotificationByType(notification *models.AppStoreNotification, info *models.TransactionInfo, project *models.Project) (*models.Transaction, error) {
	switch notification.NotificationType {
	case "SUBSCRIBED", "DID_RENEW", "OFFER_REDEEMED", "RENEWAL_EXTENDED", "ONE_TIME_CHARGE":
		return saveFromNotification(info, project, "", nil)
	case "DID_CHANGE_RENEWAL_STATUS":
		autoRenew := notification.Subtype == "AUTO_RENEW_ENABLED"
		return saveFromNotification(info, project, "", &autoRenew)
	case "DID_FAIL_TO_RENEW":
		if notification.Subtype == "GRACE_PERIOD" {
			// Still entitled during the grace period
			return saveFromNotification(info, project, "", nil)
		}
		return updateChainStatus(info, project, models.StatusFailed)
	case "EXPIRED", "GRACE_PERIOD_EXPIRED":
		return updateChainStatus(info, project, models.StatusExpired)
	case "DID_CANCEL":
		return updateChainStatus(info, project, models.StatusCancelled)
	case "REFUND", "DID_REFUND", "REVOKE":
		autoRenew := false
		return saveFromNotification(info, project, models.StatusRefunded, &autoRenew)
	default:
		logging.Infof("Unhandled notification type: %s", notification.NotificationType)
		return nil, nil
	}
}

// saveFromNotification creates or updates the notified transaction. status
// and autoRenew override the values derived from the transaction when set.
func saveFromNotification(info *models.TransactionInfo, project *models.Project, status string, autoRenew *bool) (*models.Transaction, error) {
	transaction := services.TransactionFromInfo(info, time.Now())
	transaction.ProjectID = project.ProjectID
	if status != "" {
		transaction.Status = status
	}
	if autoRenew != nil {
		transaction.AutoRenewStatus = *autoRenew
	}

	// appAccountToken carries the user id when the app set it
	if info.AppAccountToken != "" {
		if _, err := database.GetUser(project.ProjectID, info.AppAccountToken); err == nil {
			transaction.UserID = info.AppAccountToken
		}
	}

	if err := database.CreateOrUpdateTransaction(transaction); err != nil {
		return nil, err
	}
	return transaction, nil
}

// updateChainStatus applies status to every transaction of the subscription.
// An unknown chain is created from the notification.
func updateChainStatus(info *models.TransactionInfo, project *models.Project, status string) (*models.Transaction, error) {
	rows, err := database.UpdateTransactionStatus(project.ProjectID, info.OriginalTransactionID, status, false)
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		autoRenew := false
		return saveFromNotification(info, project, status, &autoRenew)
	}

	chain, err := database.GetTransactionsByOriginalTransactionID(project.ProjectID, info.OriginalTransactionID)
	if err != nil {
		return nil, err
	}
	if len(chain) == 0 {
		return nil, errors.New("transaction chain disappeared during update")
	}
	return &chain[0], nil
}
