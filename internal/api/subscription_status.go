package api

import (
	"errors"
	"net/http"
	"purchase-sync/internal/database"
	"purchase-sync/internal/middleware"
	"purchase-sync/pkg/logging"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// GetSubscriptionStatusResponse represents subscription status response
type GetSubscriptionStatusResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
	Active    bool   `json:"active"`
	Status    string `json:"status"`
	ProductID string `json:"product_id,omitempty"`
	ExpiresAt string `json:"expires_at,omitempty"`
	AutoRenew bool   `json:"auto_renew,omitempty"`
}

// GetSubscriptionStatus gets the user's current entitlement
// GET /v1/subscriptions/:userId
func GetSubscriptionStatus(c *gin.Context) {
	projectID := c.GetString(middleware.ProjectIDKey)
	userID := c.Param("userId")
	now := time.Now()

	// Prefer an active transaction, fall back to the latest one
	transaction, err := database.GetActiveTransaction(projectID, userID, now)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		transaction, err = database.GetLatestTransaction(projectID, userID)
	}
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// No transaction found
			c.JSON(http.StatusOK, GetSubscriptionStatusResponse{
				Success: true,
				Active:  false,
				Status:  "inactive",
			})
			return
		}
		logging.Errorf("Failed to get subscription status - project: %s, user: %s, error: %v", projectID, userID, err)
		c.JSON(http.StatusInternalServerError, GetSubscriptionStatusResponse{
			Success: false,
			Message: "Failed to get subscription status",
		})
		return
	}

	resp := GetSubscriptionStatusResponse{
		Success:   true,
		Active:    transaction.IsActive(now),
		Status:    transaction.Status,
		ProductID: transaction.ProductID,
		AutoRenew: transaction.AutoRenewStatus,
	}
	if transaction.ExpiresAt != nil {
		resp.ExpiresAt = transaction.ExpiresAt.UTC().Format(time.RFC3339)
	}
	c.JSON(http.StatusOK, resp)
}
