package api

import (
	"net/http"
	"purchase-sync/internal/database"
	"purchase-sync/internal/middleware"
	"time"

	"github.com/gin-gonic/gin"
)

// TransactionHistoryItem represents a transaction history item
type TransactionHistoryItem struct {
	ID                    string     `json:"id"`
	TransactionID         string     `json:"transaction_id"`
	OriginalTransactionID string     `json:"original_transaction_id"`
	ProductID             string     `json:"product_id"`
	Type                  string     `json:"type"`
	Status                string     `json:"status"`
	Environment           string     `json:"environment"`
	ScreenID              string     `json:"screen_id,omitempty"`
	PurchasedAt           time.Time  `json:"purchased_at"`
	ExpiresAt             *time.Time `json:"expires_at,omitempty"`
	AutoRenew             bool       `json:"auto_renew"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// TransactionHistoryResponse represents transaction history response
type TransactionHistoryResponse struct {
	Success      bool                     `json:"success"`
	Message      string                   `json:"message,omitempty"`
	Transactions []TransactionHistoryItem `json:"transactions"`
}

// GetTransactionHistory gets verified transactions for a user
// GET /v1/transactions/:userId
func GetTransactionHistory(c *gin.Context) {
	projectID := c.GetString(middleware.ProjectIDKey)
	userID := c.Param("userId")

	transactions, err := database.GetUserTransactions(projectID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, TransactionHistoryResponse{
			Success: false,
			Message: "Failed to get transaction history: " + err.Error(),
		})
		return
	}

	// Convert to response format
	historyItems := make([]TransactionHistoryItem, len(transactions))
	for i, tx := range transactions {
		historyItems[i] = TransactionHistoryItem{
			ID:                    tx.VerifyID,
			TransactionID:         tx.TransactionID,
			OriginalTransactionID: tx.OriginalTransactionID,
			ProductID:             tx.ProductID,
			Type:                  tx.Type,
			Status:                tx.Status,
			Environment:           tx.Environment,
			ScreenID:              tx.ScreenID,
			PurchasedAt:           tx.PurchasedAt,
			ExpiresAt:             tx.ExpiresAt,
			AutoRenew:             tx.AutoRenewStatus,
			CreatedAt:             tx.CreatedAt,
			UpdatedAt:             tx.UpdatedAt,
		}
	}

	c.JSON(http.StatusOK, TransactionHistoryResponse{
		Success:      true,
		Transactions: historyItems,
	})
}
