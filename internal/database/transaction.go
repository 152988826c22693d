package database

import (
	"errors"
	"purchase-sync/internal/models"
	"purchase-sync/pkg/logging"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GetTransactionByTransactionID 通过交易ID获取交易（按项目）
func GetTransactionByTransactionID(projectID, transactionID string) (*models.Transaction, error) {
	var transaction models.Transaction
	err := DB.Where("project_id = ? AND transaction_id = ?", projectID, transactionID).First(&transaction).Error
	if err != nil {
		return nil, err
	}
	return &transaction, nil
}

// GetTransactionsByOriginalTransactionID 通过原始交易ID获取所有续订交易（按项目）
func GetTransactionsByOriginalTransactionID(projectID, originalTransactionID string) ([]models.Transaction, error) {
	var transactions []models.Transaction
	err := DB.Where("project_id = ? AND original_transaction_id = ?", projectID, originalTransactionID).
		Order("purchased_at DESC").
		Find(&transactions).Error
	return transactions, err
}

// GetLatestTransaction 获取用户最新的交易（按项目）
func GetLatestTransaction(projectID, userID string) (*models.Transaction, error) {
	var transaction models.Transaction
	err := DB.Where("project_id = ? AND user_id = ?", projectID, userID).
		Order("purchased_at DESC").
		First(&transaction).Error
	if err != nil {
		return nil, err
	}
	return &transaction, nil
}

// GetActiveTransaction 获取用户当前有效的交易（按项目）
func GetActiveTransaction(projectID, userID string, now time.Time) (*models.Transaction, error) {
	var transaction models.Transaction
	err := DB.Where("project_id = ? AND user_id = ? AND status = ? AND (expires_at IS NULL OR expires_at > ?)",
		projectID, userID, models.StatusActive, now).
		Order("purchased_at DESC").
		First(&transaction).Error
	if err != nil {
		return nil, err
	}
	return &transaction, nil
}

// GetUserTransactions 获取用户的所有交易（按项目）
func GetUserTransactions(projectID, userID string) ([]models.Transaction, error) {
	var transactions []models.Transaction
	err := DB.Where("project_id = ? AND user_id = ?", projectID, userID).
		Order("purchased_at DESC").
		Find(&transactions).Error
	return transactions, err
}

// CreateOrUpdateTransaction 创建或更新交易（按项目）
// 通过 transaction_id 查找，支持绑定 user_id
// 使用数据库事务确保并发安全
func CreateOrUpdateTransaction(transaction *models.Transaction) error {
	return DB.Transaction(func(tx *gorm.DB) error {
		// 使用 SELECT FOR UPDATE 锁定行，防止并发问题
		var existing models.Transaction
		err := tx.Set("gorm:query_option", "FOR UPDATE").
			Where("project_id = ? AND transaction_id = ?", transaction.ProjectID, transaction.TransactionID).
			First(&existing).Error

		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				if transaction.VerifyID == "" {
					transaction.VerifyID = uuid.NewString()
				}
				return tx.Create(transaction).Error
			}
			return err
		}

		// 处理 user_id 绑定逻辑
		if existing.UserID == "" {
			// 通知先到达时 user_id 为空，由 SDK 校验请求补上
			if transaction.UserID != "" {
				logging.Infof("Binding user to transaction - transaction_id: %s, user_id: %s",
					transaction.TransactionID, transaction.UserID)
				existing.UserID = transaction.UserID
			}
		} else if transaction.UserID != "" && existing.UserID != transaction.UserID {
			// 同一笔交易被另一个用户提交（例如换设备恢复购买），保留原有绑定
			logging.Errorf("User mismatch detected - transaction_id: %s, existing_user_id: %s, new_user_id: %s. Keeping existing user_id.",
				transaction.TransactionID, existing.UserID, transaction.UserID)
		}

		// 已撤销的交易不会被旧收据重新激活
		if existing.Status != models.StatusRefunded {
			existing.Status = transaction.Status
		}
		if existing.ScreenID == "" {
			existing.ScreenID = transaction.ScreenID
		}
		existing.OriginalTransactionID = transaction.OriginalTransactionID
		existing.ProductID = transaction.ProductID
		existing.Type = transaction.Type
		existing.Environment = transaction.Environment
		existing.PurchasedAt = transaction.PurchasedAt
		existing.ExpiresAt = transaction.ExpiresAt
		existing.AutoRenewStatus = transaction.AutoRenewStatus

		if err := tx.Save(&existing).Error; err != nil {
			return err
		}
		*transaction = existing
		return nil
	})
}

// UpdateTransactionStatus 更新同一原始交易下所有交易的状态（已退款的交易除外）
func UpdateTransactionStatus(projectID, originalTransactionID, status string, autoRenew bool) (int64, error) {
	result := DB.Model(&models.Transaction{}).
		Where("project_id = ? AND original_transaction_id = ? AND status <> ?",
			projectID, originalTransactionID, models.StatusRefunded).
		Updates(map[string]interface{}{
			"status":            status,
			"auto_renew_status": autoRenew,
		})
	return result.RowsAffected, result.Error
}
