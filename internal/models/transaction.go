package models

import (
	"time"
)

// Transaction status values.
const (
	StatusActive    = "active"
	StatusExpired   = "expired"
	StatusCancelled = "cancelled"
	StatusRefunded  = "refunded"
	StatusFailed    = "failed"
	StatusInvalid   = "invalid"
)

// Transaction 已校验交易表
// 存储所有通过收据校验的 IAP 交易记录（订阅和一次性内购）
type Transaction struct {
	BaseModel

	// 关联字段
	ProjectID string `json:"project_id" gorm:"not null;index"`       // 项目ID
	UserID    string `json:"user_id" gorm:"size:36;index"`           // 用户ID（通知创建的记录可能为空）
	ScreenID  string `json:"screen_id,omitempty" gorm:"size:100"`    // 发起购买的页面
	VerifyID  string `json:"verify_id" gorm:"size:36;uniqueIndex"`   // 返回给 SDK 的远端交易ID

	// 交易标识
	TransactionID         string `json:"transaction_id" gorm:"not null;size:100;uniqueIndex"` // 交易ID
	OriginalTransactionID string `json:"original_transaction_id" gorm:"size:100;index"`       // 原始交易ID（用于关联续订）

	// 产品信息
	ProductID string `json:"product_id" gorm:"size:100"`           // 产品ID
	Type      string `json:"type" gorm:"not null;size:20;index"`   // subscription（订阅）或 non_consumable（一次性内购）
	Status    string `json:"status" gorm:"not null;size:20;index"` // active、expired、cancelled、refunded、failed

	// 环境
	Environment string `json:"environment" gorm:"size:20"` // sandbox 或 production

	// 时间
	PurchasedAt     time.Time  `json:"purchased_at"`                 // 购买时间
	ExpiresAt       *time.Time `json:"expires_at" gorm:"index"`      // 过期时间，一次性内购为空
	AutoRenewStatus bool       `json:"auto_renew_status"`            // 自动续费状态
}

// TableName 指定表名
func (Transaction) TableName() string {
	return "transactions"
}

// IsActive reports whether the transaction grants access at now.
func (t *Transaction) IsActive(now time.Time) bool {
	if t.Status != StatusActive {
		return false
	}
	return t.ExpiresAt == nil || t.ExpiresAt.After(now)
}
