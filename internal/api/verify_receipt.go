package api

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"purchase-sync/internal/config"
	"purchase-sync/internal/database"
	"purchase-sync/internal/middleware"
	"purchase-sync/internal/models"
	"purchase-sync/internal/services"
	"purchase-sync/pkg/logging"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// VerifyReceiptResponse 收据校验结果
type VerifyReceiptResponse struct {
	Success bool   `json:"success"`
	ID      string `json:"id"`     // 远端交易ID，校验失败时为空
	Active  bool   `json:"active"` // 是否授予权益
	Status  string `json:"status"` // active、expired、refunded、invalid ...
}

// VerifyReceipt 校验 SDK 提交的收据
// @Summary 校验收据
// @Description 请求体为 base64 编码的 App Store 收据或签名交易（JWS）
// @Param X-Project-ID header string true "项目ID"
// @Param X-API-Key header string true "API密钥"
// @Param userId path string true "用户ID"
// @Param screen_id query string false "发起购买的页面"
// @Success 200 {object} VerifyReceiptResponse
// @Failure 400 {object} gin.H
// @Failure 404 {object} gin.H
// @Failure 429 {object} gin.H
// @Failure 502 {object} gin.H
// @Router /v1/itunes/verify/{userId} [post]
func VerifyReceipt(c *gin.Context) {
	project := middleware.CurrentProject(c)
	userID := c.Param("userId")

	// 用户必须已注册
	if _, err := database.GetUser(project.ProjectID, userID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"success": false,
				"message": "User not found",
			})
			return
		}
		logging.Errorf("Failed to load user - project: %s, user: %s, error: %v", project.ProjectID, userID, err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"message": "Failed to load user",
		})
		return
	}

	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "Failed to read request body",
		})
		return
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "Empty request body",
		})
		return
	}

	// 同一收据同时只允许一个校验请求
	lockKey := verifyLockKey(project.ProjectID, userID, body)
	lockTTL := time.Duration(config.AppConfig.VerifyLockSeconds) * time.Second
	acquired, err := verifyLocker.Acquire(c.Request.Context(), lockKey, lockTTL)
	if err != nil {
		logging.Errorf("Failed to acquire verification lock: %v", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"success": false,
			"message": "Verification temporarily unavailable",
		})
		return
	}
	if !acquired {
		c.JSON(http.StatusTooManyRequests, gin.H{
			"success": false,
			"message": "Verification already in progress",
		})
		return
	}
	defer func() {
		if err := verifyLocker.Release(context.Background(), lockKey); err != nil {
			logging.Errorf("Failed to release verification lock: %v", err)
		}
	}()

	transaction, err := verificationService.Verify(c.Request.Context(), services.VerifyRequest{
		Project:  project,
		UserID:   userID,
		ScreenID: c.Query("screen_id"),
		Body:     string(body),
	})
	if err != nil {
		writeVerifyError(c, project.ProjectID, userID, err)
		return
	}

	active := transaction.IsActive(time.Now())
	logging.Infof("Receipt verified - project: %s, user: %s, transaction: %s, status: %s, active: %v",
		project.ProjectID, userID, transaction.TransactionID, transaction.Status, active)

	c.JSON(http.StatusOK, VerifyReceiptResponse{
		Success: true,
		ID:      transaction.VerifyID,
		Active:  active,
		Status:  transaction.Status,
	})
}

// writeVerifyError maps verification errors to responses. Receipts Apple
// rejects for good are answered 200 with active=false so the SDK finishes them.
func writeVerifyError(c *gin.Context, projectID, userID string, err error) {
	var appleErr *services.AppleVerificationError
	switch {
	case errors.Is(err, services.ErrInvalidReceipt),
		errors.Is(err, services.ErrInvalidSignedData),
		errors.As(err, &appleErr) && !appleErr.Retryable():
		logging.Infof("Receipt rejected - project: %s, user: %s, reason: %v", projectID, userID, err)
		c.JSON(http.StatusOK, VerifyReceiptResponse{
			Success: true,
			Active:  false,
			Status:  models.StatusInvalid,
		})
	case appleErr != nil:
		logging.Errorf("App Store asked to retry - project: %s, user: %s, status: %d", projectID, userID, appleErr.Status)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"success": false,
			"message": fmt.Sprintf("App Store status %d, retry later", appleErr.Status),
		})
	case errors.Is(err, services.ErrUpstreamUnavailable):
		logging.Errorf("App Store unavailable - project: %s, user: %s, error: %v", projectID, userID, err)
		c.JSON(http.StatusBadGateway, gin.H{
			"success": false,
			"message": "App Store unavailable",
		})
	default:
		logging.Errorf("Verification failed - project: %s, user: %s, error: %v", projectID, userID, err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"message": "Verification failed",
		})
	}
}

func verifyLockKey(projectID, userID string, body []byte) string {
	sum := sha256.Sum256(body)
	return fmt.Sprintf("%s:%s:%s", projectID, userID, hex.EncodeToString(sum[:]))
}
