package api

import (
	"net/http"
	"purchase-sync/internal/database"
	"purchase-sync/internal/middleware"
	"purchase-sync/internal/models"
	"purchase-sync/pkg/logging"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RegisterUserRequest 用户注册请求（设备信息）
type RegisterUserRequest struct {
	DeviceID   string `json:"device_id" binding:"required"`
	Platform   string `json:"platform"`
	AppVersion string `json:"app_version"`
	OSVersion  string `json:"os_version"`
	Locale     string `json:"locale"`
}

// RegisterUser 注册用户，返回服务端生成的用户ID
// POST /v1/users
func RegisterUser(c *gin.Context) {
	var req RegisterUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "Invalid request format: " + err.Error(),
		})
		return
	}
	if req.Platform == "" {
		req.Platform = "ios"
	}

	projectID := c.GetString(middleware.ProjectIDKey)
	user := &models.User{
		UserID:     uuid.NewString(),
		ProjectID:  projectID,
		DeviceID:   req.DeviceID,
		Platform:   req.Platform,
		AppVersion: req.AppVersion,
		OSVersion:  req.OSVersion,
		Locale:     req.Locale,
	}
	if err := database.CreateUser(user); err != nil {
		logging.Errorf("Failed to create user - project: %s, device: %s, error: %v", projectID, req.DeviceID, err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"message": "Failed to create user",
		})
		return
	}

	logging.Infof("User registered - project: %s, user_id: %s, device: %s", projectID, user.UserID, req.DeviceID)
	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"id":      user.UserID,
	})
}
