package api

import (
	"errors"
	"net/http"
	"purchase-sync/internal/config"
	"purchase-sync/internal/database"
	"purchase-sync/internal/middleware"
	"purchase-sync/internal/models"
	"purchase-sync/internal/services"
	"time"

	"github.com/gin-gonic/gin"
)

var (
	projectService      *services.ProjectService
	verificationService *services.ReceiptVerificationService
	jwsDecoder          *services.JWSDecoder
	webhookNotifier     *services.WebhookNotifier
	verifyLocker        services.Locker
	replayGuard         services.ReplayGuard
)

// initServices builds the handler dependencies from config.AppConfig.
// Redis backs locks and replay records when configured.
func initServices() {
	if rp, ok := replayGuard.(*services.ReplayProtection); ok {
		rp.Stop()
	}

	projectService = services.NewProjectService()
	jwsDecoder = services.NewJWSDecoder(services.NewSignatureVerifier(), config.AppConfig.AppStoreVerifySignature)
	verificationService = services.NewReceiptVerificationService(jwsDecoder)
	webhookNotifier = services.NewWebhookNotifier(time.Duration(config.AppConfig.WebhookTimeoutSeconds) * time.Second)

	notificationTTL := time.Duration(config.AppConfig.NotificationTTLHours) * time.Hour
	if client := database.GetRedis(); client != nil {
		redisService := services.NewRedisService(client, notificationTTL)
		verifyLocker = redisService
		replayGuard = redisService
	} else {
		verifyLocker = services.NewMemoryLocker()
		replayGuard = services.NewReplayProtection(notificationTTL)
	}
}

// SetupRoutes sets up all routes
func SetupRoutes(r *gin.Engine) {
	// Initialize project manager
	middleware.InitProjectManager()
	initServices()

	v1 := r.Group("/v1")
	{
		// SDK routes (require project authentication)
		client := v1.Group("")
		client.Use(middleware.ProjectAuthMiddleware())
		{
			client.POST("/users", RegisterUser)
			client.POST("/itunes/verify/:userId", VerifyReceipt)
			client.GET("/subscriptions/:userId", GetSubscriptionStatus)
			client.GET("/transactions/:userId", GetTransactionHistory)
			client.GET("/stats", GetProjectStats)
		}

		// App Store notification routes (no authentication, Apple calls these)
		v1.POST("/appstore/notifications/:environment", AppStoreNotificationHandler)

		// Project management routes (for admin use)
		admin := v1.Group("/admin")
		admin.Use(middleware.AdminAuthMiddleware())
		{
			admin.GET("/projects", GetProjects)
			admin.POST("/projects", CreateProject)
			admin.PUT("/projects/:id", UpdateProject)
			admin.DELETE("/projects/:id", DeleteProject)
			admin.GET("/projects/:id/stats", GetProjectStats)
		}
	}

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"service": "purchase-sync",
		})
	})
}

// GetProjects gets all projects
func GetProjects(c *gin.Context) {
	projects, err := projectService.GetAllProjects()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"message": "Failed to get projects",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    projects,
	})
}

// CreateProjectRequest represents create project request
type CreateProjectRequest struct {
	ProjectID          string `json:"project_id" binding:"required"`
	ProjectName        string `json:"project_name" binding:"required"`
	APIKey             string `json:"api_key" binding:"required"`
	Description        string `json:"description"`
	ContactEmail       string `json:"contact_email"`
	BundleID           string `json:"bundle_id"`     // iOS bundle ID (for App Store notifications)
	SharedSecret       string `json:"shared_secret"` // App Store shared secret, overrides the global one
	WebhookCallbackURL string `json:"webhook_callback_url"`
	WebhookSecret      string `json:"webhook_secret"`
}

// CreateProject creates a new project
func CreateProject(c *gin.Context) {
	var req CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "Invalid request format: " + err.Error(),
		})
		return
	}

	project := &models.Project{
		ProjectID:          req.ProjectID,
		ProjectName:        req.ProjectName,
		APIKey:             req.APIKey,
		Description:        req.Description,
		ContactEmail:       req.ContactEmail,
		BundleID:           req.BundleID,
		SharedSecret:       req.SharedSecret,
		WebhookCallbackURL: req.WebhookCallbackURL,
		WebhookSecret:      req.WebhookSecret,
		IsActive:           true,
	}

	if err := projectService.CreateProject(project); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "Failed to create project: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"message": "Project created successfully",
		"data":    project,
	})
}

// UpdateProjectRequest represents update project request
type UpdateProjectRequest struct {
	ProjectName        string `json:"project_name"`
	Description        string `json:"description"`
	ContactEmail       string `json:"contact_email"`
	IsActive           *bool  `json:"is_active"`
	BundleID           string `json:"bundle_id"`
	SharedSecret       string `json:"shared_secret"`
	WebhookCallbackURL string `json:"webhook_callback_url"`
	WebhookSecret      string `json:"webhook_secret"`
}

// UpdateProject updates an existing project
func UpdateProject(c *gin.Context) {
	projectID := c.Param("id")
	if projectID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "Project ID is required",
		})
		return
	}

	var req UpdateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "Invalid request format: " + err.Error(),
		})
		return
	}

	// Build update map
	updates := make(map[string]interface{})
	if req.ProjectName != "" {
		updates["project_name"] = req.ProjectName
	}
	if req.Description != "" {
		updates["description"] = req.Description
	}
	if req.ContactEmail != "" {
		updates["contact_email"] = req.ContactEmail
	}
	if req.IsActive != nil {
		updates["is_active"] = *req.IsActive
	}
	if req.BundleID != "" {
		updates["bundle_id"] = req.BundleID
	}
	if req.SharedSecret != "" {
		updates["shared_secret"] = req.SharedSecret
	}
	if req.WebhookCallbackURL != "" {
		updates["webhook_callback_url"] = req.WebhookCallbackURL
	}
	if req.WebhookSecret != "" {
		updates["webhook_secret"] = req.WebhookSecret
	}
	if len(updates) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "No fields to update",
		})
		return
	}

	if err := projectService.UpdateProject(projectID, updates); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, services.ErrProjectNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{
			"success": false,
			"message": "Failed to update project: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Project updated successfully",
	})
}

// DeleteProject deletes a project
func DeleteProject(c *gin.Context) {
	projectID := c.Param("id")
	if projectID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "Project ID is required",
		})
		return
	}

	if err := projectService.DeleteProject(projectID); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, services.ErrProjectNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{
			"success": false,
			"message": "Failed to delete project: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Project deleted successfully",
	})
}

// GetProjectStats gets project statistics
func GetProjectStats(c *gin.Context) {
	projectID := c.Param("id")
	if projectID == "" {
		// If no ID in param, get from context (for SDK routes)
		projectID = c.GetString(middleware.ProjectIDKey)
	}
	if projectID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "Project ID is required",
		})
		return
	}

	stats, err := projectService.GetProjectStats(projectID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"message": "Failed to get project stats: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    stats,
	})
}
