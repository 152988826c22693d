package middleware

import (
	"net/http"
	"purchase-sync/internal/config"
	"purchase-sync/internal/models"
	"purchase-sync/internal/response"
	"purchase-sync/internal/services"
	"time"

	"github.com/gin-gonic/gin"
)

// Context keys set by ProjectAuthMiddleware
const (
	ProjectIDKey = "project_id"
	ProjectKey   = "project"
)

var ProjectService *services.ProjectService

// InitProjectManager initializes the project manager
func InitProjectManager() {
	ProjectService = services.NewProjectService()
}

// ProjectAuthMiddleware provides project authentication middleware
func ProjectAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Get project ID and API key
		projectID := c.GetHeader("X-Project-ID")
		apiKey := c.GetHeader("X-API-Key")

		// If not passed via header, try to get from query parameters
		if projectID == "" {
			projectID = c.Query("project_id")
		}
		if apiKey == "" {
			apiKey = c.Query("api_key")
		}

		// Validate project ID and API key
		if projectID == "" || apiKey == "" {
			response.ErrorJSON(c, http.StatusUnauthorized, "Missing project_id or api_key")
			c.Abort()
			return
		}

		// Validate project using database
		project, err := ProjectService.GetProjectByID(projectID)
		if err != nil || project.APIKey != apiKey {
			response.ErrorJSON(c, http.StatusUnauthorized, "Invalid project_id or api_key")
			c.Abort()
			return
		}

		// Store project and additional info in context
		c.Set(ProjectIDKey, projectID)
		c.Set(ProjectKey, project)
		c.Set("request_time", time.Now())
		c.Next()
	}
}

// AdminAuthMiddleware guards the project management routes with ADMIN_API_KEY
func AdminAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		expected := config.AppConfig.AdminAPIKey
		if expected == "" {
			response.ErrorJSON(c, http.StatusForbidden, "Admin API is disabled")
			c.Abort()
			return
		}
		if c.GetHeader("X-Admin-Key") != expected {
			response.ErrorJSON(c, http.StatusUnauthorized, "Invalid admin key")
			c.Abort()
			return
		}
		c.Next()
	}
}

// CurrentProject returns the project stored by ProjectAuthMiddleware
func CurrentProject(c *gin.Context) *models.Project {
	value, ok := c.Get(ProjectKey)
	if !ok {
		return nil
	}
	project, _ := value.(*models.Project)
	return project
}
