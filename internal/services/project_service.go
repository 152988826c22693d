package services

import (
	"errors"
	"fmt"
	"purchase-sync/internal/database"
	"purchase-sync/internal/models"
	"time"

	"gorm.io/gorm"
)

// ErrProjectNotFound is returned when no active project matches.
var ErrProjectNotFound = errors.New("project not found")

// ProjectService provides project management operations
type ProjectService struct {
	db *gorm.DB
}

// NewProjectService creates a new project service
func NewProjectService() *ProjectService {
	return &ProjectService{
		db: database.GetDB(),
	}
}

// GetProjectByID gets project by ID
func (s *ProjectService) GetProjectByID(projectID string) (*models.Project, error) {
	var project models.Project
	result := s.db.Where("project_id = ? AND is_active = ?", projectID, true).First(&project)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrProjectNotFound
		}
		return nil, result.Error
	}
	return &project, nil
}

// GetProjectByBundleID gets project by iOS bundle ID
func (s *ProjectService) GetProjectByBundleID(bundleID string) (*models.Project, error) {
	if bundleID == "" {
		return nil, ErrProjectNotFound
	}
	var project models.Project
	result := s.db.Where("bundle_id = ? AND is_active = ?", bundleID, true).First(&project)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrProjectNotFound
		}
		return nil, result.Error
	}
	return &project, nil
}

// ValidateProject validates project ID and API key
func (s *ProjectService) ValidateProject(projectID, apiKey string) bool {
	project, err := s.GetProjectByID(projectID)
	if err != nil {
		return false
	}
	return project.APIKey == apiKey && project.IsActive
}

// GetAllProjects gets all active projects
func (s *ProjectService) GetAllProjects() ([]*models.Project, error) {
	var projects []*models.Project
	result := s.db.Where("is_active = ?", true).Find(&projects)
	if result.Error != nil {
		return nil, result.Error
	}
	return projects, nil
}

// CreateProject creates a new project
func (s *ProjectService) CreateProject(project *models.Project) error {
	// Check if project ID already exists
	var existingProject models.Project
	result := s.db.Where("project_id = ?", project.ProjectID).First(&existingProject)
	if result.Error == nil {
		return fmt.Errorf("project with ID %s already exists", project.ProjectID)
	}

	// Check if API key already exists
	result = s.db.Where("api_key = ?", project.APIKey).First(&existingProject)
	if result.Error == nil {
		return fmt.Errorf("project with API key already exists")
	}

	// Create project
	if err := s.db.Create(project).Error; err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}

	return nil
}

// UpdateProject updates an existing project
func (s *ProjectService) UpdateProject(projectID string, updates map[string]interface{}) error {
	result := s.db.Model(&models.Project{}).Where("project_id = ?", projectID).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update project: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrProjectNotFound
	}
	return nil
}

// DeleteProject soft deletes a project
func (s *ProjectService) DeleteProject(projectID string) error {
	result := s.db.Where("project_id = ?", projectID).Delete(&models.Project{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete project: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrProjectNotFound
	}
	return nil
}

// GetProjectStats gets project statistics
func (s *ProjectService) GetProjectStats(projectID string) (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	users, err := database.CountUsers(projectID)
	if err != nil {
		return nil, err
	}
	stats["users"] = users

	// Count transactions verified today
	var verifiedToday int64
	today := time.Now().Truncate(24 * time.Hour)
	if err := s.db.Model(&models.Transaction{}).
		Where("project_id = ? AND created_at >= ?", projectID, today).
		Count(&verifiedToday).Error; err != nil {
		return nil, err
	}
	stats["transactions_verified_today"] = verifiedToday

	// Count currently active transactions
	var active int64
	if err := s.db.Model(&models.Transaction{}).
		Where("project_id = ? AND status = ? AND (expires_at IS NULL OR expires_at > ?)",
			projectID, models.StatusActive, time.Now()).
		Count(&active).Error; err != nil {
		return nil, err
	}
	stats["active_transactions"] = active

	// Count revoked transactions
	var refunded int64
	if err := s.db.Model(&models.Transaction{}).
		Where("project_id = ? AND status = ?", projectID, models.StatusRefunded).
		Count(&refunded).Error; err != nil {
		return nil, err
	}
	stats["refunded_transactions"] = refunded

	return stats, nil
}
