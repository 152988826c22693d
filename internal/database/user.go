package database

import (
	"purchase-sync/internal/models"
)

// CreateUser 创建用户
func CreateUser(user *models.User) error {
	return DB.Create(user).Error
}

// GetUser 获取项目下的用户
func GetUser(projectID, userID string) (*models.User, error) {
	var user models.User
	err := DB.Where("project_id = ? AND user_id = ?", projectID, userID).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// CountUsers 统计项目下的用户数
func CountUsers(projectID string) (int64, error) {
	var count int64
	err := DB.Model(&models.User{}).Where("project_id = ?", projectID).Count(&count).Error
	return count, err
}
