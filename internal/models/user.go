package models

// User 用户模型
// SDK 首次启动时注册，UserID 作为后续校验请求的路径参数
type User struct {
	BaseModel

	UserID    string `json:"user_id" gorm:"not null;size:36;uniqueIndex"` // 服务端生成的 UUID
	ProjectID string `json:"project_id" gorm:"not null;index"`            // 项目ID

	// 设备信息
	DeviceID   string `json:"device_id" gorm:"size:100;index"`
	Platform   string `json:"platform" gorm:"size:20;default:'ios'"`
	AppVersion string `json:"app_version" gorm:"size:50"`
	OSVersion  string `json:"os_version" gorm:"size:50"`
	Locale     string `json:"locale" gorm:"size:20"`
}

// TableName 指定表名
func (User) TableName() string {
	return "users"
}
