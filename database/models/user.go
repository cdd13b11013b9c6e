package models

import "gorm.io/gorm"

// 用户角色常量
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

type User struct {
	gorm.Model
	Username string `gorm:"uniqueIndex:idx_users_username;not null"`
	Password string `gorm:"not null" json:"-"`
	Role     string `gorm:"default:user;not null"`
}

// IsAdmin 是否管理员
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}
