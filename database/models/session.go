package models

import (
	"time"

	"gorm.io/gorm"
)

// Session 一次登录产生的会话。刷新令牌只存 sha256 摘要，
// 轮换时整行替换。
type Session struct {
	gorm.Model
	SessionID    string    `gorm:"uniqueIndex:idx_sessions_session_id;not null"`
	UserID       uint      `gorm:"index:idx_sessions_user;not null"`
	RefreshToken string    `gorm:"index:idx_sessions_token;not null"` // sha256 hex
	Expiry       time.Time `gorm:"not null"`
}
