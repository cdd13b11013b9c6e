package models

import "gorm.io/gorm"

// Favorite 收藏标记。(UserID, ImageID) 唯一，重复收藏幂等。
type Favorite struct {
	gorm.Model
	UserID  uint `gorm:"uniqueIndex:idx_favorites_user_image,priority:1;not null"`
	ImageID uint `gorm:"uniqueIndex:idx_favorites_user_image,priority:2;not null"`
}
