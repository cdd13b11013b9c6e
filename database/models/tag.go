package models

import "gorm.io/gorm"

// 标签来源
const (
	TagSourceManual = "manual"
	TagSourceAuto   = "auto"
)

// Tag 图片标签。同一张图片上名字唯一。
type Tag struct {
	gorm.Model
	ImageID  uint   `gorm:"uniqueIndex:idx_tags_image_name,priority:1;not null"`
	UserID   uint   `gorm:"index:idx_tags_user;not null"`
	Name     string `gorm:"uniqueIndex:idx_tags_image_name,priority:2;not null"`
	Category string `gorm:"default:'';not null"`
	Source   string `gorm:"default:manual;not null"`
}
