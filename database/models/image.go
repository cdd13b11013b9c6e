package models

import "gorm.io/gorm"

// ThumbStatus 缩略图生成状态
type ThumbStatus int8

const (
	ThumbStatusPending    ThumbStatus = 0 // 等待生成
	ThumbStatusProcessing ThumbStatus = 1 // 生成中
	ThumbStatusReady      ThumbStatus = 2 // 已生成
	ThumbStatusFailed     ThumbStatus = 3 // 生成失败
)

// IsReady 缩略图是否可用
func (s ThumbStatus) IsReady() bool {
	return s == ThumbStatusReady
}

// Image 图库中的一条图片记录。
// (UserID, FileName, OriginTime) 唯一，是导入去重的判定键。
type Image struct {
	gorm.Model
	Identifier string `gorm:"uniqueIndex:idx_images_identifier;not null"`
	FileName   string `gorm:"uniqueIndex:idx_images_owner_file_origin,priority:2;not null"`
	FilePath   string `gorm:"not null"`
	FileSize   int64  `gorm:"not null"`
	MimeType   string
	FileHash   string `gorm:"index:idx_images_hash"`
	Width      int
	Height     int

	// OriginTime 来源时间戳（Unix 毫秒）。扫描或上传时取得一次，
	// 之后作为不透明值参与去重比较，不再解释。
	OriginTime int64 `gorm:"uniqueIndex:idx_images_owner_file_origin,priority:3;not null"`

	// 提取出的生成元数据，全部可空；Params 是生成参数的 JSON 文本
	Workflow   *string `gorm:"type:text"`
	PromptText *string `gorm:"type:text"`
	Params     *string `gorm:"type:text"`

	ThumbStatus ThumbStatus `gorm:"default:0;not null"`

	UserID uint `gorm:"uniqueIndex:idx_images_owner_file_origin,priority:1;index:idx_images_user"`
	User   User `gorm:"foreignKey:UserID"`

	Tags      []Tag         `gorm:"constraint:OnDelete:CASCADE"`
	Favorites []Favorite    `gorm:"constraint:OnDelete:CASCADE"`
	Shares    []SharedImage `gorm:"constraint:OnDelete:CASCADE"`
}
