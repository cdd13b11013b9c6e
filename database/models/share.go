package models

import "gorm.io/gorm"

// SharedImage 把一张图片以只读方式共享给另一个用户。
// (ImageID, SharedWithID) 唯一，重复共享幂等。
type SharedImage struct {
	gorm.Model
	GrantID      string `gorm:"uniqueIndex:idx_shares_grant;not null"`
	ImageID      uint   `gorm:"uniqueIndex:idx_shares_image_recipient,priority:1;not null"`
	SharedWithID uint   `gorm:"uniqueIndex:idx_shares_image_recipient,priority:2;not null"`
	SharedByID   uint   `gorm:"index:idx_shares_sharer;not null"`

	Image      Image `gorm:"foreignKey:ImageID"`
	SharedWith User  `gorm:"foreignKey:SharedWithID"`
	SharedBy   User  `gorm:"foreignKey:SharedByID"`
}
