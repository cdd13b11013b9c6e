package shares

import (
	"context"
	"errors"

	"github.com/telarin/latentvault/database/models"
	"gorm.io/gorm"
)

// ErrShareNotFound 共享记录不存在
var ErrShareNotFound = errors.New("share not found")

// Repository 共享仓库
type Repository struct {
	db *gorm.DB
}

// NewRepository 创建新的共享仓库
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithContext 返回带上下文的仓库
func (r *Repository) WithContext(ctx context.Context) *Repository {
	return &Repository{db: r.db.WithContext(ctx)}
}

// Create 建立共享，(image, recipient) 已存在时幂等返回现有记录
func (r *Repository) Create(share *models.SharedImage) error {
	return r.db.Where("image_id = ? AND shared_with_id = ?", share.ImageID, share.SharedWithID).
		FirstOrCreate(share).Error
}

// Remove 撤销共享。物理删除，软删除的行会占住唯一索引。
func (r *Repository) Remove(imageID, sharedWithID uint) error {
	res := r.db.Unscoped().
		Where("image_id = ? AND shared_with_id = ?", imageID, sharedWithID).
		Delete(&models.SharedImage{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrShareNotFound
	}
	return nil
}

// IsSharedWith 图片是否已共享给该用户
func (r *Repository) IsSharedWith(imageID, userID uint) (bool, error) {
	var count int64
	err := r.db.Model(&models.SharedImage{}).
		Where("image_id = ? AND shared_with_id = ?", imageID, userID).
		Count(&count).Error
	return count > 0, err
}

// ListForRecipient 分页列出共享给该用户的图片
func (r *Repository) ListForRecipient(userID uint, page, pageSize int) ([]*models.SharedImage, int64, error) {
	query := r.db.Model(&models.SharedImage{}).Where("shared_with_id = ?", userID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var list []*models.SharedImage
	offset := (page - 1) * pageSize
	err := query.Preload("Image").Preload("SharedBy").
		Order("created_at DESC").
		Offset(offset).Limit(pageSize).
		Find(&list).Error
	return list, total, err
}

// ListByImage 列出一张图片的全部共享记录
func (r *Repository) ListByImage(imageID uint) ([]*models.SharedImage, error) {
	var list []*models.SharedImage
	err := r.db.Where("image_id = ?", imageID).
		Preload("SharedWith").
		Find(&list).Error
	return list, err
}
