package favorites

import (
	"context"

	"github.com/telarin/latentvault/database/models"
	"gorm.io/gorm"
)

// Repository 收藏仓库
type Repository struct {
	db *gorm.DB
}

// NewRepository 创建新的收藏仓库
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithContext 返回带上下文的仓库
func (r *Repository) WithContext(ctx context.Context) *Repository {
	return &Repository{db: r.db.WithContext(ctx)}
}

// Set 收藏图片，重复收藏幂等
func (r *Repository) Set(userID, imageID uint) error {
	fav := models.Favorite{UserID: userID, ImageID: imageID}
	return r.db.Where("user_id = ? AND image_id = ?", userID, imageID).
		FirstOrCreate(&fav).Error
}

// Unset 取消收藏。物理删除，软删除的行会占住唯一索引。
func (r *Repository) Unset(userID, imageID uint) error {
	return r.db.Unscoped().
		Where("user_id = ? AND image_id = ?", userID, imageID).
		Delete(&models.Favorite{}).Error
}

// IsFavorited 是否已收藏
func (r *Repository) IsFavorited(userID, imageID uint) (bool, error) {
	var count int64
	err := r.db.Model(&models.Favorite{}).
		Where("user_id = ? AND image_id = ?", userID, imageID).
		Count(&count).Error
	return count > 0, err
}

// FavoritedSet 返回给定图片中被该用户收藏的子集
func (r *Repository) FavoritedSet(userID uint, imageIDs []uint) (map[uint]bool, error) {
	result := make(map[uint]bool, len(imageIDs))
	if len(imageIDs) == 0 {
		return result, nil
	}

	var ids []uint
	err := r.db.Model(&models.Favorite{}).
		Where("user_id = ? AND image_id IN ?", userID, imageIDs).
		Pluck("image_id", &ids).Error
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		result[id] = true
	}
	return result, nil
}
