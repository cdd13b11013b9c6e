package tags

import (
	"context"

	"github.com/telarin/latentvault/database/models"
	"gorm.io/gorm"
)

// Repository 标签仓库
type Repository struct {
	db *gorm.DB
}

// NewRepository 创建新的标签仓库
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithContext 返回带上下文的仓库
func (r *Repository) WithContext(ctx context.Context) *Repository {
	return &Repository{db: r.db.WithContext(ctx)}
}

// Add 给图片添加标签。同名标签已存在时幂等返回现有记录。
func (r *Repository) Add(tag *models.Tag) error {
	return r.db.Where("image_id = ? AND name = ?", tag.ImageID, tag.Name).
		FirstOrCreate(tag).Error
}

// Remove 删除图片上的一个标签。
// 物理删除：软删除的行会占住唯一索引，阻碍重新打标。
func (r *Repository) Remove(imageID uint, name string) error {
	return r.db.Unscoped().
		Where("image_id = ? AND name = ?", imageID, name).
		Delete(&models.Tag{}).Error
}

// ListByImage 列出图片上的全部标签
func (r *Repository) ListByImage(imageID uint) ([]models.Tag, error) {
	var list []models.Tag
	err := r.db.Where("image_id = ?", imageID).
		Order("category, name").
		Find(&list).Error
	return list, err
}

// ReplaceAuto 原子替换图片上的机器标签，手动标签不受影响
func (r *Repository) ReplaceAuto(imageID uint, tags []models.Tag) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().
			Where("image_id = ? AND source = ?", imageID, models.TagSourceAuto).
			Delete(&models.Tag{}).Error; err != nil {
			return err
		}
		for i := range tags {
			tags[i].ImageID = imageID
			tags[i].Source = models.TagSourceAuto
			// 和已有手动标签重名时保留手动标签
			if err := tx.Where("image_id = ? AND name = ?", imageID, tags[i].Name).
				FirstOrCreate(&tags[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// NamesByUser 用户使用过的标签名及次数，按次数倒序
type NameCount struct {
	Name  string
	Count int64
}

func (r *Repository) NamesByUser(userID uint, limit int) ([]NameCount, error) {
	var rows []NameCount
	err := r.db.Model(&models.Tag{}).
		Select("name, COUNT(*) as count").
		Where("user_id = ?", userID).
		Group("name").
		Order("count DESC, name").
		Limit(limit).
		Scan(&rows).Error
	return rows, err
}
