package images

import (
	"context"
	"errors"
	"time"

	"github.com/telarin/latentvault/database/models"
	"gorm.io/gorm"
)

// ErrImageNotFound 图片不存在
var ErrImageNotFound = errors.New("image not found")

// Repository 图片仓库
type Repository struct {
	db *gorm.DB
}

// NewRepository 创建新的图片仓库
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithContext 返回带上下文的仓库
func (r *Repository) WithContext(ctx context.Context) *Repository {
	return &Repository{db: r.db.WithContext(ctx)}
}

// Create 保存一条图片记录
func (r *Repository) Create(image *models.Image) error {
	return r.db.Create(image).Error
}

// GetByIdentifier 通过公开标识获取图片
func (r *Repository) GetByIdentifier(identifier string) (*models.Image, error) {
	var image models.Image
	err := r.db.Where("identifier = ?", identifier).First(&image).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrImageNotFound
		}
		return nil, err
	}
	return &image, nil
}

// ExistsByOwnerFileOrigin 检查去重判定键 (owner, filename, origin_time) 是否已存在
func (r *Repository) ExistsByOwnerFileOrigin(userID uint, fileName string, originTime int64) (bool, error) {
	var count int64
	err := r.db.Model(&models.Image{}).
		Where("user_id = ? AND file_name = ? AND origin_time = ?", userID, fileName, originTime).
		Count(&count).Error
	return count > 0, err
}

// FileNameExists 检查用户名下是否已有同名文件（改名冲突判定）
func (r *Repository) FileNameExists(userID uint, fileName string) (bool, error) {
	var count int64
	err := r.db.Model(&models.Image{}).
		Where("user_id = ? AND file_name = ?", userID, fileName).
		Count(&count).Error
	return count > 0, err
}

// FileNamesByOwnerOrigin 取同一用户同一来源时间的所有文件名。
// 来源时间是毫秒级，命中极少，用于判定冲突改名后的同源文件。
func (r *Repository) FileNamesByOwnerOrigin(userID uint, originTime int64) ([]string, error) {
	var names []string
	err := r.db.Model(&models.Image{}).
		Where("user_id = ? AND origin_time = ?", userID, originTime).
		Pluck("file_name", &names).Error
	return names, err
}

// ListFilter 列表筛选条件
type ListFilter struct {
	Search       string
	Tag          string
	Model        string
	FavoriteOnly bool
}

// ListByUser 分页列出用户的图片，按创建时间倒序
func (r *Repository) ListByUser(userID uint, filter ListFilter, page, pageSize int) ([]*models.Image, int64, error) {
	query := r.db.Model(&models.Image{}).Where("images.user_id = ?", userID)

	if filter.Search != "" {
		pattern := "%" + filter.Search + "%"
		query = query.Where("images.file_name LIKE ? OR images.prompt_text LIKE ?", pattern, pattern)
	}
	if filter.Tag != "" {
		query = query.
			Joins("JOIN tags ON tags.image_id = images.id AND tags.deleted_at IS NULL").
			Where("tags.name = ?", filter.Tag)
	}
	if filter.Model != "" {
		// params 是 JSON 文本，checkpoint 是第一个键，LIKE 匹配足够用
		query = query.Where("images.params LIKE ?", `%"checkpoint":"%`+filter.Model+`%`)
	}
	if filter.FavoriteOnly {
		query = query.
			Joins("JOIN favorites ON favorites.image_id = images.id AND favorites.deleted_at IS NULL").
			Where("favorites.user_id = ?", userID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var list []*models.Image
	offset := (page - 1) * pageSize
	err := query.Order("images.created_at DESC, images.id DESC").
		Offset(offset).Limit(pageSize).
		Find(&list).Error
	return list, total, err
}

// ListByIDs 按主键批量获取用户的图片
func (r *Repository) ListByIDs(userID uint, ids []uint) ([]*models.Image, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var list []*models.Image
	err := r.db.Where("user_id = ? AND id IN ?", userID, ids).Find(&list).Error
	return list, err
}

// AnalyticsRow 统计计算所需的快照行
type AnalyticsRow struct {
	ID         uint
	PromptText *string
	Params     *string
	OriginTime int64
	CreatedAt  time.Time
	Favorited  bool
}

// SnapshotForUser 拉取用户全量图片快照，带收藏标记，供统计计算使用
func (r *Repository) SnapshotForUser(userID uint) ([]AnalyticsRow, error) {
	var rows []AnalyticsRow
	err := r.db.Model(&models.Image{}).
		Select("images.id, images.prompt_text, images.params, images.origin_time, images.created_at, favorites.id IS NOT NULL AS favorited").
		Joins("LEFT JOIN favorites ON favorites.image_id = images.id AND favorites.user_id = images.user_id AND favorites.deleted_at IS NULL").
		Where("images.user_id = ?", userID).
		Order("images.id").
		Scan(&rows).Error
	return rows, err
}

// UpdateDimensions 更新图片宽高
func (r *Repository) UpdateDimensions(identifier string, width, height int) error {
	return r.db.Model(&models.Image{}).
		Where("identifier = ?", identifier).
		UpdateColumns(map[string]interface{}{"width": width, "height": height}).Error
}

// UpdateThumbStatus 按当前状态条件更新缩略图状态，返回是否真的更新了
func (r *Repository) UpdateThumbStatus(imageID uint, from, to models.ThumbStatus) (bool, error) {
	res := r.db.Model(&models.Image{}).
		Where("id = ? AND thumb_status = ?", imageID, from).
		Update("thumb_status", to)
	return res.RowsAffected > 0, res.Error
}

// DeleteWithAssociations 删除图片及其标签、收藏和共享记录。
// 物理删除：去重键要允许同一文件将来重新导入。
func (r *Repository) DeleteWithAssociations(imageID uint) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().Where("image_id = ?", imageID).Delete(&models.Tag{}).Error; err != nil {
			return err
		}
		if err := tx.Unscoped().Where("image_id = ?", imageID).Delete(&models.Favorite{}).Error; err != nil {
			return err
		}
		if err := tx.Unscoped().Where("image_id = ?", imageID).Delete(&models.SharedImage{}).Error; err != nil {
			return err
		}
		return tx.Unscoped().Delete(&models.Image{}, imageID).Error
	})
}

// CountByUser 用户图片总数
func (r *Repository) CountByUser(userID uint) (int64, error) {
	var count int64
	err := r.db.Model(&models.Image{}).Where("user_id = ?", userID).Count(&count).Error
	return count, err
}
