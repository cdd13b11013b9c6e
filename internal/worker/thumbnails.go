package worker

import (
	"github.com/telarin/latentvault/database/models"
	"github.com/telarin/latentvault/storage"
)

// ThumbnailService 负责把缩略图任务投递到全局任务池
type ThumbnailService struct {
	repo  ThumbStatusRepo
	store storage.Provider
	local *storage.LocalStorage
	maxPx int
}

// NewThumbnailService 创建缩略图调度服务
func NewThumbnailService(repo ThumbStatusRepo, store storage.Provider, local *storage.LocalStorage, maxPx int) *ThumbnailService {
	if maxPx <= 0 {
		maxPx = defaultThumbMaxPx
	}
	return &ThumbnailService{
		repo:  repo,
		store: store,
		local: local,
		maxPx: maxPx,
	}
}

// EnqueueThumbnail 为新入库的图片排队生成缩略图。
// 返回 false 表示队列已满，任务被丢弃，状态仍为 pending。
func (s *ThumbnailService) EnqueueThumbnail(img *models.Image) bool {
	return s.enqueue(img, models.ThumbStatusPending)
}

// EnqueueRegenerate 重新生成缩略图，from 为图片当前的缩略图状态。
// 只有状态未被并发修改时任务才会真正执行。
func (s *ThumbnailService) EnqueueRegenerate(img *models.Image, from models.ThumbStatus) bool {
	return s.enqueue(img, from)
}

func (s *ThumbnailService) enqueue(img *models.Image, from models.ThumbStatus) bool {
	task := &ThumbnailTask{
		ImageID:    img.ID,
		Identifier: img.Identifier,
		FilePath:   img.FilePath,
		Width:      img.Width,
		Height:     img.Height,
		From:       from,
		MaxPx:      s.maxPx,
		Repo:       s.repo,
		Store:      s.store,
		Local:      s.local,
	}
	return Submit(func() { task.Execute() })
}
