package tagging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/telarin/latentvault/database/models"
	"github.com/telarin/latentvault/storage"
	"github.com/telarin/latentvault/utils"
)

// 发给视觉端点的原图读入上限
const maxTagSourceBytes = 20 * 1024 * 1024

// ErrNotConfigured 未配置视觉端点
var ErrNotConfigured = errors.New("tagging classifier is not configured")

// ImagesRepo 打标流程需要的图片查询
type ImagesRepo interface {
	ListByIDs(userID uint, ids []uint) ([]*models.Image, error)
}

// TagsRepo 打标结果的落库入口
type TagsRepo interface {
	ReplaceAuto(imageID uint, tags []models.Tag) error
}

// Service 机器打标：读原图 → 视觉端点出描述 → 词表匹配 → 替换机器标签。
// 手动标签永远不动。
type Service struct {
	classifier Classifier
	images     ImagesRepo
	tags       TagsRepo
	store      storage.Provider
}

// NewService 创建打标服务。classifier 为 nil 表示功能未配置。
func NewService(classifier Classifier, images ImagesRepo, tags TagsRepo, store storage.Provider) *Service {
	return &Service{
		classifier: classifier,
		images:     images,
		tags:       tags,
		store:      store,
	}
}

// Enabled 视觉端点是否已配置
func (s *Service) Enabled() bool {
	return s.classifier != nil
}

// TagImage 为一张图片重打机器标签，返回写入的标签。
// 调用方负责所有权检查。
func (s *Service) TagImage(ctx context.Context, img *models.Image) ([]models.Tag, error) {
	if s.classifier == nil {
		return nil, ErrNotConfigured
	}

	data, err := s.readSource(ctx, img.FilePath)
	if err != nil {
		return nil, fmt.Errorf("read image source: %w", err)
	}

	desc, err := s.classifier.Describe(ctx, data, img.MimeType)
	if err != nil {
		return nil, fmt.Errorf("describe image: %w", err)
	}
	utils.LogIfDevf("[Tagging] image %d described: %s", img.ID, utils.SanitizeLogMessage(desc))

	tags := Match(desc)
	for i := range tags {
		tags[i].UserID = img.UserID
	}

	if err := s.tags.ReplaceAuto(img.ID, tags); err != nil {
		return nil, fmt.Errorf("store tags: %w", err)
	}
	return tags, nil
}

// BatchItem 批量打标中一张图片的结果
type BatchItem struct {
	ImageID uint   `json:"image_id"`
	Tagged  int    `json:"tagged,omitempty"`
	Error   string `json:"error,omitempty"`
}

// BatchResult 批量打标汇总
type BatchResult struct {
	Tagged int         `json:"tagged"`
	Failed int         `json:"failed"`
	Items  []BatchItem `json:"items"`
}

// TagBatch 批量打标。所有权由查询本身约束：不属于该用户的 id
// 查不出来，按失败记入结果。单图失败互不影响。
func (s *Service) TagBatch(ctx context.Context, userID uint, ids []uint) (*BatchResult, error) {
	if s.classifier == nil {
		return nil, ErrNotConfigured
	}

	imgs, err := s.images.ListByIDs(userID, ids)
	if err != nil {
		return nil, fmt.Errorf("load images: %w", err)
	}
	byID := make(map[uint]*models.Image, len(imgs))
	for _, img := range imgs {
		byID[img.ID] = img
	}

	result := &BatchResult{}
	for _, id := range ids {
		img, ok := byID[id]
		if !ok {
			result.Failed++
			result.Items = append(result.Items, BatchItem{ImageID: id, Error: "image not found"})
			continue
		}

		tags, err := s.TagImage(ctx, img)
		if err != nil {
			result.Failed++
			result.Items = append(result.Items, BatchItem{ImageID: id, Error: err.Error()})
			continue
		}
		result.Tagged++
		result.Items = append(result.Items, BatchItem{ImageID: id, Tagged: len(tags)})
	}
	return result, nil
}

// readSource 引用导入的记录存的是绝对路径，直接走文件系统；其余走存储提供者
func (s *Service) readSource(ctx context.Context, filePath string) ([]byte, error) {
	if filepath.IsAbs(filePath) {
		f, err := os.Open(filePath)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return io.ReadAll(io.LimitReader(f, maxTagSourceBytes))
	}

	reader, err := s.store.GetWithContext(ctx, filePath)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closer, ok := reader.(io.Closer); ok {
			closer.Close()
		}
	}()
	return io.ReadAll(io.LimitReader(reader, maxTagSourceBytes))
}
