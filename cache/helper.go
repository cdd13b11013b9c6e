package cache

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/telarin/latentvault/database/models"
)

const (
	// DefaultImageCacheExpiration 图片元数据缓存过期时间
	DefaultImageCacheExpiration = 1 * time.Hour

	// DefaultImageDataCacheExpiration 图片字节缓存过期时间
	DefaultImageDataCacheExpiration = 1 * time.Hour

	// DefaultEmptyValueCacheExpiration 空值缓存过期时间
	DefaultEmptyValueCacheExpiration = 5 * time.Minute

	// DefaultMaxCacheableImageSize 最大可缓存图片大小（10MB）
	DefaultMaxCacheableImageSize = 10 * 1024 * 1024
)

// addJitter 添加随机抖动（约 +10%），防止缓存雪崩
func addJitter(duration time.Duration) time.Duration {
	if duration <= 0 {
		return duration
	}
	jitter := time.Duration(rand.Int63n(int64(duration) / 10))
	return duration + jitter
}

// HelperConfig 缓存辅助工具配置
type HelperConfig struct {
	ImageCacheTTL         time.Duration
	ImageDataCacheTTL     time.Duration
	MaxCacheableImageSize int64
}

// DefaultHelperConfig 返回默认配置
func DefaultHelperConfig() HelperConfig {
	return HelperConfig{
		ImageCacheTTL:         DefaultImageCacheExpiration,
		ImageDataCacheTTL:     DefaultImageDataCacheExpiration,
		MaxCacheableImageSize: DefaultMaxCacheableImageSize,
	}
}

// Helper 面向图库读路径的缓存辅助工具
type Helper struct {
	provider Provider
	config   HelperConfig
}

// NewHelper 创建新的缓存辅助工具
func NewHelper(provider Provider, cfg ...HelperConfig) *Helper {
	c := DefaultHelperConfig()
	if len(cfg) > 0 {
		c = cfg[0]
	}
	return &Helper{
		provider: provider,
		config:   c,
	}
}

// CacheImage 缓存图片元数据
func (h *Helper) CacheImage(ctx context.Context, image *models.Image) error {
	if h.provider == nil {
		return fmt.Errorf("cache provider not initialized")
	}
	key := ImageMeta.BuildID(image.Identifier)
	return h.provider.Set(ctx, key, image, addJitter(h.config.ImageCacheTTL))
}

// GetCachedImage 获取缓存的图片元数据
func (h *Helper) GetCachedImage(ctx context.Context, identifier string, image *models.Image) error {
	if h.provider == nil {
		return ErrCacheMiss
	}
	if isEmpty, err := h.IsEmptyValue(ctx, identifier); err == nil && isEmpty {
		return ErrCacheMiss
	}
	return h.provider.Get(ctx, ImageMeta.BuildID(identifier), image)
}

// DeleteCachedImage 删除缓存的图片元数据
func (h *Helper) DeleteCachedImage(ctx context.Context, identifier string) error {
	if h.provider == nil {
		return nil
	}
	_ = h.DeleteEmptyValue(ctx, identifier)
	return h.provider.Delete(ctx, ImageMeta.BuildID(identifier))
}

// CacheImageData 缓存图片字节，超出大小上限的直接跳过
func (h *Helper) CacheImageData(ctx context.Context, identifier string, imageData []byte) error {
	if h.provider == nil {
		return fmt.Errorf("cache provider not initialized")
	}
	if int64(len(imageData)) > h.config.MaxCacheableImageSize {
		return nil
	}
	key := ImageData.BuildID(identifier)
	return h.provider.Set(ctx, key, imageData, addJitter(h.config.ImageDataCacheTTL))
}

// GetCachedImageData 获取缓存的图片字节
func (h *Helper) GetCachedImageData(ctx context.Context, identifier string) ([]byte, error) {
	if h.provider == nil {
		return nil, ErrCacheMiss
	}
	key := ImageData.BuildID(identifier)
	var data []byte
	if err := h.provider.Get(ctx, key, &data); err != nil {
		return nil, err
	}
	return data, nil
}

// DeleteCachedImageData 删除缓存的图片字节
func (h *Helper) DeleteCachedImageData(ctx context.Context, identifier string) error {
	if h.provider == nil {
		return nil
	}
	return h.provider.Delete(ctx, ImageData.BuildID(identifier))
}

// CacheEmptyValue 记住某个标识符确定不存在，挡住对不存在资源的反复回源
func (h *Helper) CacheEmptyValue(ctx context.Context, identifier string) error {
	if h.provider == nil {
		return fmt.Errorf("cache provider not initialized")
	}
	return h.provider.Set(ctx, Empty.BuildID(identifier), []byte("1"), DefaultEmptyValueCacheExpiration)
}

// IsEmptyValue 检查某个标识符是否被标记为不存在
func (h *Helper) IsEmptyValue(ctx context.Context, identifier string) (bool, error) {
	if h.provider == nil {
		return false, nil
	}
	return h.provider.Exists(ctx, Empty.BuildID(identifier))
}

// DeleteEmptyValue 清除空值标记
func (h *Helper) DeleteEmptyValue(ctx context.Context, identifier string) error {
	if h.provider == nil {
		return nil
	}
	return h.provider.Delete(ctx, Empty.BuildID(identifier))
}
