package images

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/singleflight"

	"github.com/telarin/latentvault/api/common"
	"github.com/telarin/latentvault/api/middleware"
	"github.com/telarin/latentvault/cache"
	"github.com/telarin/latentvault/database/models"
	"github.com/telarin/latentvault/database/repo/accounts"
	"github.com/telarin/latentvault/database/repo/favorites"
	"github.com/telarin/latentvault/database/repo/images"
	"github.com/telarin/latentvault/database/repo/shares"
	"github.com/telarin/latentvault/database/repo/tags"
	"github.com/telarin/latentvault/internal/importer"
	"github.com/telarin/latentvault/internal/worker"
	"github.com/telarin/latentvault/storage"
	"github.com/telarin/latentvault/utils"
)

var (
	imageGroup        singleflight.Group
	fileDownloadGroup singleflight.Group
	metaFetchTimeout  = 30 * time.Second
)

// ErrTemporaryFailure 暂时性失败，调用方应重试
var ErrTemporaryFailure = errors.New("temporary failure, should be retried")

// Handler 图库处理器
type Handler struct {
	cacheHelper   *cache.Helper
	repo          *images.Repository
	tagsRepo      *tags.Repository
	favoritesRepo *favorites.Repository
	sharesRepo    *shares.Repository
	accountsRepo  *accounts.Repository
	store         storage.Provider
	local         *storage.LocalStorage
	thumbs        *worker.ThumbnailService
	importSvc     *importer.Service
	maxUploadSize int64
}

// NewHandler 创建图库处理器
func NewHandler(
	cacheProvider cache.Provider,
	imagesRepo *images.Repository,
	tagsRepo *tags.Repository,
	favoritesRepo *favorites.Repository,
	sharesRepo *shares.Repository,
	accountsRepo *accounts.Repository,
	store storage.Provider,
	local *storage.LocalStorage,
	thumbs *worker.ThumbnailService,
	importSvc *importer.Service,
	maxUploadSize int64,
) *Handler {
	return &Handler{
		cacheHelper:   cache.NewHelper(cacheProvider),
		repo:          imagesRepo,
		tagsRepo:      tagsRepo,
		favoritesRepo: favoritesRepo,
		sharesRepo:    sharesRepo,
		accountsRepo:  accountsRepo,
		store:         store,
		local:         local,
		thumbs:        thumbs,
		importSvc:     importSvc,
		maxUploadSize: maxUploadSize,
	}
}

// fetchImageMetadata 查询图片信息（缓存 + singleflight 防击穿）
func (h *Handler) fetchImageMetadata(ctx context.Context, identifier string) (*models.Image, error) {
	var image models.Image

	// 缓存命中
	if err := h.cacheHelper.GetCachedImage(ctx, identifier, &image); err == nil {
		return &image, nil
	}

	resultChan := imageGroup.DoChan(identifier, func() (interface{}, error) {
		imagePtr, err := h.repo.GetByIdentifier(identifier)
		if err != nil {
			if isTransientError(err) {
				return nil, ErrTemporaryFailure
			}
			if errors.Is(err, images.ErrImageNotFound) {
				// 确定不存在的标识符记入空值缓存，拦住重复探测
				_ = h.cacheHelper.CacheEmptyValue(context.Background(), identifier)
			}
			return nil, err
		}

		go func(img *models.Image) {
			if h.cacheHelper == nil {
				return
			}
			cacheCtx := context.Background()
			if cacheErr := h.cacheHelper.CacheImage(cacheCtx, img); cacheErr != nil {
				log.Printf("Failed to cache image metadata for '%s': %v", img.Identifier, cacheErr)
			}
		}(imagePtr)

		return imagePtr, nil
	})

	select {
	case result := <-resultChan:
		if result.Err != nil {
			if errors.Is(result.Err, ErrTemporaryFailure) {
				imageGroup.Forget(identifier)
			}
			return nil, result.Err
		}
		return result.Val.(*models.Image), nil
	case <-time.After(metaFetchTimeout):
		imageGroup.Forget(identifier)
		return nil, ErrTemporaryFailure
	}
}

// visibleImage 按调用者身份解析图片。所有者和被共享者可见；
// 其他人拿到的错误与图片不存在时一致，不泄露存在性。
func (h *Handler) visibleImage(c *gin.Context, identifier string) (*models.Image, bool) {
	img, err := h.fetchImageMetadata(c.Request.Context(), identifier)
	if err != nil {
		h.handleMetadataError(c, identifier, err)
		return nil, false
	}

	userID := c.GetUint(middleware.ContextUserIDKey)
	if img.UserID == userID {
		return img, true
	}

	shared, err := h.sharesRepo.WithContext(c.Request.Context()).IsSharedWith(img.ID, userID)
	if err != nil {
		common.RespondError(c, http.StatusInternalServerError, "Error retrieving image")
		return nil, false
	}
	if !shared {
		common.RespondError(c, http.StatusNotFound, "Image not found")
		return nil, false
	}
	return img, true
}

// ownedImage 按调用者身份解析图片，仅所有者可操作。
// 别人的图片（包括共享给自己的）一律按不存在处理。
// 写路径不走缓存，直接查库，避免改完又被预热协程写回旧数据。
func (h *Handler) ownedImage(c *gin.Context, identifier string) (*models.Image, bool) {
	img, err := h.repo.WithContext(c.Request.Context()).GetByIdentifier(identifier)
	if err != nil {
		h.handleMetadataError(c, identifier, err)
		return nil, false
	}

	if img.UserID != c.GetUint(middleware.ContextUserIDKey) {
		common.RespondError(c, http.StatusNotFound, "Image not found")
		return nil, false
	}
	return img, true
}

// handleMetadataError 处理元数据查询错误
func (h *Handler) handleMetadataError(c *gin.Context, identifier string, err error) {
	if errors.Is(err, images.ErrImageNotFound) {
		common.RespondError(c, http.StatusNotFound, "Image not found")
		return
	}

	safeID := utils.SanitizeLogMessage(identifier)
	if errors.Is(err, ErrTemporaryFailure) {
		log.Printf("Temporary failure fetching image metadata for '%s': %v", safeID, err)
		common.RespondError(c, http.StatusServiceUnavailable, "Service temporarily unavailable, please retry")
		return
	}

	log.Printf("Failed to fetch image metadata for '%s': %v", safeID, err)
	common.RespondError(c, http.StatusInternalServerError, "Error retrieving image")
}

// isTransientError 检查是否为临时错误
func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	errStr := err.Error()
	timeoutPatterns := []string{
		"timeout",
		"deadline exceeded",
		"connection refused",
		"connection reset",
		"temporary",
		"i/o timeout",
		"context deadline exceeded",
		"connection timed out",
		"no such host",
		"network is unreachable",
	}

	for _, pattern := range timeoutPatterns {
		if strings.Contains(strings.ToLower(errStr), pattern) {
			return true
		}
	}
	return false
}

// warmCache 预热图片元数据缓存
func (h *Handler) warmCache(image *models.Image) {
	if h.cacheHelper == nil {
		return
	}
	ctx := context.Background()
	_ = h.cacheHelper.CacheImage(ctx, image)
}

// invalidateCaches 清理一张图片的全部缓存条目
func (h *Handler) invalidateCaches(ctx context.Context, identifier string) {
	safeID := utils.SanitizeLogMessage(identifier)
	if err := h.cacheHelper.DeleteCachedImage(ctx, identifier); err != nil {
		log.Printf("Failed to delete cache for image %s: %v", safeID, err)
	}
	if err := h.cacheHelper.DeleteCachedImageData(ctx, identifier); err != nil {
		log.Printf("Failed to delete image data cache for image %s: %v", safeID, err)
	}
}
