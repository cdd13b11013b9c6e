package images

import (
	"context"
	"log"
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"github.com/telarin/latentvault/api/common"
	"github.com/telarin/latentvault/database/models"
	"github.com/telarin/latentvault/internal/worker"
	"github.com/telarin/latentvault/utils"
)

// DeleteImage 删除单张图片
// @Summary      删除图片
// @Description  删除图片记录及其标签、收藏和共享；copy/move 导入的文件一并从库区移除
// @Tags         images
// @Produce      json
// @Param        identifier  path      string  true  "图片标识"
// @Success      200         {object}  common.Response
// @Failure      404         {object}  common.Response
// @Security     BearerAuth
// @Router       /api/v1/images/{identifier} [delete]
func (h *Handler) DeleteImage(c *gin.Context) {
	identifier := c.Param("identifier")
	if identifier == "" {
		common.RespondError(c, http.StatusBadRequest, "Image identifier is required")
		return
	}

	img, ok := h.ownedImage(c, identifier)
	if !ok {
		return
	}

	if err := h.repo.WithContext(c.Request.Context()).DeleteWithAssociations(img.ID); err != nil {
		common.RespondError(c, http.StatusInternalServerError, "Failed to delete the image due to an internal error")
		return
	}

	h.removeStoredFiles(c.Request.Context(), img)
	h.invalidateCaches(c.Request.Context(), identifier)

	common.RespondSuccessMessage(c, "Image deleted successfully", nil)
}

// removeStoredFiles 清理图片在存储里的文件。引用导入的记录存的是
// 源文件的绝对路径，源文件不归本库管，只清缩略图。
func (h *Handler) removeStoredFiles(ctx context.Context, img *models.Image) {
	safeID := utils.SanitizeLogMessage(img.Identifier)

	if !filepath.IsAbs(img.FilePath) {
		if err := h.store.DeleteWithContext(ctx, img.FilePath); err != nil {
			log.Printf("Failed to delete stored file for image %s: %v", safeID, err)
		}
	}

	if h.local != nil {
		thumbPath := worker.ThumbnailPath(img.Identifier)
		if exists, err := h.local.Exists(ctx, thumbPath); err == nil && exists {
			if err := h.local.DeleteWithContext(ctx, thumbPath); err != nil {
				log.Printf("Failed to delete thumbnail for image %s: %v", safeID, err)
			}
		}
	}
}
