package tagging

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/telarin/latentvault/api/common"
	"github.com/telarin/latentvault/api/middleware"
	"github.com/telarin/latentvault/database/repo/images"
	"github.com/telarin/latentvault/internal/tagging"
	"github.com/telarin/latentvault/utils"
)

// 单次批量打标的图片数量上限
const maxBatchSize = 50

// Handler 机器打标处理器
type Handler struct {
	service *tagging.Service
	repo    *images.Repository
}

// NewHandler 创建机器打标处理器
func NewHandler(service *tagging.Service, repo *images.Repository) *Handler {
	return &Handler{service: service, repo: repo}
}

type taggedTag struct {
	Name     string `json:"name"`
	Category string `json:"category"`
	Source   string `json:"source"`
}

type batchRequestBody struct {
	IDs []uint `json:"ids" binding:"required"`
}

// TagImage 对一张图片重新生成机器标签
// @Summary      单图机器打标
// @Description  调用视觉端点描述图片并据此重写 auto 来源的标签，手动标签不受影响
// @Tags         tagging
// @Produce      json
// @Param        identifier  path  string  true  "图片标识"
// @Success      200  {object}  common.Response
// @Failure      404  {object}  common.Response
// @Failure      503  {object}  common.Response
// @Security     BearerAuth
// @Router       /api/v1/images/{identifier}/autotag [post]
func (h *Handler) TagImage(c *gin.Context) {
	userID := c.GetUint(middleware.ContextUserIDKey)
	identifier := c.Param("identifier")

	if !h.service.Enabled() {
		common.RespondError(c, http.StatusServiceUnavailable, "Machine tagging is not configured")
		return
	}

	img, err := h.repo.WithContext(c.Request.Context()).GetByIdentifier(identifier)
	if err != nil {
		if errors.Is(err, images.ErrImageNotFound) {
			common.RespondError(c, http.StatusNotFound, "Image not found")
			return
		}
		log.Printf("Failed to load image %s: %v", utils.SanitizeLogMessage(identifier), err)
		common.RespondError(c, http.StatusInternalServerError, "Failed to load image")
		return
	}
	// 打标会重写标签，只允许属主操作
	if img.UserID != userID {
		common.RespondError(c, http.StatusNotFound, "Image not found")
		return
	}

	tags, err := h.service.TagImage(c.Request.Context(), img)
	if err != nil {
		log.Printf("Failed to tag image %s: %v", utils.SanitizeLogMessage(identifier), err)
		common.RespondError(c, http.StatusInternalServerError, "Failed to tag image")
		return
	}

	out := make([]taggedTag, 0, len(tags))
	for _, t := range tags {
		out = append(out, taggedTag{Name: t.Name, Category: t.Category, Source: t.Source})
	}
	common.RespondSuccess(c, gin.H{"tagged": len(out), "tags": out})
}

// TagBatch 批量机器打标
// @Summary      批量机器打标
// @Description  最多一次提交 50 张图片，单图失败互不影响，结果逐条返回
// @Tags         tagging
// @Accept       json
// @Produce      json
// @Param        request  body  batchRequestBody  true  "图片 ID 列表"
// @Success      200  {object}  common.Response
// @Failure      400  {object}  common.Response
// @Failure      503  {object}  common.Response
// @Security     BearerAuth
// @Router       /api/v1/tagging/batch [post]
func (h *Handler) TagBatch(c *gin.Context) {
	userID := c.GetUint(middleware.ContextUserIDKey)

	var body batchRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		common.RespondError(c, http.StatusBadRequest, "Invalid request: "+err.Error())
		return
	}
	if len(body.IDs) == 0 {
		common.RespondError(c, http.StatusBadRequest, "No image ids provided")
		return
	}
	if len(body.IDs) > maxBatchSize {
		common.RespondError(c, http.StatusBadRequest, "Too many images in one batch (max 50)")
		return
	}

	result, err := h.service.TagBatch(c.Request.Context(), userID, body.IDs)
	if err != nil {
		if errors.Is(err, tagging.ErrNotConfigured) {
			common.RespondError(c, http.StatusServiceUnavailable, "Machine tagging is not configured")
			return
		}
		log.Printf("Batch tagging failed for user %d: %v", userID, err)
		common.RespondError(c, http.StatusInternalServerError, "Batch tagging failed")
		return
	}

	common.RespondSuccess(c, result)
}
