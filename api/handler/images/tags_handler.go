package images

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/telarin/latentvault/api/common"
	"github.com/telarin/latentvault/api/middleware"
	"github.com/telarin/latentvault/database/models"
)

const maxTagNameLength = 64

type addTagRequestBody struct {
	Name     string `json:"name" binding:"required"`
	Category string `json:"category"`
}

// AddTag 给图片添加手动标签
// @Summary      添加标签
// @Tags         tags
// @Accept       json
// @Produce      json
// @Param        identifier  path      string             true  "图片标识"
// @Param        body        body      addTagRequestBody  true  "标签名与可选分类"
// @Success      200         {object}  common.Response
// @Security     BearerAuth
// @Router       /api/v1/images/{identifier}/tags [post]
func (h *Handler) AddTag(c *gin.Context) {
	img, ok := h.ownedImage(c, c.Param("identifier"))
	if !ok {
		return
	}

	var body addTagRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		common.RespondError(c, http.StatusBadRequest, err.Error())
		return
	}

	name := strings.ToLower(strings.TrimSpace(body.Name))
	if name == "" || len(name) > maxTagNameLength {
		common.RespondError(c, http.StatusBadRequest, "Tag name must be 1-64 characters")
		return
	}

	tag := &models.Tag{
		ImageID:  img.ID,
		UserID:   c.GetUint(middleware.ContextUserIDKey),
		Name:     name,
		Category: strings.ToLower(strings.TrimSpace(body.Category)),
		Source:   models.TagSourceManual,
	}
	if err := h.tagsRepo.WithContext(c.Request.Context()).Add(tag); err != nil {
		common.RespondError(c, http.StatusInternalServerError, "Failed to add tag")
		return
	}

	common.RespondSuccess(c, TagDTO{Name: tag.Name, Category: tag.Category, Source: tag.Source})
}

// RemoveTag 删除图片上的一个标签
// @Summary      删除标签
// @Tags         tags
// @Produce      json
// @Param        identifier  path      string  true  "图片标识"
// @Param        name        path      string  true  "标签名"
// @Success      200         {object}  common.Response
// @Security     BearerAuth
// @Router       /api/v1/images/{identifier}/tags/{name} [delete]
func (h *Handler) RemoveTag(c *gin.Context) {
	img, ok := h.ownedImage(c, c.Param("identifier"))
	if !ok {
		return
	}

	name := strings.ToLower(strings.TrimSpace(c.Param("name")))
	if name == "" {
		common.RespondError(c, http.StatusBadRequest, "Tag name is required")
		return
	}

	if err := h.tagsRepo.WithContext(c.Request.Context()).Remove(img.ID, name); err != nil {
		common.RespondError(c, http.StatusInternalServerError, "Failed to remove tag")
		return
	}

	common.RespondSuccessMessage(c, "Tag removed", nil)
}

// ListUserTags 当前用户用过的标签及次数
// @Summary      标签云
// @Tags         tags
// @Produce      json
// @Success      200  {object}  common.Response
// @Security     BearerAuth
// @Router       /api/v1/tags [get]
func (h *Handler) ListUserTags(c *gin.Context) {
	userID := c.GetUint(middleware.ContextUserIDKey)

	const tagCloudLimit = 200
	rows, err := h.tagsRepo.WithContext(c.Request.Context()).NamesByUser(userID, tagCloudLimit)
	if err != nil {
		common.RespondError(c, http.StatusInternalServerError, "Failed to list tags")
		return
	}

	type tagCount struct {
		Name  string `json:"name"`
		Count int64  `json:"count"`
	}
	out := make([]tagCount, len(rows))
	for i, row := range rows {
		out[i] = tagCount{Name: row.Name, Count: row.Count}
	}
	common.RespondSuccess(c, gin.H{"tags": out})
}
