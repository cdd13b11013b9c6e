package images

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/telarin/latentvault/api/common"
	"github.com/telarin/latentvault/api/middleware"
	"github.com/telarin/latentvault/database/models"
	"github.com/telarin/latentvault/internal/worker"
)

// TagDTO 标签项
type TagDTO struct {
	Name     string `json:"name"`
	Category string `json:"category,omitempty"`
	Source   string `json:"source"`
}

// ImageDetailResponse 图片详情，含解出的生成元数据
type ImageDetailResponse struct {
	ImageDTO
	HasMetadata bool            `json:"has_metadata"`
	PromptText  *string         `json:"prompt_text"`
	Params      json.RawMessage `json:"params,omitempty"`
	Workflow    json.RawMessage `json:"workflow,omitempty"`
	Tags        []TagDTO        `json:"tags"`
	SharedWith  []string        `json:"shared_with,omitempty"`
}

// GetImageDetail 获取图片详情
// @Summary      图片详情
// @Description  返回一张图片的完整记录，包括提示词、生成参数和完整 workflow
// @Tags         images
// @Produce      json
// @Param        identifier  path      string  true  "图片标识"
// @Success      200         {object}  common.Response
// @Failure      404         {object}  common.Response
// @Security     BearerAuth
// @Router       /api/v1/images/{identifier} [get]
func (h *Handler) GetImageDetail(c *gin.Context) {
	identifier := c.Param("identifier")
	if identifier == "" {
		common.RespondError(c, http.StatusBadRequest, "Image identifier is required")
		return
	}

	img, ok := h.visibleImage(c, identifier)
	if !ok {
		return
	}

	// 入库时没解出宽高的记录，借详情访问补一次
	if img.Width == 0 && img.Height == 0 {
		worker.ExtractDimensionsAsync(img.Identifier, img.FilePath, h.repo, h.store)
	}

	userID := c.GetUint(middleware.ContextUserIDKey)

	favorite, err := h.favoritesRepo.WithContext(c.Request.Context()).IsFavorited(userID, img.ID)
	if err != nil {
		common.RespondError(c, http.StatusInternalServerError, "Error retrieving image")
		return
	}

	tagRows, err := h.tagsRepo.WithContext(c.Request.Context()).ListByImage(img.ID)
	if err != nil {
		common.RespondError(c, http.StatusInternalServerError, "Error retrieving image")
		return
	}

	resp := ImageDetailResponse{
		ImageDTO:    *toImageDTO(img, favorite),
		HasMetadata: img.Workflow != nil || img.PromptText != nil || img.Params != nil,
		PromptText:  img.PromptText,
		Tags:        toTagDTOs(tagRows),
	}
	if img.Params != nil {
		resp.Params = json.RawMessage(*img.Params)
	}
	if img.Workflow != nil {
		resp.Workflow = json.RawMessage(*img.Workflow)
	}

	// 共享名单只给所有者看
	if img.UserID == userID {
		grants, err := h.sharesRepo.WithContext(c.Request.Context()).ListByImage(img.ID)
		if err == nil {
			for _, g := range grants {
				resp.SharedWith = append(resp.SharedWith, g.SharedWith.Username)
			}
		}
	}

	common.RespondSuccess(c, resp)
}

func toTagDTOs(rows []models.Tag) []TagDTO {
	dtos := make([]TagDTO, len(rows))
	for i, row := range rows {
		dtos[i] = TagDTO{Name: row.Name, Category: row.Category, Source: row.Source}
	}
	return dtos
}
