package images

import (
	"math"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/telarin/latentvault/api/common"
	"github.com/telarin/latentvault/api/middleware"
	"github.com/telarin/latentvault/database/models"
	"github.com/telarin/latentvault/database/repo/images"
	"github.com/telarin/latentvault/utils"
)

// ImageDTO 列表项
type ImageDTO struct {
	Identifier   string `json:"identifier"`
	URL          string `json:"url"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
	FileName     string `json:"file_name"`
	FileSize     int64  `json:"file_size"`
	MimeType     string `json:"mime_type"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	OriginTime   int64  `json:"origin_time"`
	Favorite     bool   `json:"favorite"`
	ThumbReady   bool   `json:"thumb_ready"`
	CreatedAt    int64  `json:"created_at"`
}

type ImageRequestBody struct {
	Search   string `json:"search"`
	Tag      string `json:"tag"`
	Model    string `json:"model"`
	Favorite bool   `json:"favorite"`

	Page  int `json:"page" binding:"required"`
	Limit int `json:"limit" binding:"required"`
}

type ImageListResponse struct {
	Images     []*ImageDTO `json:"images"`
	Total      int64       `json:"total"`
	Page       int         `json:"page"`
	Limit      int         `json:"limit"`
	TotalPages int         `json:"total_pages"`
}

// ListImages 获取图片列表
// @Summary      列出当前用户的图片
// @Description  分页列出图片，支持文件名/提示词搜索以及标签、模型、收藏过滤
// @Tags         images
// @Accept       json
// @Produce      json
// @Param        body  body      ImageRequestBody  true  "分页与筛选条件"
// @Success      200   {object}  common.Response
// @Security     BearerAuth
// @Router       /api/v1/images [post]
func (h *Handler) ListImages(c *gin.Context) {
	var body ImageRequestBody

	if err := c.ShouldBindJSON(&body); err != nil {
		common.RespondError(c, http.StatusBadRequest, err.Error())
		return
	}

	userID := c.GetUint(middleware.ContextUserIDKey)

	page, limit := body.Page, body.Limit
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = 10
	}

	// 限制最大分页数量
	const maxLimit = 100
	if limit > maxLimit {
		limit = maxLimit
	}

	filter := images.ListFilter{
		Search:       body.Search,
		Tag:          body.Tag,
		Model:        body.Model,
		FavoriteOnly: body.Favorite,
	}

	list, total, err := h.repo.WithContext(c.Request.Context()).ListByUser(userID, filter, page, limit)
	if err != nil {
		common.RespondError(c, http.StatusInternalServerError, "Failed to get image list")
		return
	}

	dtos, err := h.toImageDTOs(c, userID, list)
	if err != nil {
		common.RespondError(c, http.StatusInternalServerError, "Failed to get image list")
		return
	}

	common.RespondSuccess(c, ImageListResponse{
		Images:     dtos,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: int(math.Ceil(float64(total) / float64(limit))),
	})
}

func toImageDTO(image *models.Image, favorite bool) *ImageDTO {
	if image == nil {
		return nil
	}

	dto := &ImageDTO{
		Identifier: image.Identifier,
		URL:        utils.BuildImageURL(image.Identifier),
		FileName:   image.FileName,
		FileSize:   image.FileSize,
		MimeType:   image.MimeType,
		Width:      image.Width,
		Height:     image.Height,
		OriginTime: image.OriginTime,
		Favorite:   favorite,
		ThumbReady: image.ThumbStatus.IsReady(),
		CreatedAt:  image.CreatedAt.Unix(),
	}
	if dto.ThumbReady {
		dto.ThumbnailURL = utils.BuildThumbnailURL(image.Identifier)
	}
	return dto
}

// toImageDTOs 批量转换，收藏标记一次查出
func (h *Handler) toImageDTOs(c *gin.Context, userID uint, list []*models.Image) ([]*ImageDTO, error) {
	ids := make([]uint, len(list))
	for i, img := range list {
		ids[i] = img.ID
	}

	favorited, err := h.favoritesRepo.WithContext(c.Request.Context()).FavoritedSet(userID, ids)
	if err != nil {
		return nil, err
	}

	dtos := make([]*ImageDTO, len(list))
	for i, img := range list {
		dtos[i] = toImageDTO(img, favorited[img.ID])
	}
	return dtos, nil
}
