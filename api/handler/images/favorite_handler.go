package images

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/telarin/latentvault/api/common"
	"github.com/telarin/latentvault/api/middleware"
)

// Favorite 收藏图片，重复收藏幂等
// @Summary      收藏图片
// @Tags         favorites
// @Produce      json
// @Param        identifier  path      string  true  "图片标识"
// @Success      200         {object}  common.Response
// @Security     BearerAuth
// @Router       /api/v1/images/{identifier}/favorite [post]
func (h *Handler) Favorite(c *gin.Context) {
	img, ok := h.visibleImage(c, c.Param("identifier"))
	if !ok {
		return
	}

	userID := c.GetUint(middleware.ContextUserIDKey)
	if err := h.favoritesRepo.WithContext(c.Request.Context()).Set(userID, img.ID); err != nil {
		common.RespondError(c, http.StatusInternalServerError, "Failed to favorite image")
		return
	}

	common.RespondSuccessMessage(c, "Image favorited", nil)
}

// Unfavorite 取消收藏，未收藏时同样成功
// @Summary      取消收藏
// @Tags         favorites
// @Produce      json
// @Param        identifier  path      string  true  "图片标识"
// @Success      200         {object}  common.Response
// @Security     BearerAuth
// @Router       /api/v1/images/{identifier}/favorite [delete]
func (h *Handler) Unfavorite(c *gin.Context) {
	img, ok := h.visibleImage(c, c.Param("identifier"))
	if !ok {
		return
	}

	userID := c.GetUint(middleware.ContextUserIDKey)
	if err := h.favoritesRepo.WithContext(c.Request.Context()).Unset(userID, img.ID); err != nil {
		common.RespondError(c, http.StatusInternalServerError, "Failed to unfavorite image")
		return
	}

	common.RespondSuccessMessage(c, "Image unfavorited", nil)
}
