package images

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/telarin/latentvault/api/common"
	"github.com/telarin/latentvault/api/middleware"
	"github.com/telarin/latentvault/database/models"
	"github.com/telarin/latentvault/database/repo/accounts"
	"github.com/telarin/latentvault/database/repo/shares"
)

type shareRequestBody struct {
	Username string `json:"username" binding:"required"`
}

// ShareImage 把图片共享给另一个用户（只读）
// @Summary      共享图片
// @Description  所有者把图片只读共享给指定用户，重复共享幂等
// @Tags         shares
// @Accept       json
// @Produce      json
// @Param        identifier  path      string            true  "图片标识"
// @Param        body        body      shareRequestBody  true  "接收方用户名"
// @Success      200         {object}  common.Response
// @Failure      404         {object}  common.Response
// @Security     BearerAuth
// @Router       /api/v1/images/{identifier}/share [post]
func (h *Handler) ShareImage(c *gin.Context) {
	img, ok := h.ownedImage(c, c.Param("identifier"))
	if !ok {
		return
	}

	var body shareRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		common.RespondError(c, http.StatusBadRequest, err.Error())
		return
	}

	recipient, err := h.accountsRepo.WithContext(c.Request.Context()).GetUserByUsername(body.Username)
	if err != nil {
		if errors.Is(err, accounts.ErrUserNotFound) {
			common.RespondError(c, http.StatusNotFound, "User not found")
			return
		}
		common.RespondError(c, http.StatusInternalServerError, "Failed to share image")
		return
	}

	userID := c.GetUint(middleware.ContextUserIDKey)
	if recipient.ID == userID {
		common.RespondError(c, http.StatusBadRequest, "Cannot share an image with yourself")
		return
	}

	share := &models.SharedImage{
		GrantID:      uuid.NewString(),
		ImageID:      img.ID,
		SharedWithID: recipient.ID,
		SharedByID:   userID,
	}
	if err := h.sharesRepo.WithContext(c.Request.Context()).Create(share); err != nil {
		common.RespondError(c, http.StatusInternalServerError, "Failed to share image")
		return
	}

	common.RespondSuccess(c, gin.H{
		"grant_id":    share.GrantID,
		"shared_with": recipient.Username,
	})
}

// UnshareImage 撤销共享
// @Summary      撤销共享
// @Tags         shares
// @Produce      json
// @Param        identifier  path      string  true  "图片标识"
// @Param        username    path      string  true  "接收方用户名"
// @Success      200         {object}  common.Response
// @Failure      404         {object}  common.Response
// @Security     BearerAuth
// @Router       /api/v1/images/{identifier}/share/{username} [delete]
func (h *Handler) UnshareImage(c *gin.Context) {
	img, ok := h.ownedImage(c, c.Param("identifier"))
	if !ok {
		return
	}

	recipient, err := h.accountsRepo.WithContext(c.Request.Context()).GetUserByUsername(c.Param("username"))
	if err != nil {
		if errors.Is(err, accounts.ErrUserNotFound) {
			common.RespondError(c, http.StatusNotFound, "User not found")
			return
		}
		common.RespondError(c, http.StatusInternalServerError, "Failed to unshare image")
		return
	}

	if err := h.sharesRepo.WithContext(c.Request.Context()).Remove(img.ID, recipient.ID); err != nil {
		if errors.Is(err, shares.ErrShareNotFound) {
			common.RespondError(c, http.StatusNotFound, "Share not found")
			return
		}
		common.RespondError(c, http.StatusInternalServerError, "Failed to unshare image")
		return
	}

	common.RespondSuccessMessage(c, "Share revoked", nil)
}

// SharedWithMe 列出共享给当前用户的图片
// @Summary      共享给我的图片
// @Tags         shares
// @Produce      json
// @Param        page   query     int  false  "页码"
// @Param        limit  query     int  false  "每页数量"
// @Success      200    {object}  common.Response
// @Security     BearerAuth
// @Router       /api/v1/shared-with-me [get]
func (h *Handler) SharedWithMe(c *gin.Context) {
	userID := c.GetUint(middleware.ContextUserIDKey)

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if page <= 0 {
		page = 1
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	list, total, err := h.sharesRepo.WithContext(c.Request.Context()).ListForRecipient(userID, page, limit)
	if err != nil {
		common.RespondError(c, http.StatusInternalServerError, "Failed to list shared images")
		return
	}

	type sharedImageDTO struct {
		ImageDTO
		SharedBy string `json:"shared_by"`
		SharedAt int64  `json:"shared_at"`
	}

	items := make([]sharedImageDTO, 0, len(list))
	for _, share := range list {
		dto := toImageDTO(&share.Image, false)
		if dto == nil {
			continue
		}
		items = append(items, sharedImageDTO{
			ImageDTO: *dto,
			SharedBy: share.SharedBy.Username,
			SharedAt: share.CreatedAt.Unix(),
		})
	}

	common.RespondSuccess(c, gin.H{
		"images": items,
		"total":  total,
		"page":   page,
		"limit":  limit,
	})
}
