package analytics

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/telarin/latentvault/api/common"
	"github.com/telarin/latentvault/api/middleware"
	"github.com/telarin/latentvault/internal/analytics"
)

// Handler 图库统计处理器
type Handler struct {
	service *analytics.Service
}

// NewHandler 创建图库统计处理器
func NewHandler(service *analytics.Service) *Handler {
	return &Handler{service: service}
}

// GetInsights 获取当前用户的图库统计
// @Summary      图库统计
// @Description  返回提示词词频、模型与辅助模型使用、参数分布和收藏率等统计，结果短暂缓存
// @Tags         analytics
// @Produce      json
// @Success      200  {object}  common.Response
// @Security     BearerAuth
// @Router       /api/v1/analytics/insights [get]
func (h *Handler) GetInsights(c *gin.Context) {
	userID := c.GetUint(middleware.ContextUserIDKey)

	insights, err := h.service.GetInsights(c.Request.Context(), userID)
	if err != nil {
		log.Printf("Failed to compute insights for user %d: %v", userID, err)
		common.RespondError(c, http.StatusInternalServerError, "Failed to compute library insights")
		return
	}

	common.RespondSuccess(c, insights)
}

// RefreshInsights 失效当前用户的统计缓存，下次查询重新计算
// @Summary      刷新图库统计
// @Tags         analytics
// @Produce      json
// @Success      200  {object}  common.Response
// @Security     BearerAuth
// @Router       /api/v1/analytics/insights/refresh [post]
func (h *Handler) RefreshInsights(c *gin.Context) {
	userID := c.GetUint(middleware.ContextUserIDKey)

	if err := h.service.RefreshCache(c.Request.Context(), userID); err != nil {
		common.RespondError(c, http.StatusInternalServerError, "Failed to refresh insights cache")
		return
	}

	common.RespondSuccessMessage(c, "Insights cache invalidated", nil)
}
