package imports

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/telarin/latentvault/api/common"
	"github.com/telarin/latentvault/api/middleware"
	"github.com/telarin/latentvault/internal/importer"
	"github.com/telarin/latentvault/utils"
)

// Handler 目录导入处理器
type Handler struct {
	importSvc       *importer.Service
	defaultPageSize int
}

// NewHandler 创建目录导入处理器
func NewHandler(importSvc *importer.Service, defaultPageSize int) *Handler {
	if defaultPageSize <= 0 {
		defaultPageSize = 20
	}
	return &Handler{importSvc: importSvc, defaultPageSize: defaultPageSize}
}

type reviewRequestBody struct {
	SourceDir    string `json:"source_dir" binding:"required"`
	Page         int    `json:"page"`
	PageSize     int    `json:"page_size"`
	WithPreviews bool   `json:"with_previews"`
}

// Review 导入预检：扫描源目录，按去重/冲突规则归类一页候选
// @Summary      导入预检
// @Description  扫描源目录并分页归类候选文件（新增/重复/改名冲突），可选生成内联预览图
// @Tags         import
// @Accept       json
// @Produce      json
// @Param        body  body      reviewRequestBody  true  "源目录与分页参数"
// @Success      200   {object}  common.Response
// @Security     BearerAuth
// @Router       /api/v1/import/review [post]
func (h *Handler) Review(c *gin.Context) {
	var body reviewRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		common.RespondError(c, http.StatusBadRequest, err.Error())
		return
	}

	page := body.Page
	if page <= 0 {
		page = 1
	}
	pageSize := body.PageSize
	if pageSize <= 0 {
		pageSize = h.defaultPageSize
	}
	const maxPageSize = 100
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	userID := c.GetUint(middleware.ContextUserIDKey)

	result, err := h.importSvc.Review(c.Request.Context(), userID, body.SourceDir, page, pageSize, body.WithPreviews)
	if err != nil {
		common.RespondError(c, http.StatusBadRequest, utils.SanitizeLogMessage(err.Error()))
		return
	}

	common.RespondSuccess(c, result)
}

// Batch 执行批量导入
// @Summary      批量导入
// @Description  按 copy/move/reference 模式把选中的候选核对进库；单个文件失败不影响批次
// @Tags         import
// @Accept       json
// @Produce      json
// @Param        body  body      importer.BatchRequest  true  "导入请求"
// @Success      200   {object}  common.Response
// @Security     BearerAuth
// @Router       /api/v1/import [post]
func (h *Handler) Batch(c *gin.Context) {
	var req importer.BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondError(c, http.StatusBadRequest, err.Error())
		return
	}

	userID := c.GetUint(middleware.ContextUserIDKey)

	summary, err := h.importSvc.ImportBatch(c.Request.Context(), userID, req)
	if err != nil {
		common.RespondError(c, http.StatusBadRequest, utils.SanitizeLogMessage(err.Error()))
		return
	}

	common.RespondSuccess(c, summary)
}
