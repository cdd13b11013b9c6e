package admin

import (
	"github.com/gin-gonic/gin"

	"github.com/telarin/latentvault/api/common"
	"github.com/telarin/latentvault/api/middleware"
	"github.com/telarin/latentvault/internal/worker"
	"github.com/telarin/latentvault/storage"
	"github.com/telarin/latentvault/utils"
)

// StatsHandler 运行状态处理器
type StatsHandler struct {
	storageFactory *storage.Factory
}

// NewStatsHandler 创建运行状态处理器
func NewStatsHandler(storageFactory *storage.Factory) *StatsHandler {
	return &StatsHandler{storageFactory: storageFactory}
}

type workerStatsDTO struct {
	Workers   int    `json:"workers"`
	QueueCap  int    `json:"queue_cap"`
	QueueLen  int    `json:"queue_len"`
	Submitted uint64 `json:"submitted"`
	Executed  uint64 `json:"executed"`
	Failed    uint64 `json:"failed"`
}

// GetStats 获取服务运行状态
// @Summary      运行状态
// @Description  返回请求计数、后台任务池和运行时快照
// @Tags         admin
// @Produce      json
// @Success      200  {object}  common.Response
// @Security     BearerAuth
// @Router       /api/v1/admin/stats [get]
func (h *StatsHandler) GetStats(c *gin.Context) {
	stats := gin.H{
		"requests":        middleware.StatsSnapshot(),
		"runtime":         utils.GetMemoryStats(),
		"memory_limit_mb": utils.GetMemoryLimitMB(),
	}

	if h.storageFactory != nil {
		stats["storage"] = gin.H{
			"default":   h.storageFactory.GetDefaultName(),
			"providers": h.storageFactory.ListProviders(),
		}
	}

	if pool := worker.GetGlobalPool(); pool != nil {
		ps := pool.GetStats()
		stats["worker_pool"] = workerStatsDTO{
			Workers:   ps.WorkerCount,
			QueueCap:  ps.QueueCap,
			QueueLen:  ps.QueueLen,
			Submitted: ps.Submitted,
			Executed:  ps.Executed,
			Failed:    ps.Failed,
		}
	}

	common.RespondSuccess(c, stats)
}
