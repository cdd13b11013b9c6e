package middleware

import (
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
)

// 进程内请求计数器，由系统状态接口读取快照
var (
	requestTotal   atomic.Uint64
	clientErrors   atomic.Uint64
	serverErrors   atomic.Uint64
	inFlight       atomic.Int64
	durationMillis atomic.Uint64
)

// RequestStats 请求指标快照
type RequestStats struct {
	Total         uint64  `json:"total"`
	ClientErrors  uint64  `json:"client_errors"`
	ServerErrors  uint64  `json:"server_errors"`
	InFlight      int64   `json:"in_flight"`
	AvgDurationMs float64 `json:"avg_duration_ms"`
}

// Metrics 基础监控指标中间件
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		inFlight.Add(1)

		c.Next()

		inFlight.Add(-1)
		requestTotal.Add(1)
		durationMillis.Add(uint64(time.Since(startTime).Milliseconds()))

		status := c.Writer.Status()
		switch {
		case status >= 500:
			serverErrors.Add(1)
		case status >= 400:
			clientErrors.Add(1)
		}
	}
}

// StatsSnapshot 返回当前请求指标快照
func StatsSnapshot() RequestStats {
	total := requestTotal.Load()
	stats := RequestStats{
		Total:        total,
		ClientErrors: clientErrors.Load(),
		ServerErrors: serverErrors.Load(),
		InFlight:     inFlight.Load(),
	}
	if total > 0 {
		stats.AvgDurationMs = float64(durationMillis.Load()) / float64(total)
	}
	return stats
}
