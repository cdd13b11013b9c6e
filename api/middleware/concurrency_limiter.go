package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/semaphore"

	"github.com/telarin/latentvault/api/common"
)

// ConcurrencyLimiter 用加权信号量限制同时处理的请求数。
// maxWait 为 0 时超限立即拒绝，否则最多排队 maxWait 再拒绝。
type ConcurrencyLimiter struct {
	sem     *semaphore.Weighted
	maxWait time.Duration
}

// NewConcurrencyLimiter 创建并发限制器
func NewConcurrencyLimiter(limit int64, maxWait time.Duration) *ConcurrencyLimiter {
	return &ConcurrencyLimiter{
		sem:     semaphore.NewWeighted(limit),
		maxWait: maxWait,
	}
}

// Middleware 返回 Gin 中间件
func (cl *ConcurrencyLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := cl.acquire(c.Request.Context()); err != nil {
			common.RespondErrorAbort(c, http.StatusServiceUnavailable, "Server is busy, please try again later")
			return
		}
		defer cl.sem.Release(1)

		c.Next()
	}
}

func (cl *ConcurrencyLimiter) acquire(reqCtx context.Context) error {
	if cl.maxWait <= 0 {
		if cl.sem.TryAcquire(1) {
			return nil
		}
		return context.DeadlineExceeded
	}

	ctx, cancel := context.WithTimeout(reqCtx, cl.maxWait)
	defer cancel()
	return cl.sem.Acquire(ctx, 1)
}
