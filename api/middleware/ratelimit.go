package middleware

import (
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/telarin/latentvault/api/common"
)

// clientLimiter 单个来源 IP 的令牌桶。lastSeen 存 UnixNano，
// 并发请求会同时刷新它，走原子操作。
type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64
}

func (cl *clientLimiter) touch() {
	cl.lastSeen.Store(time.Now().UnixNano())
}

func (cl *clientLimiter) idle() time.Duration {
	return time.Since(time.Unix(0, cl.lastSeen.Load()))
}

// IPRateLimiter 按来源 IP 维护独立令牌桶，空闲桶由后台协程定期回收
type IPRateLimiter struct {
	rps        float64
	burst      int
	expireTime time.Duration
	clients    sync.Map
	done       chan struct{}
}

// NewIPRateLimiter 创建按 IP 的限流器并启动回收协程
func NewIPRateLimiter(rps float64, burst int, expireTime time.Duration) *IPRateLimiter {
	rl := &IPRateLimiter{
		rps:        rps,
		burst:      burst,
		expireTime: expireTime,
		done:       make(chan struct{}),
	}

	go rl.reapIdleClients()

	return rl
}

// Middleware 返回 Gin 中间件
func (rl *IPRateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		client := rl.clientFor(getClientIP(c))
		client.touch()

		if !client.limiter.Allow() {
			common.RespondErrorAbort(c, http.StatusTooManyRequests, "Too many requests")
			return
		}

		c.Next()
	}
}

// clientFor 取 IP 对应的桶，没有才建新桶，避免每个请求都分配一次
func (rl *IPRateLimiter) clientFor(ip string) *clientLimiter {
	if val, ok := rl.clients.Load(ip); ok {
		return val.(*clientLimiter)
	}

	fresh := &clientLimiter{limiter: rate.NewLimiter(rate.Limit(rl.rps), rl.burst)}
	fresh.touch()
	val, _ := rl.clients.LoadOrStore(ip, fresh)
	return val.(*clientLimiter)
}

// StopCleanup 停掉回收协程
func (rl *IPRateLimiter) StopCleanup() {
	close(rl.done)
}

func (rl *IPRateLimiter) reapIdleClients() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.clients.Range(func(key, value interface{}) bool {
				if value.(*clientLimiter).idle() > rl.expireTime {
					rl.clients.Delete(key)
				}
				return true
			})
		case <-rl.done:
			return
		}
	}
}

// getClientIP 取客户端真实 IP。路由层没信任任何代理，
// 所以反代场景下的 X-Forwarded-For 在这里手工解析。
func getClientIP(c *gin.Context) string {
	if xff := c.GetHeader("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		if len(parts) > 0 {
			return strings.TrimSpace(parts[0])
		}
	}
	if ip := c.GetHeader("X-Real-IP"); ip != "" {
		return ip
	}
	return c.ClientIP()
}
