package core

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/telarin/latentvault/api/middleware"
	"github.com/telarin/latentvault/config"
)

// 同时处理的请求上限。浏览图库时缩略图请求成串到达，
// 给一小段排队时间比直接 503 友好。
const (
	maxConcurrentRequests = 100
	concurrencyGraceWait  = 500 * time.Millisecond
)

// setupRouter 组装 gin 引擎、全局中间件和全部路由。
// 返回的清理函数负责停掉限流器的后台协程。
func setupRouter(deps *RouterDependencies) (*gin.Engine, func()) {
	cfg := deps.Config

	if config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// 仅在开发版本时启用 gin 日志
	if !config.IsProduction() {
		router.Use(gin.Logger())
	}
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{cfg.BaseURL()},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.SetTrustedProxies(nil)

	// 限制上传文件大小
	router.MaxMultipartMemory = int64(cfg.UploadMaxSizeMB) << 20

	concurrencyLimiter := middleware.NewConcurrencyLimiter(maxConcurrentRequests, concurrencyGraceWait)
	router.Use(concurrencyLimiter.Middleware())

	// 基础监控指标
	router.Use(middleware.Metrics())

	// 速率限制器在这里创建，随清理函数一起回收
	deps.AuthRateLimiter = middleware.NewIPRateLimiter(cfg.RateLimitAuthRPS, cfg.RateLimitAuthBurst, cfg.RateLimitExpireTime)
	deps.APIRateLimiter = middleware.NewIPRateLimiter(cfg.RateLimitApiRPS, cfg.RateLimitApiBurst, cfg.RateLimitExpireTime)
	deps.ImageRateLimiter = middleware.NewIPRateLimiter(cfg.RateLimitImageRPS, cfg.RateLimitImageBurst, cfg.RateLimitExpireTime)
	cleanup := func() {
		deps.AuthRateLimiter.StopCleanup()
		deps.APIRateLimiter.StopCleanup()
		deps.ImageRateLimiter.StopCleanup()
	}

	RegisterRoutes(router, deps)

	return router, cleanup
}

// StartServer 创建 http.Server，由调用方负责 ListenAndServe 和优雅退出
func StartServer(deps *RouterDependencies) (*http.Server, func()) {
	cfg := deps.Config
	router, clean := setupRouter(deps)

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  cfg.ServerIdleTimeout,
	}

	return srv, clean
}
