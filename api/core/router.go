package core

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/telarin/latentvault/api/common"
	handlerAdmin "github.com/telarin/latentvault/api/handler/admin"
	handlerAnalytics "github.com/telarin/latentvault/api/handler/analytics"
	handlerAuth "github.com/telarin/latentvault/api/handler/auth"
	handlerImages "github.com/telarin/latentvault/api/handler/images"
	handlerImports "github.com/telarin/latentvault/api/handler/imports"
	handlerTagging "github.com/telarin/latentvault/api/handler/tagging"
	"github.com/telarin/latentvault/api/middleware"
	"github.com/telarin/latentvault/cache"
	"github.com/telarin/latentvault/config"
	"github.com/telarin/latentvault/database"
	"github.com/telarin/latentvault/database/models"
	"github.com/telarin/latentvault/database/repo/accounts"
	"github.com/telarin/latentvault/database/repo/favorites"
	"github.com/telarin/latentvault/database/repo/images"
	"github.com/telarin/latentvault/database/repo/shares"
	"github.com/telarin/latentvault/database/repo/tags"
	"github.com/telarin/latentvault/internal/analytics"
	"github.com/telarin/latentvault/internal/auth"
	"github.com/telarin/latentvault/internal/importer"
	"github.com/telarin/latentvault/internal/tagging"
	"github.com/telarin/latentvault/internal/worker"
	"github.com/telarin/latentvault/storage"
)

var startTime = time.Now()

// RouterDependencies 路由注册依赖
type RouterDependencies struct {
	Config          *config.Config
	DatabaseFactory *database.Factory
	StorageFactory  *storage.Factory
	CacheProvider   cache.Provider
	LocalStorage    *storage.LocalStorage

	AccountsRepo  *accounts.Repository
	SessionsRepo  *accounts.SessionRepository
	ImagesRepo    *images.Repository
	TagsRepo      *tags.Repository
	FavoritesRepo *favorites.Repository
	SharesRepo    *shares.Repository

	JWTService       *auth.JWTService
	LoginService     *auth.LoginService
	ImportService    *importer.Service
	TaggingService   *tagging.Service
	AnalyticsService *analytics.Service
	ThumbnailService *worker.ThumbnailService

	AuthRateLimiter  *middleware.IPRateLimiter
	APIRateLimiter   *middleware.IPRateLimiter
	ImageRateLimiter *middleware.IPRateLimiter
}

// RegisterRoutes 注册所有路由
func RegisterRoutes(router *gin.Engine, deps *RouterDependencies) {
	registerBasicRoutes(router, deps)
	registerFileRoutes(router, deps)
	registerAPIRoutes(router, deps)
}

// registerBasicRoutes 注册健康检查等基础路由
func registerBasicRoutes(router *gin.Engine, deps *RouterDependencies) {
	router.GET("/health", func(c *gin.Context) {
		checks := gin.H{
			"database": checkDatabaseHealth(deps.DatabaseFactory),
			"cache":    checkCacheHealth(deps.CacheProvider),
			"storage":  checkStorageHealth(deps.StorageFactory),
		}
		httpStatus := http.StatusOK
		for _, checkResult := range checks {
			if result, ok := checkResult.(string); ok && result != "ok" {
				httpStatus = http.StatusServiceUnavailable
				break
			}
		}
		c.JSON(httpStatus, gin.H{
			"status":  statusText(httpStatus),
			"uptime":  time.Since(startTime).Round(time.Second).String(),
			"version": config.Version,
			"checks":  checks,
		})
	})

	router.GET("/version", func(c *gin.Context) {
		common.RespondSuccess(c, gin.H{
			"version": config.Version,
			"commit":  config.CommitHash,
			"built":   config.BuildTime,
		})
	})

	router.GET("/metrics", func(c *gin.Context) {
		c.JSON(http.StatusOK, middleware.StatsSnapshot())
	})

	// 生产构建不暴露接口文档
	if !config.IsProduction() {
		router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}
}

func statusText(httpStatus int) string {
	if httpStatus == http.StatusOK {
		return "ok"
	}
	return "degraded"
}

// registerFileRoutes 注册原图与缩略图路由。
// 可见性由处理器按属主/共享关系判定，所以文件路由也要求登录。
func registerFileRoutes(router *gin.Engine, deps *RouterDependencies) {
	imageHandler := newImagesHandler(deps)

	imagesGroup := router.Group("/images")
	imagesGroup.Use(deps.ImageRateLimiter.Middleware())
	imagesGroup.Use(middleware.RequireAuth(deps.JWTService))
	{
		imagesGroup.GET("/:identifier", imageHandler.GetImage)
	}

	thumbnailsGroup := router.Group("/thumbnails")
	thumbnailsGroup.Use(deps.ImageRateLimiter.Middleware())
	thumbnailsGroup.Use(middleware.RequireAuth(deps.JWTService))
	{
		thumbnailsGroup.GET("/:identifier", imageHandler.GetThumbnail)
	}
}

// registerAPIRoutes 注册 API 路由
func registerAPIRoutes(router *gin.Engine, deps *RouterDependencies) {
	cfg := deps.Config

	imageHandler := newImagesHandler(deps)
	authHandler := handlerAuth.NewHandler(deps.LoginService)
	importHandler := handlerImports.NewHandler(deps.ImportService, cfg.ImportPageSize)
	analyticsHandler := handlerAnalytics.NewHandler(deps.AnalyticsService)
	taggingHandler := handlerTagging.NewHandler(deps.TaggingService, deps.ImagesRepo)
	adminUsersHandler := handlerAdmin.NewUsersHandler(deps.AccountsRepo, deps.SessionsRepo, deps.ImagesRepo)
	adminStatsHandler := handlerAdmin.NewStatsHandler(deps.StorageFactory)

	// 打标请求最终落到外部视觉模型上，按全局桶限速而不是按 IP
	taggingLimiter := middleware.NewSimpleRateLimiter(cfg.TaggerRPS, cfg.TaggerBurst).Middleware()

	apiGroup := router.Group("/api")
	apiGroup.Use(func(c *gin.Context) { // 所有API禁止缓存
		c.Header("Cache-Control", "no-store")
		c.Next()
	})
	{
		// 认证路由
		authGroup := apiGroup.Group("/auth")
		authGroup.Use(deps.AuthRateLimiter.Middleware())
		{
			authGroup.POST("/login", authHandler.Login)     // POST /api/auth/login
			authGroup.POST("/refresh", authHandler.Refresh) // POST /api/auth/refresh
			authGroup.POST("/logout", authHandler.Logout)   // POST /api/auth/logout
		}

		v1 := apiGroup.Group("/v1")
		v1.Use(deps.APIRateLimiter.Middleware())
		v1.Use(middleware.RequireAuth(deps.JWTService))
		{
			v1.PUT("/auth/password", authHandler.ChangePassword) // PUT /api/v1/auth/password

			// 图库
			imagesGroup := v1.Group("/images")
			{
				imagesGroup.POST("", imageHandler.ListImages)          // POST /api/v1/images
				imagesGroup.POST("/upload", imageHandler.UploadImages) // POST /api/v1/images/upload

				imagesGroup.GET("/:identifier", imageHandler.GetImageDetail)  // GET /api/v1/images/{identifier}
				imagesGroup.DELETE("/:identifier", imageHandler.DeleteImage)  // DELETE /api/v1/images/{identifier}

				imagesGroup.POST("/:identifier/favorite", imageHandler.Favorite)     // POST /api/v1/images/{identifier}/favorite
				imagesGroup.DELETE("/:identifier/favorite", imageHandler.Unfavorite) // DELETE /api/v1/images/{identifier}/favorite

				imagesGroup.POST("/:identifier/tags", imageHandler.AddTag)            // POST /api/v1/images/{identifier}/tags
				imagesGroup.DELETE("/:identifier/tags/:name", imageHandler.RemoveTag) // DELETE /api/v1/images/{identifier}/tags/{name}

				imagesGroup.POST("/:identifier/share", imageHandler.ShareImage)              // POST /api/v1/images/{identifier}/share
				imagesGroup.DELETE("/:identifier/share/:username", imageHandler.UnshareImage) // DELETE /api/v1/images/{identifier}/share/{username}

				imagesGroup.POST("/:identifier/autotag", taggingLimiter, taggingHandler.TagImage) // POST /api/v1/images/{identifier}/autotag
			}

			v1.GET("/shared-with-me", imageHandler.SharedWithMe) // GET /api/v1/shared-with-me
			v1.GET("/tags", imageHandler.ListUserTags)           // GET /api/v1/tags

			// 目录导入
			importGroup := v1.Group("/import")
			{
				importGroup.POST("", importHandler.Batch)         // POST /api/v1/import
				importGroup.POST("/review", importHandler.Review) // POST /api/v1/import/review
			}

			// 图库统计
			analyticsGroup := v1.Group("/analytics")
			{
				analyticsGroup.GET("/insights", analyticsHandler.GetInsights)              // GET /api/v1/analytics/insights
				analyticsGroup.POST("/insights/refresh", analyticsHandler.RefreshInsights) // POST /api/v1/analytics/insights/refresh
			}

			// 机器打标
			v1.POST("/tagging/batch", taggingLimiter, taggingHandler.TagBatch) // POST /api/v1/tagging/batch

			// 管理员
			adminGroup := v1.Group("/admin")
			adminGroup.Use(middleware.RequireRole(models.RoleAdmin))
			{
				adminGroup.GET("/users", adminUsersHandler.ListUsers)          // GET /api/v1/admin/users
				adminGroup.POST("/users", adminUsersHandler.CreateUser)        // POST /api/v1/admin/users
				adminGroup.DELETE("/users/:id", adminUsersHandler.DeleteUser)  // DELETE /api/v1/admin/users/{id}
				adminGroup.GET("/stats", adminStatsHandler.GetStats)           // GET /api/v1/admin/stats
			}
		}
	}
}

// newImagesHandler 组装图库处理器
func newImagesHandler(deps *RouterDependencies) *handlerImages.Handler {
	maxUploadSize := int64(deps.Config.UploadMaxSizeMB) << 20
	return handlerImages.NewHandler(
		deps.CacheProvider,
		deps.ImagesRepo,
		deps.TagsRepo,
		deps.FavoritesRepo,
		deps.SharesRepo,
		deps.AccountsRepo,
		deps.StorageFactory.GetDefault(),
		deps.LocalStorage,
		deps.ThumbnailService,
		deps.ImportService,
		maxUploadSize,
	)
}
