package app

import (
	"fmt"
	"log"
	"time"

	"github.com/telarin/latentvault/cache"
	"github.com/telarin/latentvault/config"
	"github.com/telarin/latentvault/database"
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
	"github.com/telarin/latentvault/utils"
)

// Container 依赖注入容器 - 管理所有服务的生命周期
type Container struct {
	config          *config.Config
	databaseFactory *database.Factory
	storageFactory  *storage.Factory
	cacheProvider   cache.Provider
	localStorage    *storage.LocalStorage

	AccountsRepo  *accounts.Repository
	SessionsRepo  *accounts.SessionRepository
	ImagesRepo    *images.Repository
	TagsRepo      *tags.Repository
	FavoritesRepo *favorites.Repository
	SharesRepo    *shares.Repository

	JWTService       *auth.JWTService
	LoginService     *auth.LoginService
	ThumbnailService *worker.ThumbnailService
	ImportService    *importer.Service
	TaggingService   *tagging.Service
	AnalyticsService *analytics.Service
}

// NewContainer 创建新的依赖注入容器
func NewContainer(cfg *config.Config) *Container {
	return &Container{
		config: cfg,
	}
}

// Init 按依赖顺序初始化：数据库 -> 仓库 -> 存储/缓存 -> 业务服务
func (c *Container) Init() error {
	if err := c.initDatabaseFactory(); err != nil {
		return fmt.Errorf("failed to initialize database factory: %w", err)
	}
	c.initRepositories()

	if err := c.initStorageFactory(); err != nil {
		return fmt.Errorf("failed to initialize storage factory: %w", err)
	}
	if err := c.initCache(); err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	if err := c.initServices(); err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}

	utils.LogIfDevf("DI container initialized")
	return nil
}

// Migrate 执行数据库自动建表
func (c *Container) Migrate() error {
	if c.databaseFactory == nil {
		return fmt.Errorf("database factory not initialized")
	}
	return c.databaseFactory.AutoMigrate()
}

func (c *Container) initDatabaseFactory() error {
	factory, err := database.NewFactory(c.config)
	if err != nil {
		return err
	}
	c.databaseFactory = factory
	utils.LogIfDevf("Database factory initialized (%s)", c.config.DBType)
	return nil
}

func (c *Container) initRepositories() {
	db := c.databaseFactory.GetProvider().DB()
	c.AccountsRepo = accounts.NewRepository(db)
	c.SessionsRepo = accounts.NewSessionRepository(db)
	c.ImagesRepo = images.NewRepository(db)
	c.TagsRepo = tags.NewRepository(db)
	c.FavoritesRepo = favorites.NewRepository(db)
	c.SharesRepo = shares.NewRepository(db)
	utils.LogIfDevf("Repositories initialized")
}

func (c *Container) initStorageFactory() error {
	factory, err := storage.NewFactory(c.config)
	if err != nil {
		return err
	}
	c.storageFactory = factory

	// 缩略图和导入预览始终写本地盘，所以本地提供者单独留一份引用
	if provider, err := factory.Get("local"); err == nil {
		if local, ok := provider.(*storage.LocalStorage); ok {
			c.localStorage = local
		}
	}
	utils.LogIfDevf("Storage factory initialized (default: %s)", factory.GetDefaultName())
	return nil
}

func (c *Container) initCache() error {
	provider, err := cache.New(cache.Config{
		Type:          c.config.CacheType,
		RedisAddr:     c.config.CacheRedisAddr,
		RedisPassword: c.config.CacheRedisPassword,
		RedisDB:       c.config.CacheRedisDB,
		RedisPoolSize: c.config.CacheRedisPoolSize,
	})
	if err != nil {
		return err
	}
	c.cacheProvider = provider
	utils.LogIfDevf("Cache initialized (%s)", provider.Name())
	return nil
}

func (c *Container) initServices() error {
	jwtService, err := auth.NewJWTService(c.config.JWTSecret, c.config.JWTExpiresIn, c.config.JWTRefreshExpiresIn)
	if err != nil {
		return err
	}
	c.JWTService = jwtService
	c.LoginService = auth.NewLoginService(c.AccountsRepo, c.SessionsRepo, jwtService)

	store := c.storageFactory.GetDefault()
	if store == nil {
		return fmt.Errorf("no default storage provider configured")
	}

	c.ThumbnailService = worker.NewThumbnailService(c.ImagesRepo, store, c.localStorage, c.config.ThumbnailMaxPx)
	c.ImportService = importer.NewService(c.ImagesRepo, store, c.ThumbnailService, c.config.PreviewMaxPx)

	// 打标端点未配置时注入空分类器，服务照常启动但接口报 503
	var classifier tagging.Classifier
	if c.config.TaggerEndpoint != "" {
		classifier = tagging.NewOpenAIClassifier(
			c.config.TaggerEndpoint,
			c.config.TaggerAPIKey,
			c.config.TaggerModel,
			c.config.TaggerTimeout,
		)
	}
	c.TaggingService = tagging.NewService(classifier, c.ImagesRepo, c.TagsRepo, store)

	c.AnalyticsService = analytics.NewService(
		c.ImagesRepo,
		c.cacheProvider,
		time.Duration(c.config.AnalyticsCacheTTL)*time.Second,
	)
	return nil
}

// GetConfig 获取配置
func (c *Container) GetConfig() *config.Config {
	return c.config
}

// GetDatabaseFactory 获取数据库工厂
func (c *Container) GetDatabaseFactory() *database.Factory {
	return c.databaseFactory
}

// GetStorageFactory 获取存储工厂
func (c *Container) GetStorageFactory() *storage.Factory {
	return c.storageFactory
}

// GetCacheProvider 获取缓存提供者
func (c *Container) GetCacheProvider() cache.Provider {
	return c.cacheProvider
}

// GetLocalStorage 获取本地存储提供者，未配置时为 nil
func (c *Container) GetLocalStorage() *storage.LocalStorage {
	return c.localStorage
}

// Close 关闭所有服务
func (c *Container) Close() error {
	utils.LogIfDevf("Closing DI container...")

	if c.cacheProvider != nil {
		if err := c.cacheProvider.Close(); err != nil {
			log.Printf("WARN: error closing cache provider: %v", err)
		}
	}
	if c.databaseFactory != nil {
		if err := c.databaseFactory.Close(); err != nil {
			log.Printf("WARN: error closing database factory: %v", err)
		}
	}

	utils.LogIfDevf("DI container closed")
	return nil
}
