package cmd

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/telarin/latentvault/api/core"
	"github.com/telarin/latentvault/config"
	"github.com/telarin/latentvault/internal/app"
	"github.com/telarin/latentvault/internal/worker"
	"github.com/telarin/latentvault/utils"
	"github.com/spf13/cobra"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start API server",
	Run: func(cmd *cobra.Command, args []string) {
		RunServer()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func RunServer() {
	config.InitConfig()
	cfg := config.Get()

	ensureDataDirs(cfg)

	container := app.NewContainer(cfg)
	if err := container.Init(); err != nil {
		log.Fatalf("Failed to initialize container: %v", err)
	}

	initDatabase(container)

	// 后台任务池：缩略图生成等异步工作
	worker.InitGlobalPool(cfg.GetWorkerCount(), 1000)
	worker.InitGlobalSemaphore(cfg.ImageDecodeSlots)
	utils.SetMemoryLimitMB(cfg.WorkerMemoryLimitMB)

	deps := &core.RouterDependencies{
		Config:           cfg,
		DatabaseFactory:  container.GetDatabaseFactory(),
		StorageFactory:   container.GetStorageFactory(),
		CacheProvider:    container.GetCacheProvider(),
		LocalStorage:     container.GetLocalStorage(),
		AccountsRepo:     container.AccountsRepo,
		SessionsRepo:     container.SessionsRepo,
		ImagesRepo:       container.ImagesRepo,
		TagsRepo:         container.TagsRepo,
		FavoritesRepo:    container.FavoritesRepo,
		SharesRepo:       container.SharesRepo,
		JWTService:       container.JWTService,
		LoginService:     container.LoginService,
		ImportService:    container.ImportService,
		TaggingService:   container.TaggingService,
		AnalyticsService: container.AnalyticsService,
		ThumbnailService: container.ThumbnailService,
	}

	// 启动gin
	server, cleanup := core.StartServer(deps)
	go func() {
		log.Printf("Server started on %s", cfg.Addr())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// 过期会话定时清理
	utils.SafeGo(func() { startSessionPurge(container) })

	// 处理退出signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if cleanup != nil {
		cleanup()
		log.Println("Cleanup tasks finished.")
	}

	// 关闭异步任务池
	worker.StopGlobalPool()

	// 关闭 DI 容器
	if err := container.Close(); err != nil {
		log.Printf("Error closing container: %v", err)
	}

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited successfully")
}

// ensureDataDirs 创建运行所需的本地目录
func ensureDataDirs(cfg *config.Config) {
	if cfg.DBType == "sqlite" && cfg.DBFilePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.DBFilePath), os.ModePerm); err != nil {
			log.Fatalf("Failed to create database directory: %v", err)
		}
	}
	if cfg.StorageLocalPath != "" {
		if err := os.MkdirAll(cfg.StorageLocalPath, os.ModePerm); err != nil {
			log.Fatalf("Failed to create storage directory: %v", err)
		}
	}
}

// initDatabase 自动建表并保证管理员账户存在
func initDatabase(container *app.Container) {
	factory := container.GetDatabaseFactory()
	log.Printf("Initializing database, database type: %s", factory.GetProvider().Name())

	// 自动DDL
	if err := container.Migrate(); err != nil {
		log.Fatalf("Failed to auto migrate database: %v", err)
	}

	// 创建默认管理员用户；新建时把随机初始密码打到日志，只出现这一次
	password, err := container.AccountsRepo.CreateDefaultAdminUser()
	if err != nil {
		log.Printf("Warning: failed to ensure default admin user: %v", err)
	} else if password != "" {
		log.Printf("Created default admin user 'admin' with password: %s", password)
		log.Println("Please change this password after first login")
	}

	log.Println("Database initialized successfully")
}

// startSessionPurge 定期清理过期的登录会话
func startSessionPurge(container *app.Container) {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for range ticker.C {
		n, err := container.SessionsRepo.PurgeExpired()
		if err != nil {
			log.Printf("Session purge failed: %v", err)
			continue
		}
		if n > 0 {
			log.Printf("Purged %d expired sessions", n)
		}
	}
}
