package cmd

import (
	"context"
	"fmt"
	"log"

	"github.com/telarin/latentvault/cache"
	"github.com/telarin/latentvault/config"
	"github.com/telarin/latentvault/database/models"
	"github.com/telarin/latentvault/internal/app"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

// cacheCmd 缓存管理命令
var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Cache management commands",
	Long:  "Manage application cache, including image metadata and library insights.",
}

// cacheClearCmd 清除缓存命令
var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear cache",
	Long:  `Clear cached image metadata and library insights. By default clears both.`,
	Run: func(cmd *cobra.Command, args []string) {
		imagesOnly, _ := cmd.Flags().GetBool("images-only")
		insightsOnly, _ := cmd.Flags().GetBool("insights-only")

		if err := runCacheClear(imagesOnly, insightsOnly); err != nil {
			log.Fatalf("Cache clear failed: %v", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheClearCmd)

	cacheClearCmd.Flags().Bool("images-only", false, "Only clear image metadata cache")
	cacheClearCmd.Flags().Bool("insights-only", false, "Only clear library insights cache")
}

// runCacheClear 执行缓存清理。缓存键按标识符/用户号组合而成，
// 这里从数据库取全量后逐键删除。
func runCacheClear(imagesOnly, insightsOnly bool) error {
	config.InitConfig()
	cfg := config.Get()

	// 进程内缓存随进程走，CLI 清不到服务进程里的数据
	if cfg.CacheType == "" || cfg.CacheType == "memory" {
		log.Println("Cache type is in-process memory; nothing to clear from the CLI.")
		log.Println("Restart the server to drop its memory cache.")
		return nil
	}

	container := app.NewContainer(cfg)
	if err := container.Init(); err != nil {
		return fmt.Errorf("failed to initialize container: %w", err)
	}
	defer container.Close()

	provider := container.GetCacheProvider()
	log.Printf("Cache provider: %s", provider.Name())

	ctx := context.Background()
	db := container.GetDatabaseFactory().GetProvider().DB()

	if !insightsOnly {
		n, err := clearImageCache(ctx, db, provider)
		if err != nil {
			return fmt.Errorf("failed to clear image cache: %w", err)
		}
		log.Printf("Image metadata cache cleared (%d identifiers)", n)
	}

	if !imagesOnly {
		n, err := clearInsightsCache(ctx, db, provider)
		if err != nil {
			return fmt.Errorf("failed to clear insights cache: %w", err)
		}
		log.Printf("Library insights cache cleared (%d users)", n)
	}

	return nil
}

// clearImageCache 按库内标识符清除元数据、字节和空值缓存
func clearImageCache(ctx context.Context, db *gorm.DB, provider cache.Provider) (int, error) {
	var identifiers []string
	if err := db.Model(&models.Image{}).Pluck("identifier", &identifiers).Error; err != nil {
		return 0, fmt.Errorf("failed to fetch image identifiers: %w", err)
	}

	for _, id := range identifiers {
		for _, key := range []string{
			cache.ImageMeta.BuildID(id),
			cache.ImageData.BuildID(id),
			cache.Empty.BuildID(id),
		} {
			if err := provider.Delete(ctx, key); err != nil {
				log.Printf("Warning: failed to delete cache key %s: %v", key, err)
			}
		}
	}
	return len(identifiers), nil
}

// clearInsightsCache 按用户清除图库统计缓存
func clearInsightsCache(ctx context.Context, db *gorm.DB, provider cache.Provider) (int, error) {
	var userIDs []uint
	if err := db.Model(&models.User{}).Pluck("id", &userIDs).Error; err != nil {
		return 0, fmt.Errorf("failed to fetch user ids: %w", err)
	}

	for _, id := range userIDs {
		key := cache.Insights.BuildID(id)
		if err := provider.Delete(ctx, key); err != nil {
			log.Printf("Warning: failed to delete cache key %s: %v", key, err)
		}
	}
	return len(userIDs), nil
}
