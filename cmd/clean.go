package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/telarin/latentvault/config"
	"github.com/telarin/latentvault/database/models"
	"github.com/telarin/latentvault/internal/app"
	"github.com/telarin/latentvault/internal/worker"
	"github.com/telarin/latentvault/utils/format"
	"github.com/spf13/cobra"
)

// cleanCmd 清理数据库孤儿记录、孤儿缩略图和过期会话
var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Clean orphan records, orphan thumbnails and expired sessions",
	Long: `Clean orphan records, orphan thumbnails and expired sessions.
This includes:
  - Delete image records whose backing file is gone
  - Delete thumbnail files without a corresponding image record
  - Purge expired login sessions`,
	Run: func(cmd *cobra.Command, args []string) {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		dbOnly, _ := cmd.Flags().GetBool("db-only")
		thumbsOnly, _ := cmd.Flags().GetBool("thumbs-only")
		sessionsOnly, _ := cmd.Flags().GetBool("sessions-only")

		if err := runClean(dryRun, dbOnly, thumbsOnly, sessionsOnly); err != nil {
			log.Fatalf("Clean failed: %v", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(cleanCmd)
	cleanCmd.Flags().Bool("dry-run", false, "Only show what would be cleaned, don't actually delete")
	cleanCmd.Flags().Bool("db-only", false, "Only clean orphan image records")
	cleanCmd.Flags().Bool("thumbs-only", false, "Only clean orphan thumbnail files")
	cleanCmd.Flags().Bool("sessions-only", false, "Only purge expired sessions")
}

// cleanStats 清理统计信息
type cleanStats struct {
	orphanRecords    int // 文件已丢失的图片记录数
	orphanThumbnails int // 没有记录对应的缩略图数
	deletedRecords   int // 删除的图片记录数
	deletedThumbs    int // 删除的缩略图数
	reclaimedBytes   int64
	purgedSessions   int // 清除的过期会话数
	errors           []string
}

// runClean 执行清理
func runClean(dryRun, dbOnly, thumbsOnly, sessionsOnly bool) error {
	config.InitConfig()
	cfg := config.Get()

	container := app.NewContainer(cfg)
	if err := container.Init(); err != nil {
		return fmt.Errorf("failed to initialize container: %w", err)
	}
	defer container.Close()

	stats := &cleanStats{}

	if !thumbsOnly && !sessionsOnly {
		if err := cleanOrphanRecords(container, stats, dryRun); err != nil {
			stats.errors = append(stats.errors, fmt.Sprintf("clean orphan records failed: %v", err))
		}
	}

	if !dbOnly && !sessionsOnly {
		if err := cleanOrphanThumbnails(container, stats, dryRun); err != nil {
			stats.errors = append(stats.errors, fmt.Sprintf("clean orphan thumbnails failed: %v", err))
		}
	}

	if !dbOnly && !thumbsOnly {
		if err := purgeExpiredSessions(container, stats, dryRun); err != nil {
			stats.errors = append(stats.errors, fmt.Sprintf("purge expired sessions failed: %v", err))
		}
	}

	printCleanStats(stats, dryRun)

	if len(stats.errors) > 0 {
		return fmt.Errorf("encountered %d errors during cleanup", len(stats.errors))
	}

	return nil
}

// cleanOrphanRecords 清理后备文件已经不存在的图片记录。
// reference 导入的记录存的是源文件绝对路径，直接 stat；
// copy/move 的记录走默认存储提供者查询。
func cleanOrphanRecords(container *app.Container, stats *cleanStats, dryRun bool) error {
	log.Println("Checking for orphan image records...")

	db := container.GetDatabaseFactory().GetProvider().DB()
	store := container.GetStorageFactory().GetDefault()
	if store == nil {
		return fmt.Errorf("no default storage provider configured")
	}

	var images []models.Image
	if err := db.Find(&images).Error; err != nil {
		return fmt.Errorf("failed to fetch images: %w", err)
	}

	ctx := context.Background()
	for _, img := range images {
		var missing bool
		if filepath.IsAbs(img.FilePath) {
			if _, err := os.Stat(img.FilePath); os.IsNotExist(err) {
				missing = true
			} else if err != nil {
				log.Printf("Warning: failed to stat %s: %v", img.FilePath, err)
				continue
			}
		} else {
			exists, err := store.Exists(ctx, img.FilePath)
			if err != nil {
				log.Printf("Warning: failed to check existence of %s: %v", img.Identifier, err)
				continue
			}
			missing = !exists
		}

		if !missing {
			continue
		}

		stats.orphanRecords++
		if dryRun {
			log.Printf("[DRY-RUN] Would delete orphan record: ID=%d, Identifier=%s", img.ID, img.Identifier)
			continue
		}

		// 标签、收藏和共享随记录一起删
		if err := container.ImagesRepo.DeleteWithAssociations(img.ID); err != nil {
			log.Printf("Warning: failed to delete orphan record %s: %v", img.Identifier, err)
			continue
		}
		stats.deletedRecords++

		if local := container.GetLocalStorage(); local != nil {
			thumbPath := worker.ThumbnailPath(img.Identifier)
			if exists, err := local.Exists(ctx, thumbPath); err == nil && exists {
				if err := local.DeleteWithContext(ctx, thumbPath); err != nil {
					log.Printf("Warning: failed to delete thumbnail for %s: %v", img.Identifier, err)
				}
			}
		}
		log.Printf("Deleted orphan record: %s", img.Identifier)
	}

	return nil
}

// cleanOrphanThumbnails 清理没有图片记录对应的缩略图文件
func cleanOrphanThumbnails(container *app.Container, stats *cleanStats, dryRun bool) error {
	log.Println("Checking for orphan thumbnails...")

	local := container.GetLocalStorage()
	if local == nil {
		log.Println("Local storage not configured, skipping thumbnail cleanup...")
		return nil
	}

	thumbDir := filepath.Join(local.BasePath(), "thumbnails")
	entries, err := os.ReadDir(thumbDir)
	if err != nil {
		if os.IsNotExist(err) {
			log.Println("Thumbnail directory does not exist, skipping...")
			return nil
		}
		return fmt.Errorf("failed to read thumbnail directory: %w", err)
	}

	db := container.GetDatabaseFactory().GetProvider().DB()
	var identifiers []string
	if err := db.Model(&models.Image{}).Pluck("identifier", &identifiers).Error; err != nil {
		return fmt.Errorf("failed to fetch image identifiers: %w", err)
	}

	known := make(map[string]bool, len(identifiers))
	for _, id := range identifiers {
		known[id] = true
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".webp") {
			continue
		}
		identifier := strings.TrimSuffix(entry.Name(), ".webp")
		if known[identifier] {
			continue
		}

		stats.orphanThumbnails++
		if dryRun {
			log.Printf("[DRY-RUN] Would delete orphan thumbnail: %s", entry.Name())
			continue
		}

		path := filepath.Join(thumbDir, entry.Name())
		var size int64
		if info, err := entry.Info(); err == nil {
			size = info.Size()
		}
		if err := os.Remove(path); err != nil {
			log.Printf("Warning: failed to delete orphan thumbnail %s: %v", entry.Name(), err)
		} else {
			stats.deletedThumbs++
			stats.reclaimedBytes += size
			log.Printf("Deleted orphan thumbnail: %s", entry.Name())
		}
	}

	return nil
}

// purgeExpiredSessions 清除过期的登录会话
func purgeExpiredSessions(container *app.Container, stats *cleanStats, dryRun bool) error {
	log.Println("Purging expired sessions...")

	if dryRun {
		log.Println("[DRY-RUN] Session purge skipped (purge is a single delete, nothing to preview)")
		return nil
	}

	n, err := container.SessionsRepo.PurgeExpired()
	if err != nil {
		return err
	}
	stats.purgedSessions = int(n)
	return nil
}

// printCleanStats 打印清理统计
func printCleanStats(stats *cleanStats, dryRun bool) {
	fmt.Println()
	fmt.Println("========================================")
	if dryRun {
		fmt.Println("           [DRY RUN MODE]")
	}
	fmt.Println("         Clean Statistics")
	fmt.Println("========================================")
	fmt.Printf("Orphan records found:     %d\n", stats.orphanRecords)
	fmt.Printf("Orphan thumbnails found:  %d\n", stats.orphanThumbnails)
	fmt.Printf("Records deleted:          %d\n", stats.deletedRecords)
	fmt.Printf("Thumbnails deleted:       %d (%s reclaimed)\n", stats.deletedThumbs, format.HumanSize(stats.reclaimedBytes))
	fmt.Printf("Expired sessions purged:  %d\n", stats.purgedSessions)
	fmt.Println("========================================")

	if len(stats.errors) > 0 {
		fmt.Println("\nErrors encountered:")
		for _, err := range stats.errors {
			fmt.Printf("  - %s\n", err)
		}
	}
}
