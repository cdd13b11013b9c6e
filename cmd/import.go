package cmd

import (
	"context"
	"fmt"
	"log"

	"github.com/telarin/latentvault/config"
	"github.com/telarin/latentvault/internal/app"
	"github.com/telarin/latentvault/internal/importer"
	"github.com/telarin/latentvault/internal/worker"
	"github.com/telarin/latentvault/utils/format"
	"github.com/spf13/cobra"
)

// importCmd 不经 API 直接把目录导入图库，适合首次搬迁大量存量图片
var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import a directory of images into the library",
	Long: `Import a directory of images into the library without going through the API.

Duplicates (same owner, file name and origin timestamp) are skipped, name
collisions are renamed, and generation metadata is extracted from each file.
Modes:
  copy       copy files into the library (default)
  move       copy files into the library, then remove the sources
  reference  register files in place without touching them`,
	Run: func(cmd *cobra.Command, args []string) {
		dir, _ := cmd.Flags().GetString("dir")
		username, _ := cmd.Flags().GetString("user")
		modeStr, _ := cmd.Flags().GetString("mode")

		if err := runImport(dir, username, modeStr); err != nil {
			log.Fatalf("Import failed: %v", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(importCmd)
	importCmd.Flags().String("dir", "", "source directory to import (required)")
	importCmd.Flags().String("user", "admin", "owner of the imported images")
	importCmd.Flags().String("mode", "copy", "import mode: copy, move or reference")
	_ = importCmd.MarkFlagRequired("dir")
}

func runImport(dir, username, modeStr string) error {
	if dir == "" {
		return fmt.Errorf("source directory is required")
	}
	mode, err := importer.ParseMode(modeStr)
	if err != nil {
		return err
	}

	config.InitConfig()
	cfg := config.Get()
	ensureDataDirs(cfg)

	container := app.NewContainer(cfg)
	if err := container.Init(); err != nil {
		return fmt.Errorf("failed to initialize container: %w", err)
	}
	defer container.Close()

	if err := container.Migrate(); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	user, err := container.AccountsRepo.GetUserByUsername(username)
	if err != nil {
		return fmt.Errorf("resolve user %q: %w", username, err)
	}

	// 缩略图在导入时同步排队，等任务池清空再退出
	worker.InitGlobalPool(cfg.GetWorkerCount(), 1000)
	defer worker.StopGlobalPool()

	log.Printf("Importing %s for user %s (mode: %s)", dir, username, mode)
	summary, err := container.ImportService.ImportDir(context.Background(), user.ID, dir, mode)
	if err != nil {
		return err
	}

	printImportSummary(summary)
	return nil
}

func printImportSummary(summary *importer.Summary) {
	fmt.Println()
	fmt.Println("========================================")
	fmt.Println("         Import Summary")
	fmt.Println("========================================")
	fmt.Printf("Batch ID:  %s\n", summary.BatchID)
	fmt.Printf("Imported:  %d (%s)\n", summary.Imported, format.HumanSize(summary.TotalBytes))
	fmt.Printf("Skipped:   %d\n", summary.Skipped)
	fmt.Printf("Errors:    %d\n", summary.Errors)
	fmt.Println("========================================")

	for _, res := range summary.Results {
		switch res.Status {
		case importer.StatusError:
			fmt.Printf("  [error]    %s: %s\n", res.Path, res.Error)
		case importer.StatusSkipped:
			fmt.Printf("  [skipped]  %s\n", res.Path)
		default:
			if res.Renamed {
				fmt.Printf("  [imported] %s -> %s (%s)\n", res.Path, res.FileName, res.Identifier)
			} else {
				fmt.Printf("  [imported] %s (%s)\n", res.Path, res.Identifier)
			}
		}
	}
}
