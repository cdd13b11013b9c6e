package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"reflect"
	"time"

	"github.com/telarin/latentvault/database/models"
	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// migrateCmd 数据库迁移命令
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Database migration tools",
	Long:  `Migrate data from one database to another (e.g., SQLite to PostgreSQL).`,
}

// migrateRunCmd 执行迁移命令
var migrateRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run database migration",
	Long: `Run database migration from source to target database.

Examples:
  # Migrate from SQLite to PostgreSQL
  latentvault migrate run --from-sqlite ./data/latentvault.db --to-postgres "host=localhost user=postgres password=secret dbname=latentvault port=5432"

  # Migrate with overwrite strategy (replace existing data)
  latentvault migrate run --from-sqlite ./data/latentvault.db --to-postgres "..." --on-conflict=overwrite

  # Stop on conflict
  latentvault migrate run --from-sqlite ./data/latentvault.db --to-postgres "..." --on-conflict=error`,
	Run: func(cmd *cobra.Command, args []string) {
		fromType, _ := cmd.Flags().GetString("from-type")
		toType, _ := cmd.Flags().GetString("to-type")
		fromDSN, _ := cmd.Flags().GetString("from-dsn")
		toDSN, _ := cmd.Flags().GetString("to-dsn")
		fromSQLite, _ := cmd.Flags().GetString("from-sqlite")
		toPostgres, _ := cmd.Flags().GetString("to-postgres")
		skipConfirm, _ := cmd.Flags().GetBool("yes")
		onConflict, _ := cmd.Flags().GetString("on-conflict")

		if err := runMigration(fromType, toType, fromDSN, toDSN, fromSQLite, toPostgres, skipConfirm, onConflict); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateRunCmd)

	migrateRunCmd.Flags().String("from-type", "", "Source database type (sqlite, postgres)")
	migrateRunCmd.Flags().String("to-type", "", "Target database type (sqlite, postgres)")
	migrateRunCmd.Flags().String("from-dsn", "", "Source database DSN/connection string")
	migrateRunCmd.Flags().String("to-dsn", "", "Target database DSN/connection string")
	migrateRunCmd.Flags().String("from-sqlite", "", "Source SQLite file path (shortcut)")
	migrateRunCmd.Flags().String("to-postgres", "", "Target PostgreSQL connection string (shortcut)")
	migrateRunCmd.Flags().Bool("yes", false, "Skip confirmation prompt")
	migrateRunCmd.Flags().String("on-conflict", "skip", "Conflict resolution strategy: skip (default), overwrite, error")
}

// migrateStats 迁移统计
type migrateStats struct {
	migrated    map[string]int
	skipped     int // 跳过的记录数
	overwritten int // 覆盖的记录数
	errors      []string
}

// runMigration 执行数据库迁移
func runMigration(fromType, toType, fromDSN, toDSN, fromSQLite, toPostgres string, skipConfirm bool, onConflict string) error {
	// 验证冲突处理策略
	if onConflict != "skip" && onConflict != "overwrite" && onConflict != "error" {
		return fmt.Errorf("invalid on-conflict strategy: %s (must be skip, overwrite, or error)", onConflict)
	}

	// 处理快捷方式参数
	if fromSQLite != "" {
		fromType = "sqlite"
		fromDSN = fromSQLite
	}
	if toPostgres != "" {
		toType = "postgres"
		toDSN = toPostgres
	}

	// 验证参数
	if fromType == "" || toType == "" {
		return fmt.Errorf("both --from-type and --to-type are required")
	}
	if fromDSN == "" || toDSN == "" {
		return fmt.Errorf("both --from-dsn and --to-dsn (or shortcuts) are required")
	}

	// 检查源和目标是否相同
	if fromType == toType && fromDSN == toDSN {
		return fmt.Errorf("source and target databases are the same")
	}

	log.Printf("Migrating from %s to %s", fromType, toType)
	log.Printf("Source: %s", maskDSN(fromDSN))
	log.Printf("Target: %s", maskDSN(toDSN))
	log.Printf("Conflict strategy: %s", onConflict)

	// 连接源数据库
	sourceDB, err := openDatabase(fromType, fromDSN)
	if err != nil {
		return fmt.Errorf("failed to connect to source database: %w", err)
	}
	sqlDB, _ := sourceDB.DB()
	defer sqlDB.Close()

	// 连接目标数据库
	targetDB, err := openDatabase(toType, toDSN)
	if err != nil {
		return fmt.Errorf("failed to connect to target database: %w", err)
	}
	sqlDB2, _ := targetDB.DB()
	defer sqlDB2.Close()

	// 确认迁移
	if !skipConfirm {
		fmt.Println("\nWarning: This will migrate all data from source to target database.")
		fmt.Printf("Conflict resolution strategy: %s\n", onConflict)
		fmt.Println("Existing data in target database may be affected.")
		fmt.Print("Do you want to continue? [y/N]: ")
		var response string
		fmt.Scanln(&response)
		if response != "y" && response != "Y" {
			fmt.Println("Migration cancelled.")
			return nil
		}
	}

	stats := &migrateStats{migrated: make(map[string]int)}

	// 自动迁移目标数据库结构
	log.Println("Migrating database schema...")
	if err := autoMigrateTarget(targetDB); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	// 按外键依赖顺序迁移数据
	ctx := context.Background()

	log.Println("Migrating users...")
	if err := migrateTable(ctx, sourceDB, targetDB, stats, onConflict, "users",
		func(r *models.User) {}); err != nil {
		return err
	}

	log.Println("Migrating sessions...")
	if err := migrateTable(ctx, sourceDB, targetDB, stats, onConflict, "sessions",
		func(r *models.Session) {}); err != nil {
		return err
	}

	log.Println("Migrating images...")
	if err := migrateTable(ctx, sourceDB, targetDB, stats, onConflict, "images",
		func(r *models.Image) {
			r.User = models.User{}
			r.Tags = nil
			r.Favorites = nil
			r.Shares = nil
		}); err != nil {
		return err
	}

	log.Println("Migrating tags...")
	if err := migrateTable(ctx, sourceDB, targetDB, stats, onConflict, "tags",
		func(r *models.Tag) {}); err != nil {
		return err
	}

	log.Println("Migrating favorites...")
	if err := migrateTable(ctx, sourceDB, targetDB, stats, onConflict, "favorites",
		func(r *models.Favorite) {}); err != nil {
		return err
	}

	log.Println("Migrating shared images...")
	if err := migrateTable(ctx, sourceDB, targetDB, stats, onConflict, "shared_images",
		func(r *models.SharedImage) {
			r.Image = models.Image{}
			r.SharedWith = models.User{}
			r.SharedBy = models.User{}
		}); err != nil {
		return err
	}

	// 打印统计
	printMigrateStats(stats)

	if len(stats.errors) > 0 {
		return fmt.Errorf("migration completed with %d errors", len(stats.errors))
	}

	log.Println("Migration completed successfully!")
	return nil
}

// openDatabase 打开数据库连接
func openDatabase(dbType, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector

	switch dbType {
	case "sqlite":
		sqliteDSN := dsn
		if sqliteDSN == "" {
			sqliteDSN = "file::memory:?cache=shared"
		}
		dialector = sqlite.Open(sqliteDSN)
	case "postgres", "postgresql":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", dbType)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	// 设置连接池
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}

// autoMigrateTarget 自动迁移目标数据库结构
func autoMigrateTarget(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Session{},
		&models.Image{},
		&models.Tag{},
		&models.Favorite{},
		&models.SharedImage{},
	)
}

// migrateTable 迁移一张表。主键相同视为冲突，按策略跳过、覆盖或报错。
// cleanup 清掉随记录带出的关联对象，避免 gorm 级联建行。
func migrateTable[T any](ctx context.Context, sourceDB, targetDB *gorm.DB, stats *migrateStats, onConflict, tableName string, cleanup func(*T)) error {
	var records []T
	if err := sourceDB.WithContext(ctx).Find(&records).Error; err != nil {
		stats.errors = append(stats.errors, fmt.Sprintf("%s migration failed: %v", tableName, err))
		if onConflict == "error" {
			return err
		}
		return nil
	}

	for i := range records {
		cleanup(&records[i])

		id := recordID(&records[i])
		if id == 0 {
			stats.errors = append(stats.errors, fmt.Sprintf("%s record without id, skipping", tableName))
			continue
		}

		var existing T
		result := targetDB.WithContext(ctx).Where("id = ?", id).First(&existing)

		switch {
		case errors.Is(result.Error, gorm.ErrRecordNotFound):
			if err := targetDB.WithContext(ctx).Create(&records[i]).Error; err != nil {
				stats.errors = append(stats.errors, fmt.Sprintf("failed to migrate %s record %d: %v", tableName, id, err))
				continue
			}
			stats.migrated[tableName]++

		case result.Error != nil:
			stats.errors = append(stats.errors, fmt.Sprintf("conflict check failed for %s record %d: %v", tableName, id, result.Error))
			if onConflict == "error" {
				return result.Error
			}

		default:
			switch onConflict {
			case "skip":
				stats.skipped++
			case "overwrite":
				targetDB.WithContext(ctx).Where("id = ?", id).Delete(new(T))
				if err := targetDB.WithContext(ctx).Create(&records[i]).Error; err != nil {
					stats.errors = append(stats.errors, fmt.Sprintf("failed to overwrite %s record %d: %v", tableName, id, err))
					continue
				}
				stats.migrated[tableName]++
				stats.overwritten++
			case "error":
				return fmt.Errorf("%s record %d already exists in target", tableName, id)
			}
		}
	}

	log.Printf("Migrated %d records to %s", stats.migrated[tableName], tableName)
	return nil
}

// recordID 取记录主键。所有模型都内嵌 gorm.Model，提升出来的 ID 字段直接可读。
func recordID(record interface{}) uint {
	v := reflect.ValueOf(record).Elem()
	f := v.FieldByName("ID")
	if !f.IsValid() || !f.CanUint() {
		return 0
	}
	return uint(f.Uint())
}

// maskDSN 隐藏敏感信息
func maskDSN(dsn string) string {
	if len(dsn) > 50 {
		return dsn[:50] + "..."
	}
	return dsn
}

// printMigrateStats 打印迁移统计
func printMigrateStats(stats *migrateStats) {
	fmt.Println()
	fmt.Println("========================================")
	fmt.Println("       Migration Statistics")
	fmt.Println("========================================")
	for _, table := range []string{"users", "sessions", "images", "tags", "favorites", "shared_images"} {
		fmt.Printf("%-16s %d\n", table+":", stats.migrated[table])
	}
	fmt.Printf("Skipped records: %d\n", stats.skipped)
	fmt.Printf("Overwritten:     %d\n", stats.overwritten)
	fmt.Println("========================================")

	if len(stats.errors) > 0 {
		fmt.Println("\nErrors encountered:")
		for _, err := range stats.errors {
			fmt.Printf("  - %s\n", err)
		}
	}
}
