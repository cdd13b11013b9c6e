package database

import (
	"fmt"
	"log"

	"github.com/telarin/latentvault/config"
	"github.com/telarin/latentvault/database/models"
)

// Factory 持有数据库提供者并负责建表迁移
type Factory struct {
	provider Provider
}

// NewFactory 按配置初始化数据库提供者
func NewFactory(cfg *config.Config) (*Factory, error) {
	provider, err := NewGormProvider(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database provider: %w", err)
	}

	log.Printf("Database provider '%s' initialized", provider.Name())
	return &Factory{provider: provider}, nil
}

// GetProvider 返回底层数据库提供者
func (f *Factory) GetProvider() Provider {
	return f.provider
}

// AutoMigrate 迁移全部业务表
func (f *Factory) AutoMigrate() error {
	if f.provider == nil {
		return fmt.Errorf("database provider not initialized")
	}

	log.Println("Running database auto migration...")
	err := f.provider.AutoMigrate(
		&models.User{},
		&models.Session{},
		&models.Image{},
		&models.Tag{},
		&models.Favorite{},
		&models.SharedImage{},
	)
	if err != nil {
		return fmt.Errorf("failed to auto migrate database: %w", err)
	}
	log.Println("Database auto migration completed.")
	return nil
}

// Ping 检查数据库连接
func (f *Factory) Ping() error {
	if f.provider == nil {
		return fmt.Errorf("database provider not initialized")
	}
	return f.provider.Ping()
}

// Close 关闭数据库连接
func (f *Factory) Close() error {
	if f.provider == nil {
		return nil
	}
	return f.provider.Close()
}
