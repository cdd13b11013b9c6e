package storage

import (
	"fmt"
	"log"

	"github.com/mitchellh/mapstructure"
	"github.com/telarin/latentvault/config"
)

// LocalConfig 本地存储配置
type LocalConfig struct {
	BasePath string `mapstructure:"base_path"`
}

// Factory 存储工厂 - 负责创建和管理存储提供者
type Factory struct {
	providers       map[string]Provider
	defaultProvider string
}

// NewFactory 创建新的存储工厂。按配置初始化可用的提供者，
// 提供者的原始配置用 mapstructure 解码成各自的配置结构。
func NewFactory(cfg *config.Config) (*Factory, error) {
	factory := &Factory{
		providers: make(map[string]Provider),
	}

	log.Println("Initializing storage providers...")

	// 本地存储始终初始化，缩略图等派生文件也落在这里
	if cfg.StorageLocalPath != "" {
		var lc LocalConfig
		if err := mapstructure.Decode(map[string]interface{}{"base_path": cfg.StorageLocalPath}, &lc); err != nil {
			return nil, fmt.Errorf("decode local storage config: %w", err)
		}
		localProvider, err := NewLocalStorage(lc.BasePath)
		if err != nil {
			log.Printf("Failed to initialize local storage: %v", err)
		} else {
			factory.providers["local"] = localProvider
			log.Println("Successfully initialized 'local' storage provider")
		}
	}

	// MinIO 存储
	if cfg.StorageMinioEndpoint != "" && cfg.StorageMinioAccessKey != "" {
		var mc MinioConfig
		if err := mapstructure.Decode(map[string]interface{}{
			"endpoint":   cfg.StorageMinioEndpoint,
			"access_key": cfg.StorageMinioAccessKey,
			"secret_key": cfg.StorageMinioSecretKey,
			"bucket":     cfg.StorageMinioBucket,
			"use_ssl":    cfg.StorageMinioUseSSL,
		}, &mc); err != nil {
			return nil, fmt.Errorf("decode minio storage config: %w", err)
		}
		minioProvider, err := NewMinioStorage(mc)
		if err != nil {
			log.Printf("Failed to initialize minio storage: %v", err)
		} else {
			factory.providers["minio"] = minioProvider
			log.Println("Successfully initialized 'minio' storage provider")
		}
	}

	// WebDAV 存储
	if cfg.StorageWebDAVURL != "" {
		var wc WebDAVConfig
		if err := mapstructure.Decode(map[string]interface{}{
			"url":      cfg.StorageWebDAVURL,
			"username": cfg.StorageWebDAVUsername,
			"password": cfg.StorageWebDAVPassword,
			"root":     cfg.StorageWebDAVRoot,
		}, &wc); err != nil {
			return nil, fmt.Errorf("decode webdav storage config: %w", err)
		}
		webdavProvider, err := NewWebDAVStorage(wc)
		if err != nil {
			log.Printf("Failed to initialize webdav storage: %v", err)
		} else {
			factory.providers["webdav"] = webdavProvider
			log.Println("Successfully initialized 'webdav' storage provider")
		}
	}

	if len(factory.providers) == 0 {
		return nil, fmt.Errorf("no storage providers were successfully initialized")
	}

	// 设置默认存储
	factory.defaultProvider = cfg.StorageType
	switch factory.defaultProvider {
	case "":
		factory.defaultProvider = "local"
	case "s3":
		factory.defaultProvider = "minio"
	}
	if _, ok := factory.providers[factory.defaultProvider]; !ok {
		return nil, fmt.Errorf("default storage type '%s' is not available", factory.defaultProvider)
	}
	log.Printf("Default storage provider set to: '%s'", factory.defaultProvider)

	return factory, nil
}

// Get 获取指定名称的存储提供者
func (f *Factory) Get(name string) (Provider, error) {
	if name == "" {
		name = f.defaultProvider
	}

	provider, ok := f.providers[name]
	if !ok {
		return nil, fmt.Errorf("storage provider '%s' not found", name)
	}
	return provider, nil
}

// GetDefault 获取默认存储提供者
func (f *Factory) GetDefault() Provider {
	provider, _ := f.Get(f.defaultProvider)
	return provider
}

// GetDefaultName 获取默认存储提供者名称
func (f *Factory) GetDefaultName() string {
	return f.defaultProvider
}

// ListProviders 列出所有可用的存储提供者名称
func (f *Factory) ListProviders() []string {
	names := make([]string, 0, len(f.providers))
	for name := range f.providers {
		names = append(names, name)
	}
	return names
}
