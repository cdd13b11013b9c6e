package cache

import (
	"fmt"
	"log"
)

// Config 缓存层配置
type Config struct {
	Type          string // "memory" 或 "redis"，空值按 memory 处理
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPoolSize int
}

// New 按配置创建缓存提供者。
// Redis 连不上时降级为内存缓存，服务不因缓存后端缺席而起不来。
func New(cfg Config) (Provider, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemoryCache(MemoryConfig{Metrics: true})
	case "redis":
		provider, err := NewRedisCache(RedisConfig{
			Address:  cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			PoolSize: cfg.RedisPoolSize,
		})
		if err != nil {
			log.Printf("WARN: redis cache unavailable (%v), falling back to in-memory cache", err)
			return NewMemoryCache(MemoryConfig{Metrics: true})
		}
		return provider, nil
	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}
