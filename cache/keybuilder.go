package cache

import (
	"fmt"
	"strings"
)

// KeyBuilder 缓存键构建器
type KeyBuilder struct {
	prefix string
	sep    string
}

// NewKeyBuilder 创建新的键构建器
func NewKeyBuilder(prefix string) *KeyBuilder {
	return &KeyBuilder{
		prefix: prefix,
		sep:    ":",
	}
}

// Build 构建缓存键
func (kb *KeyBuilder) Build(parts ...string) string {
	if len(parts) == 0 {
		return kb.prefix
	}
	return kb.prefix + kb.sep + strings.Join(parts, kb.sep)
}

// BuildID 构建带 ID 的缓存键
func (kb *KeyBuilder) BuildID(id interface{}) string {
	return fmt.Sprintf("%s%s%v", kb.prefix, kb.sep, id)
}

// 预定义的 KeyBuilder 实例
var (
	// ImageMeta 图片元数据缓存
	ImageMeta = NewKeyBuilder("image_meta")

	// ImageData 图片字节缓存，用于缩略图等小文件
	ImageData = NewKeyBuilder("image_data")

	// Insights 图库统计缓存，按用户区分
	Insights = NewKeyBuilder("insights")

	// Empty 空值缓存，用于记住确定不存在的标识符
	Empty = NewKeyBuilder("empty")
)
