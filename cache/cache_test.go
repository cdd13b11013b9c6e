package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/telarin/latentvault/database/models"
)

func newTestCache(t *testing.T) *MemoryCache {
	c, err := NewMemoryCache(MemoryConfig{
		NumCounters: 1000,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	assert.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestMemoryCacheRoundTrip(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	type payload struct {
		Name  string
		Value int
	}

	assert.NoError(t, c.Set(ctx, "k", payload{Name: "test", Value: 42}, 10*time.Second))

	var got payload
	assert.NoError(t, c.Get(ctx, "k", &got))
	assert.Equal(t, payload{Name: "test", Value: 42}, got)

	exists, err := c.Exists(ctx, "k")
	assert.NoError(t, err)
	assert.True(t, exists)

	assert.NoError(t, c.Delete(ctx, "k"))
	err = c.Get(ctx, "k", &got)
	assert.True(t, IsCacheMiss(err))
}

func TestMemoryCacheBytesPassThrough(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	raw := []byte{0x89, 0x50, 0x4e, 0x47, 0x00, 0x01}
	assert.NoError(t, c.Set(ctx, "blob", raw, 10*time.Second))

	var got []byte
	assert.NoError(t, c.Get(ctx, "blob", &got))
	assert.Equal(t, raw, got)
}

func TestCacheMissSentinel(t *testing.T) {
	c := newTestCache(t)

	var value string
	err := c.Get(context.Background(), "nonexistent", &value)
	assert.True(t, IsCacheMiss(err))
	assert.False(t, IsCacheMiss(nil))
}

func TestKeyBuilder(t *testing.T) {
	kb := NewKeyBuilder("image_meta")
	assert.Equal(t, "image_meta", kb.Build())
	assert.Equal(t, "image_meta:a:b", kb.Build("a", "b"))
	assert.Equal(t, "image_meta:42", kb.BuildID(42))
	assert.Equal(t, "insights:7", Insights.BuildID(uint(7)))
}

func TestHelperImageRoundTrip(t *testing.T) {
	c := newTestCache(t)
	h := NewHelper(c)
	ctx := context.Background()

	img := &models.Image{
		Identifier: "abc123def456",
		FileName:   "castle.png",
		FileSize:   2048,
		UserID:     1,
	}
	assert.NoError(t, h.CacheImage(ctx, img))

	var got models.Image
	assert.NoError(t, h.GetCachedImage(ctx, "abc123def456", &got))
	assert.Equal(t, img.FileName, got.FileName)
	assert.Equal(t, img.Identifier, got.Identifier)

	assert.NoError(t, h.DeleteCachedImage(ctx, "abc123def456"))
	err := h.GetCachedImage(ctx, "abc123def456", &got)
	assert.True(t, IsCacheMiss(err))
}

func TestHelperEmptyValueShortCircuits(t *testing.T) {
	c := newTestCache(t)
	h := NewHelper(c)
	ctx := context.Background()

	img := &models.Image{Identifier: "gone", FileName: "gone.png"}
	assert.NoError(t, h.CacheImage(ctx, img))

	// 标记为空值后读取直接按未命中处理
	assert.NoError(t, h.CacheEmptyValue(ctx, "gone"))

	var got models.Image
	err := h.GetCachedImage(ctx, "gone", &got)
	assert.True(t, IsCacheMiss(err))

	// 删除时同时清掉空值标记
	assert.NoError(t, h.DeleteCachedImage(ctx, "gone"))
	empty, err := h.IsEmptyValue(ctx, "gone")
	assert.NoError(t, err)
	assert.False(t, empty)
}

func TestHelperImageDataSizeLimit(t *testing.T) {
	c := newTestCache(t)
	h := NewHelper(c, HelperConfig{
		ImageCacheTTL:         time.Minute,
		ImageDataCacheTTL:     time.Minute,
		MaxCacheableImageSize: 8,
	})
	ctx := context.Background()

	small := []byte("tiny")
	assert.NoError(t, h.CacheImageData(ctx, "small", small))
	got, err := h.GetCachedImageData(ctx, "small")
	assert.NoError(t, err)
	assert.Equal(t, small, got)

	// 超过上限的不进缓存
	big := []byte("way too large for cache")
	assert.NoError(t, h.CacheImageData(ctx, "big", big))
	_, err = h.GetCachedImageData(ctx, "big")
	assert.True(t, IsCacheMiss(err))
}

func TestFactoryDefaultsToMemory(t *testing.T) {
	p, err := New(Config{})
	assert.NoError(t, err)
	assert.Equal(t, "memory", p.Name())
	_ = p.Close()

	_, err = New(Config{Type: "memcached"})
	assert.Error(t, err)
}

func TestNilProviderHelperIsInert(t *testing.T) {
	h := NewHelper(nil)
	ctx := context.Background()

	var got models.Image
	assert.True(t, IsCacheMiss(h.GetCachedImage(ctx, "x", &got)))
	assert.NoError(t, h.DeleteCachedImage(ctx, "x"))

	empty, err := h.IsEmptyValue(ctx, "x")
	assert.NoError(t, err)
	assert.False(t, empty)
}
