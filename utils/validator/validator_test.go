package validator

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

// pngHeader 最小可探测的 PNG 头
var pngHeader = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}

// TestIsImageBytes 逐魔数检查探测结果
func TestIsImageBytes(t *testing.T) {
	tests := []struct {
		name      string
		data      []byte
		wantOK    bool
		wantMimes []string
	}{
		{
			name:      "png",
			data:      pngHeader,
			wantOK:    true,
			wantMimes: []string{"image/png"},
		},
		{
			name:      "jpeg",
			data:      []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 0x4A, 0x46, 0x49, 0x46},
			wantOK:    true,
			wantMimes: []string{"image/jpeg"},
		},
		{
			name:      "gif",
			data:      []byte("GIF89a"),
			wantOK:    true,
			wantMimes: []string{"image/gif"},
		},
		{
			name:      "webp",
			data:      []byte{'R', 'I', 'F', 'F', 0, 0, 0, 0, 'W', 'E', 'B', 'P', 'V', 'P', '8', ' '},
			wantOK:    true,
			wantMimes: []string{"image/webp"},
		},
		{
			// DetectContentType 对 BMP 的命名各平台有差异
			name:      "bmp",
			data:      []byte{0x42, 0x4D, 0, 0, 0, 0, 0, 0, 0, 0},
			wantOK:    true,
			wantMimes: []string{"image/bmp", "image/x-ms-bmp"},
		},
		{
			name:   "plain text",
			data:   []byte("not an image at all"),
			wantOK: false,
		},
		{
			name:   "json",
			data:   []byte(`{"prompt": "a cat"}`),
			wantOK: false,
		},
		{
			name:   "pdf",
			data:   []byte("%PDF-1.7"),
			wantOK: false,
		},
		{
			name:   "zip",
			data:   []byte{0x50, 0x4B, 0x03, 0x04},
			wantOK: false,
		},
		{
			name:   "empty",
			data:   nil,
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, mime := IsImageBytes(tt.data)
			assert.Equal(t, tt.wantOK, ok, "detected mime: %s", mime)
			if tt.wantOK {
				assert.Contains(t, tt.wantMimes, mime)
			}
		})
	}
}

// TestIsImageBytes_LargePayload 超过 512 字节的内容只看头部
func TestIsImageBytes_LargePayload(t *testing.T) {
	data := append(append([]byte{}, pngHeader...), bytes.Repeat([]byte{0xAB}, 4096)...)

	ok, mime := IsImageBytes(data)
	assert.True(t, ok)
	assert.Equal(t, "image/png", mime)
}

// TestIsImageBytes_TruncatedHeader 只有半个魔数不算图片
func TestIsImageBytes_TruncatedHeader(t *testing.T) {
	ok, _ := IsImageBytes(pngHeader[:3])
	assert.False(t, ok)
}

// BenchmarkIsImageBytes 基准测试
func BenchmarkIsImageBytes(b *testing.B) {
	data := append(append([]byte{}, pngHeader...), bytes.Repeat([]byte{0x11}, 1024)...)

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_, _ = IsImageBytes(data)
	}
}
