package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLocalStorage_SaveAndGet 测试保存后读回的完整流程
func TestLocalStorage_SaveAndGet(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	key := "library/1/sunset.png"

	err = storage.SaveWithContext(ctx, key, strings.NewReader("png bytes"))
	require.NoError(t, err)

	exists, err := storage.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)

	r, err := storage.GetWithContext(ctx, key)
	require.NoError(t, err)
	if c, ok := r.(io.Closer); ok {
		defer func() { _ = c.Close() }()
	}

	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "png bytes", string(data))
}

// TestLocalStorage_NestedKeys 测试多级存储键会自动建目录
func TestLocalStorage_NestedKeys(t *testing.T) {
	tempDir := t.TempDir()
	storage, err := NewLocalStorage(tempDir)
	require.NoError(t, err)

	ctx := context.Background()
	keys := []string{
		"library/1/a.png",
		"library/42/b.webp",
		"thumbnails/a1b2c3d4e5f6.webp",
	}

	for _, key := range keys {
		require.NoError(t, storage.SaveWithContext(ctx, key, strings.NewReader("x")))
		_, statErr := os.Stat(filepath.Join(tempDir, filepath.FromSlash(key)))
		assert.NoError(t, statErr, "file should land under base path: %s", key)
	}
}

// TestLocalStorage_RejectTraversal 三个写路径都要挡住目录遍历
func TestLocalStorage_RejectTraversal(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()

	attempts := []string{
		"../../../etc/passwd",
		"..",
		".",
		"",
		"library/../../../etc/passwd",
		"a/../b/../../c/../../../etc/passwd",
		"/etc/passwd",
	}

	for _, attempt := range attempts {
		t.Run("key_"+attempt, func(t *testing.T) {
			err := storage.SaveWithContext(ctx, attempt, strings.NewReader("evil"))
			require.Error(t, err, "save should reject %q", attempt)
			assert.Contains(t, err.Error(), "invalid")

			_, err = storage.GetWithContext(ctx, attempt)
			require.Error(t, err, "get should reject %q", attempt)

			err = storage.DeleteWithContext(ctx, attempt)
			require.Error(t, err, "delete should reject %q", attempt)
		})
	}
}

// errReader 读到一半开始报错，用来模拟上游流中断
type errReader struct{ n int }

func (r *errReader) Read(p []byte) (int, error) {
	if r.n > 0 {
		n := r.n
		r.n = 0
		for i := 0; i < n; i++ {
			p[i] = 'x'
		}
		return n, nil
	}
	return 0, errors.New("stream interrupted")
}

// TestLocalStorage_PartialWriteCleanup 复制中断时不能留下半截文件
func TestLocalStorage_PartialWriteCleanup(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	key := "library/1/broken.png"

	err = storage.SaveWithContext(ctx, key, &errReader{n: 8})
	require.Error(t, err)

	exists, err := storage.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, exists, "partial file must be removed after failed save")
}

// TestLocalStorage_Delete 测试删除与删除缺失文件
func TestLocalStorage_Delete(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	key := "library/1/todelete.png"

	require.NoError(t, storage.SaveWithContext(ctx, key, strings.NewReader("x")))
	require.NoError(t, storage.DeleteWithContext(ctx, key))

	exists, err := storage.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, exists)

	err = storage.DeleteWithContext(ctx, key)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

// TestLocalStorage_OpenFile 测试零拷贝分支返回的就是磁盘文件
func TestLocalStorage_OpenFile(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	key := "thumbnails/deadbeef.webp"
	require.NoError(t, storage.SaveWithContext(ctx, key, strings.NewReader("webp bytes")))

	f, err := storage.OpenFile(ctx, key)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	require.NoError(t, err)
	assert.Equal(t, int64(len("webp bytes")), info.Size())

	_, err = storage.OpenFile(ctx, "../outside")
	assert.Error(t, err)
}

// TestLocalStorage_ConcurrentSaves 并发写不同键不应互相干扰
func TestLocalStorage_ConcurrentSaves(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()

	for i := 0; i < 10; i++ {
		key := fmt.Sprintf("library/1/concurrent_%d.png", i)
		t.Run(key, func(t *testing.T) {
			t.Parallel()
			require.NoError(t, storage.SaveWithContext(ctx, key, strings.NewReader(key)))
		})
	}
}

// TestLocalStorage_HealthAndName 健康检查与元信息
func TestLocalStorage_HealthAndName(t *testing.T) {
	tempDir := t.TempDir()
	storage, err := NewLocalStorage(tempDir)
	require.NoError(t, err)

	assert.NoError(t, storage.Health(context.Background()))
	assert.Equal(t, "local", storage.Name())
	assert.True(t, strings.HasPrefix(storage.BasePath(), tempDir))
	assert.True(t, strings.HasSuffix(storage.BasePath(), string(os.PathSeparator)))
}

// TestIsValidStoragePath 测试存储键校验
func TestIsValidStoragePath(t *testing.T) {
	tests := []struct {
		name      string
		path      string
		wantValid bool
	}{
		{"simple", "file.txt", true},
		{"library_key", "library/1/sunset.png", true},
		{"thumbnail_key", "thumbnails/a1b2c3d4e5f6.webp", true},
		{"dashes_and_underscores", "library/1/a-b_c.png", true},
		{"empty", "", false},
		{"dotdot", "..", false},
		{"absolute_unix", "/etc/passwd", false},
		{"backslash", "C:\\file.txt", false},
		{"traversal", "../file.txt", false},
		{"traversal_nested", "library/../../etc/passwd", false},
		{"null_byte", "file\x00.txt", false},
		{"newline", "file\n.txt", false},
		{"space", "my file.txt", false},
		{"shell_chars", "file$(id).png", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantValid, IsValidStoragePath(tt.path), "path: %q", tt.path)
		})
	}
}

// BenchmarkIsValidStoragePath 基准测试
func BenchmarkIsValidStoragePath(b *testing.B) {
	paths := []string{
		"library/1/sunset.png",
		"thumbnails/a1b2c3d4e5f6.webp",
		"../../../etc/passwd",
		"",
	}

	for i := 0; i < b.N; i++ {
		for _, p := range paths {
			IsValidStoragePath(p)
		}
	}
}
