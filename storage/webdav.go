package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/studio-b12/gowebdav"
)

// WebDAVConfig WebDAV 配置结构
type WebDAVConfig struct {
	URL      string        `mapstructure:"url"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	RootPath string        `mapstructure:"root"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// WebDAVStorage 把图库文件放在远端 WebDAV 目录下的存储实现
type WebDAVStorage struct {
	client   *gowebdav.Client
	baseURL  string
	rootPath string
}

// NewWebDAVStorage 创建 WebDAV 存储提供者，启动时探活
func NewWebDAVStorage(cfg WebDAVConfig) (*WebDAVStorage, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("webdav URL is required")
	}

	rootPath := strings.Trim(cfg.RootPath, "/")
	if rootPath != "" {
		rootPath = "/" + rootPath
	}

	s := &WebDAVStorage{
		client:   gowebdav.NewClient(cfg.URL, cfg.Username, cfg.Password),
		baseURL:  strings.TrimRight(cfg.URL, "/"),
		rootPath: rootPath,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Health(ctx); err != nil {
		return nil, fmt.Errorf("webdav connection test failed: %w", err)
	}
	return s, nil
}

// remotePath 存储键映射到远端路径
func (s *WebDAVStorage) remotePath(storagePath string) string {
	return s.rootPath + "/" + strings.TrimLeft(storagePath, "/")
}

// run 在单独的 goroutine 里执行阻塞的 WebDAV 调用。gowebdav 的客户端
// 不接收 context，这里桥接一层让调用方可以取消等待；取消后底层请求
// 仍会跑完，结果被丢弃。
func run(ctx context.Context, op func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() { done <- op() }()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// SaveWithContext 保存文件到 WebDAV，父目录逐级补建
func (s *WebDAVStorage) SaveWithContext(ctx context.Context, storagePath string, file io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	remote := s.remotePath(storagePath)

	if err := s.ensureParentDir(ctx, remote); err != nil {
		return fmt.Errorf("failed to ensure parent directory for %s: %w", storagePath, err)
	}

	data, err := io.ReadAll(file)
	if err != nil {
		return fmt.Errorf("failed to read file content: %w", err)
	}

	if err := run(ctx, func() error { return s.client.Write(remote, data, 0644) }); err != nil {
		return fmt.Errorf("failed to write file %s: %w", storagePath, err)
	}
	return nil
}

// ensureParentDir 逐级创建远端父目录，目录已存在不算错
func (s *WebDAVStorage) ensureParentDir(ctx context.Context, remote string) error {
	parent := path.Dir(remote)
	if parent == "/" || parent == "." {
		return nil
	}

	current := ""
	for _, part := range strings.Split(strings.Trim(parent, "/"), "/") {
		if part == "" {
			continue
		}
		current = current + "/" + part

		dir := current
		err := run(ctx, func() error { return s.client.Mkdir(dir, os.FileMode(0755)) })
		if err != nil && !isCollectionExists(err) {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// isCollectionExists 各家 WebDAV 服务器对 "目录已存在" 的应答五花八门，
// 只能按状态码和常见文案猜
func isCollectionExists(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, hint := range []string{"already exists", "conflict", "409", "method not allowed", "405"} {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}

// GetWithContext 从 WebDAV 读取文件，整段读入内存后返回可 seek 的 reader
func (s *WebDAVStorage) GetWithContext(ctx context.Context, storagePath string) (io.ReadSeeker, error) {
	remote := s.remotePath(storagePath)

	var data []byte
	err := run(ctx, func() error {
		var readErr error
		data, readErr = s.client.Read(remote)
		return readErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", storagePath, err)
	}
	return bytes.NewReader(data), nil
}

// DeleteWithContext 从 WebDAV 删除文件
func (s *WebDAVStorage) DeleteWithContext(ctx context.Context, storagePath string) error {
	remote := s.remotePath(storagePath)
	return run(ctx, func() error { return s.client.Remove(remote) })
}

// Exists 检查文件是否存在
func (s *WebDAVStorage) Exists(ctx context.Context, storagePath string) (bool, error) {
	remote := s.remotePath(storagePath)

	exists := false
	err := run(ctx, func() error {
		_, statErr := s.client.Stat(remote)
		if statErr == nil {
			exists = true
			return nil
		}
		if gowebdav.IsErrNotFound(statErr) {
			return nil
		}
		return statErr
	})
	return exists, err
}

// Health 检查存储健康状态
func (s *WebDAVStorage) Health(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return run(ctx, func() error {
		_, err := s.client.ReadDir(s.rootPath)
		return err
	})
}

// Name 返回存储名称
func (s *WebDAVStorage) Name() string {
	if s.baseURL == "" {
		return "webdav"
	}
	return fmt.Sprintf("webdav:%s%s", s.baseURL, s.rootPath)
}
