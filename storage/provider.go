package storage

import (
	"context"
	"io"
	"os"
)

// Provider 存储后端抽象。上层只认相对存储键（如 library/7/a.png），
// 由具体实现映射到磁盘路径、对象键或远端地址。
type Provider interface {
	// SaveWithContext 写入文件，同键覆盖
	SaveWithContext(ctx context.Context, storagePath string, file io.Reader) error

	// GetWithContext 读取文件内容
	GetWithContext(ctx context.Context, storagePath string) (io.ReadSeeker, error)

	// DeleteWithContext 删除文件
	DeleteWithContext(ctx context.Context, storagePath string) error

	// Exists 检查文件是否存在
	Exists(ctx context.Context, storagePath string) (bool, error)

	// Health 探测后端可用性
	Health(ctx context.Context) error

	// Name 后端名称，用于日志和健康检查输出
	Name() string
}

// FileOpener 可直接打开底层文件的存储，支持 sendfile 零拷贝传输
type FileOpener interface {
	OpenFile(ctx context.Context, storagePath string) (*os.File, error)
}
