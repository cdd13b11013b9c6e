package utils

import (
	"os"
	"path/filepath"
)

// GetExecutableDir 可执行文件所在目录。
// 数据文件固定放在程序旁边，不随启动时的工作目录漂移。
func GetExecutableDir() string {
	exePath, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exePath)
}

// GetDataDir 默认数据目录（可执行文件旁的 data）
func GetDataDir() string {
	return filepath.Join(GetExecutableDir(), "data")
}
