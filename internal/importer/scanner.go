package importer

import (
	"fmt"
	"io/fs"
	"log"
	"path/filepath"
	"strings"

	"github.com/telarin/latentvault/utils"
)

// Candidate 源目录中的一个候选图片文件。
// 体积和来源时间在扫描时一次取得，后续判定只用这份快照，
// 来源时间取文件自身的修改时刻而不是扫描时刻。
type Candidate struct {
	Path       string `json:"path"` // 相对源目录
	FileName   string `json:"file_name"`
	FileSize   int64  `json:"file_size"`
	OriginTime int64  `json:"origin_time"` // Unix 毫秒
}

// imageExtensions 扫描接受的扩展名
var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".webp": true,
	".gif":  true,
	".bmp":  true,
}

// ScanDir 递归枚举目录下的候选图片文件。
// WalkDir 本身按字典序遍历，结果顺序稳定，分页评审依赖这一点。
// 单个文件读不到属性只记日志跳过，不中断整个扫描。
func ScanDir(root string) ([]Candidate, error) {
	var out []Candidate
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return fmt.Errorf("scan source dir: %w", err)
			}
			log.Printf("Scan skipped %s: %v", utils.SanitizeLogMessage(path), err)
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if !imageExtensions[strings.ToLower(filepath.Ext(d.Name()))] {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			log.Printf("Scan skipped %s: %v", utils.SanitizeLogMessage(path), err)
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}

		out = append(out, Candidate{
			Path:       rel,
			FileName:   d.Name(),
			FileSize:   info.Size(),
			OriginTime: info.ModTime().UnixMilli(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// resolveUnder 把相对路径落回源目录内，拒绝越界
func resolveUnder(root, rel string) (string, error) {
	if rel == "" || filepath.IsAbs(rel) {
		return "", fmt.Errorf("invalid path: %q", rel)
	}
	p := filepath.Join(root, rel)
	prefix := filepath.Clean(root) + string(filepath.Separator)
	if !strings.HasPrefix(p, prefix) {
		return "", fmt.Errorf("path escapes source dir: %q", rel)
	}
	return p, nil
}
