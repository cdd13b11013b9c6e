package importer

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/telarin/latentvault/database/models"
	"github.com/telarin/latentvault/internal/metadata"
	"github.com/telarin/latentvault/storage"
	"github.com/telarin/latentvault/utils"
	"github.com/telarin/latentvault/utils/validator"
)

// Mode 导入模式
type Mode string

const (
	ModeCopy      Mode = "copy"      // 拷贝进库，源文件保留
	ModeMove      Mode = "move"      // 拷贝进库后删除源文件
	ModeReference Mode = "reference" // 只登记原路径，不动文件
)

// ParseMode 解析导入模式，空串按 copy 处理
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "":
		return ModeCopy, nil
	case ModeCopy, ModeMove, ModeReference:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown import mode %q", s)
	}
}

func (m Mode) valid() bool {
	return m == ModeCopy || m == ModeMove || m == ModeReference
}

// 单个文件的导入结果状态
const (
	StatusImported = "imported"
	StatusSkipped  = "skipped"
	StatusError    = "error"
)

// FileResult 批量导入中一个文件的处理结果
type FileResult struct {
	Path       string `json:"path"`
	FileName   string `json:"file_name,omitempty"`
	Status     string `json:"status"`
	Identifier string `json:"identifier,omitempty"`
	Renamed    bool   `json:"renamed,omitempty"`
	Size       int64  `json:"size,omitempty"`
	Error      string `json:"error,omitempty"`
}

func (r FileResult) fail(err error) FileResult {
	r.Status = StatusError
	r.Error = err.Error()
	return r
}

// Summary 一次批量导入的汇总
type Summary struct {
	BatchID    string       `json:"batch_id"`
	Imported   int          `json:"imported"`
	Skipped    int          `json:"skipped"`
	Errors     int          `json:"errors"`
	TotalBytes int64        `json:"total_bytes"`
	Results    []FileResult `json:"results"`
}

func (s *Summary) add(res FileResult) {
	switch res.Status {
	case StatusImported:
		s.Imported++
		s.TotalBytes += res.Size
	case StatusSkipped:
		s.Skipped++
	default:
		s.Errors++
	}
	s.Results = append(s.Results, res)
}

// BatchRequest 批量导入请求。Selected 为空表示导入扫描到的全部候选。
// Unselected 是用户明确放弃的文件，绝不从 Selected 反推。
type BatchRequest struct {
	SourceDir        string   `json:"source_dir"`
	Mode             Mode     `json:"mode"`
	Selected         []string `json:"selected"`
	DeleteUnselected bool     `json:"delete_unselected"`
	Unselected       []string `json:"unselected"`
}

// Repo 导入流程需要的仓库操作
type Repo interface {
	ExistsByOwnerFileOrigin(userID uint, fileName string, originTime int64) (bool, error)
	FileNameExists(userID uint, fileName string) (bool, error)
	FileNamesByOwnerOrigin(userID uint, originTime int64) ([]string, error)
	Create(image *models.Image) error
}

// ThumbnailEnqueuer 新入库图片的缩略图排队入口
type ThumbnailEnqueuer interface {
	EnqueueThumbnail(img *models.Image) bool
}

// Service 把外部目录里的图片核对进库：去重、冲突改名、按模式落位、
// 提取生成元数据并持久化。
type Service struct {
	repo      Repo
	store     storage.Provider
	thumbs    ThumbnailEnqueuer
	previewPx int
}

// NewService 创建导入服务。thumbs 可以为 nil，此时不排缩略图任务；
// previewPx 非正时预览图用默认边长。
func NewService(repo Repo, store storage.Provider, thumbs ThumbnailEnqueuer, previewPx int) *Service {
	if previewPx <= 0 {
		previewPx = defaultPreviewMaxPx
	}
	return &Service{repo: repo, store: store, thumbs: thumbs, previewPx: previewPx}
}

// ImportBatch 执行一次批量导入。单个文件的失败只记入结果列表，
// 不中断批次；只有源目录本身不可用才整体报错。
func (s *Service) ImportBatch(ctx context.Context, userID uint, req BatchRequest) (*Summary, error) {
	if req.SourceDir == "" {
		return nil, errors.New("source dir is required")
	}
	mode := req.Mode
	if mode == "" {
		mode = ModeCopy
	}
	if !mode.valid() {
		return nil, fmt.Errorf("unknown import mode %q", mode)
	}

	root, err := filepath.Abs(req.SourceDir)
	if err != nil {
		return nil, fmt.Errorf("resolve source dir: %w", err)
	}

	selected := req.Selected
	if len(selected) == 0 {
		candidates, err := ScanDir(root)
		if err != nil {
			return nil, err
		}
		selected = make([]string, 0, len(candidates))
		for _, c := range candidates {
			selected = append(selected, c.Path)
		}
	}

	summary := &Summary{BatchID: uuid.NewString()}
	for _, rel := range selected {
		summary.add(s.importOne(ctx, userID, root, rel, mode))
	}

	if req.DeleteUnselected && mode != ModeReference {
		s.cleanupUnselected(root, req.Unselected)
	}
	return summary, nil
}

// ImportDir 全目录导入，CLI 入口用
func (s *Service) ImportDir(ctx context.Context, userID uint, dir string, mode Mode) (*Summary, error) {
	return s.ImportBatch(ctx, userID, BatchRequest{SourceDir: dir, Mode: mode})
}

// importOne 处理一个候选文件。顺序：去重 → 读文件 → 冲突改名 → 按模式落位 → 建档。
func (s *Service) importOne(ctx context.Context, userID uint, root, rel string, mode Mode) FileResult {
	res := FileResult{Path: rel}

	abs, err := resolveUnder(root, rel)
	if err != nil {
		return res.fail(err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return res.fail(fmt.Errorf("stat source: %w", err))
	}
	if info.IsDir() {
		return res.fail(errors.New("not a regular file"))
	}

	fileName := filepath.Base(abs)
	originTime := info.ModTime().UnixMilli()
	res.FileName = fileName
	res.Size = info.Size()

	dup, err := s.isDuplicate(userID, fileName, originTime)
	if err != nil {
		return res.fail(fmt.Errorf("dedup lookup: %w", err))
	}
	if dup {
		res.Status = StatusSkipped
		return res
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return res.fail(fmt.Errorf("read source: %w", err))
	}

	ok, mimeType := validator.IsImageBytes(data)
	if !ok {
		return res.fail(fmt.Errorf("unsupported file type %s", mimeType))
	}

	collision, err := s.repo.FileNameExists(userID, fileName)
	if err != nil {
		return res.fail(fmt.Errorf("collision lookup: %w", err))
	}
	if collision {
		fileName = renameWithTimestamp(fileName)
		res.Renamed = true
		res.FileName = fileName
	}

	// reference 模式登记原始绝对路径，文件不动
	filePath := abs
	switch mode {
	case ModeCopy, ModeMove:
		filePath = storageKey(userID, fileName)
		if err := s.store.SaveWithContext(ctx, filePath, bytes.NewReader(data)); err != nil {
			return res.fail(fmt.Errorf("store file: %w", err))
		}
		if mode == ModeMove {
			if err := os.Remove(abs); err != nil {
				// 拷贝已成功，删源失败不回滚
				log.Printf("WARN: remove source after move failed: %v", err)
			}
		}
	}

	img := s.buildRecord(userID, fileName, filePath, originTime, info.Size(), mimeType, data)
	if err := s.repo.Create(img); err != nil {
		return res.fail(fmt.Errorf("persist record: %w", err))
	}

	if s.thumbs != nil {
		s.thumbs.EnqueueThumbnail(img)
	}

	res.Status = StatusImported
	res.Identifier = img.Identifier
	return res
}

// ImportUpload 处理单文件上传，与批量导入共用冲突改名和元数据提取逻辑。
// 上传没有来源文件时间，以接收时刻作为 origin_time。
func (s *Service) ImportUpload(ctx context.Context, userID uint, fileName string, data []byte) (*models.Image, error) {
	fileName = filepath.Base(filepath.Clean(fileName))
	if fileName == "" || fileName == "." || fileName == ".." || fileName == string(filepath.Separator) {
		return nil, errors.New("invalid file name")
	}

	ok, mimeType := validator.IsImageBytes(data)
	if !ok {
		return nil, fmt.Errorf("unsupported file type %s", mimeType)
	}

	collision, err := s.repo.FileNameExists(userID, fileName)
	if err != nil {
		return nil, fmt.Errorf("collision lookup: %w", err)
	}
	if collision {
		fileName = renameWithTimestamp(fileName)
	}

	filePath := storageKey(userID, fileName)
	if err := s.store.SaveWithContext(ctx, filePath, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("store file: %w", err)
	}

	img := s.buildRecord(userID, fileName, filePath, time.Now().UnixMilli(), int64(len(data)), mimeType, data)
	if err := s.repo.Create(img); err != nil {
		return nil, fmt.Errorf("persist record: %w", err)
	}

	if s.thumbs != nil {
		s.thumbs.EnqueueThumbnail(img)
	}
	return img, nil
}

// isDuplicate 判定候选是否已入库：(owner, 文件名, 来源时间) 完全匹配，
// 或此前因冲突改名入库的同源文件。后者保证整目录重复导入全部跳过。
func (s *Service) isDuplicate(userID uint, fileName string, originTime int64) (bool, error) {
	dup, err := s.repo.ExistsByOwnerFileOrigin(userID, fileName, originTime)
	if err != nil || dup {
		return dup, err
	}

	names, err := s.repo.FileNamesByOwnerOrigin(userID, originTime)
	if err != nil {
		return false, err
	}
	return hasRenamedVariant(names, fileName), nil
}

// hasRenamedVariant 判断名字列表里是否有 fileName 按冲突规则改出的名字，
// 即 base_<毫秒时间戳><ext>
func hasRenamedVariant(names []string, fileName string) bool {
	ext := filepath.Ext(fileName)
	base := strings.TrimSuffix(fileName, ext)
	prefix := base + "_"

	for _, n := range names {
		if n == fileName || !strings.HasPrefix(n, prefix) || !strings.HasSuffix(n, ext) {
			continue
		}
		mid := strings.TrimSuffix(strings.TrimPrefix(n, prefix), ext)
		if mid != "" && isDigits(mid) {
			return true
		}
	}
	return false
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// renameWithTimestamp 在扩展名前插入 _<毫秒时间戳>，保留扩展名
func renameWithTimestamp(fileName string) string {
	ext := filepath.Ext(fileName)
	base := strings.TrimSuffix(fileName, ext)
	return fmt.Sprintf("%s_%d%s", base, time.Now().UnixMilli(), ext)
}

// storageKey 图片在存储提供者里的键
func storageKey(userID uint, fileName string) string {
	return fmt.Sprintf("library/%d/%s", userID, fileName)
}

// newIdentifier 生成 12 位公开标识。不用内容哈希：去重按 owner 隔离，
// 两个用户导入同一文件时内容哈希会撞唯一索引。
func newIdentifier() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// buildRecord 组装图片记录：哈希、尺寸、生成元数据一次算齐
func (s *Service) buildRecord(userID uint, fileName, filePath string, originTime, size int64, mimeType string, data []byte) *models.Image {
	img := &models.Image{
		Identifier: newIdentifier(),
		FileName:   fileName,
		FilePath:   filePath,
		FileSize:   size,
		MimeType:   mimeType,
		FileHash:   fmt.Sprintf("%x", sha256.Sum256(data)),
		OriginTime: originTime,
		UserID:     userID,
	}
	img.Width, img.Height = decodeDimensions(data)

	meta := metadata.Extract(data)
	if meta.HasMetadata {
		img.Workflow = meta.Workflow
		img.PromptText = meta.PromptText
		if meta.Params != nil {
			if b, err := json.Marshal(meta.Params); err == nil {
				params := string(b)
				img.Params = &params
			}
		}
	}
	return img
}

// decodeDimensions 解不出来不算错，置 0 留给后台任务补
func decodeDimensions(data []byte) (int, int) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0
	}
	return cfg.Width, cfg.Height
}

// cleanupUnselected 删除用户明确放弃的候选文件。
// 只在 copy/move 模式下执行，失败只记日志。
func (s *Service) cleanupUnselected(root string, unselected []string) {
	for _, rel := range unselected {
		abs, err := resolveUnder(root, rel)
		if err != nil {
			log.Printf("WARN: skip cleanup of %s: %v", utils.SanitizeLogMessage(rel), err)
			continue
		}
		if err := os.Remove(abs); err != nil {
			log.Printf("WARN: remove unselected %s: %v", utils.SanitizeLogMessage(rel), err)
		}
	}
}
