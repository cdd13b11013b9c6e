package importer

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/davidbyttow/govips/v2/vips"
	"golang.org/x/sync/errgroup"

	"github.com/telarin/latentvault/internal/worker"
	"github.com/telarin/latentvault/utils"
)

const (
	defaultPreviewMaxPx = 150
	maxPreviewBytes     = 50 * 1024 * 1024

	defaultReviewPageSize = 50
	maxReviewPageSize     = 200
)

// 候选文件的归类结果
const (
	ClassDuplicate = "duplicate"
	ClassCollision = "collision"
	ClassNew       = "new"
)

// ReviewItem 预检页中的一个候选文件
type ReviewItem struct {
	Candidate
	Status  string `json:"status"`
	Preview string `json:"preview,omitempty"`
}

// ReviewPage 分页的导入预检结果
type ReviewPage struct {
	Total    int          `json:"total"`
	Page     int          `json:"page"`
	PageSize int          `json:"page_size"`
	Items    []ReviewItem `json:"items"`
}

// Review 扫描源目录并对一页候选做归类，可选生成内联预览图。
// 预览失败只影响单个文件，不影响本页其他项。
func (s *Service) Review(ctx context.Context, userID uint, dir string, page, pageSize int, withPreviews bool) (*ReviewPage, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve source dir: %w", err)
	}

	candidates, err := ScanDir(root)
	if err != nil {
		return nil, err
	}

	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultReviewPageSize
	}
	if pageSize > maxReviewPageSize {
		pageSize = maxReviewPageSize
	}

	start := (page - 1) * pageSize
	if start > len(candidates) {
		start = len(candidates)
	}
	end := start + pageSize
	if end > len(candidates) {
		end = len(candidates)
	}

	items := make([]ReviewItem, 0, end-start)
	for _, c := range candidates[start:end] {
		status, err := s.classify(userID, c)
		if err != nil {
			return nil, fmt.Errorf("classify %s: %w", c.FileName, err)
		}
		items = append(items, ReviewItem{Candidate: c, Status: status})
	}

	if withPreviews {
		s.attachPreviews(ctx, root, items)
	}

	return &ReviewPage{
		Total:    len(candidates),
		Page:     page,
		PageSize: pageSize,
		Items:    items,
	}, nil
}

// classify 按去重键归类：duplicate / collision / new
func (s *Service) classify(userID uint, c Candidate) (string, error) {
	dup, err := s.isDuplicate(userID, c.FileName, c.OriginTime)
	if err != nil {
		return "", err
	}
	if dup {
		return ClassDuplicate, nil
	}

	exists, err := s.repo.FileNameExists(userID, c.FileName)
	if err != nil {
		return "", err
	}
	if exists {
		return ClassCollision, nil
	}
	return ClassNew, nil
}

// attachPreviews 并发为一页候选生成预览，vips 并发量由全局信号量约束
func (s *Service) attachPreviews(ctx context.Context, root string, items []ReviewItem) {
	var g errgroup.Group
	for i := range items {
		i := i
		g.Go(func() error {
			preview, err := renderPreview(ctx, root, items[i].Path, s.previewPx)
			if err != nil {
				utils.LogIfDevf("[Review] preview for %s failed: %v", utils.SanitizeLogMessage(items[i].Path), err)
				return nil
			}
			items[i].Preview = preview
			return nil
		})
	}
	_ = g.Wait()
}

// renderPreview 生成 maxPx 边长以内的 webp 预览，内联为 data URL
func renderPreview(ctx context.Context, root, rel string, maxPx int) (string, error) {
	abs, err := resolveUnder(root, rel)
	if err != nil {
		return "", err
	}

	f, err := os.Open(abs)
	if err != nil {
		return "", err
	}
	data, err := io.ReadAll(io.LimitReader(f, maxPreviewBytes))
	f.Close()
	if err != nil {
		return "", err
	}

	sem := worker.GetGlobalSemaphore()
	if err := sem.Acquire(ctx); err != nil {
		return "", err
	}
	defer sem.Release()

	img, err := vips.NewThumbnailFromBuffer(data, maxPx, maxPx, vips.InterestingNone)
	if err != nil {
		return "", err
	}
	defer img.Close()

	webpBytes, _, err := img.ExportWebp(&vips.WebpExportParams{
		Quality:         75,
		Lossless:        false,
		ReductionEffort: 2,
		StripMetadata:   true,
	})
	if err != nil {
		return "", err
	}

	return "data:image/webp;base64," + base64.StdEncoding.EncodeToString(webpBytes), nil
}
