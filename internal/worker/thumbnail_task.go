package worker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/davidbyttow/govips/v2/vips"

	"github.com/telarin/latentvault/database/models"
	"github.com/telarin/latentvault/storage"
	"github.com/telarin/latentvault/utils"
)

// 单张原图读入的上限，防止异常大文件拖垮进程
const (
	maxThumbSourceBytes = 50 * 1024 * 1024
	defaultThumbMaxPx   = 400
)

// ThumbStatusRepo 缩略图任务需要的仓库操作
type ThumbStatusRepo interface {
	UpdateThumbStatus(imageID uint, from, to models.ThumbStatus) (bool, error)
	UpdateDimensions(identifier string, width, height int) error
}

// ThumbnailTask 为一张图片生成 webp 缩略图。
// 状态走 CAS：From -> processing -> ready/failed，抢不到状态的并发任务直接放弃。
type ThumbnailTask struct {
	ImageID    uint
	Identifier string
	FilePath   string
	Width      int // 入库时已知的原图宽度，0 表示没解出来
	Height     int

	// From 起始状态。零值就是 pending；缩略图文件丢失后重建时
	// 由调用方设成 ready 或 failed。
	From models.ThumbStatus

	MaxPx int

	Repo  ThumbStatusRepo
	Store storage.Provider      // 原图所在的存储
	Local *storage.LocalStorage // 缩略图固定落在本地
}

// ThumbnailPath 缩略图在本地存储里的键
func ThumbnailPath(identifier string) string {
	return fmt.Sprintf("thumbnails/%s.webp", identifier)
}

// Execute 执行任务
func (t *ThumbnailTask) Execute() {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	acquired, err := t.Repo.UpdateThumbStatus(t.ImageID, t.From, models.ThumbStatusProcessing)
	if err != nil {
		utils.LogIfDevf("[ThumbnailTask] CAS error for image %d: %v", t.ImageID, err)
		return
	}
	if !acquired {
		utils.LogIfDevf("[ThumbnailTask] image %d already being processed", t.ImageID)
		return
	}

	if err := t.process(ctx); err != nil {
		utils.LogIfDevf("[ThumbnailTask] image %d failed: %v", t.ImageID, err)
		_, _ = t.Repo.UpdateThumbStatus(t.ImageID, models.ThumbStatusProcessing, models.ThumbStatusFailed)
		return
	}

	_, _ = t.Repo.UpdateThumbStatus(t.ImageID, models.ThumbStatusProcessing, models.ThumbStatusReady)
}

func (t *ThumbnailTask) process(ctx context.Context) error {
	data, err := t.readSource(ctx)
	if err != nil {
		return fmt.Errorf("read source: %w", err)
	}

	sem := GetGlobalSemaphore()
	if err := sem.Acquire(ctx); err != nil {
		return fmt.Errorf("acquire image slot: %w", err)
	}
	defer sem.Release()

	// 占到解码槽后再做内存准入，超限的任务标记失败，由补扫重试
	if err := utils.CheckMemoryLimitWithGC(); err != nil {
		return err
	}

	maxPx := t.MaxPx
	if maxPx <= 0 {
		maxPx = defaultThumbMaxPx
	}

	img, err := vips.NewThumbnailFromBuffer(data, maxPx, maxPx, vips.InterestingNone)
	if err != nil {
		return fmt.Errorf("downscale: %w", err)
	}
	defer img.Close()

	webpBytes, _, err := img.ExportWebp(&vips.WebpExportParams{
		Quality:         85,
		Lossless:        false,
		ReductionEffort: 4,
		StripMetadata:   true,
	})
	if err != nil {
		return fmt.Errorf("export webp: %w", err)
	}

	if err := t.Local.SaveWithContext(ctx, ThumbnailPath(t.Identifier), bytes.NewReader(webpBytes)); err != nil {
		return fmt.Errorf("save thumbnail: %w", err)
	}

	t.backfillDimensions(data)
	return nil
}

func (t *ThumbnailTask) readSource(ctx context.Context) ([]byte, error) {
	return readImageSource(ctx, t.Store, t.FilePath)
}

// readImageSource 读取原图内容。引用导入的记录存的是绝对路径，直接走文件系统；
// 其余从所属存储提供者读。
func readImageSource(ctx context.Context, store storage.Provider, filePath string) ([]byte, error) {
	if filepath.IsAbs(filePath) {
		f, err := os.Open(filePath)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return io.ReadAll(io.LimitReader(f, maxThumbSourceBytes))
	}

	reader, err := store.GetWithContext(ctx, filePath)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closer, ok := reader.(io.Closer); ok {
			closer.Close()
		}
	}()
	return io.ReadAll(io.LimitReader(reader, maxThumbSourceBytes))
}

// backfillDimensions 入库时没解出宽高的记录，趁原图已在内存里补一次
func (t *ThumbnailTask) backfillDimensions(data []byte) {
	if t.Width > 0 && t.Height > 0 {
		return
	}
	img, err := vips.NewImageFromBuffer(data)
	if err != nil {
		return
	}
	defer img.Close()

	if err := t.Repo.UpdateDimensions(t.Identifier, img.Width(), img.Height()); err != nil {
		utils.LogIfDevf("[ThumbnailTask] backfill dimensions for %s failed: %v", t.Identifier, err)
	}
}
