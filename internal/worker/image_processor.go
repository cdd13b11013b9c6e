package worker

import (
	"bytes"
	"context"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"time"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/telarin/latentvault/storage"
	"github.com/telarin/latentvault/utils"
)

// ImageDimensionsTask 给入库时没解出宽高的记录补采集尺寸
type ImageDimensionsTask struct {
	Identifier string
	FilePath   string
	Repo       ThumbStatusRepo
	Store      storage.Provider
}

// Execute 执行任务
func (t *ImageDimensionsTask) Execute() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	data, err := readImageSource(ctx, t.Store, t.FilePath)
	if err != nil {
		utils.LogIfDevf("[DimensionsTask] read source for %s: %v", t.Identifier, err)
		return
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		utils.LogIfDevf("[DimensionsTask] decode %s: %v", t.Identifier, err)
		return
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return
	}

	if err := t.Repo.UpdateDimensions(t.Identifier, cfg.Width, cfg.Height); err != nil {
		utils.LogIfDevf("[DimensionsTask] update dimensions for %s: %v", t.Identifier, err)
	}
}

// ExtractDimensionsAsync 异步补采集图片尺寸，提交失败只记日志
func ExtractDimensionsAsync(identifier, filePath string, repo ThumbStatusRepo, store storage.Provider) {
	task := &ImageDimensionsTask{
		Identifier: identifier,
		FilePath:   filePath,
		Repo:       repo,
		Store:      store,
	}
	if !Submit(func() { task.Execute() }) {
		utils.LogIfDevf("[DimensionsTask] queue full, dropped %s", identifier)
	}
}
