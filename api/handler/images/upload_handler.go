package images

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/telarin/latentvault/api/common"
	"github.com/telarin/latentvault/api/middleware"
	"github.com/telarin/latentvault/utils"
)

// 一次请求最多接收的文件数
const maxUploadFiles = 10

// 同时走提取管线的上传文件数
const uploadParallelism = 4

type uploadResult struct {
	FileName   string `json:"file_name"`
	Identifier string `json:"identifier,omitempty"`
	URL        string `json:"url,omitempty"`
	FileSize   int64  `json:"file_size,omitempty"`
	Error      string `json:"error,omitempty"`
}

// UploadImages 处理图片上传
// @Summary      上传图片
// @Description  multipart 上传一到多个图片，走与目录导入相同的元数据提取管线
// @Tags         images
// @Accept       multipart/form-data
// @Produce      json
// @Param        files  formData  file  true  "图片文件，键名 file 或 files"
// @Success      200    {object}  common.Response
// @Security     BearerAuth
// @Router       /api/v1/images/upload [post]
func (h *Handler) UploadImages(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		common.RespondError(c, http.StatusBadRequest, "Invalid form data")
		return
	}

	files := form.File["file"]
	if len(files) == 0 {
		files = form.File["files"]
	}
	if len(files) == 0 {
		common.RespondError(c, http.StatusBadRequest, "At least one file is required under the 'file' or 'files' key")
		return
	}
	if len(files) > maxUploadFiles {
		common.RespondError(c, http.StatusBadRequest, fmt.Sprintf("Maximum %d files allowed per upload", maxUploadFiles))
		return
	}

	for _, f := range files {
		if h.maxUploadSize > 0 && f.Size > h.maxUploadSize {
			common.RespondError(c, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("File %s (%.2f MB) exceeds maximum allowed (%d MB)",
					utils.SanitizeLogMessage(f.Filename), float64(f.Size)/1024/1024, h.maxUploadSize/1024/1024))
			return
		}
	}

	userID := c.GetUint(middleware.ContextUserIDKey)

	// 小批量并发跑提取管线，单个文件失败只记入自己的结果
	results := make([]uploadResult, len(files))

	g, ctx := errgroup.WithContext(c.Request.Context())
	g.SetLimit(uploadParallelism)
	for i, fileHeader := range files {
		i, fileHeader := i, fileHeader
		g.Go(func() error {
			results[i] = h.uploadOne(ctx, userID, fileHeader)
			return nil
		})
	}
	_ = g.Wait()

	imported := 0
	for _, res := range results {
		if res.Error == "" {
			imported++
		}
	}

	common.RespondSuccess(c, gin.H{
		"total":    len(files),
		"imported": imported,
		"failed":   len(files) - imported,
		"results":  results,
	})
}

func (h *Handler) uploadOne(ctx context.Context, userID uint, fileHeader *multipart.FileHeader) uploadResult {
	res := uploadResult{FileName: fileHeader.Filename}

	file, err := fileHeader.Open()
	if err != nil {
		res.Error = "failed to open uploaded file"
		return res
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(file)
	if err != nil {
		res.Error = "failed to read uploaded file"
		return res
	}

	img, err := h.importSvc.ImportUpload(ctx, userID, fileHeader.Filename, data)
	if err != nil {
		res.Error = err.Error()
		return res
	}

	res.FileName = img.FileName
	res.Identifier = img.Identifier
	res.URL = utils.BuildImageURL(img.Identifier)
	res.FileSize = img.FileSize
	return res
}
