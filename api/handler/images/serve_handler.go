package images

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"
	"unicode"

	"github.com/gin-gonic/gin"

	"github.com/telarin/latentvault/api/common"
	"github.com/telarin/latentvault/cache"
	"github.com/telarin/latentvault/database/models"
	"github.com/telarin/latentvault/internal/worker"
	"github.com/telarin/latentvault/storage"
	"github.com/telarin/latentvault/utils"
	"github.com/telarin/latentvault/utils/pool"
)

// 图片内容按标识不变，客户端可以长缓存；但内容是私有的，不进共享缓存
const imageCacheControl = "private, max-age=2592000, immutable"

// GetImage 获取图片原始文件
// @Summary      图片原始文件
// @Description  返回图片原始字节，所有者和被共享者可访问
// @Tags         serving
// @Produce      octet-stream
// @Param        identifier  path  string  true  "图片标识"
// @Success      200  {file}    file
// @Failure      404  {object}  common.Response
// @Security     BearerAuth
// @Router       /images/{identifier} [get]
func (h *Handler) GetImage(c *gin.Context) {
	identifier := c.Param("identifier")
	if identifier == "" {
		common.RespondError(c, http.StatusBadRequest, "Image identifier is required")
		return
	}

	img, ok := h.visibleImage(c, identifier)
	if !ok {
		return
	}

	h.serveOriginalImage(c, img)
}

// GetThumbnail 获取缩略图
// @Summary      图片缩略图
// @Description  返回 webp 缩略图；缩略图未就绪或文件丢失时退回原图，丢失的会重新排队生成
// @Tags         serving
// @Produce      octet-stream
// @Param        identifier  path  string  true  "图片标识"
// @Success      200  {file}    file
// @Failure      404  {object}  common.Response
// @Security     BearerAuth
// @Router       /thumbnails/{identifier} [get]
func (h *Handler) GetThumbnail(c *gin.Context) {
	identifier := c.Param("identifier")
	if identifier == "" {
		common.RespondError(c, http.StatusBadRequest, "Image identifier is required")
		return
	}

	img, ok := h.visibleImage(c, identifier)
	if !ok {
		return
	}

	if !img.ThumbStatus.IsReady() || h.local == nil {
		h.serveOriginalImage(c, img)
		return
	}

	file, err := h.local.OpenFile(c.Request.Context(), worker.ThumbnailPath(img.Identifier))
	if err != nil {
		// 标记就绪但文件没了，排队重建，本次退回原图
		if h.thumbs != nil {
			h.thumbs.EnqueueRegenerate(img, models.ThumbStatusReady)
		}
		h.serveOriginalImage(c, img)
		return
	}
	defer func() { _ = file.Close() }()

	stat, err := file.Stat()
	if err != nil {
		h.serveOriginalImage(c, img)
		return
	}

	c.Header("Content-Type", "image/webp")
	c.Header("Cache-Control", imageCacheControl)
	http.ServeContent(c.Writer, c.Request, "", stat.ModTime(), file)
}

// serveOriginalImage 提供原图
func (h *Handler) serveOriginalImage(c *gin.Context, img *models.Image) {
	identifier := img.Identifier

	// 检查缓存
	imageData, err := h.cacheHelper.GetCachedImageData(c.Request.Context(), identifier)
	if err == nil {
		h.serveImageData(c, img, imageData)
		return
	}

	// 引用导入的记录指向库区之外的绝对路径，直接走文件系统
	if h.serveByFilesystem(c, img) {
		return
	}

	// 本地存储 sendfile
	if opener, ok := h.store.(storage.FileOpener); ok {
		if h.serveBySendfile(c, img, opener) {
			return
		}
	}

	// 远程存储。超过缓存上限的大文件直接流式透传，不进内存。
	if img.FileSize > cache.DefaultMaxCacheableImageSize {
		h.streamFromRemote(c, img)
		return
	}

	data, err := h.fetchFromRemote(identifier)
	if err != nil {
		log.Printf("[serveOriginal] Failed to get image %s: %v", utils.SanitizeLogMessage(identifier), err)
		common.RespondError(c, http.StatusNotFound, "Image file not found")
		return
	}

	h.serveImageData(c, img, data)
}

// serveByFilesystem 直接从文件系统提供引用模式的图片
func (h *Handler) serveByFilesystem(c *gin.Context, img *models.Image) bool {
	if !filepath.IsAbs(img.FilePath) {
		return false
	}

	file, err := os.Open(img.FilePath)
	if err != nil {
		return false
	}
	defer func() { _ = file.Close() }()

	stat, err := file.Stat()
	if err != nil || stat.IsDir() {
		return false
	}

	h.writeImageHeaders(c, img)
	http.ServeContent(c.Writer, c.Request, img.FileName, stat.ModTime(), file)
	return true
}

// serveBySendfile 使用 sendfile 零拷贝传输
func (h *Handler) serveBySendfile(c *gin.Context, img *models.Image, opener storage.FileOpener) bool {
	file, err := opener.OpenFile(c.Request.Context(), img.FilePath)
	if err != nil {
		return false
	}
	defer func() { _ = file.Close() }()

	stat, err := file.Stat()
	if err != nil {
		return false
	}

	h.writeImageHeaders(c, img)
	http.ServeContent(c.Writer, c.Request, img.FileName, stat.ModTime(), file)

	// 异步预热元数据缓存
	go h.warmCache(img)

	return true
}

// fetchFromRemote 从远程存储获取图片数据（带 singleflight 防击穿）
func (h *Handler) fetchFromRemote(identifier string) ([]byte, error) {
	v, err, _ := fileDownloadGroup.Do(identifier, func() (interface{}, error) {
		// 双重检查缓存
		if data, err := h.cacheHelper.GetCachedImageData(context.Background(), identifier); err == nil {
			return data, nil
		}

		img, err := h.fetchImageMetadata(context.Background(), identifier)
		if err != nil {
			return nil, err
		}

		stream, err := h.store.GetWithContext(context.Background(), img.FilePath)
		if err != nil {
			return nil, err
		}
		defer func() {
			if closer, ok := stream.(io.Closer); ok {
				_ = closer.Close()
			}
		}()

		data, err := io.ReadAll(stream)
		if err != nil {
			return nil, err
		}

		// 异步缓存
		go func() {
			if h.cacheHelper != nil {
				_ = h.cacheHelper.CacheImageData(context.Background(), identifier, data)
			}
		}()

		return data, nil
	})

	if err != nil {
		return nil, err
	}

	return v.([]byte), nil
}

// streamFromRemote 大文件直接流式透传，共享缓冲池做手动拷贝
func (h *Handler) streamFromRemote(c *gin.Context, img *models.Image) {
	stream, err := h.store.GetWithContext(c.Request.Context(), img.FilePath)
	if err != nil {
		log.Printf("WARN: File for identifier '%s' not found in storage, but exists in DB. Error: %v",
			utils.SanitizeLogMessage(img.Identifier), err)
		common.RespondError(c, http.StatusNotFound, "Image file not found in storage")
		return
	}
	defer func() {
		if closer, ok := stream.(io.Closer); ok {
			_ = closer.Close()
		}
	}()

	if img.FileSize > 0 {
		c.Header("Content-Length", strconv.FormatInt(img.FileSize, 10))
	}
	if err := h.serveImageStreamManualCopy(c, img, stream); err != nil {
		log.Printf("Failed to stream image %s: %v", utils.SanitizeLogMessage(img.Identifier), err)
	}
}

// serveImageData 直接提供图片数据
func (h *Handler) serveImageData(c *gin.Context, img *models.Image, data []byte) {
	reader := bytes.NewReader(data)
	h.writeImageHeaders(c, img)
	http.ServeContent(c.Writer, c.Request, img.FileName, time.Time{}, reader)
}

// serveImageStreamManualCopy 手动拷贝流式图片
func (h *Handler) serveImageStreamManualCopy(c *gin.Context, img *models.Image, reader io.Reader) error {
	h.writeImageHeaders(c, img)

	bufPtr := pool.GetBuffer()
	defer pool.PutBuffer(bufPtr)
	buf := *bufPtr

	_, err := io.CopyBuffer(c.Writer, reader, buf)
	if err != nil {
		// 客户端中途取消或断开不算故障
		if utils.IsClientDisconnect(err) {
			return nil
		}
		return err
	}
	return nil
}

// writeImageHeaders 设置图片响应头
func (h *Handler) writeImageHeaders(c *gin.Context, img *models.Image) {
	contentType := img.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("Content-Type", contentType)
	c.Header("Cache-Control", imageCacheControl)

	if img.FileName != "" {
		asciiName := toASCII(img.FileName)
		if asciiName == img.FileName {
			c.Header("Content-Disposition", fmt.Sprintf(`inline; filename="%s"`, asciiName))
		} else {
			rfc5987Name := url.QueryEscape(img.FileName)
			c.Header("Content-Disposition", fmt.Sprintf(`inline; filename="%s"; filename*=UTF-8''%s`, asciiName, rfc5987Name))
		}
	}
}

// toASCII 将字符串转换为 ASCII 表示（非 ASCII 字符转为下划线）
func toASCII(s string) string {
	var result []rune
	for _, r := range s {
		if r > unicode.MaxASCII {
			result = append(result, '_')
		} else {
			result = append(result, r)
		}
	}
	return string(result)
}
