package validator

import "net/http"

// 允许入库的图片 MIME 类型
var allowedImageMimeTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
	"image/bmp":  true,
}

// IsImageBytes 按魔数探测内容是否为允许的图片类型，返回探测到的 MIME。
// 导入和上传都把整个文件拿在内存里，直接探测字节而不是流。
func IsImageBytes(data []byte) (bool, string) {
	head := data
	if len(head) > 512 {
		head = head[:512]
	}

	// http.DetectContentType 只看前 512 字节
	mimeType := http.DetectContentType(head)
	return allowedImageMimeTypes[mimeType], mimeType
}
