package utils

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/telarin/latentvault/config"
)

// BuildImageURL 图片原始文件的访问地址
func BuildImageURL(identifier string) string {
	return fmt.Sprintf("%s/images/%s", config.Get().BaseURL(), identifier)
}

// BuildThumbnailURL 图片缩略图的访问地址
func BuildThumbnailURL(identifier string) string {
	return fmt.Sprintf("%s/thumbnails/%s", config.Get().BaseURL(), identifier)
}

// ExtractCookieDomain 从配置的站点地址推导 Cookie 的 Domain 属性。
// 接受带协议、端口或路径的写法，IPv6 字面量去掉方括号。
func ExtractCookieDomain(domain string) string {
	if domain == "" {
		return ""
	}

	host := domain
	if strings.Contains(host, "://") {
		if u, err := url.Parse(host); err == nil && u.Host != "" {
			host = u.Host
		}
	} else if idx := strings.Index(host, "/"); idx >= 0 {
		host = host[:idx]
	}

	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return strings.Trim(host, "[]")
}
