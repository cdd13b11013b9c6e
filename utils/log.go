package utils

import (
	"log"
	"strings"
	"unicode"

	"github.com/telarin/latentvault/config"
)

// SanitizeLogMessage 清洗要进日志的外部输入。
// 换行一律换成空格，防止伪造日志行；其余控制字符直接丢弃。
func SanitizeLogMessage(msg string) string {
	var sb strings.Builder
	sb.Grow(len(msg))
	for _, r := range msg {
		switch {
		case r == '\n' || r == '\r':
			sb.WriteRune(' ')
		case r == '\t':
			sb.WriteRune(r)
		case unicode.IsPrint(r) || unicode.IsGraphic(r):
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// SanitizeLogUsername 用户名入日志前清洗并截断
func SanitizeLogUsername(username string) string {
	if len(username) > 50 {
		username = username[:50] + "..."
	}
	return SanitizeLogMessage(username)
}

// LogIfDevf 仅开发环境输出的调试日志
func LogIfDevf(format string, args ...interface{}) {
	if !config.IsDevelopment() {
		return
	}
	log.Printf(format, args...)
}
