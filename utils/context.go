package utils

import (
	"context"
	"errors"
	"strings"
	"syscall"
)

// IsContextCanceled 错误是否由上下文取消引起
func IsContextCanceled(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	// 有些库把取消包成纯文本错误
	return strings.Contains(err.Error(), "context canceled")
}

// IsClientDisconnect 错误是否由客户端断开引起：请求上下文被取消，
// 或写响应时对端已经关掉了连接
func IsClientDisconnect(err error) bool {
	if err == nil {
		return false
	}
	if IsContextCanceled(err) {
		return true
	}
	if errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset by peer")
}
