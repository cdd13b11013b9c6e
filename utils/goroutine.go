package utils

import (
	"log"
	"runtime/debug"
)

// SafeGo 启动拦截 panic 的后台 goroutine。
// 崩溃只记日志带调用栈，不拖垮进程。
func SafeGo(fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("[SafeGo] panic recovered: %v\n%s", r, debug.Stack())
			}
		}()
		fn()
	}()
}
