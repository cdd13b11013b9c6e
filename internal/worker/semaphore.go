package worker

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// 默认同时解码的图像数。原生解码吃内存，不跟随 CPU 数放开。
const defaultImageSlots = 4

// ImageSemaphore 限制同时进行的原生图像解码数量
type ImageSemaphore struct {
	sem *semaphore.Weighted
}

// Acquire 占一个解码席位，ctx 取消时放弃等待
func (s *ImageSemaphore) Acquire(ctx context.Context) error {
	return s.sem.Acquire(ctx, 1)
}

// Release 释放席位
func (s *ImageSemaphore) Release() {
	s.sem.Release(1)
}

var (
	globalSem *ImageSemaphore
	semOnce   sync.Once
)

// InitGlobalSemaphore 设定图像解码并发上限，只生效一次
func InitGlobalSemaphore(slots int) {
	semOnce.Do(func() {
		if slots <= 0 {
			slots = defaultImageSlots
		}
		globalSem = &ImageSemaphore{sem: semaphore.NewWeighted(int64(slots))}
	})
}

// GetGlobalSemaphore 获取全局图像解码信号量，未初始化时按默认并发建一个
func GetGlobalSemaphore() *ImageSemaphore {
	if globalSem == nil {
		InitGlobalSemaphore(0)
	}
	return globalSem
}
