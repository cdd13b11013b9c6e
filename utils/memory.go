package utils

import (
	"errors"
	"runtime"
	"runtime/debug"
	"sync/atomic"
	"time"
)

// ErrMemoryLimit 堆占用超过配置上限
var ErrMemoryLimit = errors.New("memory limit exceeded")

// 单位 MB，0 表示不限制
var memoryLimitMB atomic.Int64

// SetMemoryLimitMB 设置进程堆占用上限（MB），非正值忽略
func SetMemoryLimitMB(limitMB int) {
	if limitMB > 0 {
		memoryLimitMB.Store(int64(limitMB))
	}
}

// GetMemoryLimitMB 当前配置的堆占用上限（MB），0 表示不限制
func GetMemoryLimitMB() int {
	return int(memoryLimitMB.Load())
}

// CheckMemoryLimitWithGC 解码大图前的准入检查。堆占用超限时先做一轮 GC
// 再复查，仍然超限返回 ErrMemoryLimit，让任务择期重试而不是把进程推向 OOM。
func CheckMemoryLimitWithGC() error {
	limit := memoryLimitMB.Load()
	if limit <= 0 {
		return nil
	}

	if heapAllocMB() < limit {
		return nil
	}

	runtime.GC()
	debug.FreeOSMemory()

	if heapAllocMB() >= limit {
		return ErrMemoryLimit
	}
	return nil
}

func heapAllocMB() int64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return int64(m.HeapAlloc / 1024 / 1024)
}

// MemoryStats 运行时内存快照，系统状态接口用
type MemoryStats struct {
	HeapAllocMB float64   `json:"heap_alloc_mb"`
	HeapSysMB   float64   `json:"heap_sys_mb"`
	NumGC       uint32    `json:"num_gc"`
	LastGC      time.Time `json:"last_gc"`
	Goroutines  int       `json:"goroutines"`
}

// GetMemoryStats 采集当前内存快照
func GetMemoryStats() MemoryStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return MemoryStats{
		HeapAllocMB: float64(m.HeapAlloc) / 1024 / 1024,
		HeapSysMB:   float64(m.HeapSys) / 1024 / 1024,
		NumGC:       m.NumGC,
		LastGC:      time.Unix(0, int64(m.LastGC)),
		Goroutines:  runtime.NumGoroutine(),
	}
}
