package worker

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// waitFor 轮询等待条件成立，统计计数器在任务收尾后才更新，直接断言会有竞争
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for: %s", msg)
}

// TestPoolPanicRecovery panic 的任务只记失败，worker 本身要活下来
func TestPoolPanicRecovery(t *testing.T) {
	pool := NewPool(2, 10)
	defer pool.Stop()

	var completed int32
	var wg sync.WaitGroup
	wg.Add(5)

	for i := 0; i < 2; i++ {
		pool.Submit(func() {
			defer wg.Done()
			panic("boom")
		})
	}
	for i := 0; i < 3; i++ {
		pool.Submit(func() {
			defer wg.Done()
			atomic.AddInt32(&completed, 1)
		})
	}

	wg.Wait()

	if got := atomic.LoadInt32(&completed); got != 3 {
		t.Errorf("expected 3 completed tasks, got %d", got)
	}

	waitFor(t, 2*time.Second, func() bool {
		s := pool.GetStats()
		return s.Failed == 2 && s.Executed == 5
	}, "stats to settle at executed=5 failed=2")
}

// TestPoolGracefulStop Stop 要等在跑的任务收尾
func TestPoolGracefulStop(t *testing.T) {
	pool := NewPool(2, 10)

	var completed int32
	started := make(chan struct{})

	pool.Submit(func() {
		close(started)
		time.Sleep(300 * time.Millisecond)
		atomic.AddInt32(&completed, 1)
	})

	<-started

	start := time.Now()
	pool.Stop()
	elapsed := time.Since(start)

	if elapsed < 250*time.Millisecond {
		t.Errorf("Stop returned in %v, should have waited for the running task", elapsed)
	}
	if got := atomic.LoadInt32(&completed); got != 1 {
		t.Errorf("expected the slow task to finish before Stop returns, completed=%d", got)
	}
}

// TestPoolQueueFullDrops 队列满时 Submit 返回 false 而不是阻塞
func TestPoolQueueFullDrops(t *testing.T) {
	pool := NewPool(1, 2)
	defer pool.Stop()

	started := make(chan struct{})
	blocker := make(chan struct{})
	defer close(blocker)

	// 占住唯一的 worker
	pool.Submit(func() {
		close(started)
		<-blocker
	})
	<-started

	// 填满队列
	if !pool.Submit(func() {}) {
		t.Fatal("first queued task should be accepted")
	}
	if !pool.Submit(func() {}) {
		t.Fatal("second queued task should be accepted")
	}

	if pool.Submit(func() {}) {
		t.Error("Submit should return false when the queue is full")
	}
}

// TestPoolSubmitAfterStop 停止后的池拒绝新任务
func TestPoolSubmitAfterStop(t *testing.T) {
	pool := NewPool(2, 10)
	pool.Stop()

	if pool.Submit(func() {}) {
		t.Error("Submit should return false after Stop")
	}
}

// TestPoolDoubleStop 重复 Stop 不应 panic
func TestPoolDoubleStop(t *testing.T) {
	pool := NewPool(2, 10)
	pool.Stop()
	pool.Stop()
}

// TestPoolStats 统计快照
func TestPoolStats(t *testing.T) {
	pool := NewPool(2, 10)
	defer pool.Stop()

	var wg sync.WaitGroup
	wg.Add(5)
	for i := 0; i < 5; i++ {
		pool.Submit(func() { wg.Done() })
	}
	wg.Wait()

	stats := pool.GetStats()
	if stats.WorkerCount != 2 {
		t.Errorf("WorkerCount = %d, want 2", stats.WorkerCount)
	}
	if stats.QueueCap != 10 {
		t.Errorf("QueueCap = %d, want 10", stats.QueueCap)
	}
	if stats.Submitted != 5 {
		t.Errorf("Submitted = %d, want 5", stats.Submitted)
	}

	waitFor(t, 2*time.Second, func() bool {
		return pool.GetStats().Executed == 5
	}, "all five tasks to be executed")
}

// TestPoolNilTask nil 任务入队但被 worker 跳过
func TestPoolNilTask(t *testing.T) {
	pool := NewPool(2, 10)
	defer pool.Stop()

	if !pool.Submit(nil) {
		t.Fatal("nil task should still be accepted into the queue")
	}

	waitFor(t, time.Second, func() bool {
		return pool.GetStats().Submitted == 1
	}, "submitted counter to reach 1")

	if got := pool.GetStats().Executed; got != 0 {
		t.Errorf("nil task must not count as executed, got %d", got)
	}
}

// TestPoolDefaultSizing 非法参数回落到默认值
func TestPoolDefaultSizing(t *testing.T) {
	pool := NewPool(0, 0)
	defer pool.Stop()

	stats := pool.GetStats()
	if stats.WorkerCount <= 0 {
		t.Error("worker count should default to a positive value")
	}
	if stats.QueueCap != 1000 {
		t.Errorf("QueueCap = %d, want default 1000", stats.QueueCap)
	}
}

// TestPoolConcurrentSubmit 多协程同时提交，总量要对得上
func TestPoolConcurrentSubmit(t *testing.T) {
	pool := NewPool(4, 2000)
	defer pool.Stop()

	const producers = 50
	const perProducer = 20
	const total = producers * perProducer

	var done sync.WaitGroup
	done.Add(total)

	var produce sync.WaitGroup
	for i := 0; i < producers; i++ {
		produce.Add(1)
		go func() {
			defer produce.Done()
			for j := 0; j < perProducer; j++ {
				// 队列远大于总量，不应出现丢弃
				if !pool.Submit(func() { done.Done() }) {
					t.Error("Submit unexpectedly dropped a task")
					done.Done()
				}
			}
		}()
	}

	produce.Wait()
	done.Wait()

	if got := pool.GetStats().Submitted; got != total {
		t.Errorf("Submitted = %d, want %d", got, total)
	}
}

// TestGlobalPool 全局池的初始化、提交与幂等停止
func TestGlobalPool(t *testing.T) {
	InitGlobalPool(2, 10)

	pool := GetGlobalPool()
	if pool == nil {
		t.Fatal("global pool should be initialized")
	}

	var wg sync.WaitGroup
	wg.Add(1)
	if !Submit(func() { wg.Done() }) {
		t.Fatal("Submit to the global pool should succeed")
	}
	wg.Wait()

	StopGlobalPool()
	StopGlobalPool()

	if Submit(func() {}) {
		t.Error("Submit should fail after the global pool is stopped")
	}
}

// BenchmarkPoolSubmit 提交路径的开销，丢弃与否不影响测量
func BenchmarkPoolSubmit(b *testing.B) {
	pool := NewPool(4, 1<<16)
	defer pool.Stop()

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		pool.Submit(func() {})
	}
}
