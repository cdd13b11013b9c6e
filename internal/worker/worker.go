package worker

import (
	"log"
	"runtime"
	"sync"
	"sync/atomic"
)

// Pool 固定大小的后台任务池。提交非阻塞，队列满直接丢弃。
type Pool struct {
	workers int
	queue   chan func()
	wg      sync.WaitGroup

	mu      sync.RWMutex
	stopped bool

	submitted uint64
	executed  uint64
	failed    uint64
}

// Stats 池的运行统计快照
type Stats struct {
	WorkerCount int
	QueueCap    int
	QueueLen    int
	Submitted   uint64
	Executed    uint64
	Failed      uint64
}

// NewPool 创建并启动任务池
func NewPool(workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU() * 2
	}
	if queueSize <= 0 {
		queueSize = 1000
	}

	p := &Pool{
		workers: workers,
		queue:   make(chan func(), queueSize),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}

	log.Printf("Worker pool started with %d workers (queue %d)", workers, queueSize)
	return p
}

// Submit 非阻塞提交。队列满或池已停止时返回 false。
func (p *Pool) Submit(fn func()) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopped {
		return false
	}
	select {
	case p.queue <- fn:
		atomic.AddUint64(&p.submitted, 1)
		return true
	default:
		log.Println("WARN: worker pool queue is full, task dropped")
		return false
	}
}

// Stop 优雅停止：不再接收新任务，排空队列并等正在执行的任务结束。
// 可重复调用。
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
	log.Println("Worker pool stopped")
}

// GetStats 读取统计
func (p *Pool) GetStats() Stats {
	return Stats{
		WorkerCount: p.workers,
		QueueCap:    cap(p.queue),
		QueueLen:    len(p.queue),
		Submitted:   atomic.LoadUint64(&p.submitted),
		Executed:    atomic.LoadUint64(&p.executed),
		Failed:      atomic.LoadUint64(&p.failed),
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for fn := range p.queue {
		if fn == nil {
			continue
		}
		p.execute(fn)
	}
}

// execute 执行任务并捕获 panic，单个任务不能拖垮 worker
func (p *Pool) execute(fn func()) {
	atomic.AddUint64(&p.executed, 1)
	defer func() {
		if r := recover(); r != nil {
			atomic.AddUint64(&p.failed, 1)
			log.Printf("Panic recovered in worker task: %v", r)
		}
	}()
	fn()
}

var (
	globalPool *Pool
	poolOnce   sync.Once
)

// InitGlobalPool 初始化全局任务池，只生效一次
func InitGlobalPool(workers, queueSize int) {
	poolOnce.Do(func() {
		globalPool = NewPool(workers, queueSize)
	})
}

// GetGlobalPool 获取全局任务池
func GetGlobalPool() *Pool {
	return globalPool
}

// StopGlobalPool 停止全局任务池，可重复调用
func StopGlobalPool() {
	if globalPool != nil {
		globalPool.Stop()
	}
}

// Submit 提交到全局池，未初始化时先用默认参数建池
func Submit(fn func()) bool {
	if globalPool == nil {
		InitGlobalPool(0, 0)
	}
	return globalPool.Submit(fn)
}
