// Package worker provides a fixed-size goroutine pool with a bounded
// queue. When the queue is full the submitting goroutine runs the task
// itself, so load sheds onto callers instead of growing unbounded.
package worker

import (
	"sync"

	"go.uber.org/zap"
)

// Pool executes submitted tasks on a fixed set of worker goroutines.
type Pool struct {
	name   string
	tasks  chan func()
	logger *zap.Logger

	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
}

// NewPool starts workers goroutines reading from a queue of queueSize.
// A nil logger disables logging.
func NewPool(name string, workers, queueSize int, logger *zap.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Pool{
		name:   name,
		tasks:  make(chan func(), queueSize),
		logger: logger,
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for task := range p.tasks {
		p.runTask(task)
	}
}

// runTask contains a panicking task so one bad task cannot take down
// the worker or the submitting goroutine.
func (p *Pool) runTask(task func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("task panicked",
				zap.String("pool", p.name),
				zap.Any("panic", r))
		}
	}()
	task()
}

// Submit runs the task on the pool. If the queue is full, or the pool
// has been stopped, the task runs synchronously on the caller's
// goroutine. Submit never drops a task.
func (p *Pool) Submit(task func()) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		p.runTask(task)
		return
	}
	select {
	case p.tasks <- task:
		p.mu.Unlock()
	default:
		p.mu.Unlock()
		p.logger.Warn("pool queue full, running task on caller",
			zap.String("pool", p.name))
		p.runTask(task)
	}
}

// Stop drains the queue and waits for in-flight tasks to finish.
// Submissions after Stop run on the caller.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.tasks)
	p.mu.Unlock()

	p.wg.Wait()
}

// QueueDepth is the number of tasks waiting in the queue.
func (p *Pool) QueueDepth() int {
	return len(p.tasks)
}

// QueueCapacity is the size of the bounded queue.
func (p *Pool) QueueCapacity() int {
	return cap(p.tasks)
}

// Name identifies the pool in logs and metrics.
func (p *Pool) Name() string {
	return p.name
}
