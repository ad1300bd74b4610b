// Package workerpool runs storage-adapter writes off the broker's state
// lock: AddObject/ChangeObject/RemoveObject calls go through a fixed pool
// of workers instead of executing inline while a core operation holds the
// lock, so a slow disk never stalls a set/patch/remove call.
package workerpool

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/objtalk/objtalkd/internal/metrics"
)

// Task is a unit of work submitted to the pool.
type Task func()

// Pool is a fixed-size set of worker goroutines draining a bounded task
// queue. When the queue is full, Submit drops the task rather than
// blocking the caller or spawning an unbounded number of goroutines.
type Pool struct {
	workerCount  int
	taskQueue    chan Task
	ctx          context.Context
	wg           sync.WaitGroup
	droppedTasks int64
	logger       zerolog.Logger
}

// New creates a pool with workerCount workers and a queue buffering up to
// queueSize pending tasks. Call Start before Submit.
func New(workerCount, queueSize int, logger zerolog.Logger) *Pool {
	return &Pool{
		workerCount: workerCount,
		taskQueue:   make(chan Task, queueSize),
		logger:      logger,
	}
}

// Start launches the worker goroutines. ctx cancellation drains them.
func (p *Pool) Start(ctx context.Context) {
	p.ctx = ctx
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		select {
		case task, ok := <-p.taskQueue:
			if !ok {
				return
			}
			p.run(task)
		case <-p.ctx.Done():
			return
		}
	}
}

func (p *Pool) run(task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().
				Interface("panic_value", r).
				Str("stack_trace", string(debug.Stack())).
				Msg("worker pool task panicked, worker continues")
		}
	}()
	task()
}

// Submit enqueues task for asynchronous execution. If the queue is full
// the task is dropped and the dropped-task counter incremented; the
// caller is never blocked.
func (p *Pool) Submit(task Task) {
	select {
	case p.taskQueue <- task:
		metrics.StorageWriteQueueDepth.Set(float64(len(p.taskQueue)))
	default:
		atomic.AddInt64(&p.droppedTasks, 1)
		metrics.StorageWritesDropped.Inc()
	}
}

// Stop closes the task queue and waits for in-flight tasks to finish.
func (p *Pool) Stop() {
	close(p.taskQueue)
	p.wg.Wait()
}

func (p *Pool) DroppedTasks() int64 { return atomic.LoadInt64(&p.droppedTasks) }
func (p *Pool) QueueDepth() int     { return len(p.taskQueue) }
func (p *Pool) QueueCapacity() int  { return cap(p.taskQueue) }
