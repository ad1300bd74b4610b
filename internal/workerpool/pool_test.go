package workerpool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestPoolRunsSubmittedTasks(t *testing.T) {
	pool := New(2, 8, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)
	defer pool.Stop()

	var n int64
	var wg sync.WaitGroup
	wg.Add(10)
	for i := 0; i < 10; i++ {
		pool.Submit(func() {
			atomic.AddInt64(&n, 1)
			wg.Done()
		})
	}
	wg.Wait()

	if got := atomic.LoadInt64(&n); got != 10 {
		t.Errorf("expected 10 tasks to run, got %d", got)
	}
}

func TestPoolDropsWhenQueueFull(t *testing.T) {
	pool := New(1, 1, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)
	defer pool.Stop()

	block := make(chan struct{})
	pool.Submit(func() { <-block })

	time.Sleep(10 * time.Millisecond)

	pool.Submit(func() {})
	pool.Submit(func() {})

	if pool.DroppedTasks() == 0 {
		t.Error("expected at least one dropped task once queue and worker are saturated")
	}

	close(block)
}

func TestPoolRecoversFromPanic(t *testing.T) {
	pool := New(1, 4, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)
	defer pool.Stop()

	pool.Submit(func() { panic("boom") })

	var ran int32
	done := make(chan struct{})
	pool.Submit(func() {
		atomic.StoreInt32(&ran, 1)
		close(done)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not recover from panic and process the next task")
	}

	if atomic.LoadInt32(&ran) != 1 {
		t.Error("expected task after panic to still run")
	}
}
