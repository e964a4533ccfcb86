package workerpool_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lillious/frostfire-gateway/internal/workerpool"
)

func TestPool_ExecutesAllSubmittedJobs(t *testing.T) {
	p := workerpool.New(4)
	p.Start()

	var count int64
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		p.Submit(func() {
			defer wg.Done()
			atomic.AddInt64(&count, 1)
		})
	}
	wg.Wait()
	p.Stop()

	if got := atomic.LoadInt64(&count); got != 200 {
		t.Errorf("expected 200 jobs executed, got %d", got)
	}
}

func TestPool_BoundsConcurrency(t *testing.T) {
	const workers = 3
	p := workerpool.New(workers)
	p.Start()

	var active int64
	var maxActive int64
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		p.Submit(func() {
			defer wg.Done()
			n := atomic.AddInt64(&active, 1)
			mu.Lock()
			if n > maxActive {
				maxActive = n
			}
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt64(&active, -1)
		})
	}
	wg.Wait()
	p.Stop()

	if maxActive > workers {
		t.Errorf("expected at most %d concurrent jobs, observed %d", workers, maxActive)
	}
}

func TestNew_NonPositiveWorkerCountDefaultsToOne(t *testing.T) {
	p := workerpool.New(0)
	p.Start()
	done := make(chan struct{})
	p.Submit(func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("job never ran")
	}
	p.Stop()
}
