package worker

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSubmitRunsAllTasks(t *testing.T) {
	e := NewExecutor(4, 16)
	defer e.Stop()

	var n atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		e.Submit(func() {
			defer wg.Done()
			n.Add(1)
		})
	}
	wg.Wait()

	if got := n.Load(); got != 50 {
		t.Fatalf("executed %d tasks, want 50", got)
	}
}

func TestTaskPanicDoesNotKillWorker(t *testing.T) {
	e := NewExecutor(1, 4)
	defer e.Stop()

	done := make(chan struct{})
	e.Submit(func() { panic("boom") })
	e.Submit(func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not continue processing after a panicking task")
	}
}

func TestStopDrainsBeforeJoining(t *testing.T) {
	e := NewExecutor(2, 8)
	var n atomic.Int64
	for i := 0; i < 8; i++ {
		e.Submit(func() { n.Add(1) })
	}
	e.Stop()
	if got := n.Load(); got != 8 {
		t.Fatalf("expected Stop to wait for queued tasks, ran %d of 8", got)
	}
}
