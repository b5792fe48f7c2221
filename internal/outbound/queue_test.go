package outbound

import (
	"syscall"
	"testing"

	"github.com/atan135/reactor/internal/bufpool"
)

func TestEnqueueFrontPop(t *testing.T) {
	pool := bufpool.New(16, 4, nil)
	q := New(pool)

	if !q.Empty() {
		t.Fatal("new queue should be empty")
	}

	if !q.Enqueue([]byte("hello")) {
		t.Fatal("expected Enqueue to succeed")
	}
	if q.Empty() {
		t.Fatal("queue should not be empty after Enqueue")
	}
	if q.Size() != 1 {
		t.Fatalf("Size() = %d, want 1", q.Size())
	}

	front := q.Front()
	if front == nil || string(front.Data()) != "hello" {
		t.Fatalf("Front() = %v, want buffer containing %q", front, "hello")
	}

	q.Pop()
	if !q.Empty() {
		t.Fatal("queue should be empty after popping its only buffer")
	}
}

func TestEnqueueTooLargeFails(t *testing.T) {
	pool := bufpool.New(4, 4, nil)
	q := New(pool)

	if q.Enqueue([]byte("too big for 4 bytes")) {
		t.Fatal("expected Enqueue to fail when payload exceeds buffer capacity")
	}
	if !q.Empty() {
		t.Fatal("failed Enqueue must not leave a partial buffer queued")
	}
	if got := pool.Stats().Acquired; got != 0 {
		t.Fatalf("failed Enqueue must return the acquired buffer to the pool, acquired=%d", got)
	}
}

func TestClearReturnsBuffersToPool(t *testing.T) {
	pool := bufpool.New(16, 2, nil)
	q := New(pool)

	q.Enqueue([]byte("a"))
	q.Enqueue([]byte("b"))
	if got := pool.Stats().Acquired; got != 2 {
		t.Fatalf("acquired = %d, want 2", got)
	}

	q.Clear()
	if !q.Empty() {
		t.Fatal("Clear should empty the queue")
	}
	if got := pool.Stats().Acquired; got != 0 {
		t.Fatalf("Clear should release all buffers, acquired=%d", got)
	}
}

func TestDrainCompleteAdvancesPastFinishedHead(t *testing.T) {
	fds, err := syscall.Socketpair(syscall.AF_UNIX, syscall.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("Socketpair: %v", err)
	}
	defer syscall.Close(fds[0])
	defer syscall.Close(fds[1])

	pool := bufpool.New(16, 4, nil)
	q := New(pool)
	q.Enqueue([]byte("one"))
	q.Enqueue([]byte("two"))

	head := q.Front()
	n, err := head.SendPartial(fds[0], head.Offset())
	if err != nil || n != head.Size() {
		t.Fatalf("SendPartial() = (%d, %v), want (%d, nil)", n, err, head.Size())
	}
	if !head.IsComplete() {
		t.Fatal("head buffer should be complete after a full send")
	}

	q.DrainComplete()
	if q.Size() != 1 {
		t.Fatalf("Size() = %d, want 1 after draining the completed head", q.Size())
	}
	if string(q.Front().Data()) != "two" {
		t.Fatalf("Front() = %q, want %q", q.Front().Data(), "two")
	}
}
