package rpcsession

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestWriteQueueFIFOOrdering(t *testing.T) {
	var mu sync.Mutex
	var order []int

	q := newWriteQueue(func(bufs [][]byte) error {
		mu.Lock()
		order = append(order, int(bufs[0][0]))
		mu.Unlock()
		return nil
	})
	defer q.close()

	done := make(chan struct{}, 3)
	for i := 0; i < 3; i++ {
		q.push([][]byte{{byte(i)}}, func(error) { done <- struct{}{} })
	}
	for i := 0; i < 3; i++ {
		<-done
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 || order[0] != 0 || order[1] != 1 || order[2] != 2 {
		t.Fatalf("got order %v, want [0 1 2]", order)
	}
}

func TestWriteQueueFailureDiscardsSubsequentJobs(t *testing.T) {
	boom := errors.New("write boom")
	var calls int
	q := newWriteQueue(func(bufs [][]byte) error {
		calls++
		return boom
	})

	first := make(chan error, 1)
	q.push([][]byte{{1}}, func(err error) { first <- err })
	if err := <-first; err != boom {
		t.Fatalf("first job err = %v, want %v", err, boom)
	}

	second := make(chan error, 1)
	q.push([][]byte{{2}}, func(err error) { second <- err })
	select {
	case err := <-second:
		if err == nil {
			t.Fatal("expected second job to be failed, not succeed")
		}
	case <-time.After(time.Second):
		t.Fatal("second job's completion never fired")
	}

	if calls != 1 {
		t.Fatalf("write func called %d times, want 1 (queue should stop after failure)", calls)
	}
}

func TestWriteQueuePushAfterCloseFailsSynchronously(t *testing.T) {
	q := newWriteQueue(func(bufs [][]byte) error { return nil })
	q.close()

	done := make(chan error, 1)
	q.push([][]byte{{1}}, func(err error) { done <- err })
	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected an error for a push after close")
		}
	case <-time.After(time.Second):
		t.Fatal("push after close never completed")
	}
}
