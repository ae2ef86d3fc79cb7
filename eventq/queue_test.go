package eventq

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestQueue_StrictOrder(t *testing.T) {
	q := New(nil)
	defer q.Close()

	const n = 200
	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup

	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		if err := q.Enqueue("unit", func(context.Context) {
			defer wg.Done()
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}); err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}
	}
	wg.Wait()

	for i, got := range order {
		if got != i {
			t.Fatalf("order violated at position %d: got %d", i, got)
		}
	}
}

func TestQueue_SlowUnitDoesNotReorder(t *testing.T) {
	q := New(nil)
	defer q.Close()

	var mu sync.Mutex
	var order []string
	done := make(chan struct{})

	_ = q.Enqueue("slow", func(context.Context) {
		// Outlives the push of the next unit.
		time.Sleep(50 * time.Millisecond)
		mu.Lock()
		order = append(order, "slow")
		mu.Unlock()
	})
	_ = q.Enqueue("fast", func(context.Context) {
		mu.Lock()
		order = append(order, "fast")
		mu.Unlock()
		close(done)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("queue stalled")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "slow" || order[1] != "fast" {
		t.Errorf("expected [slow fast], got %v", order)
	}
}

func TestQueue_PanicIsolated(t *testing.T) {
	q := New(nil)
	defer q.Close()

	done := make(chan struct{})
	_ = q.Enqueue("boom", func(context.Context) {
		panic("handler fault")
	})
	_ = q.Enqueue("after", func(context.Context) {
		close(done)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("panicking unit broke the chain")
	}
}

func TestQueue_EnqueueNeverBlocks(t *testing.T) {
	q := New(nil)
	defer q.Close()

	started := make(chan struct{})
	release := make(chan struct{})
	_ = q.Enqueue("blocker", func(context.Context) {
		close(started)
		<-release
	})
	// The blocker must be running, not backlogged, before Len is checked.
	<-started

	start := time.Now()
	for i := 0; i < 1000; i++ {
		if err := q.Enqueue("filler", func(context.Context) {}); err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("enqueue should return immediately, took %v", elapsed)
	}
	if q.Len() != 1000 {
		t.Errorf("expected 1000 queued units, got %d", q.Len())
	}
	close(release)
}

func TestQueue_CloseDrainsBacklog(t *testing.T) {
	q := New(nil)

	var mu sync.Mutex
	count := 0
	for i := 0; i < 50; i++ {
		_ = q.Enqueue("unit", func(context.Context) {
			mu.Lock()
			count++
			mu.Unlock()
		})
	}
	q.Close()

	mu.Lock()
	defer mu.Unlock()
	if count != 50 {
		t.Errorf("close should drain the backlog, ran %d of 50", count)
	}

	if err := q.Enqueue("late", func(context.Context) {}); !errors.Is(err, ErrClosed) {
		t.Errorf("enqueue after close should fail with ErrClosed, got %v", err)
	}
}

func TestQueue_CloseIdempotent(t *testing.T) {
	q := New(nil)
	q.Close()
	q.Close()
}
