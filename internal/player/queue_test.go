// internal/player/queue_test.go
package player

import (
	"sync"
	"testing"
)

func TestTaskQueue_FIFO(t *testing.T) {
	var q taskQueue
	var got []int

	for i := 0; i < 5; i++ {
		i := i
		q.Put(func() { got = append(got, i) })
	}
	for _, fn := range q.Drain() {
		fn()
	}

	want := []int{0, 1, 2, 3, 4}
	if len(got) != len(want) {
		t.Fatalf("executed %d tasks, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("task %d ran out of order: got %d", i, got[i])
		}
	}
}

func TestTaskQueue_EnqueueDuringDrainDeferred(t *testing.T) {
	var q taskQueue
	var second bool

	q.Put(func() {
		q.Put(func() { second = true })
	})

	for _, fn := range q.Drain() {
		fn()
	}
	if second {
		t.Fatal("task enqueued during drain ran in the same drain")
	}
	if q.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", q.Len())
	}

	for _, fn := range q.Drain() {
		fn()
	}
	if !second {
		t.Fatal("deferred task did not run on the next drain")
	}
}

func TestTaskQueue_ConcurrentEnqueue(t *testing.T) {
	const producers = 10
	const perProducer = 10

	var q taskQueue
	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[int]int)

	wg.Add(producers)
	for p := 0; p < producers; p++ {
		p := p
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				id := p*perProducer + i
				q.Put(func() {
					mu.Lock()
					seen[id]++
					mu.Unlock()
				})
			}
		}()
	}

	// Drain repeatedly while producers are still enqueuing.
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	for {
		for _, fn := range q.Drain() {
			fn()
		}
		select {
		case <-done:
			for _, fn := range q.Drain() {
				fn()
			}
			if len(seen) != producers*perProducer {
				t.Fatalf("executed %d distinct tasks, want %d", len(seen), producers*perProducer)
			}
			for id, count := range seen {
				if count != 1 {
					t.Fatalf("task %d ran %d times", id, count)
				}
			}
			return
		default:
		}
	}
}

func TestTaskQueue_PerProducerOrder(t *testing.T) {
	var q taskQueue
	var got []int

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			i := i
			q.Put(func() { got = append(got, i) })
		}
	}()
	wg.Wait()

	for _, fn := range q.Drain() {
		fn()
	}

	if len(got) != 100 {
		t.Fatalf("executed %d tasks, want 100", len(got))
	}
	for i := 0; i < 100; i++ {
		if got[i] != i {
			t.Fatalf("task at slot %d = %d, enqueue order not preserved", i, got[i])
		}
	}
}
