// internal/player/queue.go
package player

import "sync"

// taskQueue decouples engine-thread callbacks from controller state.
// Callbacks enqueue through Put, which only takes the queue's own small
// mutex and therefore never blocks on the controller lock; the driving
// loop drains the queue from Update and runs each task under that lock.
type taskQueue struct {
	mu    sync.Mutex
	tasks []func()
}

// Put appends a task in FIFO order. Safe to call from any goroutine.
func (q *taskQueue) Put(fn func()) {
	q.mu.Lock()
	q.tasks = append(q.tasks, fn)
	q.mu.Unlock()
}

// Drain removes and returns every queued task. Tasks enqueued while the
// returned batch is executing land in a fresh slice and wait for the
// next drain.
func (q *taskQueue) Drain() []func() {
	q.mu.Lock()
	tasks := q.tasks
	q.tasks = nil
	q.mu.Unlock()
	return tasks
}

// Len returns the number of pending tasks.
func (q *taskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}
