// File: internal/dispatch/queue.go
package dispatch

import "sync"

// Queue is a bounded MPSC-style task queue: any I/O loop or worker may
// push, one or more workers pop. Backed by a mutex and a single
// condition variable rather than the teacher's lock-free SPSC ring,
// because spec.md 4.D requires multiple producers (any I/O loop thread)
// and spec.md 5 explicitly allows "internal mutex + two condvars ... or
// a lock-free MPMC design; either is acceptable."
type Queue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	buf      []Task
	head     int
	count    int
	closed   bool
}

// NewQueue builds a queue with the given fixed capacity
// (worker_queue_length, spec.md 6).
func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	q := &Queue{buf: make([]Task, capacity)}
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

// Cap reports the queue's fixed capacity.
func (q *Queue) Cap() int { return len(q.buf) }

// Len reports the current occupancy.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Closed reports whether Close has been called.
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// TryPush enqueues one task without blocking. Returns false if the queue
// is full or closed — the caller's backpressure path (spec.md 4.D single
// mode).
func (q *Queue) TryPush(t Task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || q.count == len(q.buf) {
		return false
	}
	q.buf[(q.head+q.count)%len(q.buf)] = t
	q.count++
	q.notEmpty.Signal()
	return true
}

// TryPushBulk enqueues as many of ts as fit, in order, returning the
// number actually pushed. The caller re-arms the tail of ts starting at
// the returned index (spec.md 4.D batched mode's "partial successful
// bulk submission re-arms exactly the tail-end of the batch").
func (q *Queue) TryPushBulk(ts []Task) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0
	}
	free := len(q.buf) - q.count
	n := len(ts)
	if n > free {
		n = free
	}
	for i := 0; i < n; i++ {
		q.buf[(q.head+q.count)%len(q.buf)] = ts[i]
		q.count++
	}
	if n > 0 {
		q.notEmpty.Broadcast()
	}
	return n
}

// TryPop dequeues one task without blocking. ok is false if the queue is
// currently empty (whether or not it is closed).
func (q *Queue) TryPop() (t Task, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.count == 0 {
		return nil, false
	}
	return q.popLocked(), true
}

// TryPopBulk dequeues up to max tasks without blocking, draining the
// queue in a single locked pass instead of one TryPop call per task
// (worker_batch_process, spec.md 6 and 9's batch-submit-vs-batch-process
// latency note). Returns fewer than max, or nil, if the queue holds less.
func (q *Queue) TryPopBulk(max int) []Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	if max > q.count {
		max = q.count
	}
	if max <= 0 {
		return nil
	}
	out := make([]Task, max)
	for i := 0; i < max; i++ {
		out[i] = q.popLocked()
	}
	return out
}

// Pop blocks until a task is available or the queue is closed. ok is
// false only once the queue is closed and drained, matching the worker
// loop's "blocking wait is acceptable" contract (spec.md 4.D).
func (q *Queue) Pop() (t Task, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.count == 0 && !q.closed {
		q.notEmpty.Wait()
	}
	if q.count == 0 {
		return nil, false
	}
	return q.popLocked(), true
}

func (q *Queue) popLocked() Task {
	t := q.buf[q.head]
	q.buf[q.head] = nil
	q.head = (q.head + 1) % len(q.buf)
	q.count--
	return t
}

// Close wakes every blocked Pop with ok == false, the queue-stop signal
// the acceptor issues to every worker on shutdown (spec.md 4.E,
// "stop-waiting on each task queue").
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.notEmpty.Broadcast()
}
