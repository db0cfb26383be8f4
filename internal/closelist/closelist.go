// File: internal/closelist/closelist.go
// Package closelist implements the acceptor's deferred-close list from
// spec.md 3 and 4.E: connections scheduled for close are queued here by
// I/O loops and drained in a batch by the acceptor on its ~50ms timer
// tick, rather than being torn down synchronously from inside epoll
// dispatch.
//
// Grounded on the teacher's go.mod dependency on github.com/eapache/queue
// (declared but never wired into any teacher package) and spec.md 5's
// "single mutex, short critical sections (push one element; batch-move-
// and-release on drain)" contract.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package closelist

import (
	"sync"

	"github.com/eapache/queue"
)

// Item is anything the close list can hold. internal/conn.Connection
// implements this so the reactor can push a connection onto the list
// without closelist importing internal/conn.
type Item interface {
	// FD reports the file descriptor being closed, for logging.
	FD() int
}

// List is a FIFO of pending closes guarded by a single mutex.
type List struct {
	mu sync.Mutex
	q  *queue.Queue
}

// New builds an empty close list.
func New() *List {
	return &List{q: queue.New()}
}

// Push schedules item for close. Called from an I/O loop's dispatch path
// (never blocks, never allocates beyond the queue's own growth).
func (l *List) Push(item Item) {
	l.mu.Lock()
	l.q.Add(item)
	l.mu.Unlock()
}

// Len reports the number of pending items, for diagnostics.
func (l *List) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.q.Length()
}

// DrainAll atomically empties the list and returns everything that was
// queued, in FIFO order. The acceptor calls this once per ~50ms tick and
// then runs close-callback/close(fd)/table-removal/live_count-- for each
// item outside the lock (spec.md 4.E step 3).
func (l *List) DrainAll() []Item {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := l.q.Length()
	if n == 0 {
		return nil
	}
	out := make([]Item, 0, n)
	for l.q.Length() > 0 {
		out = append(out, l.q.Remove().(Item))
	}
	return out
}
