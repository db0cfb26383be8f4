// File: internal/dispatch/submitter.go
package dispatch

import "github.com/momentics/hioreactor/internal/rlog"

// Entry pairs a task with the rearm routine to invoke if the task cannot
// be enqueued: spec.md 4.D's backpressure path re-arms the connection
// "restoring its last interest mask" instead of dropping or blocking.
// Close is invoked instead, per spec.md 4.C, when Rearm itself fails —
// a failed rearm leaves the connection unusable and it must not be left
// dangling out of the readiness set.
type Entry struct {
	Task  Task
	Rearm func() bool
	Close func()
}

// Submitter implements the single-mode / batched-mode submission split
// from spec.md 4.D. One Submitter is owned by exactly one I/O loop; it is
// not safe for concurrent use.
type Submitter struct {
	queue     *Queue
	batchSize int
	staged    []Entry
	log       rlog.Logger

	// FailureLatch is set the first time a Submit or Flush hits
	// backpressure and stays set; nothing clears it. It mirrors the
	// source's per-loop failure-latch flag.
	FailureLatch bool
}

// NewSubmitter builds a Submitter over queue. batchSize <= 1 selects
// single mode (immediate try_push per task); batchSize > 1 selects
// batched mode with a staging buffer of that capacity.
func NewSubmitter(queue *Queue, batchSize int, log rlog.Logger) *Submitter {
	if batchSize < 1 {
		batchSize = 1
	}
	s := &Submitter{queue: queue, batchSize: batchSize, log: log}
	if batchSize > 1 {
		s.staged = make([]Entry, 0, batchSize)
	}
	return s
}

// Submit enqueues e. In batched mode it may only stage the entry,
// deferring the actual push until the buffer fills or Flush is called.
func (s *Submitter) Submit(e Entry) {
	if s.batchSize <= 1 {
		if !s.queue.TryPush(e.Task) {
			s.backpressure(e)
		}
		return
	}
	s.staged = append(s.staged, e)
	if len(s.staged) >= s.batchSize {
		s.Flush()
	}
}

// Flush pushes every staged entry with one try_push_bulk call. Entries
// past the successfully-pushed prefix are re-armed (spec.md 4.D: "re-arms
// exactly the tail-end of the batch that failed to enqueue"). Called
// unconditionally at the end of every poll iteration (spec.md 4.E).
func (s *Submitter) Flush() {
	if len(s.staged) == 0 {
		return
	}
	tasks := make([]Task, len(s.staged))
	for i, e := range s.staged {
		tasks[i] = e.Task
	}
	n := s.queue.TryPushBulk(tasks)
	for i := n; i < len(s.staged); i++ {
		s.backpressure(s.staged[i])
	}
	s.staged = s.staged[:0]
}

func (s *Submitter) backpressure(e Entry) {
	s.FailureLatch = true
	if e.Rearm != nil && e.Rearm() {
		return
	}
	if s.log != nil {
		s.log.Warn("dispatch: rearm failed after queue backpressure, closing connection")
	}
	if e.Close != nil {
		e.Close()
	}
}
