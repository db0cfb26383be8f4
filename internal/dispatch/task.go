// File: internal/dispatch/task.go
// Package dispatch implements the worker dispatch layer from spec.md 4.D:
// a bounded per-I/O-loop task queue with single/batched submission modes,
// backpressure via re-arming kernel readiness instead of blocking or
// dropping, and a long-lived worker pool with optional work-stealing.
//
// Grounded on the teacher's internal/concurrency.Executor (worker pool,
// panic-recovering task execution, graceful Close) and
// internal/concurrency.lockFreeQueue (ring-buffer layout), generalized
// from the teacher's single-producer executor to the spec's bounded
// MPSC queue with try_push/try_push_bulk and rearm-on-backpressure
// semantics the teacher's version does not have.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package dispatch

// Task is one unit of work handed to a worker: a TCP {connection,
// callback} pair or a UDP {datagram, sender address} pair (spec.md 4.D).
type Task interface {
	// Run executes the task on whichever worker dequeued it. Panics are
	// recovered by the worker loop, matching the teacher's
	// executeTask behavior.
	Run()
}

// TaskFunc adapts a plain function to Task.
type TaskFunc func()

func (f TaskFunc) Run() { f() }
