// Package api
// Author: momentics <momentics@gmail.com>
//
// Sentinel errors for the reactor's error taxonomy (spec.md 7).

package api

import "errors"

var (
	// ErrPeerClosed names the condition in which a connection's peer-closed
	// latch is set (EPOLLRDHUP, EPIPE, ECONNRESET; a recv EOF does not set
	// it). Connection's write methods report that condition as a -2 return
	// rather than as this error, and a write is still attempted on the
	// socket after the latch is set.
	ErrPeerClosed = errors.New("hioreactor: peer closed connection")

	// ErrWouldBlock indicates a non-blocking socket operation could not
	// complete immediately (EAGAIN/EWOULDBLOCK). No function returns it:
	// the connection drain loops handle EAGAIN internally.
	ErrWouldBlock = errors.New("hioreactor: operation would block")

	// ErrPoolExhausted names the state in which a buffer pool's slab
	// allocator fails at every retry size (spec.md 4.B allocation strategy).
	// SlabPool.Get signals that state by returning nil; no function returns
	// this error.
	ErrPoolExhausted = errors.New("hioreactor: buffer pool exhausted")

	// ErrOneShotViolation marks a programmer error: a callback returned
	// without calling exactly one of EnableEvents or Close, or called
	// both. Nothing in the runtime detects or logs this condition.
	ErrOneShotViolation = errors.New("hioreactor: callback violated one-shot contract")

	// ErrPoolResetNotIdle names a pool reset attempted while buffers issued
	// by the pool have not all been returned. SlabPool.Reset returns
	// nothing and does nothing in that state; no function returns this error.
	ErrPoolResetNotIdle = errors.New("hioreactor: buffer pool reset attempted with buffers checked out")

	// ErrAlreadyListening is returned by Listen/Bind called a second time;
	// both are one-shot per spec.md 6.
	ErrAlreadyListening = errors.New("hioreactor: Listen/Bind already called")

	// ErrNoCallback is returned by SetCallback when every hook is nil.
	ErrNoCallback = errors.New("hioreactor: at least one callback must be non-nil")

	// ErrInvalidConfig is returned when a Config field falls outside its
	// documented range (spec.md 6).
	ErrInvalidConfig = errors.New("hioreactor: invalid configuration")

	// ErrClosed names an operation attempted after Release. Runtime methods
	// do not check for a prior Release and do not return this error.
	ErrClosed = errors.New("hioreactor: runtime already released")
)
