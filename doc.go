// File: doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package hioreactor is a high-throughput, event-driven TCP/UDP server
// runtime built on epoll-style readiness multiplexing with one-shot
// rearming, per-connection ring buffers, a reference-counted slab buffer
// pool, and a worker-thread pool fed by bounded queues.
//
// A caller builds a Config, constructs a Runtime with New, registers a
// ConnHandler with SetCallback, opens a TCP listener with Listen and/or
// a UDP receiver set with Bind, then calls EventLoop to run until
// SetExitFlag (directly, or via a signal armed with SetSignalExit)
// initiates shutdown. Release tears down every subsystem once EventLoop
// has returned.
package hioreactor
