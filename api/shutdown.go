// File: api/shutdown.go
// Package api's GracefulShutdown capability.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// GracefulShutdown is implemented by Runtime: Shutdown runs spec.md 5's
// full sequence — signal every acceptor/reactor to stop producing new
// work, join the I/O loops, stop the worker pool, and only then release
// buffer pools and close remaining sockets — rather than a bare process
// exit.
type GracefulShutdown interface {
	// Shutdown blocks until every subsystem has torn down, aggregating
	// any errors hit along the way.
	Shutdown() error
}
