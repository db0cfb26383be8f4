// File: handler.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package hioreactor

import "github.com/momentics/hioreactor/internal/conn"

// Connection is the handle a ConnHandler's callbacks receive: read/write
// the connection's ring buffers, inspect its user context, and watch its
// peer-closed latch. It is a direct alias of the internal connection
// controller so callbacks pay no wrapping cost.
type Connection = conn.Connection

// ConnHandler is the set of lifecycle callbacks a caller registers with
// SetCallback. Any field may be left nil; spec.md 6 requires only that
// at least one is non-nil at Listen/Bind time.
//
// Modeled as a struct of optional function fields rather than an
// interface a caller must fully implement, matching ioloop.Handlers'
// shape one layer down.
type ConnHandler struct {
	// Connect runs once per accepted TCP connection, before it is added
	// to an I/O loop. Its return value becomes the connection's user
	// context. Returning a non-nil error refuses the connection.
	Connect func() (interface{}, error)

	// Close runs once a connection has been scheduled for close and
	// drained from the close list, after every read/write callback tied
	// to it has finished.
	Close func(c *Connection)

	// Read runs when BytesInReadBuffer() has crossed the read watermark.
	Read func(c *Connection)

	// Write runs when send capacity has crossed the write watermark.
	Write func(c *Connection)

	// Datagram runs once per received UDP datagram, off a worker thread.
	// It may call Runtime.SendTo to reply.
	Datagram func(data []byte, srcIP string, srcPort int)
}

func (h ConnHandler) empty() bool {
	return h.Connect == nil && h.Close == nil && h.Read == nil && h.Write == nil && h.Datagram == nil
}
