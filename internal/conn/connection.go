// File: internal/conn/connection.go
// Package conn implements the per-connection controller from spec.md
// 4.C: the public callback-facing surface (read/write/watermarks/rearm)
// plus the internal read_socket/commit_write drain algorithms.
//
// A Connection is single-owner at any instant: one-shot readiness means
// either the owning I/O loop (before a task is staged) or the one worker
// running the connection's callback (after) touches it, never both, so
// no locking is needed inside Connection itself — the same reasoning
// internal/ringbuf.ByteRing relies on.
//
// Grounded on the teacher's protocol/connection.go field layout (fd,
// buffers, user context, callback registration) generalized to the
// spec's ring-buffer-backed, watermark-gated model, and on
// gotcp-epoll's raw unix.Read/unix.Write EAGAIN/EINTR handling for the
// drain loops.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package conn

import (
	"net"
	"strconv"

	"github.com/momentics/hioreactor/api"
	"github.com/momentics/hioreactor/internal/ringbuf"
	"github.com/momentics/hioreactor/internal/rlog"
	"github.com/valyala/bytebufferpool"
	"golang.org/x/sys/unix"
)

// Owner is the slice of an I/O loop a Connection needs: rearming its
// epoll interest and scheduling its eventual close. Kept as a narrow
// interface here (rather than importing internal/ioloop) to avoid an
// import cycle, the same pattern api.Control uses for the runtime facade.
type Owner interface {
	// Rearm restores one-shot readiness for fd with the given interest
	// mask. Returns false on failure (spec.md 4.C: "false = fatal, must
	// call close").
	Rearm(fd int, mask api.EventMask) bool
	// ScheduleClose pushes c onto the deferred close list.
	ScheduleClose(c *Connection)
	// Remove drops fd from the owning loop's epoll set and connection
	// table (EPOLL_CTL_DEL), decrementing that loop's live_count.
	Remove(fd int)
}

// Connection is the per-socket state the reactor and application share.
type Connection struct {
	fd    int
	owner Owner
	log   rlog.Logger

	userCtx interface{}

	readBuf  api.Buffer
	writeBuf api.Buffer
	readRing *ringbuf.ByteRing
	writeRing *ringbuf.ByteRing

	peerClosed     bool
	closeScheduled bool

	lastMask  api.EventMask
	readMark  api.Watermark
	writeMark api.Watermark

	peerAddr string // formatted once at New, for logging only
}

// New builds a Connection over an already-accepted, already-nonblocking
// fd. readBuf/writeBuf are pool-issued buffers this Connection now owns
// exclusively until Release returns them to their pools.
func New(fd int, owner Owner, readBuf, writeBuf api.Buffer, userCtx interface{}, defaultMask api.EventMask, readMark, writeMark api.Watermark, log rlog.Logger) *Connection {
	return &Connection{
		fd:        fd,
		owner:     owner,
		log:       log,
		userCtx:   userCtx,
		readBuf:   readBuf,
		writeBuf:  writeBuf,
		readRing:  ringbuf.New(readBuf.Bytes()),
		writeRing: ringbuf.New(writeBuf.Bytes()),
		lastMask:  defaultMask,
		readMark:  readMark,
		writeMark: writeMark,
		peerAddr:  formatPeerAddr(fd),
	}
}

// formatPeerAddr renders fd's peer address as "ip:port" for log fields,
// using a pooled scratch buffer since this runs once per accepted
// connection on the accept-rate hot path.
func formatPeerAddr(fd int) string {
	sa, err := unix.Getpeername(fd)
	if err != nil {
		return "?"
	}
	var ip net.IP
	var port int
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		ip, port = net.IP(a.Addr[:]), a.Port
	case *unix.SockaddrInet6:
		ip, port = net.IP(a.Addr[:]), a.Port
	default:
		return "?"
	}
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	buf.WriteString(ip.String())
	buf.WriteByte(':')
	buf.WriteString(strconv.Itoa(port))
	return buf.String()
}

// PeerAddr returns the connection's remote "ip:port", cached at accept
// time, for use in log fields.
func (c *Connection) PeerAddr() string { return c.peerAddr }

// FD implements internal/closelist.Item.
func (c *Connection) FD() int { return c.fd }

// UserContext returns the opaque pointer the connect callback returned
// at accept time.
func (c *Connection) UserContext() interface{} { return c.userCtx }

// IsPeerClosed reports the peer_closed latch.
func (c *Connection) IsPeerClosed() bool { return c.peerClosed }

// SetPeerClosed latches peer_closed. Called by the I/O loop's dispatch
// path when EPOLLRDHUP is observed (spec.md 4.E).
func (c *Connection) SetPeerClosed() { c.peerClosed = true }

// LastMask returns the most recently requested interest mask, used by
// RenableEvents and by the I/O loop's degenerate-case rearm.
func (c *Connection) LastMask() api.EventMask { return c.lastMask }

// ReadMark / WriteMark expose the configured watermarks to the I/O loop
// dispatch logic (spec.md 4.E).
func (c *Connection) ReadMark() api.Watermark   { return c.readMark }
func (c *Connection) WriteMark() api.Watermark  { return c.writeMark }

// BytesInReadBuffer / BytesInWriteBuffer report current ring occupancy.
func (c *Connection) BytesInReadBuffer() int  { return c.readRing.BytesReadable() }
func (c *Connection) BytesInWriteBuffer() int { return c.writeRing.BytesReadable() }

// Read copies up to len(dst) bytes out of the read ring. Never fails;
// returns 0 if the ring is empty.
func (c *Connection) Read(dst []byte) int { return c.readRing.CopyOut(dst) }

// Peek copies up to len(dst) bytes without advancing the read position.
func (c *Connection) Peek(dst []byte) int { return c.readRing.Peek(dst) }

// WriteTemp copies src into the write ring, returning the number of
// bytes actually copied (may be less than len(src) if the ring is full).
func (c *Connection) WriteTemp(src []byte) int { return c.writeRing.CopyIn(src) }

// MoveToWriteBuffer copies as much as fits from the read ring into the
// write ring, in memory, and returns the number of bytes moved.
func (c *Connection) MoveToWriteBuffer() int {
	n := c.readRing.BytesReadable()
	if w := c.writeRing.BytesWritable(); n > w {
		n = w
	}
	if n == 0 {
		return 0
	}
	tmp := make([]byte, n)
	c.readRing.CopyOut(tmp)
	return c.writeRing.CopyIn(tmp)
}

// Write sends src directly to the socket, bypassing the write ring.
// Returns bytes sent (may be < len(src)), 0 for would-block, -1 for a
// system error, or -2 if the peer hung up (latches peer_closed).
func (c *Connection) Write(src []byte) int {
	if len(src) == 0 {
		return 0
	}
	for {
		n, err := unix.Write(c.fd, src)
		if err == nil {
			return n
		}
		switch err {
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			return 0
		case unix.EPIPE, unix.ECONNRESET:
			c.peerClosed = true
			return -2
		default:
			return -1
		}
	}
}

// CommitWrite drains the write ring to the socket. Returns the number of
// bytes still buffered on success, -1 on a system error, -2 if the peer
// hung up.
func (c *Connection) CommitWrite() int {
	for {
		span := c.writeRing.LinearReadSpan()
		if len(span) == 0 {
			break
		}
		n, err := unix.Write(c.fd, span)
		if n > 0 {
			c.writeRing.CommitRead(n)
		}
		if err != nil {
			switch err {
			case unix.EINTR:
				continue
			case unix.EAGAIN:
				return c.writeRing.BytesReadable()
			case unix.EPIPE, unix.ECONNRESET:
				c.peerClosed = true
				return -2
			default:
				return -1
			}
		}
		if n < len(span) {
			// Short write: kernel send buffer is full: stop, another
			// EPOLLOUT edge will deliver the rest.
			break
		}
	}
	return c.writeRing.BytesReadable()
}

// WriteBack commits the write ring, then drains the read ring directly
// to the socket. Returns total bytes written by both steps, or a negative
// error code with the same meaning as CommitWrite/Write. The read ring is
// left untouched while the write ring still holds unsent bytes.
func (c *Connection) WriteBack() int {
	before := c.writeRing.BytesReadable()
	left := c.CommitWrite()
	if left < 0 {
		return left
	}
	total := before - left
	if left > 0 {
		return total
	}

	for {
		span := c.readRing.LinearReadSpan()
		if len(span) == 0 {
			break
		}
		n, err := unix.Write(c.fd, span)
		if n > 0 {
			c.readRing.CommitRead(n)
			total += n
		}
		if err != nil {
			switch err {
			case unix.EINTR:
				continue
			case unix.EAGAIN:
				return total
			case unix.EPIPE, unix.ECONNRESET:
				c.peerClosed = true
				return -2
			default:
				return -1
			}
		}
		if n < len(span) {
			break
		}
	}
	return total
}

// ReadSocket implements the internal read_socket drain algorithm
// (spec.md 4.C): pulls from the fd into the read ring until the ring is
// full, EOF, EAGAIN, or a short read. Returns false only on a genuine
// error other than EOF/EAGAIN/EINTR.
func (c *Connection) ReadSocket() bool {
	for {
		span := c.readRing.LinearWriteSpan()
		if len(span) == 0 {
			return true
		}
		n, err := unix.Read(c.fd, span)
		if n > 0 {
			c.readRing.CommitWrite(n)
		}
		if err != nil {
			switch err {
			case unix.EINTR:
				continue
			case unix.EAGAIN:
				return true
			default:
				return false
			}
		}
		if n == 0 {
			// EOF: peer_closed is latched by the EPOLLRDHUP handler,
			// not here (spec.md 4.C).
			return true
		}
		if n < len(span) {
			// Short read: another readiness edge will deliver the rest.
			return true
		}
	}
}

// EnableEvents re-arms the connection's epoll interest for the requested
// directions, recording the mask for future RenableEvents calls. Per the
// documented open-question decision (spec_full.md 13): true means the
// rearm succeeded and the connection remains armed; false means the
// caller must treat the connection as unusable and call Close.
func (c *Connection) EnableEvents(read, write bool) bool {
	var mask api.EventMask
	if read {
		mask |= api.EventRead
	}
	if write {
		mask |= api.EventWrite
	}
	if !c.owner.Rearm(c.fd, mask) {
		c.lastMask = api.EventNone
		return false
	}
	c.lastMask = mask
	return true
}

// RenableEvents re-arms with the last-requested mask.
func (c *Connection) RenableEvents() bool {
	return c.owner.Rearm(c.fd, c.lastMask)
}

// Close schedules the connection for destruction via the owning loop's
// deferred close list. Idempotent.
func (c *Connection) Close() {
	if c.closeScheduled {
		return
	}
	c.closeScheduled = true
	c.owner.ScheduleClose(c)
}

// Release detaches the connection from its owning loop (EPOLL_CTL_DEL +
// table removal), returns its buffers to their pools, and closes the fd.
// Called exactly once by the acceptor's close-list drain, after any user
// close-callback has run (spec.md 4.E step 3).
func (c *Connection) Release() {
	c.owner.Remove(c.fd)
	if c.readBuf != nil {
		c.readBuf.Release()
		c.readBuf = nil
	}
	if c.writeBuf != nil {
		c.writeBuf.Release()
		c.writeBuf = nil
	}
	if err := unix.Close(c.fd); err != nil && c.log != nil {
		c.log.Warn("conn: close failed", rlog.Int("fd", c.fd), rlog.String("peer", c.peerAddr), rlog.Error(err))
	}
}
