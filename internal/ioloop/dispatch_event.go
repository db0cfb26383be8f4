// File: internal/ioloop/dispatch_event.go
//
// Per-event dispatch logic, split out of loop.go for readability: this
// is the direct Go rendering of spec.md 4.E's "I/O-loop per-event
// dispatch" bullet list.
package ioloop

import (
	"github.com/momentics/hioreactor/internal/conn"
	"github.com/momentics/hioreactor/internal/dispatch"
	"golang.org/x/sys/unix"
)

func (l *Loop) dispatchEvent(fd int, events uint32) {
	c := l.lookup(fd)
	if c == nil {
		// Already scheduled for close and dropped from the table; a
		// stale event delivered before EPOLL_CTL_DEL took effect.
		return
	}

	if events&(unix.EPOLLHUP|unix.EPOLLERR) != 0 {
		c.Close()
		return
	}

	hasRead := l.handlers.OnRead != nil
	hasWrite := l.handlers.OnWrite != nil

	if events&(unix.EPOLLIN|unix.EPOLLRDHUP) != 0 {
		l.dispatchRead(c, events, hasRead, hasWrite)
		return
	}

	if events&unix.EPOLLOUT != 0 {
		l.dispatchWrite(c, hasRead, hasWrite)
	}
}

func (l *Loop) dispatchRead(c *conn.Connection, events uint32, hasRead, hasWrite bool) {
	if !hasRead {
		// Degenerate case: this direction has no callback at all.
		// Re-arm with only the registered direction (spec.md 4.E).
		if !c.EnableEvents(false, hasWrite) {
			c.Close()
		}
		return
	}

	if events&unix.EPOLLRDHUP != 0 {
		c.SetPeerClosed()
	}

	if !c.ReadSocket() {
		c.Close()
		return
	}
	if c.IsPeerClosed() && c.BytesInReadBuffer() == 0 {
		c.Close()
		return
	}

	mark := int(c.ReadMark())
	if mark == 0 || c.BytesInReadBuffer() >= mark {
		l.stage(c, l.handlers.OnRead)
		return
	}
	if !c.RenableEvents() {
		c.Close()
	}
}

func (l *Loop) dispatchWrite(c *conn.Connection, hasRead, hasWrite bool) {
	if !hasWrite {
		if !c.EnableEvents(hasRead, false) {
			c.Close()
		}
		return
	}

	if c.BytesInWriteBuffer() > 0 {
		if n := c.CommitWrite(); n < 0 {
			c.Close()
			return
		}
	}

	// write_mark == MaxWatermark makes this comparison always true,
	// i.e. "immediate" (spec.md 4.E).
	if c.BytesInWriteBuffer() <= int(c.WriteMark()) {
		l.stage(c, l.handlers.OnWrite)
		return
	}
	if !c.RenableEvents() {
		c.Close()
	}
}

func (l *Loop) stage(c *conn.Connection, cb func(*conn.Connection)) {
	l.submitter.Submit(dispatch.Entry{
		Task:  dispatch.TaskFunc(func() { cb(c) }),
		Rearm: c.RenableEvents,
		Close: c.Close,
	})
}
