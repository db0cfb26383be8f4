// File: internal/ioloop/loop.go
// Package ioloop implements the I/O loop thread from spec.md 4.E: an
// epoll wrapper with one-shot rearm semantics, a per-loop connection
// table, and the per-event dispatch logic that stages read/write
// callback tasks onto the worker dispatch layer.
//
// Grounded on the teacher's reactor/epoll_reactor.go and
// reactor/reactor_linux.go (epoll_create1/epoll_ctl/epoll_wait wrapping)
// and gotcp-epoll's raw-fd epoll idioms, generalized from the teacher's
// generic Register(fd, userData)/Wait([]Event) abstraction to the
// spec's one-shot, watermark-gated, table-owning loop.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package ioloop

import (
	"encoding/binary"
	"sync"

	"github.com/momentics/hioreactor/api"
	"github.com/momentics/hioreactor/internal/closelist"
	"github.com/momentics/hioreactor/internal/conn"
	"github.com/momentics/hioreactor/internal/dispatch"
	"github.com/momentics/hioreactor/internal/rlog"
	"go.uber.org/atomic"
	"golang.org/x/sys/unix"
)

// defaultMaxEvents bounds one epoll_wait batch; epoll_max_events
// (spec.md 6) overrides this per Loop instance.
const defaultMaxEvents = 256

// Handlers holds the user read/write callbacks a Loop stages tasks for.
// Connect/close callbacks live above this layer, in the acceptor and the
// runtime facade, because they need to run before a Connection exists
// (connect) or after it leaves every loop's table (close).
type Handlers struct {
	OnRead  func(*conn.Connection)
	OnWrite func(*conn.Connection)
}

// Loop is one I/O loop thread: an epoll instance, its connection table,
// and the submitter that stages tasks onto this loop's worker queue.
type Loop struct {
	id     int
	epfd   int
	wakeFD int

	tableMu sync.Mutex
	table   map[int]*conn.Connection

	liveCount atomic.Int64

	maxEvents int
	handlers  Handlers
	submitter *dispatch.Submitter
	closeList *closelist.List
	log       rlog.Logger
}

// New builds one Loop. queue is this loop's worker task queue;
// batchSubmit is worker_batch_submit from spec.md 6 (1 selects single
// mode). closeList is shared across every loop and the acceptor.
func New(id int, maxEvents int, queue *dispatch.Queue, batchSubmit int, handlers Handlers, closeList *closelist.List, log rlog.Logger) (*Loop, error) {
	if maxEvents < 1 {
		maxEvents = defaultMaxEvents
	}
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	wakeFD, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, err
	}
	l := &Loop{
		id:        id,
		epfd:      epfd,
		wakeFD:    wakeFD,
		table:     make(map[int]*conn.Connection),
		maxEvents: maxEvents,
		handlers:  handlers,
		submitter: dispatch.NewSubmitter(queue, batchSubmit, log),
		closeList: closeList,
		log:       log,
	}
	wakeEv := &unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakeFD)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakeFD, wakeEv); err != nil {
		unix.Close(epfd)
		unix.Close(wakeFD)
		return nil, err
	}
	return l, nil
}

// ID returns this loop's index. The acceptor picks loops by LiveCount,
// not by ID.
func (l *Loop) ID() int { return l.id }

// LiveCount is a relaxed read of the number of connections currently
// registered with this loop (spec.md 5: "read without synchronization by
// the acceptor's load-balancing step; staleness is acceptable").
func (l *Loop) LiveCount() int64 { return l.liveCount.Load() }

// Add registers fd with one-shot readiness for mask and records c in the
// table. Called only by the acceptor.
func (l *Loop) Add(fd int, c *conn.Connection, mask api.EventMask) error {
	l.tableMu.Lock()
	l.table[fd] = c
	l.tableMu.Unlock()

	ev := &unix.EpollEvent{Events: epollBits(mask) | unix.EPOLLONESHOT | unix.EPOLLRDHUP, Fd: int32(fd)}
	if err := unix.EpollCtl(l.epfd, unix.EPOLL_CTL_ADD, fd, ev); err != nil {
		l.tableMu.Lock()
		delete(l.table, fd)
		l.tableMu.Unlock()
		return err
	}
	l.liveCount.Inc()
	return nil
}

// Rearm implements conn.Owner: restores one-shot readiness for fd.
func (l *Loop) Rearm(fd int, mask api.EventMask) bool {
	ev := &unix.EpollEvent{Events: epollBits(mask) | unix.EPOLLONESHOT | unix.EPOLLRDHUP, Fd: int32(fd)}
	return unix.EpollCtl(l.epfd, unix.EPOLL_CTL_MOD, fd, ev) == nil
}

// ScheduleClose implements conn.Owner: defers to the shared close list.
func (l *Loop) ScheduleClose(c *conn.Connection) {
	l.closeList.Push(c)
}

// Remove runs EPOLL_CTL_DEL for fd, then deletes it from this loop's
// table and decrements the live count. Called from Connection.Release,
// during the acceptor's close-list drain or ShutdownDrain (spec.md 5).
func (l *Loop) Remove(fd int) {
	unix.EpollCtl(l.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	l.tableMu.Lock()
	if _, ok := l.table[fd]; ok {
		delete(l.table, fd)
		l.liveCount.Dec()
	}
	l.tableMu.Unlock()
}

func (l *Loop) lookup(fd int) *conn.Connection {
	l.tableMu.Lock()
	c := l.table[fd]
	l.tableMu.Unlock()
	return c
}

// LiveConnections returns a snapshot of every connection still in the
// table, used for defensive cleanup on shutdown (spec.md 4.E).
func (l *Loop) LiveConnections() []*conn.Connection {
	l.tableMu.Lock()
	defer l.tableMu.Unlock()
	out := make([]*conn.Connection, 0, len(l.table))
	for _, c := range l.table {
		out = append(out, c)
	}
	return out
}

// WakeUp writes to the loop's eventfd, unblocking a pending epoll_wait so
// the loop notices shutdown on its next iteration (spec.md 4.E).
func (l *Loop) WakeUp() error {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, 1)
	_, err := unix.Write(l.wakeFD, buf)
	return err
}

// Close releases the epoll and eventfd descriptors. Call only after Run
// has returned.
func (l *Loop) Close() error {
	err1 := unix.Close(l.wakeFD)
	err2 := unix.Close(l.epfd)
	if err1 != nil {
		return err1
	}
	return err2
}

// Run blocks in epoll_wait until the loop's wakeup fd fires, dispatching
// events per spec.md 4.E and flushing the submitter's staging buffer
// after every batch. A fatal poll error (anything but EINTR) returns an
// error so the caller can trigger global shutdown, per spec.md 4.E's
// "any failure inside an I/O loop that corrupts the loop ... is fatal to
// that loop and signals global shutdown."
func (l *Loop) Run() error {
	events := make([]unix.EpollEvent, l.maxEvents)
	for {
		n, err := unix.EpollWait(l.epfd, events, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return err
		}

		exit := false
		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			if fd == l.wakeFD {
				exit = true
				continue
			}
			l.dispatchEvent(fd, events[i].Events)
		}
		l.submitter.Flush()
		if exit {
			return nil
		}
	}
}

func epollBits(mask api.EventMask) uint32 {
	var e uint32
	if mask.WantsRead() {
		e |= unix.EPOLLIN
	}
	if mask.WantsWrite() {
		e |= unix.EPOLLOUT
	}
	return e
}
