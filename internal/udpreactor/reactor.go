// File: internal/udpreactor/reactor.go
// Package udpreactor implements the UDP reactor from spec.md 4.F: H
// SO_REUSEPORT sockets bound to the same port (kernel-side RSS fanout),
// one dedicated receiver goroutine per socket, and an optional batching
// path that packages datagrams as worker tasks instead of calling the
// user callback synchronously.
//
// Grounded on internal/sockopt's SO_REUSEPORT helper plus raw
// unix.Socket/Bind (the same construction internal/tcpreactor uses for
// its listener) and on gotcp-epoll's raw unix.Recvfrom/Sendto usage for
// the datagram I/O itself.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package udpreactor

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/momentics/hioreactor/internal/bufpool"
	"github.com/momentics/hioreactor/internal/dispatch"
	"github.com/momentics/hioreactor/internal/rlog"
	"github.com/momentics/hioreactor/internal/sockopt"
	"go.uber.org/atomic"
	"golang.org/x/sys/unix"
)

// RecvCallback handles one datagram's payload and sender address.
type RecvCallback func(data []byte, srcIP string, srcPort int)

// Config configures the UDP reactor per spec.md 6's UDP knobs
// (recv_bsize, max_payload) and 4.F's threading and batching model.
type Config struct {
	Network       string // "udp4" or "udp6"
	IP            string // "" means any-address
	Port          int
	NumSockets    int // H: one receiver thread per socket
	MaxPayload    int // 1452..65507
	RecvBufBytes  int // SO_RCVBUF, >= 200KB
	RecvTimeoutMs int // SO_RCVTIMEO, default 50ms

	Batch      bool
	Queue      *dispatch.Queue  // required when Batch is true
	Pool       *bufpool.SlabPool // datagram buffer pool, required when Batch is true
	OnDatagram RecvCallback
	Log        rlog.Logger
}

// Reactor owns the H SO_REUSEPORT sockets and their receiver goroutines.
type Reactor struct {
	cfg      Config
	sockets  []int
	exitFlag atomic.Bool
	wg       sync.WaitGroup
}

// New opens Config.NumSockets sockets on the same address with
// SO_REUSEPORT set on each, per spec.md 4.F.
func New(cfg Config) (*Reactor, error) {
	if cfg.NumSockets < 1 {
		cfg.NumSockets = 1
	}
	if cfg.RecvTimeoutMs <= 0 {
		cfg.RecvTimeoutMs = 50
	}
	if cfg.MaxPayload <= 0 {
		cfg.MaxPayload = 65507
	}
	if cfg.Log == nil {
		cfg.Log = rlog.Nop()
	}

	r := &Reactor{cfg: cfg}
	for i := 0; i < cfg.NumSockets; i++ {
		fd, err := r.openSocket()
		if err != nil {
			r.closeAll()
			return nil, err
		}
		r.sockets = append(r.sockets, fd)
	}
	return r, nil
}

func (r *Reactor) openSocket() (int, error) {
	family := sockopt.Family(r.cfg.Network)
	fd, err := unix.Socket(family, unix.SOCK_DGRAM, unix.IPPROTO_UDP)
	if err != nil {
		return -1, fmt.Errorf("udpreactor: socket: %w", err)
	}
	if err := sockopt.SetReusePort(fd); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("udpreactor: SO_REUSEPORT: %w", err)
	}
	if err := sockopt.SetRecvBuf(fd, r.cfg.RecvBufBytes); err != nil {
		r.cfg.Log.Warn("udpreactor: SO_RCVBUF failed", rlog.Error(err))
	}
	tv := unix.NsecToTimeval(int64(r.cfg.RecvTimeoutMs) * int64(time.Millisecond))
	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		r.cfg.Log.Warn("udpreactor: SO_RCVTIMEO failed", rlog.Error(err))
	}

	if family == unix.AF_INET6 {
		sa := &unix.SockaddrInet6{Port: r.cfg.Port}
		if r.cfg.IP != "" {
			if ip := net.ParseIP(r.cfg.IP); ip != nil {
				copy(sa.Addr[:], ip.To16())
			}
		}
		if err := unix.Bind(fd, sa); err != nil {
			unix.Close(fd)
			return -1, fmt.Errorf("udpreactor: bind: %w", err)
		}
	} else {
		sa := &unix.SockaddrInet4{Port: r.cfg.Port}
		if r.cfg.IP != "" {
			if ip := net.ParseIP(r.cfg.IP); ip != nil {
				copy(sa.Addr[:], ip.To4())
			}
		}
		if err := unix.Bind(fd, sa); err != nil {
			unix.Close(fd)
			return -1, fmt.Errorf("udpreactor: bind: %w", err)
		}
	}
	return fd, nil
}

func (r *Reactor) closeAll() {
	for _, fd := range r.sockets {
		unix.Close(fd)
	}
	r.sockets = nil
}

// Run starts one receiver goroutine per socket and blocks until
// SetExitFlag is called and every receiver has observed it.
func (r *Reactor) Run() {
	for i, fd := range r.sockets {
		r.wg.Add(1)
		go r.receiverLoop(i, fd)
	}
	r.wg.Wait()
}

// SetExitFlag stops every receiver on its next SO_RCVTIMEO tick
// (spec.md 5: "UDP receiver: recvfrom with a short SO_RCVTIMEO so the
// thread re-reads exit_flag").
func (r *Reactor) SetExitFlag() {
	r.exitFlag.Store(true)
}

func (r *Reactor) exiting() bool {
	return r.exitFlag.Load()
}

// Close closes every socket. Call only after Run has returned.
func (r *Reactor) Close() {
	r.closeAll()
}

func (r *Reactor) receiverLoop(socketIdx, fd int) {
	defer r.wg.Done()
	buf := make([]byte, r.cfg.MaxPayload+64)
	for !r.exiting() {
		n, from, err := unix.Recvfrom(fd, buf, 0)
		if err != nil {
			switch err {
			case unix.EAGAIN, unix.EINTR:
				continue
			default:
				r.cfg.Log.Warn("udpreactor: recvfrom failed", rlog.Int("socket", socketIdx), rlog.Error(err))
				continue
			}
		}
		ip, port := addrToIPPort(from)
		r.handleDatagram(buf[:n], ip, port)
	}
}

func (r *Reactor) handleDatagram(payload []byte, ip string, port int) {
	if !r.cfg.Batch {
		if r.cfg.OnDatagram != nil {
			r.cfg.OnDatagram(payload, ip, port)
		}
		return
	}

	pbuf := r.cfg.Pool.Get()
	if pbuf == nil {
		r.cfg.Log.Warn("udpreactor: datagram pool exhausted, dropping packet")
		return
	}
	n := copy(pbuf.Bytes(), payload)
	task := &datagramTask{buf: pbuf, size: n, ip: ip, port: port, handler: r.cfg.OnDatagram}
	if !r.cfg.Queue.TryPush(task) {
		pbuf.Release()
		r.cfg.Log.Warn("udpreactor: worker queue full, dropping datagram")
	}
}

// LocalPort reports the port socketIdx is bound to, useful when Config.Port
// is 0 (ephemeral) and the caller needs to advertise or dial it.
func (r *Reactor) LocalPort(socketIdx int) (int, error) {
	if socketIdx < 0 || socketIdx >= len(r.sockets) {
		return 0, fmt.Errorf("udpreactor: invalid socket index %d", socketIdx)
	}
	sa, err := unix.Getsockname(r.sockets[socketIdx])
	if err != nil {
		return 0, err
	}
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return a.Port, nil
	case *unix.SockaddrInet6:
		return a.Port, nil
	default:
		return 0, fmt.Errorf("udpreactor: unexpected sockaddr type %T", sa)
	}
}

// SendTo sends data as one datagram out of sockets[socketIdx]. UDP
// datagrams are inherently atomic: either the whole payload is handed to
// the kernel or Sendto returns an error (spec.md 4.F).
func (r *Reactor) SendTo(socketIdx int, data []byte, ip string, port int) error {
	if socketIdx < 0 || socketIdx >= len(r.sockets) {
		return fmt.Errorf("udpreactor: invalid socket index %d", socketIdx)
	}
	sa, err := addrToSockaddr(r.cfg.Network, ip, port)
	if err != nil {
		return err
	}
	return unix.Sendto(r.sockets[socketIdx], data, 0, sa)
}

func addrToIPPort(sa unix.Sockaddr) (string, int) {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return net.IP(a.Addr[:]).String(), a.Port
	case *unix.SockaddrInet6:
		return net.IP(a.Addr[:]).String(), a.Port
	default:
		return "", 0
	}
}

func addrToSockaddr(network, ip string, port int) (unix.Sockaddr, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return nil, fmt.Errorf("udpreactor: invalid ip %q", ip)
	}
	if sockopt.Family(network) == unix.AF_INET6 {
		sa := &unix.SockaddrInet6{Port: port}
		copy(sa.Addr[:], parsed.To16())
		return sa, nil
	}
	sa := &unix.SockaddrInet4{Port: port}
	v4 := parsed.To4()
	if v4 == nil {
		return nil, fmt.Errorf("udpreactor: %q is not an IPv4 address", ip)
	}
	copy(sa.Addr[:], v4)
	return sa, nil
}
