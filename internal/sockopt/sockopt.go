// File: internal/sockopt/sockopt.go
// Package sockopt wraps the kernel socket-option passthroughs from
// spec.md 4.G: non-blocking + cloexec, SO_REUSEADDR, SO_REUSEPORT,
// SO_LINGER, SO_KEEPALIVE with the TCP_KEEPIDLE/CNT/INTVL knobs, and
// address binding for both TCP and UDP listeners.
//
// Grounded on the teacher's examples/reactor_echo/socket_unix.go raw-fd
// idiom and gotcp-epoll's ep.go accept/listen setsockopt sequence, using
// golang.org/x/sys/unix in place of the teacher's plain syscall package
// so IPv6 and TCP_KEEPIDLE-family constants are available uniformly.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package sockopt

import (
	"fmt"
	"net"

	"github.com/momentics/hioreactor/internal/rlog"
	"golang.org/x/sys/unix"
)

// KeepAlive holds the SO_KEEPALIVE tuning knobs from spec.md 6
// (EnableKeepAlive(enable, idle, probes, interval)).
type KeepAlive struct {
	Enable   bool
	IdleSecs int
	Probes   int
	IntervalSecs int
}

// Linger holds the SO_LINGER tuning knobs from spec.md 6
// (EnableLinger(enable, wait_seconds)).
type Linger struct {
	Enable    bool
	WaitSecs  int
}

// SetNonblockCloexec sets O_NONBLOCK and FD_CLOEXEC on fd. Every TCP socket
// the runtime creates or accepts goes through this before being registered
// with an I/O loop; the UDP reactor's sockets skip it and stay blocking,
// bounded by SO_RCVTIMEO.
func SetNonblockCloexec(fd int) error {
	if err := unix.SetNonblock(fd, true); err != nil {
		return fmt.Errorf("sockopt: set nonblock: %w", err)
	}
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_SETFD, unix.FD_CLOEXEC); err != nil {
		return fmt.Errorf("sockopt: set cloexec: %w", err)
	}
	return nil
}

// SetReuseAddr sets SO_REUSEADDR, letting the listener rebind a port still
// in TIME_WAIT after a restart.
func SetReuseAddr(fd int) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
}

// SetReusePort sets SO_REUSEPORT, the mechanism the UDP reactor (spec.md
// 4.F) relies on to open H sockets on the same port with kernel-side RSS
// fanout across receiver threads.
func SetReusePort(fd int) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
}

// SetLinger applies SO_LINGER per spec.md 6's EnableLinger knob. Disabling
// linger (Enable == false) resets the socket to the default (graceful,
// unbounded) close behavior.
func SetLinger(fd int, l Linger) error {
	onoff := 0
	if l.Enable {
		onoff = 1
	}
	return unix.SetsockoptLinger(fd, unix.SOL_SOCKET, unix.SO_LINGER, &unix.Linger{
		Onoff:  int32(onoff),
		Linger: int32(l.WaitSecs),
	})
}

// SetKeepAlive applies SO_KEEPALIVE and, when enabled, the three Linux
// TCP_KEEPIDLE/TCP_KEEPCNT/TCP_KEEPINTVL knobs per spec.md 4.G and 6.
func SetKeepAlive(fd int, ka KeepAlive) error {
	onoff := 0
	if ka.Enable {
		onoff = 1
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, onoff); err != nil {
		return fmt.Errorf("sockopt: SO_KEEPALIVE: %w", err)
	}
	if !ka.Enable {
		return nil
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, ka.IdleSecs); err != nil {
		return fmt.Errorf("sockopt: TCP_KEEPIDLE: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPCNT, ka.Probes); err != nil {
		return fmt.Errorf("sockopt: TCP_KEEPCNT: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, ka.IntervalSecs); err != nil {
		return fmt.Errorf("sockopt: TCP_KEEPINTVL: %w", err)
	}
	return nil
}

// SetRecvBuf sets SO_RCVBUF, used by the UDP reactor to apply recv_bsize
// (spec.md 4.F, >= 200KB).
func SetRecvBuf(fd int, bytes int) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, bytes)
}

// ApplyNonFatal runs f and, on error, logs and swallows it: spec.md 4.G
// says option-helper failures are "logged and ignored (non-fatal) — the
// connection is still viable without these options."
func ApplyNonFatal(log rlog.Logger, name string, fd int, f func() error) {
	if err := f(); err != nil {
		log.Warn("sockopt: failed to apply option", rlog.String("option", name), rlog.Int("fd", fd), rlog.Error(err))
	}
}

// Family reports the sockaddr family Bind should use for network/addr, the
// idiomatic-Go analogue of original_source's compile-time
// SPSock<AF_INET>/SPSock<AF_INET6> template specializations.
func Family(network string) int {
	switch network {
	case "tcp6", "udp6":
		return unix.AF_INET6
	default:
		return unix.AF_INET
	}
}

// ResolveBindAddr turns (ip, port) into a net.Addr suitable for the given
// network, treating an empty ip as "any address" per spec.md 6's
// "ip = null means any-address".
func ResolveBindAddr(network, ip string, port int) (*net.TCPAddr, error) {
	if ip == "" {
		return &net.TCPAddr{Port: port}, nil
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return nil, fmt.Errorf("sockopt: invalid ip %q", ip)
	}
	return &net.TCPAddr{IP: parsed, Port: port}, nil
}
