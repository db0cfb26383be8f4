// File: internal/tcpreactor/listener.go
package tcpreactor

import (
	"fmt"

	"github.com/momentics/hioreactor/internal/sockopt"
	"golang.org/x/sys/unix"
)

// ListenBacklog is the listen(2) backlog depth for every TCP listener
// this runtime creates.
const ListenBacklog = 1024

// Listen implements spec.md 6's Listen(port, ip): builds a bound,
// listening, non-blocking TCP socket. ip == "" means any-address.
func Listen(network, ip string, port int) (fd int, err error) {
	family := sockopt.Family(network)
	fd, err = unix.Socket(family, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return -1, fmt.Errorf("tcpreactor: socket: %w", err)
	}
	if err := sockopt.SetReuseAddr(fd); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("tcpreactor: SO_REUSEADDR: %w", err)
	}
	if err := sockopt.SetNonblockCloexec(fd); err != nil {
		unix.Close(fd)
		return -1, err
	}

	addr, err := sockopt.ResolveBindAddr(network, ip, port)
	if err != nil {
		unix.Close(fd)
		return -1, err
	}

	if family == unix.AF_INET6 {
		var sa unix.SockaddrInet6
		sa.Port = port
		if addr.IP != nil {
			copy(sa.Addr[:], addr.IP.To16())
		}
		if err := unix.Bind(fd, &sa); err != nil {
			unix.Close(fd)
			return -1, fmt.Errorf("tcpreactor: bind: %w", err)
		}
	} else {
		var sa unix.SockaddrInet4
		sa.Port = port
		if addr.IP != nil {
			copy(sa.Addr[:], addr.IP.To4())
		}
		if err := unix.Bind(fd, &sa); err != nil {
			unix.Close(fd)
			return -1, fmt.Errorf("tcpreactor: bind: %w", err)
		}
	}

	if err := unix.Listen(fd, ListenBacklog); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("tcpreactor: listen: %w", err)
	}
	return fd, nil
}

// LocalPort reports the port the kernel assigned a fd bound with port 0.
func LocalPort(fd int) (int, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return 0, err
	}
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return a.Port, nil
	case *unix.SockaddrInet6:
		return a.Port, nil
	default:
		return 0, fmt.Errorf("tcpreactor: unexpected sockaddr type %T", sa)
	}
}
