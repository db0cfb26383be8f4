package hioreactor_test

import (
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/momentics/hioreactor"
	"github.com/momentics/hioreactor/internal/rlog"
	"github.com/stretchr/testify/require"
)

func TestRuntime_TCPEchoRoundTrip(t *testing.T) {
	cfg := hioreactor.DefaultConfig()
	cfg.WorkerThreadRatio = 0.5

	rt, err := hioreactor.New(cfg, rlog.Nop())
	require.NoError(t, err)

	closed := make(chan struct{}, 1)
	err = rt.SetCallback(hioreactor.ConnHandler{
		Read: func(c *hioreactor.Connection) {
			buf := make([]byte, c.BytesInReadBuffer())
			n := c.Read(buf)
			c.Write(buf[:n])
			c.RenableEvents()
		},
		Close: func(c *hioreactor.Connection) {
			select {
			case closed <- struct{}{}:
			default:
			}
		},
	})
	require.NoError(t, err)

	require.NoError(t, rt.Listen("tcp", "127.0.0.1", 0))
	port, err := rt.ListenPort()
	require.NoError(t, err)

	loopDone := make(chan error, 1)
	go func() { loopDone <- rt.EventLoop() }()
	defer func() {
		rt.SetExitFlag()
		<-loopDone
		require.NoError(t, rt.Release())
	}()

	conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("ping"))
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 4)
	_, err = conn.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "ping", string(buf))
}

func TestRuntime_SetCallback_RejectsEmptyHandler(t *testing.T) {
	rt, err := hioreactor.New(hioreactor.DefaultConfig(), rlog.Nop())
	require.NoError(t, err)
	err = rt.SetCallback(hioreactor.ConnHandler{})
	require.Error(t, err)
}

func TestRuntime_Listen_RequiresCallbackFirst(t *testing.T) {
	rt, err := hioreactor.New(hioreactor.DefaultConfig(), rlog.Nop())
	require.NoError(t, err)
	err = rt.Listen("tcp", "127.0.0.1", 0)
	require.Error(t, err)
}

func TestRuntime_UDPEchoRoundTrip(t *testing.T) {
	cfg := hioreactor.DefaultConfig()
	rt, err := hioreactor.New(cfg, rlog.Nop())
	require.NoError(t, err)

	require.NoError(t, rt.SetCallback(hioreactor.ConnHandler{
		Datagram: func(data []byte, srcIP string, srcPort int) {
			_ = rt.SendTo(0, data, srcIP, srcPort)
		},
	}))

	require.NoError(t, rt.Bind("udp", "127.0.0.1", 0))
	port, err := rt.UDPPort(0)
	require.NoError(t, err)

	loopDone := make(chan error, 1)
	go func() { loopDone <- rt.EventLoop() }()
	defer func() {
		rt.SetExitFlag()
		<-loopDone
		require.NoError(t, rt.Release())
	}()

	conn, err := net.Dial("udp4", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("pong"))
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 4)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "pong", string(buf[:n]))
}
