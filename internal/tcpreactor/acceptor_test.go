package tcpreactor_test

import (
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/momentics/hioreactor/api"
	"github.com/momentics/hioreactor/internal/bufpool"
	"github.com/momentics/hioreactor/internal/closelist"
	"github.com/momentics/hioreactor/internal/conn"
	"github.com/momentics/hioreactor/internal/dispatch"
	"github.com/momentics/hioreactor/internal/ioloop"
	"github.com/momentics/hioreactor/internal/rlog"
	"github.com/momentics/hioreactor/internal/tcpreactor"
	"github.com/stretchr/testify/require"
)

func TestAcceptor_AcceptsAndEchoes(t *testing.T) {
	log := rlog.Nop()
	pool := bufpool.NewManager(256, 256, 1500, 2, 2)

	queue := dispatch.NewQueue(8)
	cl := closelist.New()

	echoed := make(chan string, 1)
	handlers := ioloop.Handlers{
		OnRead: func(c *conn.Connection) {
			buf := make([]byte, c.BytesInReadBuffer())
			c.Read(buf)
			echoed <- string(buf)
			c.Write(buf)
			c.RenableEvents()
		},
	}
	loop, err := ioloop.New(0, 32, queue, 1, handlers, cl, log)
	require.NoError(t, err)

	loopDone := make(chan error, 1)
	go func() { loopDone <- loop.Run() }()

	pool2 := dispatch.NewWorkerPool(1, []*dispatch.Queue{queue}, log)

	listenFD, err := tcpreactor.Listen("tcp", "127.0.0.1", 0)
	require.NoError(t, err)
	port, err := tcpreactor.LocalPort(listenFD)
	require.NoError(t, err)

	closed := make(chan struct{}, 1)
	acceptor, err := tcpreactor.New(tcpreactor.Config{
		ListenFD:    listenFD,
		Loops:       []*ioloop.Loop{loop},
		Pool:        pool,
		DefaultMask: api.EventRead,
		DrainTickMs: 10,
		Close: func(c *conn.Connection) {
			select {
			case closed <- struct{}{}:
			default:
			}
		},
		Log: log,
	}, cl)
	require.NoError(t, err)

	acceptorDone := make(chan struct{})
	go func() {
		acceptor.Run()
		close(acceptorDone)
	}()

	client, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Write([]byte("ping"))
	require.NoError(t, err)

	select {
	case msg := <-echoed:
		require.Equal(t, "ping", msg)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for echo")
	}

	buf := make([]byte, 4)
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := client.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "ping", string(buf[:n]))

	client.Close()
	require.Eventually(t, func() bool {
		select {
		case <-closed:
			return true
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)

	acceptor.SetExitFlag()
	<-acceptorDone
	require.NoError(t, loop.WakeUp())
	require.NoError(t, <-loopDone)
	pool2.Close()
	require.NoError(t, loop.Close())
}
