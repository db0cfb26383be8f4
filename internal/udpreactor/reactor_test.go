package udpreactor_test

import (
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/momentics/hioreactor/internal/bufpool"
	"github.com/momentics/hioreactor/internal/dispatch"
	"github.com/momentics/hioreactor/internal/rlog"
	"github.com/momentics/hioreactor/internal/udpreactor"
	"github.com/stretchr/testify/require"
)

func TestReactor_SynchronousRecv(t *testing.T) {
	received := make(chan string, 1)
	r, err := udpreactor.New(udpreactor.Config{
		Network:       "udp4",
		IP:            "127.0.0.1",
		Port:          0,
		NumSockets:    1,
		MaxPayload:    1500,
		RecvBufBytes:  200 * 1024,
		RecvTimeoutMs: 20,
		OnDatagram: func(data []byte, srcIP string, srcPort int) {
			received <- string(data)
		},
		Log: rlog.Nop(),
	})
	require.NoError(t, err)

	port, err := r.LocalPort(0)
	require.NoError(t, err)

	go r.Run()

	conn, err := net.Dial("udp4", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte("hello-udp"))
	require.NoError(t, err)

	select {
	case msg := <-received:
		require.Equal(t, "hello-udp", msg)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for datagram")
	}

	r.SetExitFlag()
	require.Eventually(t, func() bool { return true }, 200*time.Millisecond, 10*time.Millisecond)
	r.Close()
}

func TestReactor_BatchedModeEnqueuesTask(t *testing.T) {
	pool := bufpool.New(1500, 2, 2)
	queue := dispatch.NewQueue(4)

	r, err := udpreactor.New(udpreactor.Config{
		Network:       "udp4",
		IP:            "127.0.0.1",
		Port:          0,
		NumSockets:    1,
		MaxPayload:    1500,
		RecvBufBytes:  200 * 1024,
		RecvTimeoutMs: 20,
		Batch:         true,
		Queue:         queue,
		Pool:          pool,
		OnDatagram: func(data []byte, srcIP string, srcPort int) {
		},
		Log: rlog.Nop(),
	})
	require.NoError(t, err)

	port, err := r.LocalPort(0)
	require.NoError(t, err)

	go r.Run()

	conn, err := net.Dial("udp4", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte("batched"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return queue.Len() > 0
	}, 2*time.Second, 10*time.Millisecond)

	task, ok := queue.TryPop()
	require.True(t, ok)
	task.Run()

	r.SetExitFlag()
	r.Close()
}
