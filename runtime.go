// File: runtime.go
// Runtime is the public facade over the reactor: it owns the buffer
// pools, the I/O loop set, the worker pool, the TCP acceptor and the UDP
// reactor, and exposes the Listen/Bind/SetCallback/EventLoop lifecycle
// spec.md 6 describes.
//
// Grounded on the teacher's facade.HioloadWS builder (New(cfg) wiring
// subsystems in an explicit order behind one mutex-guarded struct,
// implementing api.GracefulShutdown), adapted to the spec's TCP+UDP
// reactor instead of the teacher's WebSocket transport.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package hioreactor

import (
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"

	"github.com/momentics/hioreactor/api"
	"github.com/momentics/hioreactor/internal/bufpool"
	"github.com/momentics/hioreactor/internal/closelist"
	"github.com/momentics/hioreactor/internal/conn"
	"github.com/momentics/hioreactor/internal/dispatch"
	"github.com/momentics/hioreactor/internal/ioloop"
	"github.com/momentics/hioreactor/internal/rlog"
	"github.com/momentics/hioreactor/internal/sockopt"
	"github.com/momentics/hioreactor/internal/tcpreactor"
	"github.com/momentics/hioreactor/internal/udpreactor"
	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

var _ api.GracefulShutdown = (*Runtime)(nil)

// Runtime is the top-level object a caller builds, configures once, and
// runs. Its exported surface is spec.md 6's external interface plus the
// Control, Affinity, ListenPort, UDPPort and Shutdown helpers.
type Runtime struct {
	cfg Config
	log rlog.Logger

	mu      sync.Mutex
	started bool

	handler   ConnHandler
	readMark  api.Watermark
	writeMark api.Watermark
	keepAlive sockopt.KeepAlive
	linger    sockopt.Linger

	pool         *bufpool.Manager
	workerQueues []*dispatch.Queue
	workers      *dispatch.WorkerPool
	loops        []*ioloop.Loop
	closeList    *closelist.List

	tcpAcceptor *tcpreactor.Acceptor
	listenFD    int

	udp *udpreactor.Reactor

	control  *runtimeControl
	affinity *threadAffinity

	sigCh   chan os.Signal
	doneCh  chan struct{}
	relOnce     sync.Once
	workersOnce sync.Once
}

// New validates cfg and constructs the shared subsystems: buffer pools,
// worker queues, worker pool, and the I/O loop set. Listen and/or Bind
// must be called afterward to actually open sockets.
func New(cfg Config, log rlog.Logger) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = rlog.Nop()
	}

	cpus := runtime.NumCPU()
	numWorkers := int(float64(cpus) * cfg.WorkerThreadRatio)
	if numWorkers < 1 {
		numWorkers = 1
	}
	numLoops := cpus - numWorkers
	if numLoops < 1 {
		numLoops = 1
	}

	r := &Runtime{
		cfg:       cfg,
		log:       log,
		readMark:  0,
		writeMark: api.Watermark(api.MaxWatermark),
		pool:      bufpool.NewManager(cfg.ReadBufSize, cfg.WriteBufSize, cfg.UDPMaxPayload, cfg.BufferPoolSlabCount, cfg.BufferPoolMinRetained),
		closeList: closelist.New(),
		doneCh:    make(chan struct{}),
	}

	r.workerQueues = make([]*dispatch.Queue, numLoops)
	for i := range r.workerQueues {
		r.workerQueues[i] = dispatch.NewQueue(cfg.WorkerQueueLength)
	}

	poolOpts := []dispatch.Option{dispatch.WithBatchProcess(cfg.WorkerBatchProcess)}
	if numWorkers > 1 && numLoops > 1 {
		poolOpts = append(poolOpts, dispatch.WithWorkStealing())
	}
	r.workers = dispatch.NewWorkerPool(numWorkers, r.workerQueues, log, poolOpts...)

	r.loops = make([]*ioloop.Loop, numLoops)
	for i := 0; i < numLoops; i++ {
		loop, err := ioloop.New(i, cfg.EpollMaxEvents, r.workerQueues[i], cfg.WorkerBatchSubmit, ioloop.Handlers{
			OnRead:  r.dispatchRead,
			OnWrite: r.dispatchWrite,
		}, r.closeList, log)
		if err != nil {
			r.workers.Close()
			return nil, fmt.Errorf("hioreactor: building loop %d: %w", i, err)
		}
		r.loops[i] = loop
	}

	r.control = newRuntimeControl(r)
	r.affinity = newThreadAffinity()
	return r, nil
}

// Control exposes the runtime's read-only config snapshot, stats, and
// debug-probe surface.
func (r *Runtime) Control() api.Control { return r.control }

// Affinity exposes best-effort CPU pinning for the calling goroutine's
// OS thread, independent of the worker pool's own internal pinning.
func (r *Runtime) Affinity() api.Affinity { return r.affinity }

// SetCallback registers the connection lifecycle callbacks. Must be
// called before Listen or Bind; at least one field of h must be non-nil.
func (r *Runtime) SetCallback(h ConnHandler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return fmt.Errorf("hioreactor: SetCallback called after Listen/Bind")
	}
	if h.empty() {
		return fmt.Errorf("hioreactor: %w: ConnHandler has no callbacks set", api.ErrNoCallback)
	}
	r.handler = h
	return nil
}

// SetWaterMark overrides the default read/write watermarks (spec.md 3).
// The marks are copied into the TCP acceptor when Listen runs, so they
// apply only to connections of a Listen made after this call. The UDP
// reactor never consults them: for datagrams this is a no-op.
func (r *Runtime) SetWaterMark(read, write api.Watermark) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.readMark = read
	r.writeMark = write
}

// EnableLinger sets SO_LINGER applied to every accepted TCP connection.
func (r *Runtime) EnableLinger(l sockopt.Linger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.linger = l
}

// EnableKeepAlive sets SO_KEEPALIVE (and TCP_KEEP{IDLE,CNT,INTVL} on
// Linux) applied to every accepted TCP connection.
func (r *Runtime) EnableKeepAlive(ka sockopt.KeepAlive) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keepAlive = ka
}

// SetSignalExit arms SetExitFlag to fire automatically the first time
// one of sigs is received, so EventLoop returns without the caller
// wiring its own signal.Notify.
func (r *Runtime) SetSignalExit(sigs ...os.Signal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sigCh != nil {
		signal.Stop(r.sigCh)
	}
	r.sigCh = make(chan os.Signal, 1)
	signal.Notify(r.sigCh, sigs...)
	go func() {
		select {
		case <-r.sigCh:
			r.SetExitFlag()
		case <-r.doneCh:
		}
	}()
}

// Listen opens a listening TCP socket on ip:port, load-balanced across
// every I/O loop, and builds the acceptor that EventLoop runs. Call
// SetCallback first. A second call returns api.ErrAlreadyListening.
func (r *Runtime) Listen(network, ip string, port int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handler.empty() {
		return fmt.Errorf("hioreactor: Listen called before SetCallback")
	}
	if r.tcpAcceptor != nil {
		return api.ErrAlreadyListening
	}
	listenFD, err := tcpreactor.Listen(network, ip, port)
	if err != nil {
		return err
	}
	acceptor, err := tcpreactor.New(tcpreactor.Config{
		ListenFD:    listenFD,
		Loops:       r.loops,
		Pool:        r.pool,
		DefaultMask: r.cfg.EpollDefaultEvents,
		ReadMark:    r.readMark,
		WriteMark:   r.writeMark,
		KeepAlive:   r.keepAlive,
		Linger:      r.linger,
		Connect:     r.handler.Connect,
		Close:       r.dispatchClose,
		Log:         r.log,
	}, r.closeList)
	if err != nil {
		return err
	}
	r.tcpAcceptor = acceptor
	r.listenFD = listenFD
	r.started = true
	return nil
}

// ListenPort reports the port Listen bound to, useful when port 0 was
// requested. Valid only after Listen.
func (r *Runtime) ListenPort() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tcpAcceptor == nil {
		return 0, fmt.Errorf("hioreactor: ListenPort called before Listen")
	}
	return tcpreactor.LocalPort(r.listenFD)
}

// UDPPort reports the port receiver socketID is bound to. Valid only
// after Bind.
func (r *Runtime) UDPPort(socketID int) (int, error) {
	r.mu.Lock()
	udp := r.udp
	r.mu.Unlock()
	if udp == nil {
		return 0, fmt.Errorf("hioreactor: UDPPort called before Bind")
	}
	return udp.LocalPort(socketID)
}

// Bind opens Config's UDP receiver set on ip:port. Call SetCallback
// first. A second call returns api.ErrAlreadyListening.
func (r *Runtime) Bind(network, ip string, port int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handler.empty() {
		return fmt.Errorf("hioreactor: Bind called before SetCallback")
	}
	if r.udp != nil {
		return api.ErrAlreadyListening
	}
	cpus := runtime.NumCPU()
	udp, err := udpreactor.New(udpreactor.Config{
		Network:      network,
		IP:           ip,
		Port:         port,
		NumSockets:   cpus,
		MaxPayload:   r.cfg.UDPMaxPayload,
		RecvBufBytes: r.cfg.UDPRecvBufSize,
		Batch:        true,
		Queue:        r.workerQueues[0],
		Pool:         r.pool.Datagram,
		OnDatagram:   r.dispatchDatagram,
		Log:          r.log,
	})
	if err != nil {
		return err
	}
	r.udp = udp
	r.started = true
	return nil
}

// EventLoop starts every I/O loop and any reactor built by Listen/Bind,
// then blocks until SetExitFlag is called (directly, or via a signal
// armed by SetSignalExit).
func (r *Runtime) EventLoop() error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return fmt.Errorf("hioreactor: EventLoop called before Listen or Bind")
	}
	loops := r.loops
	acceptor := r.tcpAcceptor
	udp := r.udp
	r.mu.Unlock()

	var wg sync.WaitGroup
	loopErrs := make(chan error, len(loops))
	for _, loop := range loops {
		wg.Add(1)
		go func(l *ioloop.Loop) {
			defer wg.Done()
			if err := l.Run(); err != nil {
				loopErrs <- err
				// A fatal loop error shuts the whole runtime down.
				r.SetExitFlag()
			}
		}(loop)
	}

	if acceptor != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			acceptor.Run()
		}()
	}
	if udp != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			udp.Run()
		}()
	}

	wg.Wait()
	close(loopErrs)

	// Every producer of new work (the I/O loops, the acceptor's accept
	// path, the UDP receivers) has now stopped. Stop the worker pool
	// next, which blocks until every already-staged task has finished
	// running, before the acceptor's defensive close pass below touches
	// any connection still left in a loop's live table — otherwise a
	// worker still executing a task against one of those connections
	// would race that pass's Release() (spec.md 4.E/5 shutdown
	// ordering).
	r.stopWorkers()
	if acceptor != nil {
		acceptor.ShutdownDrain()
	}

	for err := range loopErrs {
		if err != nil {
			return err
		}
	}
	return nil
}

// stopWorkers closes every worker queue and joins the worker pool,
// exactly once regardless of whether EventLoop or Release triggers it
// first.
func (r *Runtime) stopWorkers() {
	r.workersOnce.Do(func() {
		if r.workers != nil {
			r.workers.Close()
		}
	})
}

// SetExitFlag begins graceful shutdown: it signals the acceptor, the UDP
// reactor, and every I/O loop to stop accepting new work and return from
// their run loops (spec.md 5's shutdown sequence).
func (r *Runtime) SetExitFlag() {
	r.mu.Lock()
	acceptor := r.tcpAcceptor
	udp := r.udp
	loops := r.loops
	r.mu.Unlock()

	if acceptor != nil {
		acceptor.SetExitFlag()
	}
	if udp != nil {
		udp.SetExitFlag()
	}
	for _, l := range loops {
		l.WakeUp()
	}
}

// Shutdown implements api.GracefulShutdown: it triggers SetExitFlag and
// waits (via Release) for every subsystem to finish tearing down.
func (r *Runtime) Shutdown() error {
	r.SetExitFlag()
	return r.Release()
}

// Release closes every I/O loop, the worker pool, the TCP listening
// socket, and the UDP reactor's sockets, one after another, aggregating
// any teardown errors. Call after EventLoop has returned. Idempotent:
// subsequent calls return nil.
func (r *Runtime) Release() error {
	var err error
	r.relOnce.Do(func() {
		close(r.doneCh)
		r.mu.Lock()
		loops := r.loops
		udp := r.udp
		acceptor := r.tcpAcceptor
		listenFD := r.listenFD
		r.mu.Unlock()

		// Defensive: if EventLoop was never run (or exited before
		// reaching its own stopWorkers call), make sure workers are
		// still joined before we close the loops' epoll/eventfd
		// descriptors out from under them.
		r.stopWorkers()

		for _, l := range loops {
			err = multierr.Append(err, l.Close())
		}
		if acceptor != nil {
			err = multierr.Append(err, unix.Close(listenFD))
		}
		if udp != nil {
			udp.Close()
		}
	})
	return err
}

// SendTo transmits data as one UDP datagram out of receiver socketID
// (spec.md 6: SendTo(socket_id, data, size, ip, port)). Valid only after
// Bind.
func (r *Runtime) SendTo(socketID int, data []byte, ip string, port int) error {
	r.mu.Lock()
	udp := r.udp
	r.mu.Unlock()
	if udp == nil {
		return fmt.Errorf("hioreactor: SendTo called before Bind")
	}
	return udp.SendTo(socketID, data, ip, port)
}

func (r *Runtime) dispatchRead(c *conn.Connection) {
	if r.handler.Read != nil {
		r.handler.Read(c)
	}
}

func (r *Runtime) dispatchWrite(c *conn.Connection) {
	if r.handler.Write != nil {
		r.handler.Write(c)
	}
}

func (r *Runtime) dispatchClose(c *conn.Connection) {
	if r.handler.Close != nil {
		r.handler.Close(c)
	}
}

func (r *Runtime) dispatchDatagram(data []byte, srcIP string, srcPort int) {
	if r.handler.Datagram != nil {
		r.handler.Datagram(data, srcIP, srcPort)
	}
}
