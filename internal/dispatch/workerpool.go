// File: internal/dispatch/workerpool.go
package dispatch

import (
	"sync"
	"time"

	"github.com/momentics/hioreactor/internal/rlog"
)

// StealThreshold is the minimum peer-queue occupancy a work-stealing
// worker requires before it will dequeue from that peer, gating theft to
// avoid thrashing a peer that is merely a little ahead (spec.md 4.D).
const StealThreshold = 2

// idleBackoff is how long a worker owning more than one queue sleeps
// between drain passes once every owned queue came up empty. Workers
// that own exactly one queue never hit this path: they block on that
// queue's Pop instead.
const idleBackoff = 200 * time.Microsecond

// Option configures a WorkerPool at construction time.
type Option func(*poolConfig)

type poolConfig struct {
	cpuIDs       []int
	workStealing bool
	batchProcess int
}

// WithAffinity best-effort-pins worker i to cpuIDs[i % len(cpuIDs)].
// Supplements original_source's ThreadPool CPU-ID pinning (spec_full.md
// 12); a nil or empty slice leaves workers unpinned.
func WithAffinity(cpuIDs []int) Option {
	return func(c *poolConfig) { c.cpuIDs = cpuIDs }
}

// WithWorkStealing enables the optional work-stealing scan described in
// spec.md 4.D: a worker whose own queues are empty scans peer queues it
// does not own and takes one task at a time from any peer whose length is
// at or above StealThreshold.
func WithWorkStealing() Option {
	return func(c *poolConfig) { c.workStealing = true }
}

// WithBatchProcess sets worker_batch_process (spec.md 6): the maximum
// number of tasks a worker drains from one queue in one locked pass
// before running them, trading a little latency on the first task in
// the batch for fewer lock acquisitions under load. n <= 1 processes one
// task at a time, matching the pool's default.
func WithBatchProcess(n int) Option {
	return func(c *poolConfig) { c.batchProcess = n }
}

// WorkerPool is a fixed set of long-lived worker goroutines serviced
// against a fixed set of queues, matching spec.md 4.E's "Worker threads:
// fixed count ... each servicing one or more queues" — the worker count W
// and the queue count K (one queue per I/O loop) are independent, per
// spec.md 6's worker_thread_ratio knob.
type WorkerPool struct {
	queues []*Queue
	log    rlog.Logger
	wg     sync.WaitGroup
}

// NewWorkerPool starts numWorkers workers over queues. When numWorkers is
// at least len(queues), each worker owns exactly one queue and queues are
// shared round-robin across the extra workers. Otherwise each worker owns
// a round-robin share of the queues, servicing more than one.
func NewWorkerPool(numWorkers int, queues []*Queue, log rlog.Logger, opts ...Option) *WorkerPool {
	if numWorkers < 1 {
		numWorkers = 1
	}
	cfg := poolConfig{batchProcess: 1}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.batchProcess < 1 {
		cfg.batchProcess = 1
	}
	p := &WorkerPool{queues: queues, log: log}
	for i, owned := range assignQueues(numWorkers, queues) {
		p.wg.Add(1)
		cpuID := -1
		if len(cfg.cpuIDs) > 0 {
			cpuID = cfg.cpuIDs[i%len(cfg.cpuIDs)]
		}
		go p.runWorker(owned, cpuID, cfg.workStealing, cfg.batchProcess)
	}
	return p
}

// assignQueues splits queues across numWorkers workers.
func assignQueues(numWorkers int, queues []*Queue) [][]*Queue {
	out := make([][]*Queue, numWorkers)
	if len(queues) == 0 {
		return out
	}
	if numWorkers >= len(queues) {
		for i := 0; i < numWorkers; i++ {
			out[i] = []*Queue{queues[i%len(queues)]}
		}
		return out
	}
	for j, q := range queues {
		w := j % numWorkers
		out[w] = append(out[w], q)
	}
	return out
}

func (p *WorkerPool) runWorker(owned []*Queue, cpuID int, steal bool, batchProcess int) {
	defer p.wg.Done()
	if cpuID >= 0 {
		pinCurrentThreadToCPU(cpuID)
	}
	single := len(owned) == 1
	for {
		ran := false
		for _, q := range owned {
			tasks := q.TryPopBulk(batchProcess)
			if len(tasks) == 0 {
				continue
			}
			for _, t := range tasks {
				p.runTask(t)
			}
			ran = true
		}
		if ran {
			continue
		}
		if steal {
			if t, ok := p.tryStealFor(owned); ok {
				p.runTask(t)
				continue
			}
		}
		if single {
			task, ok := owned[0].Pop()
			if !ok {
				return // queue closed and drained: shutdown
			}
			p.runTask(task)
			continue
		}
		if allClosedAndEmpty(owned) {
			return // every owned queue closed and drained: shutdown
		}
		time.Sleep(idleBackoff)
	}
}

func (p *WorkerPool) tryStealFor(owned []*Queue) (Task, bool) {
	for _, peer := range p.queues {
		if ownsQueue(owned, peer) {
			continue
		}
		if peer.Len() < StealThreshold {
			continue
		}
		if task, ok := peer.TryPop(); ok {
			return task, true
		}
	}
	return nil, false
}

func ownsQueue(owned []*Queue, q *Queue) bool {
	for _, x := range owned {
		if x == q {
			return true
		}
	}
	return false
}

func allClosedAndEmpty(qs []*Queue) bool {
	for _, q := range qs {
		if !q.Closed() || q.Len() > 0 {
			return false
		}
	}
	return true
}

func (p *WorkerPool) runTask(t Task) {
	defer func() {
		if r := recover(); r != nil && p.log != nil {
			p.log.Error("dispatch: task panicked", rlog.String("recover", safeString(r)))
		}
	}()
	t.Run()
}

func safeString(v interface{}) string {
	if err, ok := v.(error); ok {
		return err.Error()
	}
	return "non-error panic value"
}

// Close signals every queue closed and waits for all workers to exit,
// the worker half of spec.md 4.E's shutdown sequence ("asks the worker
// pool to stop ... joins workers").
func (p *WorkerPool) Close() {
	for _, q := range p.queues {
		q.Close()
	}
	p.wg.Wait()
}
