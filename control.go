// File: control.go
// Runtime's api.Control implementation: an immutable config snapshot
// taken once at New, live occupancy stats computed on demand, and a
// named debug-probe registry.
//
// Grounded on the teacher's control.ConfigStore and control.DebugProbes
// (independent single-purpose registries behind sync.RWMutex), merged
// into one type satisfying api.Control instead of the teacher's
// separately-constructed pieces wired by hand into facade.HioloadWS. The
// teacher's control.MetricsRegistry and hot-reload listener plumbing are
// not carried forward: Config here is one-shot (spec.md 6), so there is
// nothing to reload and no mutable config to register listeners against.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package hioreactor

import (
	"sync"

	"github.com/momentics/hioreactor/api"
)

var _ api.Control = (*runtimeControl)(nil)

type runtimeControl struct {
	config map[string]any

	mu     sync.RWMutex
	probes map[string]func() any

	r *Runtime
}

func newRuntimeControl(r *Runtime) *runtimeControl {
	return &runtimeControl{
		config: map[string]any{
			"read_bsize":             r.cfg.ReadBufSize,
			"write_bsize":            r.cfg.WriteBufSize,
			"buffer_pool_slab_count": r.cfg.BufferPoolSlabCount,
			"epoll_max_events":       r.cfg.EpollMaxEvents,
			"worker_queue_length":    r.cfg.WorkerQueueLength,
			"worker_batch_process":   r.cfg.WorkerBatchProcess,
			"worker_thread_ratio":    r.cfg.WorkerThreadRatio,
		},
		probes: make(map[string]func() any),
		r:      r,
	}
}

// ConfigSnapshot returns the configuration values Validate accepted at
// New. The map is immutable after construction; callers get their own
// copy.
func (c *runtimeControl) ConfigSnapshot() map[string]any {
	out := make(map[string]any, len(c.config))
	for k, v := range c.config {
		out[k] = v
	}
	return out
}

// Stats reports live occupancy across the buffer pools and I/O loops,
// computed on demand rather than cached.
func (c *runtimeControl) Stats() map[string]any {
	c.r.mu.Lock()
	loops := c.r.loops
	pool := c.r.pool
	c.r.mu.Unlock()

	liveCounts := make([]int64, len(loops))
	for i, l := range loops {
		liveCounts[i] = l.LiveCount()
	}
	return map[string]any{
		"buffer_pools":     pool.Stats(),
		"loop_live_counts": liveCounts,
	}
}

// RegisterDebugProbe adds a named, lazily-evaluated diagnostic hook.
func (c *runtimeControl) RegisterDebugProbe(name string, fn func() any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.probes[name] = fn
}

// DebugState evaluates and returns every registered probe.
func (c *runtimeControl) DebugState() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]any, len(c.probes))
	for k, fn := range c.probes {
		out[k] = fn()
	}
	return out
}
