// File: internal/bufpool/manager.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Manager groups the three pools spec.md 4.B calls for: TCP read, TCP
// write, and UDP datagram buffers, mirroring the teacher's
// pool.BufferPoolManager (there keyed by NUMA node and size class; here
// keyed by the three fixed roles the reactor actually needs).
package bufpool

import "github.com/momentics/hioreactor/api"

// DatagramBufferHeadroom is added on top of Config.UDPMaxPayload when
// sizing the datagram pool, mirroring the receive buffer's own
// MaxPayload+64 sizing in internal/udpreactor.Reactor and the original
// implementation's MAX_PAYLOAD_SIZE+48 (spec.md 4.F: the pool buffer
// holds max_payload).
const DatagramBufferHeadroom = 64

// Manager owns the read, write, and datagram pools for one runtime.
type Manager struct {
	Read     *SlabPool
	Write    *SlabPool
	Datagram *SlabPool
}

// NewManager builds the three pools. readBufSize/writeBufSize/
// datagramMaxPayload come from Config.ReadBufSize/WriteBufSize/
// UDPMaxPayload; slabCount and minRetained apply to all three pools
// uniformly, matching Config.BufferPoolSlabCount /
// Config.BufferPoolMinRetained (spec.md 6). The datagram pool is sized
// datagramMaxPayload+DatagramBufferHeadroom so a batched-mode UDP
// receive never truncates a payload up to the configured max, unlike a
// pool fixed at the historical 1500-byte default.
func NewManager(readBufSize, writeBufSize, datagramMaxPayload, slabCount, minRetained int) *Manager {
	return &Manager{
		Read:     New(readBufSize, slabCount, minRetained),
		Write:    New(writeBufSize, slabCount, minRetained),
		Datagram: New(datagramMaxPayload+DatagramBufferHeadroom, slabCount, minRetained),
	}
}

// Stats reports occupancy across all three pools.
func (m *Manager) Stats() map[string]api.BufferPoolStats {
	return map[string]api.BufferPoolStats{
		"read":     m.Read.Stats(),
		"write":    m.Write.Stats(),
		"datagram": m.Datagram.Stats(),
	}
}

// Reset resets all three pools. See SlabPool.Reset for the idle
// precondition.
func (m *Manager) Reset() {
	m.Read.Reset()
	m.Write.Reset()
	m.Datagram.Reset()
}
