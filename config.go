// File: config.go
// Package hioreactor is the public facade: a one-shot Config builder,
// Listen/Bind, callback registration, and the EventLoop/SetExitFlag/
// Release lifecycle from spec.md 6.
//
// Grounded on the teacher's facade.Config/facade.New shape (an immutable
// config struct with a DefaultConfig constructor, validated once at
// construction, exposed behind a single facade type), adapted to the
// spec's exact field set and one-shot-before-any-instance-creation
// contract instead of the teacher's WebSocket-oriented options.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package hioreactor

import (
	"fmt"

	"github.com/momentics/hioreactor/api"
	"go.uber.org/zap/zapcore"
)

// Config holds every knob from spec.md 6's "Recognized options" table.
// It is validated once, at New, and never mutated afterward — the "one
// shot, before any instance creation" contract the spec calls for.
type Config struct {
	// TCP
	ReadBufSize            int
	WriteBufSize           int
	BufferPoolSlabCount    int
	BufferPoolMinRetained  int
	EpollMaxEvents         int
	EpollDefaultEvents     api.EventMask
	WorkerQueueLength      int
	WorkerBatchSubmit      int
	WorkerBatchProcess     int
	WorkerThreadRatio      float64

	// UDP
	UDPRecvBufSize int
	UDPMaxPayload  int

	MinLogLevel zapcore.Level
}

// DefaultConfig returns spec-compliant defaults suitable for a small
// development deployment.
func DefaultConfig() Config {
	return Config{
		ReadBufSize:           64 * 1024,
		WriteBufSize:          64 * 1024,
		BufferPoolSlabCount:   32,
		BufferPoolMinRetained: 32,
		EpollMaxEvents:        1024,
		EpollDefaultEvents:    api.EventRead,
		WorkerQueueLength:     4096,
		WorkerBatchSubmit:     1,
		WorkerBatchProcess:    32,
		WorkerThreadRatio:     0.5,
		UDPRecvBufSize:        256 * 1024,
		UDPMaxPayload:         1500,
		MinLogLevel:           zapcore.InfoLevel,
	}
}

// Validate checks every field against the ranges spec.md 6 documents,
// returning api.ErrInvalidConfig wrapped with the offending field.
func (c Config) Validate() error {
	invalid := func(field string) error {
		return fmt.Errorf("%s: %w", field, api.ErrInvalidConfig)
	}
	if c.ReadBufSize < 1024 || c.ReadBufSize%1024 != 0 {
		return invalid("read_bsize")
	}
	if c.WriteBufSize < 1024 || c.WriteBufSize%1024 != 0 {
		return invalid("write_bsize")
	}
	if c.BufferPoolSlabCount < 1 || c.BufferPoolSlabCount > 1024 {
		return invalid("buffer_pool_slab_count")
	}
	if c.BufferPoolMinRetained < c.BufferPoolSlabCount {
		return invalid("buffer_pool_min_retained")
	}
	if c.EpollMaxEvents < 1 || c.EpollMaxEvents > 65535 {
		return invalid("epoll_max_events")
	}
	if c.EpollDefaultEvents == api.EventNone {
		return invalid("epoll_default_events")
	}
	if c.WorkerQueueLength < 1 || c.WorkerQueueLength > 1048576 {
		return invalid("worker_queue_length")
	}
	if c.WorkerBatchSubmit < 1 || c.WorkerBatchSubmit > c.WorkerQueueLength {
		return invalid("worker_batch_submit")
	}
	if c.WorkerBatchProcess < 1 || c.WorkerBatchProcess > 1024 {
		return invalid("worker_batch_process")
	}
	if c.WorkerThreadRatio <= 0.0 || c.WorkerThreadRatio >= 1.0 {
		return invalid("worker_thread_ratio")
	}
	if c.UDPRecvBufSize < 200*1024 || c.UDPRecvBufSize%1024 != 0 {
		return invalid("recv_bsize")
	}
	if c.UDPMaxPayload < 1452 || c.UDPMaxPayload > 65507 {
		return invalid("max_payload")
	}
	return nil
}
