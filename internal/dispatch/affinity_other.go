//go:build !linux

// File: internal/dispatch/affinity_other.go
//
// Non-Linux platforms have no portable equivalent of sched_setaffinity
// reachable without cgo; pinning is a documented no-op here, mirroring
// the teacher's own affinity_stub.go / affinity_windows.go split.
package dispatch

import "runtime"

func pinCurrentThreadToCPU(cpuID int) {
	runtime.LockOSThread()
}
