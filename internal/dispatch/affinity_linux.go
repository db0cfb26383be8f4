//go:build linux

// File: internal/dispatch/affinity_linux.go
//
// Best-effort CPU pinning for worker OS threads, grounded on the
// teacher's internal/concurrency.PinCurrentThread (which uses cgo +
// libnuma) but reimplemented with golang.org/x/sys/unix's
// SchedSetaffinity so no cgo is required — closer to the teacher's own
// pin_linux_nocgo.go fallback in spirit, but genuinely pinning rather
// than no-op. Supplements original_source's ThreadPool CPU-ID pinning
// (spec_full.md 12).
package dispatch

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// pinCurrentThreadToCPU locks the calling goroutine to its OS thread and
// asks the scheduler to run that thread only on cpuID. Errors are
// swallowed: pinning is best-effort per spec.md 4.E.
func pinCurrentThreadToCPU(cpuID int) {
	runtime.LockOSThread()
	var set unix.CPUSet
	set.Zero()
	set.Set(cpuID)
	_ = unix.SchedSetaffinity(0, &set)
}
