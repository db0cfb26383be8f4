// File: affinity_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//go:build linux

package hioreactor

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// threadAffinity implements api.Affinity by pinning the calling
// goroutine's OS thread with sched_setaffinity, the same primitive
// internal/dispatch uses for worker pinning.
//
// Grounded on adapters.AffinityAdapter's Pin/Unpin/Get shape, adapted
// off the teacher's NUMA-aware concurrency.PinCurrentThread to this
// module's single golang.org/x/sys/unix implementation (no cgo, no
// separate NUMA-node concept — numaID is accepted and reported back but
// otherwise unused, since spec.md's model has no NUMA-aware placement).
type threadAffinity struct {
	cpuID  int
	numaID int
}

func newThreadAffinity() *threadAffinity {
	return &threadAffinity{cpuID: -1, numaID: -1}
}

func (a *threadAffinity) Pin(cpuID int, numaID int) error {
	if cpuID < 0 {
		return fmt.Errorf("hioreactor: affinity: cpuID must be >= 0")
	}
	runtime.LockOSThread()
	var set unix.CPUSet
	set.Zero()
	set.Set(cpuID)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		runtime.UnlockOSThread()
		return fmt.Errorf("hioreactor: affinity: sched_setaffinity: %w", err)
	}
	a.cpuID = cpuID
	a.numaID = numaID
	return nil
}

func (a *threadAffinity) Unpin() error {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return fmt.Errorf("hioreactor: affinity: sched_getaffinity: %w", err)
	}
	ncpu := runtime.NumCPU()
	for i := 0; i < ncpu; i++ {
		set.Set(i)
	}
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("hioreactor: affinity: sched_setaffinity: %w", err)
	}
	runtime.UnlockOSThread()
	a.cpuID = -1
	a.numaID = -1
	return nil
}

func (a *threadAffinity) Get() (cpuID int, numaID int, err error) {
	return a.cpuID, a.numaID, nil
}
