// File: affinity_other.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//go:build !linux

package hioreactor

import "fmt"

// threadAffinity is a no-op outside Linux: sched_setaffinity has no
// portable equivalent this module targets (spec.md's environment
// section requires epoll, which is Linux-only anyway).
type threadAffinity struct {
	cpuID  int
	numaID int
}

func newThreadAffinity() *threadAffinity {
	return &threadAffinity{cpuID: -1, numaID: -1}
}

func (a *threadAffinity) Pin(cpuID int, numaID int) error {
	return fmt.Errorf("hioreactor: affinity: unsupported on this platform")
}

func (a *threadAffinity) Unpin() error { return nil }

func (a *threadAffinity) Get() (cpuID int, numaID int, err error) {
	return a.cpuID, a.numaID, nil
}
