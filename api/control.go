// File: api/control.go
// Package api's Control capability: read-only introspection into a
// running Runtime.
//
// Config is one-shot in this module (validated once, at New, never
// mutated afterward — spec.md 6), so Control does not carry a generic
// SetConfig the way a hot-reloadable control plane would; it only
// exposes the snapshot that was actually validated, live occupancy
// counters, and a named debug-probe registry for ad-hoc diagnostics.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// Control introspects a running Runtime without allowing it to mutate
// the reactor's own knobs.
type Control interface {
	// ConfigSnapshot returns the configuration values New validated,
	// keyed by the same names spec.md 6's option table uses.
	ConfigSnapshot() map[string]any

	// Stats reports live occupancy: buffer pool retention/checkout
	// counters and per-loop live connection counts.
	Stats() map[string]any

	// RegisterDebugProbe adds a named, lazily-evaluated diagnostic hook,
	// queryable later through DebugState.
	RegisterDebugProbe(name string, fn func() any)

	// DebugState evaluates and returns every registered probe.
	DebugState() map[string]any
}
