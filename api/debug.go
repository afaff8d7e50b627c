// File: api/debug.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Live introspection of IPC state for diagnostics.

package api

// Debug collects named probes over a running process tree. Each context
// publishes its retry queue depth, pending fd receivers and unread inbound
// ring slots as "ipc.<procnum>.<what>".
type Debug interface {
	// DumpState evaluates every probe and returns the results by name.
	// Probes run outside the registry lock and may block briefly.
	DumpState() map[string]any

	// RegisterProbe adds fn under name, replacing an earlier probe with the
	// same name.
	RegisterProbe(name string, fn func() any)
}
