// File: api/shutdown.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Stop contract shared by a single IPC context and a whole process tree.

package api

// GracefulShutdown stops message flow without losing track of anything in
// flight. By the time Shutdown returns, every queued outbound message has
// had its cancel callback run once, every pending fd receiver has seen
// StatusFail, and buffered descriptors are closed. Calling it again is a
// no-op that returns nil.
type GracefulShutdown interface {
	Shutdown() error
}
