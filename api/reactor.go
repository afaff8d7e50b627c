// File: api/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Defines the event loop contract consumed by the IPC core: readiness
// callbacks on descriptors and one-shot timers.

package api

import "time"

// FDEventType is a bit set of readiness conditions.
type FDEventType uint32

const (
	EventRead FDEventType = 1 << iota
	EventWrite
	EventError
)

// FDCallback runs on the loop goroutine when fd becomes ready.
type FDCallback func(fd uintptr, events FDEventType)

// Loop is the single-threaded cooperative event loop that owns a process.
type Loop interface {
	// Register associates fd with cb. An fd may be registered once.
	Register(fd uintptr, events FDEventType, cb FDCallback) error

	// Unregister removes fd from the interest set.
	Unregister(fd uintptr) error

	// NewTimer creates an idle one-shot timer that runs fn on the loop.
	NewTimer(fn func()) Timer
}

// Timer is a re-armable one-shot timer bound to a Loop.
type Timer interface {
	// Start arms the timer to fire once after d, replacing any pending expiry.
	Start(d time.Duration)
	// Stop disarms the timer.
	Stop()
	// Active reports whether an expiry is pending.
	Active() bool
	// Close stops the timer and releases it; the timer is unusable afterwards.
	Close()
}
