// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

// Package fake provides deterministic stand-ins for kernel-backed pieces so
// IPC logic can be tested without epoll or real clocks.
package fake

import (
	"errors"
	"sort"
	"time"

	"github.com/momentics/hioload-ipc/api"
)

// Loop is a manual api.Loop. Nothing happens until the test calls Ready or
// Advance; callbacks run on the calling goroutine.
type Loop struct {
	now       time.Duration
	callbacks map[uintptr]api.FDCallback
	timers    []*Timer
}

// Ensure compile-time interface compliance.
var _ api.Loop = (*Loop)(nil)

// NewLoop returns an empty manual loop at virtual time zero.
func NewLoop() *Loop {
	return &Loop{callbacks: make(map[uintptr]api.FDCallback)}
}

// Register records cb for fd.
func (l *Loop) Register(fd uintptr, _ api.FDEventType, cb api.FDCallback) error {
	if cb == nil {
		return api.ErrInvalidArgument
	}
	if _, dup := l.callbacks[fd]; dup {
		return api.ErrAlreadyExists
	}
	l.callbacks[fd] = cb
	return nil
}

// Unregister forgets fd.
func (l *Loop) Unregister(fd uintptr) error {
	if _, ok := l.callbacks[fd]; !ok {
		return api.ErrNotFound
	}
	delete(l.callbacks, fd)
	return nil
}

// Registered reports whether fd has a callback.
func (l *Loop) Registered(fd uintptr) bool {
	_, ok := l.callbacks[fd]
	return ok
}

// Ready runs the callback registered for fd as a read event.
func (l *Loop) Ready(fd uintptr) error {
	cb, ok := l.callbacks[fd]
	if !ok {
		return errors.New("fake: fd not registered")
	}
	cb(fd, api.EventRead)
	return nil
}

// NewTimer creates an idle timer driven by Advance.
func (l *Loop) NewTimer(fn func()) api.Timer {
	t := &Timer{loop: l, fn: fn}
	l.timers = append(l.timers, t)
	return t
}

// Now returns the virtual time elapsed since NewLoop.
func (l *Loop) Now() time.Duration { return l.now }

// Advance moves virtual time forward by d, firing due timers in deadline
// order. A timer re-armed by its own callback fires again only if its new
// deadline also falls inside the window.
func (l *Loop) Advance(d time.Duration) int {
	end := l.now + d
	fired := 0
	for {
		next := l.nextDue(end)
		if next == nil {
			break
		}
		l.now = next.deadline
		next.armed = false
		next.fn()
		fired++
	}
	l.now = end
	return fired
}

// TimerCount returns how many timers exist, armed or not.
func (l *Loop) TimerCount() int { return len(l.timers) }

// Timers returns the currently armed timers ordered by deadline.
func (l *Loop) Timers() []*Timer {
	var out []*Timer
	for _, t := range l.timers {
		if t.armed {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].deadline < out[j].deadline })
	return out
}

func (l *Loop) nextDue(end time.Duration) *Timer {
	var best *Timer
	for _, t := range l.timers {
		if t.armed && t.deadline <= end && (best == nil || t.deadline < best.deadline) {
			best = t
		}
	}
	return best
}

// Timer is a virtual one-shot timer.
type Timer struct {
	loop     *Loop
	fn       func()
	armed    bool
	deadline time.Duration
	starts   int
}

// Start arms the timer d after the loop's current virtual time.
func (t *Timer) Start(d time.Duration) {
	t.armed = true
	t.deadline = t.loop.now + d
	t.starts++
}

// Stop disarms the timer.
func (t *Timer) Stop() { t.armed = false }

// Close disarms the timer and detaches it from the loop.
func (t *Timer) Close() {
	t.armed = false
	for i, other := range t.loop.timers {
		if other == t {
			t.loop.timers = append(t.loop.timers[:i], t.loop.timers[i+1:]...)
			break
		}
	}
}

// Active reports whether the timer is armed.
func (t *Timer) Active() bool { return t.armed }

// Deadline returns the virtual expiry of an armed timer.
func (t *Timer) Deadline() time.Duration { return t.deadline }

// Starts counts how many times the timer was armed.
func (t *Timer) Starts() int { return t.starts }
