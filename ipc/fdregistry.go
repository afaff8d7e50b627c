// File: ipc/fdregistry.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Receivers waiting for descriptors by reference, and descriptors waiting
// for their receiver.

package ipc

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-ipc/api"
)

// FdCallback receives a descriptor for ref. On api.StatusOK the callee owns
// fd. On api.StatusFail or api.StatusTimeout fd is -1.
type FdCallback func(status api.Status, ref uintptr, fd int, privdata uintptr, receiverData any)

// Delivery outcomes reported by deliver.
const (
	fdDelivered = "delivered"
	fdBuffered  = "buffered"
)

type bufferedFd struct {
	fd       int
	privdata uintptr
}

type fdReceiver struct {
	ref         uintptr
	description string
	callback    FdCallback
	data        any
	buffered    []bufferedFd
	timeout     api.Timer
	inUse       bool
	finished    bool
}

// fdRegistry keeps entries in creation order, which is also the order
// teardown resolves them in.
type fdRegistry struct {
	loop    api.Loop
	entries []*fdReceiver
	changed func(n int)
}

func newFdRegistry(loop api.Loop, changed func(int)) *fdRegistry {
	return &fdRegistry{loop: loop, changed: changed}
}

func (r *fdRegistry) Len() int { return len(r.entries) }

func (r *fdRegistry) lookup(ref uintptr) (*fdReceiver, int) {
	for i, e := range r.entries {
		if e.ref == ref {
			return e, i
		}
	}
	return nil, -1
}

func (r *fdRegistry) add(e *fdReceiver) {
	r.entries = append(r.entries, e)
	r.changed(len(r.entries))
}

// invoke runs the callback with the entry marked busy and reports whether
// the callback asked to finish the entry.
func (r *fdRegistry) invoke(e *fdReceiver, status api.Status, fd int, privdata uintptr) bool {
	e.inUse = true
	e.callback(status, e.ref, fd, privdata, e.data)
	e.inUse = false
	return e.finished
}

// start registers callback for ref and synchronously hands it every
// descriptor that arrived first, oldest first.
func (r *fdRegistry) start(ref uintptr, description string, timeout time.Duration, callback FdCallback, data any) error {
	if callback == nil {
		return fmt.Errorf("fd receiver %d without callback: %w", ref, api.ErrInvalidArgument)
	}
	if description == "" {
		description = "?"
	}
	e, _ := r.lookup(ref)
	if e != nil && e.callback != nil {
		return fmt.Errorf("ref %d (%s): %w", ref, e.description, api.ErrReceiverActive)
	}
	if e == nil {
		e = &fdReceiver{ref: ref}
		r.add(e)
	}
	e.callback = callback
	e.data = data
	e.description = description
	if timeout > 0 {
		e.timeout = r.loop.NewTimer(func() { r.expire(e) })
		e.timeout.Start(timeout)
	}

	for len(e.buffered) > 0 && !e.finished {
		b := e.buffered[0]
		e.buffered = e.buffered[1:]
		r.invoke(e, api.StatusOK, b.fd, b.privdata)
	}
	if e.finished {
		r.remove(e)
		return nil
	}
	e.buffered = nil
	return nil
}

// expire reports the timeout to the callback, then finishes the entry.
func (r *fdRegistry) expire(e *fdReceiver) {
	if cur, _ := r.lookup(e.ref); cur != e {
		return
	}
	r.invoke(e, api.StatusTimeout, -1, 0)
	r.remove(e)
}

// finish drops ref, closing descriptors nobody claimed. Called from inside
// the entry's own callback, removal waits until the callback returns.
func (r *fdRegistry) finish(ref uintptr) error {
	e, _ := r.lookup(ref)
	if e == nil {
		return fmt.Errorf("ref %d: %w", ref, api.ErrReceiverNotFound)
	}
	if e.inUse {
		e.finished = true
		return nil
	}
	r.remove(e)
	return nil
}

func (r *fdRegistry) remove(e *fdReceiver) {
	e.finished = true
	for _, b := range e.buffered {
		unix.Close(b.fd)
	}
	e.buffered = nil
	if e.timeout != nil {
		e.timeout.Close()
		e.timeout = nil
	}
	if _, i := r.lookup(e.ref); i >= 0 && r.entries[i] == e {
		r.entries = append(r.entries[:i], r.entries[i+1:]...)
		r.changed(len(r.entries))
	}
}

// deliver routes an arrived descriptor to its receiver or buffers it.
func (r *fdRegistry) deliver(fd int, ref uintptr, privdata uintptr) string {
	e, _ := r.lookup(ref)
	if e == nil {
		e = &fdReceiver{ref: ref, description: "buffered descriptors waiting to be received"}
		r.add(e)
	}
	if e.callback == nil {
		e.buffered = append(e.buffered, bufferedFd{fd: fd, privdata: privdata})
		return fdBuffered
	}
	if r.invoke(e, api.StatusOK, fd, privdata) {
		r.remove(e)
	}
	return fdDelivered
}

// teardown fails every waiting callback once and closes every buffered
// descriptor. It returns the number of entries resolved.
func (r *fdRegistry) teardown() int {
	entries := r.entries
	r.entries = nil
	for _, e := range entries {
		if e.timeout != nil {
			e.timeout.Close()
			e.timeout = nil
		}
		if e.callback != nil {
			e.callback(api.StatusFail, e.ref, -1, 0, e.data)
		}
		for _, b := range e.buffered {
			unix.Close(b.fd)
		}
		e.buffered = nil
		e.finished = true
	}
	r.changed(0)
	return len(entries)
}
