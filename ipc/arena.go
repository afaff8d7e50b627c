// File: ipc/arena.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package ipc

import (
	"sync"

	"github.com/momentics/hioload-ipc/api"
)

// Handle names a value parked in an Arena.
type Handle uint64

// Payload returns the local payload carrying h.
func (h Handle) Payload() api.Payload { return api.LocalPayload(uint64(h)) }

// Arena parks Go values so a ring slot can carry a handle instead of a
// pointer. Handles resolve only inside the address space owning the arena.
type Arena struct {
	mu    sync.Mutex
	next  Handle
	items map[Handle]any
}

// NewArena returns an empty arena.
func NewArena() *Arena {
	return &Arena{items: make(map[Handle]any)}
}

// Put stores v and returns its handle. Handles are never zero.
func (a *Arena) Put(v any) Handle {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.next++
	a.items[a.next] = v
	return a.next
}

// Take removes and returns the value for h.
func (a *Arena) Take(h Handle) (any, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	v, ok := a.items[h]
	if ok {
		delete(a.items, h)
	}
	return v, ok
}

// Peek returns the value for h without removing it.
func (a *Arena) Peek(h Handle) (any, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	v, ok := a.items[h]
	return v, ok
}

// Resolve takes the value behind a local payload.
func (a *Arena) Resolve(p api.Payload) (any, bool) {
	h, ok := p.Local()
	if !ok {
		return nil, false
	}
	return a.Take(Handle(h))
}

// Len returns the number of parked values.
func (a *Arena) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.items)
}
