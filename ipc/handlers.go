// File: ipc/handlers.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Handler table mapping message codes to receive and cancel callbacks.

package ipc

import (
	"fmt"
	"sync"

	"github.com/momentics/hioload-ipc/api"
)

// ReceiveFunc handles a delivered message on the receiving context.
type ReceiveFunc func(c *Context, code api.Code, p api.Payload)

// CancelFunc releases a queued message that will never be delivered. It runs
// on the sending context.
type CancelFunc func(c *Context, code api.Code, p api.Payload)

// Handler is one registered message code.
type Handler struct {
	Code    api.Code
	Name    string
	receive ReceiveFunc
	cancel  CancelFunc
}

func noCancel(*Context, api.Code, api.Payload) {}

// HandlerTable is the registry of message codes shared by every process of
// a tree.
type HandlerTable struct {
	mu      sync.RWMutex
	entries [256]*Handler
}

// NewHandlerTable returns an empty table.
func NewHandlerTable() *HandlerTable {
	return &HandlerTable{}
}

// Add registers receive and cancel under code. api.CodeAutomatic picks the
// highest free code. cancel may be nil.
func (t *HandlerTable) Add(name string, code api.Code, receive ReceiveFunc, cancel CancelFunc) (*Handler, error) {
	if receive == nil {
		return nil, fmt.Errorf("handler %q without receive func: %w", name, api.ErrInvalidArgument)
	}
	if name == "" {
		name = "unnamed"
	}
	if cancel == nil {
		cancel = noCancel
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if code == api.CodeAutomatic {
		for c := 255; c > int(api.CodeNil); c-- {
			if t.entries[c] == nil {
				code = api.Code(c)
				break
			}
		}
		if code == api.CodeAutomatic {
			return nil, api.ErrNoFreeCode
		}
	} else if prev := t.entries[code]; prev != nil {
		return nil, fmt.Errorf("code %d (%s): %w", code, prev.Name, api.ErrCodeInUse)
	}

	h := &Handler{Code: code, Name: name, receive: receive, cancel: cancel}
	t.entries[code] = h
	return h, nil
}

// Lookup returns the handler for code.
func (t *HandlerTable) Lookup(code api.Code) (*Handler, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	h := t.entries[code]
	return h, h != nil
}

// Name returns the registered name of code, for logs.
func (t *HandlerTable) Name(code api.Code) string {
	if h, ok := t.Lookup(code); ok {
		return h.Name
	}
	return "unregistered"
}

// Len returns the number of registered codes.
func (t *HandlerTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, h := range t.entries {
		if h != nil {
			n++
		}
	}
	return n
}

// Dispatch runs the receive callback for code on c.
func (t *HandlerTable) Dispatch(c *Context, code api.Code, p api.Payload) error {
	h, ok := t.Lookup(code)
	if !ok {
		return fmt.Errorf("code %d: %w", code, api.ErrUnknownCode)
	}
	h.receive(c, code, p)
	return nil
}

// Cancel runs the cancel callback for code on c.
func (t *HandlerTable) Cancel(c *Context, code api.Code, p api.Payload) error {
	h, ok := t.Lookup(code)
	if !ok {
		return fmt.Errorf("code %d: %w", code, api.ErrUnknownCode)
	}
	h.cancel(c, code, p)
	return nil
}
