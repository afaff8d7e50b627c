// File: ipc/typed.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package ipc

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/momentics/hioload-ipc/api"
)

// HandleValue registers a handler whose messages carry a T parked in the arena.
// The value is taken out of the arena before receive or cancel runs, so each
// value is released exactly once. cancel may be nil.
func HandleValue[T any](c *Context, name string, code api.Code, receive func(c *Context, v T), cancel func(c *Context, v T)) (*Handler, error) {
	if receive == nil {
		return nil, fmt.Errorf("typed handler %q: %w", name, api.ErrInvalidArgument)
	}
	onReceive := func(rc *Context, code api.Code, p api.Payload) {
		if v, ok := resolve[T](rc, code, p); ok {
			receive(rc, v)
		}
	}
	onCancel := func(cc *Context, code api.Code, p api.Payload) {
		v, ok := resolve[T](cc, code, p)
		if ok && cancel != nil {
			cancel(cc, v)
		}
	}
	return c.AddHandler(name, code, onReceive, onCancel)
}

// SendValue parks v in the arena and sends its handle. The value is
// reclaimed if the send is refused.
func SendValue[T any](c *Context, dst *Process, code api.Code, v T) error {
	h := c.arena.Put(v)
	if err := c.Send(dst, code, h.Payload()); err != nil {
		c.arena.Take(h)
		return err
	}
	return nil
}

func resolve[T any](c *Context, code api.Code, p api.Payload) (T, bool) {
	var zero T
	raw, ok := c.arena.Resolve(p)
	if !ok {
		c.log.Error("ipc payload is not a live arena handle", zap.Uint8("code", uint8(code)), zap.Stringer("payload", p))
		return zero, false
	}
	v, ok := raw.(T)
	if !ok {
		c.log.Error("ipc payload has unexpected type", zap.Uint8("code", uint8(code)), zap.String("got", fmt.Sprintf("%T", raw)), zap.String("want", fmt.Sprintf("%T", zero)))
		return zero, false
	}
	return v, true
}
