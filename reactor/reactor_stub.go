//go:build !linux
// +build !linux

// File: reactor/reactor_stub.go
// Author: momentics <momentics@gmail.com>
//
// Stub implementation for unsupported platforms.

package reactor

import (
	"context"

	"github.com/momentics/hioload-ipc/api"
)

// Reactor is unavailable outside Linux.
type Reactor struct{}

// New returns api.ErrNotSupported on this platform.
func New(opts ...Option) (*Reactor, error) {
	_ = buildOptions(opts)
	return nil, api.ErrNotSupported
}

func (r *Reactor) Register(uintptr, api.FDEventType, api.FDCallback) error {
	return api.ErrNotSupported
}
func (r *Reactor) Unregister(uintptr) error { return api.ErrNotSupported }
func (r *Reactor) NewTimer(func()) api.Timer { return nil }
func (r *Reactor) Post(func()) {}
func (r *Reactor) Poll(int) error { return api.ErrNotSupported }
func (r *Reactor) Run(context.Context) error { return api.ErrNotSupported }
func (r *Reactor) Close() error { return nil }
