//go:build !linux

// File: ipc/fdlink_other.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package ipc

import "github.com/momentics/hioload-ipc/api"

// FdLink is unavailable outside Linux.
type FdLink struct{}

// NewFdLink returns api.ErrNotSupported on this platform.
func NewFdLink() (*FdLink, error) { return nil, api.ErrNotSupported }

func (l *FdLink) ReadFd() int { return -1 }

func (l *FdLink) Send(int, uintptr, uintptr) error { return api.ErrNotSupported }

func (l *FdLink) Recv() (int, uintptr, uintptr, error) { return -1, 0, 0, api.ErrWouldBlock }

func (l *FdLink) Close() error { return nil }
