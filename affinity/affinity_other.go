//go:build !linux

// File: affinity/affinity_other.go
// Author: momentics <momentics@gmail.com>

package affinity

import "github.com/momentics/hioload-ipc/api"

func pinPlatform(int) error { return api.ErrNotSupported }

// Current is not available on this platform.
func Current() ([]int, error) { return nil, api.ErrNotSupported }
