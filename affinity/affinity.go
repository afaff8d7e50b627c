// File: affinity/affinity.go
// Author: momentics <momentics@gmail.com>
//
// CPU pinning for event loop threads. Platform-specific implementations
// live in files guarded by build tags.

package affinity

import (
	"fmt"
	"runtime"

	"github.com/momentics/hioload-ipc/api"
)

// maxCPU matches the kernel's default cpu_set_t size.
const maxCPU = 1024

// Pin binds the calling OS thread to cpu. The caller must hold the thread
// with runtime.LockOSThread for the pin to stay meaningful.
func Pin(cpu int) error {
	if cpu < 0 || cpu >= maxCPU {
		return fmt.Errorf("affinity: cpu %d out of range: %w", cpu, api.ErrInvalidArgument)
	}
	return pinPlatform(cpu)
}

// Spread maps the i-th loop onto a CPU, wrapping over the available ones.
func Spread(i int) int {
	n := runtime.NumCPU()
	return ((i % n) + n) % n
}
