//go:build linux

package affinity

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-ipc/api"
)

func TestPinRestrictsThread(t *testing.T) {
	before, err := Current()
	require.NoError(t, err)
	require.NotEmpty(t, before)

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	require.NoError(t, Pin(before[0]))
	now, err := Current()
	require.NoError(t, err)
	assert.Equal(t, []int{before[0]}, now)
}

func TestPinRejectsOutOfRange(t *testing.T) {
	assert.ErrorIs(t, Pin(-1), api.ErrInvalidArgument)
	assert.ErrorIs(t, Pin(maxCPU), api.ErrInvalidArgument)
}

func TestSpreadWraps(t *testing.T) {
	n := runtime.NumCPU()
	assert.Equal(t, 0, Spread(0))
	assert.Equal(t, 0, Spread(n))
	assert.Equal(t, n-1, Spread(-1))
}
