package ipc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-ipc/api"
	"github.com/momentics/hioload-ipc/fake"
)

type fdCall struct {
	status   api.Status
	ref      uintptr
	fd       int
	privdata uintptr
	data     any
}

func recordFds(calls *[]fdCall) FdCallback {
	return func(status api.Status, ref uintptr, fd int, privdata uintptr, data any) {
		*calls = append(*calls, fdCall{status, ref, fd, privdata, data})
	}
}

func newRegistry() (*fdRegistry, *fake.Loop) {
	loop := fake.NewLoop()
	return newFdRegistry(loop, func(int) {}), loop
}

// openFd returns a fresh descriptor the test does not otherwise track.
func openFd(t *testing.T) int {
	t.Helper()
	var p [2]int
	require.NoError(t, unix.Pipe2(p[:], unix.O_CLOEXEC))
	unix.Close(p[1])
	return p[0]
}

func isOpen(fd int) bool {
	var st unix.Stat_t
	return unix.Fstat(fd, &st) == nil
}

func TestStartThenDeliver(t *testing.T) {
	r, _ := newRegistry()
	var calls []fdCall
	require.NoError(t, r.start(5, "listener", 0, recordFds(&calls), "mine"))

	fd := openFd(t)
	defer unix.Close(fd)
	assert.Equal(t, fdDelivered, r.deliver(fd, 5, 11))

	require.Len(t, calls, 1)
	assert.Equal(t, fdCall{api.StatusOK, 5, fd, 11, "mine"}, calls[0])
	e, _ := r.lookup(5)
	require.NotNil(t, e)
	assert.Empty(t, e.buffered)
}

func TestDeliverThenStartFlushesInOrder(t *testing.T) {
	r, _ := newRegistry()
	a, b := openFd(t), openFd(t)
	defer unix.Close(a)
	defer unix.Close(b)

	assert.Equal(t, fdBuffered, r.deliver(a, 7, 1))
	assert.Equal(t, fdBuffered, r.deliver(b, 7, 2))
	assert.Equal(t, 1, r.Len())

	var calls []fdCall
	require.NoError(t, r.start(7, "late", 0, recordFds(&calls), nil))
	require.Len(t, calls, 2)
	assert.Equal(t, a, calls[0].fd)
	assert.Equal(t, uintptr(1), calls[0].privdata)
	assert.Equal(t, b, calls[1].fd)
	assert.Equal(t, uintptr(2), calls[1].privdata)

	e, _ := r.lookup(7)
	assert.Empty(t, e.buffered)
	assert.True(t, isOpen(a), "delivered descriptors belong to the callback")
}

func TestFinishClosesUnclaimed(t *testing.T) {
	r, _ := newRegistry()
	a, b := openFd(t), openFd(t)
	r.deliver(a, 9, 0)
	r.deliver(b, 9, 0)

	require.NoError(t, r.finish(9))
	assert.False(t, isOpen(a))
	assert.False(t, isOpen(b))
	assert.Zero(t, r.Len())
	assert.ErrorIs(t, r.finish(9), api.ErrReceiverNotFound)
}

func TestDoubleStartRejected(t *testing.T) {
	r, _ := newRegistry()
	var calls []fdCall
	require.NoError(t, r.start(3, "first", 0, recordFds(&calls), nil))
	err := r.start(3, "second", 0, recordFds(&calls), nil)
	assert.ErrorIs(t, err, api.ErrReceiverActive)
	assert.ErrorIs(t, err, api.ErrAlreadyExists)
	assert.ErrorIs(t, r.start(4, "", 0, nil, nil), api.ErrInvalidArgument)

	require.NoError(t, r.finish(3))
	require.NoError(t, r.start(3, "again", 0, recordFds(&calls), nil))
}

func TestTeardownResolvesEverything(t *testing.T) {
	r, _ := newRegistry()
	var calls []fdCall
	require.NoError(t, r.start(1, "waiting", time.Second, recordFds(&calls), "w"))
	a, b := openFd(t), openFd(t)
	r.deliver(a, 2, 0)
	r.deliver(b, 2, 0)

	assert.Equal(t, 2, r.teardown())
	require.Len(t, calls, 1)
	assert.Equal(t, fdCall{api.StatusFail, 1, -1, 0, "w"}, calls[0])
	assert.False(t, isOpen(a))
	assert.False(t, isOpen(b))
	assert.Zero(t, r.Len())
	assert.Zero(t, r.teardown())
}

func TestTimeoutFiresOnceAndFinishes(t *testing.T) {
	r, loop := newRegistry()
	var calls []fdCall
	require.NoError(t, r.start(8, "slow", 100*time.Millisecond, recordFds(&calls), nil))
	require.Equal(t, 1, loop.TimerCount())

	loop.Advance(99 * time.Millisecond)
	assert.Empty(t, calls)
	loop.Advance(time.Millisecond)
	require.Len(t, calls, 1)
	assert.Equal(t, api.StatusTimeout, calls[0].status)
	assert.Equal(t, -1, calls[0].fd)
	assert.Zero(t, r.Len())
	assert.Zero(t, loop.TimerCount())

	loop.Advance(time.Second)
	assert.Len(t, calls, 1)
}

func TestFinishStopsTimeout(t *testing.T) {
	r, loop := newRegistry()
	var calls []fdCall
	require.NoError(t, r.start(8, "quick", 100*time.Millisecond, recordFds(&calls), nil))
	require.NoError(t, r.finish(8))
	assert.Zero(t, loop.TimerCount())
	loop.Advance(time.Second)
	assert.Empty(t, calls)
}

func TestFinishFromCallbackDuringFlush(t *testing.T) {
	r, _ := newRegistry()
	fds := []int{openFd(t), openFd(t), openFd(t)}
	for i, fd := range fds {
		r.deliver(fd, 6, uintptr(i))
	}

	var got []int
	err := r.start(6, "one-shot", 0, func(status api.Status, ref uintptr, fd int, _ uintptr, _ any) {
		got = append(got, fd)
		assert.NoError(t, r.finish(ref))
		e, _ := r.lookup(ref)
		assert.NotNil(t, e, "removal waits for the callback to return")
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, fds[:1], got)
	assert.Zero(t, r.Len())
	assert.True(t, isOpen(fds[0]))
	assert.False(t, isOpen(fds[1]))
	assert.False(t, isOpen(fds[2]))
	unix.Close(fds[0])
}

func TestFinishFromCallbackOnDelivery(t *testing.T) {
	r, _ := newRegistry()
	calls := 0
	require.NoError(t, r.start(4, "", 0, func(_ api.Status, ref uintptr, fd int, _ uintptr, _ any) {
		calls++
		unix.Close(fd)
		require.NoError(t, r.finish(ref))
	}, nil))

	r.deliver(openFd(t), 4, 0)
	assert.Equal(t, 1, calls)
	assert.Zero(t, r.Len())

	fd := openFd(t)
	assert.Equal(t, fdBuffered, r.deliver(fd, 4, 0), "a new arrival starts a fresh buffered entry")
	require.NoError(t, r.finish(4))
	assert.False(t, isOpen(fd))
}
