package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func readable(t *testing.T, fd int) bool {
	t.Helper()
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, 0)
	require.NoError(t, err)
	return n == 1 && fds[0].Revents&unix.POLLIN != 0
}

func TestLinkSignalAndDrain(t *testing.T) {
	for _, kind := range []Kind{KindEventfd, KindPipe} {
		t.Run(kind.String(), func(t *testing.T) {
			l, err := New(kind)
			require.NoError(t, err)
			defer l.Close()

			assert.False(t, readable(t, l.Fd()))
			require.NoError(t, l.Signal())
			require.NoError(t, l.Signal())
			assert.True(t, readable(t, l.Fd()))

			n, err := l.Drain()
			require.NoError(t, err)
			assert.GreaterOrEqual(t, n, 1)
			assert.False(t, readable(t, l.Fd()))

			n, err = l.Drain()
			require.NoError(t, err)
			assert.Zero(t, n)
		})
	}
}

func TestPipeSignalWhenFull(t *testing.T) {
	l, err := New(KindPipe)
	require.NoError(t, err)
	defer l.Close()

	// Far more than a default pipe buffer; EAGAIN must be swallowed.
	for i := 0; i < 70000; i++ {
		require.NoError(t, l.Signal())
	}
	_, err = l.Drain()
	require.NoError(t, err)
	assert.False(t, readable(t, l.Fd()))
}

func TestCloseTwice(t *testing.T) {
	l, err := New(KindPipe)
	require.NoError(t, err)
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())
}

func TestUnknownKind(t *testing.T) {
	_, err := New(Kind(9))
	assert.Error(t, err)
}

func TestPipeEndsNonblockingAndCloexec(t *testing.T) {
	l, err := New(KindPipe)
	require.NoError(t, err)
	defer l.Close()

	for _, fd := range []int{l.readFd, l.writeFd} {
		fdFlags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
		require.NoError(t, err)
		assert.NotZero(t, fdFlags&unix.FD_CLOEXEC)
		flFlags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
		require.NoError(t, err)
		assert.NotZero(t, flFlags&unix.O_NONBLOCK)
	}
}
