//go:build linux

package ipc

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-ipc/api"
)

func TestSendFdReceiverFirst(t *testing.T) {
	tr := newTree(t, 1)
	master := tr.ctxs[api.ProcnumMaster]
	worker := tr.ctxs[0]

	var calls []fdCall
	require.NoError(t, worker.ReceiveFdStart(5, "listener", 0, recordFds(&calls), "sock"))

	orig := openFd(t)
	defer unix.Close(orig)
	require.NoError(t, master.SendFd(tr.proc(0), orig, 5, 77))
	tr.fdReady(0)

	require.Len(t, calls, 1)
	assert.Equal(t, api.StatusOK, calls[0].status)
	assert.Equal(t, uintptr(77), calls[0].privdata)
	assert.Equal(t, "sock", calls[0].data)
	assert.True(t, isOpen(calls[0].fd))
	unix.Close(calls[0].fd)

	assert.Equal(t, 1.0, testutil.ToFloat64(tr.metrics.FdsSent.WithLabelValues("master")))
	assert.Equal(t, 1.0, testutil.ToFloat64(tr.metrics.FdsReceived.WithLabelValues("worker-0", fdDelivered)))
}

func TestSendFdDescriptorsFirst(t *testing.T) {
	tr := newTree(t, 1)
	master := tr.ctxs[api.ProcnumMaster]
	worker := tr.ctxs[0]

	for i := uintptr(1); i <= 3; i++ {
		fd := openFd(t)
		require.NoError(t, master.SendFd(tr.proc(0), fd, 7, i))
		unix.Close(fd)
	}
	tr.fdReady(0)
	assert.Equal(t, 1, worker.PendingReceivers())
	assert.Equal(t, 3.0, testutil.ToFloat64(tr.metrics.FdsReceived.WithLabelValues("worker-0", fdBuffered)))

	var calls []fdCall
	require.NoError(t, worker.ReceiveFdStart(7, "late", 0, recordFds(&calls), nil))
	require.Len(t, calls, 3)
	for i, c := range calls {
		assert.Equal(t, uintptr(i+1), c.privdata)
		unix.Close(c.fd)
	}
	require.NoError(t, worker.ReceiveFdFinish(7))
	assert.Zero(t, worker.PendingReceivers())
}

func TestReceiveFdFinishClosesBuffered(t *testing.T) {
	tr := newTree(t, 1)
	master := tr.ctxs[api.ProcnumMaster]
	worker := tr.ctxs[0]

	var got []int
	for i := 0; i < 2; i++ {
		fd := openFd(t)
		require.NoError(t, master.SendFd(tr.proc(0), fd, 9, 0))
		unix.Close(fd)
	}
	tr.fdReady(0)
	e, _ := worker.fdreg.lookup(9)
	require.NotNil(t, e)
	for _, b := range e.buffered {
		got = append(got, b.fd)
	}
	require.Len(t, got, 2)

	require.NoError(t, worker.ReceiveFdFinish(9))
	for _, fd := range got {
		assert.False(t, isOpen(fd))
	}
	assert.ErrorIs(t, worker.ReceiveFdFinish(9), api.ErrReceiverNotFound)
}

func TestLocalStopResolvesFdReceivers(t *testing.T) {
	tr := newTree(t, 1)
	master := tr.ctxs[api.ProcnumMaster]
	worker := tr.ctxs[0]

	var calls []fdCall
	require.NoError(t, worker.ReceiveFdStart(1, "a", 0, recordFds(&calls), nil))
	require.NoError(t, worker.ReceiveFdStart(2, "b", time.Second, recordFds(&calls), nil))
	fd := openFd(t)
	require.NoError(t, master.SendFd(tr.proc(0), fd, 3, 0))
	unix.Close(fd)
	tr.fdReady(0)
	e, _ := worker.fdreg.lookup(3)
	require.Len(t, e.buffered, 1)
	buffered := e.buffered[0].fd

	require.NoError(t, worker.LocalStop())
	require.Len(t, calls, 2)
	for _, c := range calls {
		assert.Equal(t, api.StatusFail, c.status)
		assert.Equal(t, -1, c.fd)
	}
	assert.Equal(t, []uintptr{1, 2}, []uintptr{calls[0].ref, calls[1].ref})
	assert.False(t, isOpen(buffered))
	assert.Empty(t, tr.loops[0].Timers())
}

func TestReceiveFdStartTwiceRejected(t *testing.T) {
	tr := newTree(t, 0)
	mgr := tr.ctxs[api.ProcnumManager]
	cb := func(api.Status, uintptr, int, uintptr, any) {}
	require.NoError(t, mgr.ReceiveFdStart(11, "x", 0, cb, nil))
	assert.ErrorIs(t, mgr.ReceiveFdStart(11, "x", 0, cb, nil), api.ErrReceiverActive)
}

func TestReceiveFdTimeout(t *testing.T) {
	tr := newTree(t, 0)
	mgr := tr.ctxs[api.ProcnumManager]
	var calls []fdCall
	require.NoError(t, mgr.ReceiveFdStart(12, "slow", 500*time.Millisecond, recordFds(&calls), nil))

	tr.loops[api.ProcnumManager].Advance(500 * time.Millisecond)
	require.Len(t, calls, 1)
	assert.Equal(t, api.StatusTimeout, calls[0].status)
	assert.Zero(t, mgr.PendingReceivers())
}

func TestMalformedFdMessageCounted(t *testing.T) {
	tr := newTree(t, 0)
	link := tr.proc(api.ProcnumManager).Channel().FdLink()
	require.NoError(t, unix.Sendmsg(link.fds[1], []byte{1, 2, 3}, nil, nil, 0))
	fd := openFd(t)
	require.NoError(t, link.Send(fd, 4, 0))
	unix.Close(fd)

	tr.fdReady(api.ProcnumManager)
	assert.Equal(t, 1.0, testutil.ToFloat64(tr.metrics.Errors.WithLabelValues("manager", "fd_protocol")))
	assert.Equal(t, 1, tr.ctxs[api.ProcnumManager].PendingReceivers(), "valid message after a bad one still arrives")
}

func TestSendFdInvalid(t *testing.T) {
	tr := newTree(t, 0)
	mgr := tr.ctxs[api.ProcnumManager]
	assert.ErrorIs(t, mgr.SendFd(nil, 1, 0, 0), api.ErrInvalidArgument)
	assert.ErrorIs(t, mgr.SendFd(tr.procs.Master, -1, 0, 0), api.ErrInvalidArgument)
}
