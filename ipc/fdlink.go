//go:build linux

// File: ipc/fdlink.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Descriptor transfer over a local seqpacket socket pair using SCM_RIGHTS.

package ipc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-ipc/api"
)

// fdRecordSize is the wire size of the {ref, privdata} record sent with
// every descriptor.
const fdRecordSize = 16

// maxRightsPerMessage sizes the control buffer so a peer that attaches
// extra descriptors is detected and its descriptors closed.
const maxRightsPerMessage = 4

// FdLink is the receiving process's descriptor socket pair. Peers send on
// the write end; the owner reads the read end.
type FdLink struct {
	fds  [2]int
	once sync.Once
}

// NewFdLink creates a non-blocking, close-on-exec seqpacket socket pair.
func NewFdLink() (*FdLink, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_SEQPACKET|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("fd link socketpair: %w", err)
	}
	return &FdLink{fds: fds}, nil
}

// ReadFd returns the descriptor the owner polls for readability.
func (l *FdLink) ReadFd() int { return l.fds[0] }

// Send passes a duplicate of fd to the owner along with ref and privdata.
// The caller keeps fd open. There is no retry beyond EINTR. A full peer
// buffer yields api.ErrWouldBlock, any other failure api.ErrPeerGone.
func (l *FdLink) Send(fd int, ref, privdata uintptr) error {
	var rec [fdRecordSize]byte
	binary.NativeEndian.PutUint64(rec[0:8], uint64(ref))
	binary.NativeEndian.PutUint64(rec[8:16], uint64(privdata))
	rights := unix.UnixRights(fd)
	for {
		err := unix.Sendmsg(l.fds[1], rec[:], rights, nil, unix.MSG_NOSIGNAL)
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			return fmt.Errorf("%w: sendmsg: %w", api.ErrWouldBlock, err)
		}
		if err != nil {
			return fmt.Errorf("%w: sendmsg: %w", api.ErrPeerGone, err)
		}
		return nil
	}
}

// Recv reads one record. It returns api.ErrWouldBlock when nothing is
// pending, and an error wrapping api.ErrProtocol for a malformed message,
// in which case every descriptor that arrived with it is already closed.
func (l *FdLink) Recv() (fd int, ref, privdata uintptr, err error) {
	var buf [fdRecordSize * 2]byte
	oob := make([]byte, unix.CmsgSpace(4*maxRightsPerMessage))
	var n, oobn, flags int
	for {
		n, oobn, flags, _, err = unix.Recvmsg(l.fds[0], buf[:], oob, unix.MSG_CMSG_CLOEXEC)
		if err != unix.EINTR {
			break
		}
	}
	if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
		return -1, 0, 0, api.ErrWouldBlock
	}
	if err != nil {
		return -1, 0, 0, fmt.Errorf("recvmsg: %w", err)
	}
	if n == 0 && oobn == 0 {
		// Peer closed its end.
		return -1, 0, 0, api.ErrWouldBlock
	}

	fds, perr := parseRights(oob[:oobn])
	switch {
	case perr != nil:
		err = perr
	case flags&(unix.MSG_TRUNC|unix.MSG_CTRUNC) != 0:
		err = fmt.Errorf("%w: truncated fd message", api.ErrProtocol)
	case n != fdRecordSize:
		err = fmt.Errorf("%w: fd record of %d bytes, want %d", api.ErrProtocol, n, fdRecordSize)
	case len(fds) != 1:
		err = fmt.Errorf("%w: %d descriptors in one message, want 1", api.ErrProtocol, len(fds))
	}
	if err != nil {
		closeAll(fds)
		return -1, 0, 0, err
	}
	ref = uintptr(binary.NativeEndian.Uint64(buf[0:8]))
	privdata = uintptr(binary.NativeEndian.Uint64(buf[8:16]))
	return fds[0], ref, privdata, nil
}

// Close closes both ends.
func (l *FdLink) Close() error {
	var err error
	l.once.Do(func() {
		err = errors.Join(unix.Close(l.fds[0]), unix.Close(l.fds[1]))
	})
	return err
}

func parseRights(oob []byte) ([]int, error) {
	if len(oob) == 0 {
		return nil, nil
	}
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return nil, fmt.Errorf("%w: bad control message: %w", api.ErrProtocol, err)
	}
	var fds []int
	for i := range msgs {
		m := &msgs[i]
		if m.Header.Level != unix.SOL_SOCKET || m.Header.Type != unix.SCM_RIGHTS {
			err = fmt.Errorf("%w: unexpected control message level=%d type=%d", api.ErrProtocol, m.Header.Level, m.Header.Type)
			continue
		}
		got, rerr := unix.ParseUnixRights(m)
		if rerr != nil {
			err = fmt.Errorf("%w: bad SCM_RIGHTS: %w", api.ErrProtocol, rerr)
			continue
		}
		fds = append(fds, got...)
	}
	if err != nil {
		closeAll(fds)
		return nil, err
	}
	return fds, nil
}

func closeAll(fds []int) {
	for _, fd := range fds {
		unix.Close(fd)
	}
}
