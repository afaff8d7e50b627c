// File: internal/notify/notify.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package notify implements the wakeup link a sender pokes after it makes a
// receiver's ring non-empty. The receiver registers Fd with its event loop
// and drains the link before draining its rings.

package notify

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// Kind selects the kernel primitive behind a Link.
type Kind int

const (
	// KindEventfd uses one eventfd counter (Linux).
	KindEventfd Kind = iota
	// KindPipe uses a non-blocking pipe pair.
	KindPipe
)

func (k Kind) String() string {
	if k == KindPipe {
		return "pipe"
	}
	return "eventfd"
}

// Link is a one-way wakeup channel.
type Link struct {
	kind    Kind
	readFd  int
	writeFd int
	once    sync.Once
}

// New opens a link of the requested kind. Both ends are non-blocking and
// close-on-exec.
func New(kind Kind) (*Link, error) {
	switch kind {
	case KindEventfd:
		fd, err := eventfd()
		if err != nil {
			return nil, fmt.Errorf("notify: eventfd: %w", err)
		}
		return &Link{kind: kind, readFd: fd, writeFd: fd}, nil
	case KindPipe:
		fds := []int{-1, -1}
		if err := unix.Pipe2(fds, unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
			return nil, fmt.Errorf("notify: pipe: %w", err)
		}
		return &Link{kind: kind, readFd: fds[0], writeFd: fds[1]}, nil
	default:
		return nil, fmt.Errorf("notify: unknown kind %d", kind)
	}
}

// Kind reports the primitive in use.
func (l *Link) Kind() Kind { return l.kind }

// Fd is the descriptor the receiver watches for readability.
func (l *Link) Fd() int { return l.readFd }

// Signal wakes the receiver. A full pipe or saturated counter already
// guarantees a pending wakeup, so EAGAIN is not an error.
func (l *Link) Signal() error {
	var err error
	if l.kind == KindEventfd {
		var one [8]byte
		binary.NativeEndian.PutUint64(one[:], 1)
		_, err = unix.Write(l.writeFd, one[:])
	} else {
		_, err = unix.Write(l.writeFd, []byte{1})
	}
	if err != nil && !errors.Is(err, unix.EAGAIN) {
		return fmt.Errorf("notify: signal: %w", err)
	}
	return nil
}

// Drain consumes every pending wakeup and returns how many reads it took.
func (l *Link) Drain() (int, error) {
	var buf [64]byte
	reads := 0
	for {
		n, err := unix.Read(l.readFd, buf[:])
		if err != nil {
			if errors.Is(err, unix.EAGAIN) {
				return reads, nil
			}
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return reads, fmt.Errorf("notify: drain: %w", err)
		}
		if n == 0 {
			return reads, nil
		}
		reads++
		if l.kind == KindEventfd {
			// One read resets the counter.
			return reads, nil
		}
	}
}

// Close releases both ends.
func (l *Link) Close() error {
	var err error
	l.once.Do(func() {
		err = unix.Close(l.readFd)
		if l.writeFd != l.readFd {
			if cerr := unix.Close(l.writeFd); err == nil {
				err = cerr
			}
		}
	})
	return err
}
