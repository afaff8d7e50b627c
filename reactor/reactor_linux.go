//go:build linux
// +build linux

// File: reactor/reactor_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux epoll(7)-based reactor with timerfd timers.

package reactor

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-ipc/affinity"
	"github.com/momentics/hioload-ipc/api"
	"github.com/momentics/hioload-ipc/internal/notify"
)

// Reactor is an epoll-based event loop. Register, Unregister, NewTimer and
// Post are safe from any goroutine; callbacks always run on the goroutine
// calling Poll or Run.
type Reactor struct {
	epfd int
	wake *notify.Link
	jobs jobQueue
	log  *zap.Logger
	cpu  int

	mu        sync.Mutex
	callbacks map[int32]api.FDCallback
	timers    map[int32]*timer

	closeOnce sync.Once
	closed    atomic.Bool
}

// New creates a reactor with its own epoll instance and wake eventfd.
func New(opts ...Option) (*Reactor, error) {
	o := buildOptions(opts)
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	wake, err := notify.New(notify.KindEventfd)
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("reactor wake link: %w", err)
	}
	r := &Reactor{
		epfd:      epfd,
		wake:      wake,
		log:       o.log,
		cpu:       o.cpu,
		callbacks: make(map[int32]api.FDCallback),
		timers:    make(map[int32]*timer),
	}
	err = r.Register(uintptr(wake.Fd()), api.EventRead, func(uintptr, api.FDEventType) {
		if _, err := r.wake.Drain(); err != nil {
			r.log.Warn("reactor wake drain failed", zap.Error(err))
		}
	})
	if err != nil {
		wake.Close()
		unix.Close(epfd)
		return nil, err
	}
	return r, nil
}

// Register adds fd to the epoll interest set with level-triggered events.
func (r *Reactor) Register(fd uintptr, events api.FDEventType, cb api.FDCallback) error {
	if cb == nil {
		return api.ErrInvalidArgument
	}
	if r.closed.Load() {
		return api.ErrChannelClosed
	}
	ev := unix.EpollEvent{Fd: int32(fd)}
	if events&api.EventRead != 0 {
		ev.Events |= unix.EPOLLIN
	}
	if events&api.EventWrite != 0 {
		ev.Events |= unix.EPOLLOUT
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.callbacks[ev.Fd]; dup {
		return fmt.Errorf("reactor register fd %d: %w", fd, api.ErrAlreadyExists)
	}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, int(fd), &ev); err != nil {
		return fmt.Errorf("epoll ctl add: %w", err)
	}
	r.callbacks[ev.Fd] = cb
	return nil
}

// Unregister removes fd from the epoll interest set.
func (r *Reactor) Unregister(fd uintptr) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.callbacks[int32(fd)]; !ok {
		return fmt.Errorf("reactor unregister fd %d: %w", fd, api.ErrNotFound)
	}
	delete(r.callbacks, int32(fd))
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, int(fd), nil); err != nil {
		return fmt.Errorf("epoll ctl del: %w", err)
	}
	return nil
}

// Post schedules fn to run on the loop goroutine and wakes the loop.
func (r *Reactor) Post(fn func()) {
	r.jobs.push(fn)
	if err := r.wake.Signal(); err != nil && !r.closed.Load() {
		r.log.Warn("reactor wake signal failed", zap.Error(err))
	}
}

// Poll waits up to timeoutMs for readiness (negative blocks), dispatches
// every ready callback and then runs posted jobs.
func (r *Reactor) Poll(timeoutMs int) error {
	if r.closed.Load() {
		return api.ErrChannelClosed
	}
	var events [maxEvents]unix.EpollEvent
	if timeoutMs < 0 {
		timeoutMs = -1
	}
	n, err := unix.EpollWait(r.epfd, events[:], timeoutMs)
	if err != nil && err != unix.EINTR {
		return fmt.Errorf("epoll wait: %w", err)
	}

	for i := 0; i < n; i++ {
		ev := events[i]
		r.mu.Lock()
		cb, ok := r.callbacks[ev.Fd]
		r.mu.Unlock()
		if !ok {
			continue
		}

		var eventType api.FDEventType
		if ev.Events&unix.EPOLLIN != 0 {
			eventType |= api.EventRead
		}
		if ev.Events&unix.EPOLLOUT != 0 {
			eventType |= api.EventWrite
		}
		if ev.Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
			eventType |= api.EventError
		}
		fd := uintptr(ev.Fd)
		safeCall(r.log, "fd", func() { cb(fd, eventType) })
	}

	for _, job := range r.jobs.take() {
		safeCall(r.log, "post", job)
	}
	return nil
}

// Run polls until ctx is cancelled or Poll fails. With WithCPU the calling
// goroutine keeps its pinned thread, so Run should own its goroutine.
func (r *Reactor) Run(ctx context.Context) error {
	if r.cpu >= 0 {
		// Never unlocked: the pinned thread must exit with the goroutine.
		runtime.LockOSThread()
		if err := affinity.Pin(r.cpu); err != nil {
			r.log.Warn("reactor cpu pin failed", zap.Int("cpu", r.cpu), zap.Error(err))
		}
	}
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			r.Post(func() {})
		case <-done:
		}
	}()

	for ctx.Err() == nil {
		if err := r.Poll(-1); err != nil {
			return err
		}
	}
	return nil
}

// Close releases every timer, the wake link and the epoll instance.
func (r *Reactor) Close() error {
	var err error
	r.closeOnce.Do(func() {
		r.closed.Store(true)
		r.mu.Lock()
		for _, t := range r.timers {
			unix.Close(t.fd)
		}
		r.timers = nil
		r.callbacks = nil
		r.mu.Unlock()
		r.wake.Close()
		err = unix.Close(r.epfd)
	})
	return err
}
