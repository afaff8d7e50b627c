//go:build linux
// +build linux

// File: reactor/timer_linux.go
// Author: momentics <momentics@gmail.com>

package reactor

import (
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-ipc/api"
)

// timer is a one-shot timerfd registered with the reactor for its lifetime.
type timer struct {
	r     *Reactor
	fd    int
	fn    func()
	armed bool
}

// NewTimer creates an idle timer. If the kernel refuses a timerfd the
// returned timer logs on Start and never fires.
func (r *Reactor) NewTimer(fn func()) api.Timer {
	t := &timer{r: r, fd: -1, fn: fn}
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_NONBLOCK|unix.TFD_CLOEXEC)
	if err != nil {
		r.log.Error("timerfd create failed", zap.Error(err))
		return t
	}
	if err := r.Register(uintptr(fd), api.EventRead, t.expire); err != nil {
		r.log.Error("timerfd register failed", zap.Error(err))
		unix.Close(fd)
		return t
	}
	t.fd = fd
	r.mu.Lock()
	if r.timers != nil {
		r.timers[int32(fd)] = t
	}
	r.mu.Unlock()
	return t
}

// Start arms the timer to fire once after d, replacing any pending expiry.
func (t *timer) Start(d time.Duration) {
	if t.fd < 0 {
		t.r.log.Error("timer without timerfd started, expiry dropped")
		return
	}
	if d <= 0 {
		d = time.Nanosecond
	}
	spec := unix.ItimerSpec{Value: unix.NsecToTimespec(d.Nanoseconds())}
	if err := unix.TimerfdSettime(t.fd, 0, &spec, nil); err != nil {
		t.r.log.Error("timerfd settime failed", zap.Error(err))
		return
	}
	t.armed = true
}

// Stop disarms the timer.
func (t *timer) Stop() {
	if t.fd < 0 || !t.armed {
		return
	}
	var spec unix.ItimerSpec
	if err := unix.TimerfdSettime(t.fd, 0, &spec, nil); err != nil {
		t.r.log.Error("timerfd disarm failed", zap.Error(err))
	}
	t.armed = false
	t.consume()
}

// Active reports whether an expiry is pending.
func (t *timer) Active() bool { return t.armed }

// Close unregisters and closes the timerfd.
func (t *timer) Close() {
	if t.fd < 0 {
		return
	}
	t.armed = false
	t.r.mu.Lock()
	if t.r.timers != nil {
		delete(t.r.timers, int32(t.fd))
	}
	closed := t.r.timers == nil
	t.r.mu.Unlock()
	if !closed {
		t.r.Unregister(uintptr(t.fd))
		unix.Close(t.fd)
	}
	t.fd = -1
}

func (t *timer) expire(uintptr, api.FDEventType) {
	if !t.consume() || !t.armed {
		return
	}
	t.armed = false
	t.fn()
}

// consume reads the expiration count; false means nothing had expired.
func (t *timer) consume() bool {
	var buf [8]byte
	n, err := unix.Read(t.fd, buf[:])
	return err == nil && n == len(buf)
}
