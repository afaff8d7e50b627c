// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral pieces of the event loop: options, job queue and
// panic-safe dispatch.

package reactor

import (
	"sync"

	"go.uber.org/zap"

	"github.com/momentics/hioload-ipc/api"
)

// maxEvents bounds the readiness batch handled per Poll.
const maxEvents = 128

// Option configures a Reactor.
type Option func(*options)

type options struct {
	log *zap.Logger
	cpu int
}

// WithLogger routes loop diagnostics, including recovered callback panics.
func WithLogger(log *zap.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

// WithCPU pins the goroutine running Run to cpu for its whole lifetime.
func WithCPU(cpu int) Option {
	return func(o *options) { o.cpu = cpu }
}

func buildOptions(opts []Option) options {
	o := options{log: zap.NewNop(), cpu: -1}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// jobQueue collects functions posted from any goroutine for the loop.
type jobQueue struct {
	mu   sync.Mutex
	jobs []func()
}

func (q *jobQueue) push(fn func()) {
	q.mu.Lock()
	q.jobs = append(q.jobs, fn)
	q.mu.Unlock()
}

func (q *jobQueue) take() []func() {
	q.mu.Lock()
	jobs := q.jobs
	q.jobs = nil
	q.mu.Unlock()
	return jobs
}

// safeCall runs fn and keeps the loop alive if it panics.
func safeCall(log *zap.Logger, what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("reactor callback panicked", zap.String("source", what), zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	fn()
}

// Ensure compile-time interface compliance.
var _ api.Loop = (*Reactor)(nil)
