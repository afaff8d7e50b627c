// File: ipc/context.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Process-local IPC state and the operations other modules call.

package ipc

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/momentics/hioload-ipc/api"
	"github.com/momentics/hioload-ipc/control"
	"github.com/momentics/hioload-ipc/internal/logging"
)

// Ensure compile-time interface compliance.
var _ api.GracefulShutdown = (*Context)(nil)

type lifecycle int

const (
	ctxNew lifecycle = iota
	ctxInitialized
	ctxStarted
	ctxStopped
)

// Context is the IPC state of one process. All methods must be called from
// the goroutine driving its loop.
type Context struct {
	procs *ProcessTable
	self  *Process
	loop  api.Loop

	log      *logging.Logger
	metrics  *control.Metrics
	cfg      control.IPCConfig
	handlers *HandlerTable
	arena    *Arena
	probes   *control.DebugProbes

	out   *outboundQueue
	fdreg *fdRegistry
	state lifecycle
	label string
}

// Option configures a Context.
type Option func(*Context)

// WithLogger sets the logger; entries are tagged with the process identity.
func WithLogger(l *logging.Logger) Option {
	return func(c *Context) {
		if l != nil {
			c.log = l
		}
	}
}

// WithMetrics sets the collectors the context reports to.
func WithMetrics(m *control.Metrics) Option {
	return func(c *Context) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithConfig sets retry and timeout tuning.
func WithConfig(cfg control.IPCConfig) Option {
	return func(c *Context) { c.cfg = cfg }
}

// WithHandlers shares a handler table between contexts.
func WithHandlers(t *HandlerTable) Option {
	return func(c *Context) {
		if t != nil {
			c.handlers = t
		}
	}
}

// WithArena shares a payload arena between contexts of one address space.
func WithArena(a *Arena) Option {
	return func(c *Context) {
		if a != nil {
			c.arena = a
		}
	}
}

// WithProbes publishes queue and receiver state as debug probes.
func WithProbes(p *control.DebugProbes) Option {
	return func(c *Context) { c.probes = p }
}

// New creates the context for self. LocalInit must run before use.
func New(procs *ProcessTable, self *Process, loop api.Loop, opts ...Option) (*Context, error) {
	if procs == nil || self == nil || loop == nil {
		return nil, fmt.Errorf("ipc context: %w", api.ErrInvalidArgument)
	}
	c := &Context{
		procs: procs,
		self:  self,
		loop:  loop,
		cfg:   control.Default().IPC,
		label: self.Procnum.String(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logging.NewNop()
	}
	c.log = c.log.ForProcess(self.Procnum, self.Instance.String())
	if c.metrics == nil {
		c.metrics = control.NewMetrics(prometheus.NewRegistry())
	}
	if c.handlers == nil {
		c.handlers = NewHandlerTable()
	}
	if c.arena == nil {
		c.arena = NewArena()
	}
	return c, nil
}

// Self returns the owning process.
func (c *Context) Self() *Process { return c.self }

// Processes returns the process table.
func (c *Context) Processes() *ProcessTable { return c.procs }

// Arena returns the payload arena.
func (c *Context) Arena() *Arena { return c.arena }

// Handlers returns the handler table.
func (c *Context) Handlers() *HandlerTable { return c.handlers }

// Logger returns the process-tagged logger.
func (c *Context) Logger() *logging.Logger { return c.log }

// Loop returns the loop driving this context.
func (c *Context) Loop() api.Loop { return c.loop }

// QueueLen returns how many messages wait in the outbound retry queue.
func (c *Context) QueueLen() int {
	if c.out == nil {
		return 0
	}
	return c.out.Len()
}

// PendingReceivers returns how many fd receiver entries exist.
func (c *Context) PendingReceivers() int {
	if c.fdreg == nil {
		return 0
	}
	return c.fdreg.Len()
}

// RetryDelay returns the outbound retry interval.
func (c *Context) RetryDelay() time.Duration { return c.cfg.SendRetryDelay }

// SetRetryDelay changes the outbound retry interval.
func (c *Context) SetRetryDelay(d time.Duration) {
	c.cfg.SendRetryDelay = d
	if c.out != nil {
		c.out.setDelay(d)
	}
}

// LocalInit creates the retry queue, its timer and the fd registry.
func (c *Context) LocalInit() error {
	if c.state != ctxNew {
		return nil
	}
	if c.self.Channel() == nil {
		return fmt.Errorf("%s has no channel: %w", c.label, api.ErrChannelClosed)
	}
	c.out = newOutboundQueue(c.loop, c.cfg.SendRetryDelay, c.pushDirect, func(n int) {
		c.metrics.RetryDepth.WithLabelValues(c.label).Set(float64(n))
	})
	c.fdreg = newFdRegistry(c.loop, func(n int) {
		c.metrics.FdReceivers.WithLabelValues(c.label).Set(float64(n))
	})
	if c.probes != nil {
		c.probes.RegisterProbe(c.probeName("retry_queue"), func() any { return c.QueueLen() })
		c.probes.RegisterProbe(c.probeName("fd_receivers"), func() any { return c.PendingReceivers() })
		c.probes.RegisterProbe(c.probeName("inbound"), func() any {
			if ch := c.self.Channel(); ch != nil {
				return ch.Pending()
			}
			return 0
		})
	}
	c.state = ctxInitialized
	return nil
}

// LocalStart starts watching the notification link and the fd socket.
func (c *Context) LocalStart() error {
	switch c.state {
	case ctxNew:
		return fmt.Errorf("%s: start before init: %w", c.label, api.ErrInvalidArgument)
	case ctxStarted:
		return nil
	case ctxStopped:
		return api.ErrChannelClosed
	}
	ch := c.self.Channel()
	if err := c.loop.Register(uintptr(ch.Notify().Fd()), api.EventRead, c.onNotify); err != nil {
		return fmt.Errorf("register notify link: %w", err)
	}
	if err := c.loop.Register(uintptr(ch.FdLink().ReadFd()), api.EventRead, c.onFdReadable); err != nil {
		c.loop.Unregister(uintptr(ch.Notify().Fd()))
		return fmt.Errorf("register fd link: %w", err)
	}
	c.state = ctxStarted
	c.log.Debug("ipc channel started", zap.Stringer("notify", ch.Notify().Kind()))
	return nil
}

// LocalStop resolves all pending work: queued messages are cancelled and
// fd receivers are failed. Repeated calls do nothing.
func (c *Context) LocalStop() error {
	if c.state == ctxStopped || c.state == ctxNew {
		c.state = ctxStopped
		return nil
	}
	var errs []error
	if c.state == ctxStarted {
		if ch := c.self.Channel(); ch != nil {
			errs = append(errs,
				c.loop.Unregister(uintptr(ch.Notify().Fd())),
				c.loop.Unregister(uintptr(ch.FdLink().ReadFd())))
		}
	}
	c.state = ctxStopped

	cancelled := c.out.drop(func(m outboundMessage) {
		if err := c.handlers.Cancel(c, m.code, m.payload); err != nil {
			c.log.Error("cannot cancel queued ipc message", zap.Uint8("code", uint8(m.code)), zap.Error(err))
		}
	})
	c.metrics.Cancelled.WithLabelValues(c.label).Add(float64(cancelled))
	failed := c.fdreg.teardown()

	if c.probes != nil {
		for _, n := range []string{"retry_queue", "fd_receivers", "inbound"} {
			c.probes.UnregisterProbe(c.probeName(n))
		}
	}
	c.log.Debug("ipc channel stopped", zap.Int("cancelled", cancelled), zap.Int("fd_receivers_failed", failed))
	return errors.Join(errs...)
}

// Shutdown is LocalStop under the api.GracefulShutdown contract.
func (c *Context) Shutdown() error { return c.LocalStop() }

// AddHandler registers a message code. See HandlerTable.Add.
func (c *Context) AddHandler(name string, code api.Code, receive ReceiveFunc, cancel CancelFunc) (*Handler, error) {
	h, err := c.handlers.Add(name, code, receive, cancel)
	if err != nil {
		c.log.Error("ipc handler registration rejected", zap.String("name", name), zap.Uint8("code", uint8(code)), zap.Error(err))
		return nil, err
	}
	return h, nil
}

// Send delivers code and p to dst at most once. A full ring is not an
// error: the message is queued and retried in order.
func (c *Context) Send(dst *Process, code api.Code, p api.Payload) error {
	if dst == nil || code == api.CodeNil {
		return fmt.Errorf("send: %w", api.ErrInvalidArgument)
	}
	if c.state == ctxNew || c.state == ctxStopped {
		return api.ErrChannelClosed
	}
	state := dst.State()
	if state < api.ProcessStarting {
		c.metrics.Errors.WithLabelValues(c.label, "peer_not_running").Inc()
		return api.Wrap(api.ErrCodePeer, api.ErrPeerNotRunning, "send").
			WithContext("dst", dst.Procnum.String()).
			WithContext("state", state.String())
	}
	m := outboundMessage{code: code, payload: p, dst: dst}
	if c.out.Len() > 0 || state == api.ProcessStarting || !c.pushDirect(m) {
		c.log.Debug("ipc send queued", zap.Stringer("dst", dst.Procnum), zap.Uint8("code", uint8(code)), zap.Int("queued", c.out.Len()+1))
		c.out.enqueue(m)
		c.metrics.Sent.WithLabelValues(c.label, "queued").Inc()
		return nil
	}
	c.metrics.Sent.WithLabelValues(c.label, "direct").Inc()
	return nil
}

// SendToAllWorkers sends to every worker, attempting each even after a
// failure. Successful sends are not rolled back.
func (c *Context) SendToAllWorkers(code api.Code, p api.Payload) error {
	var errs []error
	for _, w := range c.procs.Workers {
		if err := c.Send(w, code, p); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", w.Procnum, err))
		}
	}
	return errors.Join(errs...)
}

// pushDirect places m in dst's ring and wakes dst.
func (c *Context) pushDirect(m outboundMessage) bool {
	ch := m.dst.Channel()
	if ch == nil {
		return false
	}
	ring, ok := ch.Inbound(c.self.Procnum)
	if !ok || !ring.TryPush(m.code, m.payload.Word()) {
		return false
	}
	if err := ch.Notify().Signal(); err != nil {
		c.log.Warn("ipc wake failed", zap.Stringer("dst", m.dst.Procnum), zap.Error(err))
	}
	return true
}

// onNotify drains every inbound ring after a wake.
func (c *Context) onNotify(uintptr, api.FDEventType) {
	ch := c.self.Channel()
	if ch == nil {
		return
	}
	if _, err := ch.Notify().Drain(); err != nil {
		c.log.Warn("ipc notify drain failed", zap.Error(err))
	}
	c.Receive()
}

// Receive dispatches everything currently released in the inbound rings,
// one sender at a time. It returns the number of messages dispatched.
func (c *Context) Receive() int {
	ch := c.self.Channel()
	if ch == nil {
		return 0
	}
	total := 0
	for _, from := range ch.senders {
		ring, ok := ch.Inbound(from)
		if !ok {
			continue
		}
		total += ring.Drain(func(code api.Code, word uint64) {
			if err := c.handlers.Dispatch(c, code, api.PayloadFromWord(word)); err != nil {
				c.metrics.Errors.WithLabelValues(c.label, "unknown_code").Inc()
				c.log.Error("ipc message dropped", zap.Stringer("from", from), zap.Uint8("code", uint8(code)), zap.Error(err))
			}
		})
	}
	if total > 0 {
		c.metrics.Dispatched.WithLabelValues(c.label).Add(float64(total))
	}
	return total
}

// SendFd passes a duplicate of fd to dst tagged with ref and privdata. The
// caller keeps fd. Failures are not retried; a full link is reported as
// api.ErrWouldBlock, an unreachable one as api.ErrPeerGone.
func (c *Context) SendFd(dst *Process, fd int, ref, privdata uintptr) error {
	if dst == nil || fd < 0 {
		return fmt.Errorf("send fd: %w", api.ErrInvalidArgument)
	}
	ch := dst.Channel()
	if ch == nil || ch.FdLink() == nil {
		return fmt.Errorf("send fd to %s: %w", dst.Procnum, api.ErrPeerGone)
	}
	if err := ch.FdLink().Send(fd, ref, privdata); err != nil {
		kind := "fd_send"
		if errors.Is(err, api.ErrWouldBlock) {
			kind = "fd_send_full"
		}
		c.metrics.Errors.WithLabelValues(c.label, kind).Inc()
		c.log.Warn("ipc fd send failed", zap.Stringer("dst", dst.Procnum), zap.Uintptr("ref", ref), zap.Error(err))
		return err
	}
	c.metrics.FdsSent.WithLabelValues(c.label).Inc()
	return nil
}

// ReceiveFdStart registers callback for descriptors tagged ref. Any that
// already arrived are handed over before it returns. A positive timeout
// fails the receiver with api.StatusTimeout and finishes it.
func (c *Context) ReceiveFdStart(ref uintptr, description string, timeout time.Duration, callback FdCallback, privdata any) error {
	if c.fdreg == nil || c.state == ctxStopped {
		return api.ErrChannelClosed
	}
	if err := c.fdreg.start(ref, description, timeout, callback, privdata); err != nil {
		c.log.Error("ipc fd receiver rejected", zap.Uintptr("ref", ref), zap.String("description", description), zap.Error(err))
		return err
	}
	return nil
}

// ReceiveFdFinish drops the receiver for ref and closes unclaimed
// descriptors.
func (c *Context) ReceiveFdFinish(ref uintptr) error {
	if c.fdreg == nil {
		return api.ErrChannelClosed
	}
	return c.fdreg.finish(ref)
}

// onFdReadable receives until the socket would block.
func (c *Context) onFdReadable(uintptr, api.FDEventType) {
	link := c.self.Channel().FdLink()
	for c.state == ctxStarted {
		fd, ref, privdata, err := link.Recv()
		switch {
		case err == nil:
			outcome := c.fdreg.deliver(fd, ref, privdata)
			c.metrics.FdsReceived.WithLabelValues(c.label, outcome).Inc()
		case errors.Is(err, api.ErrWouldBlock):
			return
		case errors.Is(err, api.ErrProtocol):
			c.metrics.Errors.WithLabelValues(c.label, "fd_protocol").Inc()
			c.log.Error("ipc fd message rejected", zap.Error(err))
		default:
			c.metrics.Errors.WithLabelValues(c.label, "fd_recv").Inc()
			c.log.Error("ipc fd receive failed", zap.Error(err))
			return
		}
	}
}

func (c *Context) probeName(what string) string {
	return "ipc." + c.label + "." + what
}
