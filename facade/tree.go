// File: facade/tree.go
// Unified facade over one master/manager/worker process tree.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Tree builds the process table, every shared channel, one reactor and one
// IPC context per process, and drives the reactors from an errgroup. All
// processes share one address space, so the handler table and the payload
// arena are shared as well.

package facade

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/momentics/hioload-ipc/affinity"
	"github.com/momentics/hioload-ipc/api"
	"github.com/momentics/hioload-ipc/control"
	"github.com/momentics/hioload-ipc/internal/logging"
	"github.com/momentics/hioload-ipc/internal/notify"
	"github.com/momentics/hioload-ipc/ipc"
	"github.com/momentics/hioload-ipc/reactor"
)

// Config holds parameters fixed for the lifetime of a tree. IPC tuning can
// later change through Store.
type Config struct {
	Workers int
	IPC     control.IPCConfig
	Logging control.LogConfig

	// PinCPUs pins every process loop to its own CPU, wrapping when there
	// are more processes than CPUs.
	PinCPUs bool

	// Registerer receives the IPC collectors. Nil creates a private registry.
	Registerer prometheus.Registerer
	// Logger overrides the logger built from Logging.
	Logger *logging.Logger
}

// DefaultConfig returns the environment defaults.
func DefaultConfig() *Config {
	return FromControl(control.Default())
}

// FromControl adapts a loaded control.Config.
func FromControl(c *control.Config) *Config {
	return &Config{Workers: c.Workers, IPC: c.IPC, Logging: c.Logging, PinCPUs: c.PinCPUs}
}

type member struct {
	proc    *ipc.Process
	reactor *reactor.Reactor
	ctx     *ipc.Context
}

// Tree is a running process tree.
type Tree struct {
	cfg      *Config
	log      *logging.Logger
	store    *control.Store
	procs    *ipc.ProcessTable
	handlers *ipc.HandlerTable
	arena    *ipc.Arena
	metrics  *control.Metrics
	gatherer prometheus.Gatherer
	probes   *control.DebugProbes
	members  []*member

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	group   *errgroup.Group
	loopCtx context.Context
}

// Ensure compliance with api.GracefulShutdown.
var _ api.GracefulShutdown = (*Tree)(nil)

// New builds every process with its channel, reactor and context. Nothing
// runs until Start.
func New(cfg *Config) (*Tree, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	full := control.Config{IPC: cfg.IPC, Logging: cfg.Logging, Workers: cfg.Workers, PinCPUs: cfg.PinCPUs}
	if err := full.Validate(); err != nil {
		return nil, err
	}

	t := &Tree{
		cfg:      cfg,
		log:      cfg.Logger,
		store:    control.NewStore(full),
		handlers: ipc.NewHandlerTable(),
		arena:    ipc.NewArena(),
		probes:   control.NewDebugProbes(),
	}
	if t.log == nil {
		l, err := logging.New(logging.Config{Level: cfg.Logging.Level, Development: cfg.Logging.Development})
		if err != nil {
			return nil, fmt.Errorf("logger init failure: %w", err)
		}
		t.log = l
	}
	reg := cfg.Registerer
	if reg == nil {
		r := prometheus.NewRegistry()
		reg, t.gatherer = r, r
	} else if g, ok := reg.(prometheus.Gatherer); ok {
		t.gatherer = g
	}
	t.metrics = control.NewMetrics(reg)

	procs, err := ipc.NewProcessTable(cfg.Workers)
	if err != nil {
		return nil, err
	}
	t.procs = procs
	kind := notify.KindEventfd
	if cfg.IPC.NotifyPipe {
		kind = notify.KindPipe
	}
	if err := procs.CreateChannels(kind); err != nil {
		procs.Close()
		return nil, fmt.Errorf("channel init failure: %w", err)
	}

	for i, p := range procs.All() {
		m, err := t.newMember(i, p)
		if err != nil {
			for _, m := range t.members {
				m.reactor.Close()
			}
			procs.Close()
			return nil, fmt.Errorf("%s init failure: %w", p.Procnum, err)
		}
		t.members = append(t.members, m)
	}

	t.store.OnReload(func(c control.Config) {
		for _, m := range t.members {
			m.reactor.Post(func() { m.ctx.SetRetryDelay(c.IPC.SendRetryDelay) })
		}
	})
	t.log.Info("process tree created", zap.Int("workers", cfg.Workers), zap.Stringer("notify", kind))
	return t, nil
}

func (t *Tree) newMember(i int, p *ipc.Process) (*member, error) {
	plog := t.log.ForProcess(p.Procnum, p.Instance.String())
	opts := []reactor.Option{reactor.WithLogger(plog.Named("reactor").Logger)}
	if t.cfg.PinCPUs {
		opts = append(opts, reactor.WithCPU(affinity.Spread(i)))
	}
	r, err := reactor.New(opts...)
	if err != nil {
		return nil, err
	}
	c, err := ipc.New(t.procs, p, r,
		ipc.WithLogger(t.log),
		ipc.WithMetrics(t.metrics),
		ipc.WithConfig(t.cfg.IPC),
		ipc.WithHandlers(t.handlers),
		ipc.WithArena(t.arena),
		ipc.WithProbes(t.probes),
	)
	if err == nil {
		err = c.LocalInit()
	}
	if err != nil {
		r.Close()
		return nil, err
	}
	return &member{proc: p, reactor: r, ctx: c}, nil
}

func (t *Tree) member(procnum api.Procnum) (*member, error) {
	for _, m := range t.members {
		if m.proc.Procnum == procnum {
			return m, nil
		}
	}
	return nil, fmt.Errorf("procnum %s: %w", procnum, api.ErrNotFound)
}

// Processes returns the process table.
func (t *Tree) Processes() *ipc.ProcessTable { return t.procs }

// Context returns the IPC context of procnum. Use it only through Call once
// the tree is started.
func (t *Tree) Context(procnum api.Procnum) (*ipc.Context, error) {
	m, err := t.member(procnum)
	if err != nil {
		return nil, err
	}
	return m.ctx, nil
}

// Handlers returns the table shared by every process.
func (t *Tree) Handlers() *ipc.HandlerTable { return t.handlers }

// Arena returns the payload arena shared by every process.
func (t *Tree) Arena() *ipc.Arena { return t.arena }

// Store returns the live configuration.
func (t *Tree) Store() *control.Store { return t.store }

// Metrics returns the IPC collectors.
func (t *Tree) Metrics() *control.Metrics { return t.metrics }

// Gatherer returns the metrics registry when one is available.
func (t *Tree) Gatherer() prometheus.Gatherer { return t.gatherer }

// Debug returns the probe registry.
func (t *Tree) Debug() api.Debug { return t.probes }

// Start marks every process Starting, starts its channel, runs the reactors
// and marks every process Running. Subsequent calls have no effect.
func (t *Tree) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return api.ErrChannelClosed
	}
	if t.started {
		return nil
	}
	for _, m := range t.members {
		m.proc.SetState(api.ProcessStarting)
	}
	for _, m := range t.members {
		if err := m.ctx.LocalStart(); err != nil {
			return fmt.Errorf("%s start: %w", m.proc.Procnum, err)
		}
	}

	loopCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(loopCtx)
	for _, m := range t.members {
		r := m.reactor
		g.Go(func() error { return r.Run(gctx) })
	}
	t.cancel, t.group, t.loopCtx = cancel, g, gctx
	for _, m := range t.members {
		m.proc.SetState(api.ProcessRunning)
	}
	t.started = true
	t.log.Info("process tree running")
	return nil
}

// Call runs fn on the loop of procnum and waits for its result. Before
// Start it runs fn directly.
func (t *Tree) Call(procnum api.Procnum, fn func(c *ipc.Context) error) error {
	m, err := t.member(procnum)
	if err != nil {
		return err
	}
	t.mu.Lock()
	started, stopped, loopCtx := t.started, t.stopped, t.loopCtx
	t.mu.Unlock()
	if stopped {
		return api.ErrChannelClosed
	}
	if !started {
		return fn(m.ctx)
	}

	done := make(chan error, 1)
	m.reactor.Post(func() { done <- fn(m.ctx) })
	select {
	case err := <-done:
		return err
	case <-loopCtx.Done():
		return api.ErrChannelClosed
	}
}

// ShareFd hands fd from one process to another under ref. The receiver
// accepts exactly one descriptor, waiting at most IPC.SendTimeout, and cb
// sees either the received descriptor or the failure status.
func (t *Tree) ShareFd(from, to api.Procnum, fd int, ref uintptr, cb ipc.FdCallback) error {
	dst, ok := t.procs.Lookup(to)
	if !ok {
		return fmt.Errorf("procnum %s: %w", to, api.ErrNotFound)
	}
	timeout := t.store.Snapshot().IPC.SendTimeout
	err := t.Call(to, func(c *ipc.Context) error {
		return c.ReceiveFdStart(ref, "shared fd", timeout, func(status api.Status, ref uintptr, fd int, privdata uintptr, data any) {
			cb(status, ref, fd, privdata, data)
			if status == api.StatusOK {
				c.ReceiveFdFinish(ref)
			}
		}, nil)
	})
	if err != nil {
		return err
	}
	return t.Call(from, func(c *ipc.Context) error {
		return c.SendFd(dst, fd, ref, 0)
	})
}

// Wait blocks until the reactors exit.
func (t *Tree) Wait() error {
	t.mu.Lock()
	g := t.group
	t.mu.Unlock()
	if g == nil {
		return nil
	}
	return g.Wait()
}

// Shutdown stops every channel on its own loop, so queued messages are
// cancelled and fd receivers failed, then stops the reactors and releases
// all shared memory.
func (t *Tree) Shutdown() error {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return nil
	}
	started := t.started
	t.mu.Unlock()

	var errs []error
	for _, m := range t.members {
		m.proc.SetState(api.ProcessStopping)
	}
	for _, m := range t.members {
		var err error
		if started {
			err = t.Call(m.proc.Procnum, func(c *ipc.Context) error { return c.LocalStop() })
		}
		if !started || errors.Is(err, api.ErrChannelClosed) {
			// The loops are gone, so the context is ours to stop.
			t.Wait()
			err = m.ctx.LocalStop()
		}
		errs = append(errs, err)
	}

	t.mu.Lock()
	t.stopped = true
	cancel, g := t.cancel, t.group
	t.mu.Unlock()
	if cancel != nil {
		cancel()
		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			errs = append(errs, err)
		}
	}

	for _, m := range t.members {
		m.proc.SetState(api.ProcessStopped)
	}
	errs = append(errs, t.release())
	t.log.Info("process tree stopped")
	return errors.Join(errs...)
}

func (t *Tree) release() error {
	var errs []error
	for _, m := range t.members {
		errs = append(errs, m.reactor.Close())
	}
	// State cells stay readable after shutdown; only channels go away.
	errs = append(errs, t.procs.DestroyChannels())
	return errors.Join(errs...)
}
