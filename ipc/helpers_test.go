package ipc

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/momentics/hioload-ipc/api"
	"github.com/momentics/hioload-ipc/control"
	"github.com/momentics/hioload-ipc/fake"
	"github.com/momentics/hioload-ipc/internal/logging"
	"github.com/momentics/hioload-ipc/internal/notify"
)

// tree is an in-process tree where every context runs on a manual loop.
type tree struct {
	t        *testing.T
	procs    *ProcessTable
	handlers *HandlerTable
	arena    *Arena
	metrics  *control.Metrics
	probes   *control.DebugProbes
	logs     *observer.ObservedLogs
	loops    map[api.Procnum]*fake.Loop
	ctxs     map[api.Procnum]*Context
}

func newTree(t *testing.T, workers int) *tree {
	t.Helper()
	procs, err := NewProcessTable(workers)
	require.NoError(t, err)
	require.NoError(t, procs.CreateChannels(notify.KindEventfd))
	t.Cleanup(func() { procs.Close() })

	core, logs := observer.New(zap.DebugLevel)
	tr := &tree{
		t:        t,
		procs:    procs,
		handlers: NewHandlerTable(),
		arena:    NewArena(),
		metrics:  control.NewMetrics(prometheus.NewRegistry()),
		probes:   control.NewDebugProbes(),
		logs:     logs,
		loops:    make(map[api.Procnum]*fake.Loop),
		ctxs:     make(map[api.Procnum]*Context),
	}
	for _, p := range procs.All() {
		loop := fake.NewLoop()
		c, err := New(procs, p, loop,
			WithHandlers(tr.handlers),
			WithArena(tr.arena),
			WithMetrics(tr.metrics),
			WithProbes(tr.probes),
			WithConfig(control.Default().IPC),
			WithLogger(&logging.Logger{Logger: zap.New(core)}),
		)
		require.NoError(t, err)
		require.NoError(t, c.LocalInit())
		require.NoError(t, c.LocalStart())
		p.SetState(api.ProcessRunning)
		tr.loops[p.Procnum] = loop
		tr.ctxs[p.Procnum] = c
	}
	t.Cleanup(func() {
		for _, c := range tr.ctxs {
			c.LocalStop()
		}
	})
	return tr
}

func (tr *tree) proc(n api.Procnum) *Process {
	p, ok := tr.procs.Lookup(n)
	require.True(tr.t, ok, "no process %s", n)
	return p
}

// wake simulates the notification link of n becoming readable.
func (tr *tree) wake(n api.Procnum) {
	fd := tr.proc(n).Channel().Notify().Fd()
	require.NoError(tr.t, tr.loops[n].Ready(uintptr(fd)))
}

// fdReady simulates the descriptor socket of n becoming readable.
func (tr *tree) fdReady(n api.Procnum) {
	fd := tr.proc(n).Channel().FdLink().ReadFd()
	require.NoError(tr.t, tr.loops[n].Ready(uintptr(fd)))
}

type received struct {
	to      api.Procnum
	code    api.Code
	payload api.Payload
}

// recorder registers code and records every delivery.
func (tr *tree) recorder(name string, code api.Code) *[]received {
	var got []received
	_, err := tr.handlers.Add(name, code, func(c *Context, code api.Code, p api.Payload) {
		got = append(got, received{c.Self().Procnum, code, p})
	}, nil)
	require.NoError(tr.t, err)
	return &got
}
