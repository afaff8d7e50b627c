// File: ipc/process.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Processes of the tree, their shared lifecycle state and the inbound side
// of their channels.

package ipc

import (
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"

	"github.com/google/uuid"

	"github.com/momentics/hioload-ipc/api"
	"github.com/momentics/hioload-ipc/core/shmring"
	"github.com/momentics/hioload-ipc/internal/notify"
	"github.com/momentics/hioload-ipc/internal/shm"
)

// stateSize is the footprint of one shared lifecycle state cell.
const stateSize = unsafe.Sizeof(int32(0))

// Process is one member of the tree as every other member sees it.
type Process struct {
	Procnum  api.Procnum
	Pid      int
	Instance uuid.UUID

	state   *atomic.Int32
	channel *SharedChannel
}

// State reads the lifecycle state from shared memory.
func (p *Process) State() api.ProcessState {
	return api.ProcessState(p.state.Load())
}

// SetState publishes a new lifecycle state.
func (p *Process) SetState(s api.ProcessState) {
	p.state.Store(int32(s))
}

// Channel returns the inbound channel, nil before CreateChannels.
func (p *Process) Channel() *SharedChannel { return p.channel }

func (p *Process) String() string {
	return fmt.Sprintf("%s[%d]", p.Procnum, p.Pid)
}

// ProcessTable lists every process of the tree. States live in one shared
// mapping so a state change is visible to all members.
type ProcessTable struct {
	Master  *Process
	Manager *Process
	Workers []*Process

	states *shm.Region
	all    []*Process
}

// NewProcessTable creates the master, the manager and n workers, all in
// state api.ProcessNil.
func NewProcessTable(workers int) (*ProcessTable, error) {
	if workers < 0 {
		return nil, fmt.Errorf("worker count %d: %w", workers, api.ErrInvalidArgument)
	}
	count := workers + 2
	region, err := shm.Map(count * int(stateSize))
	if err != nil {
		return nil, fmt.Errorf("process state mapping: %w", err)
	}
	t := &ProcessTable{states: region}
	newProc := func(i int, procnum api.Procnum) *Process {
		p := &Process{
			Procnum:  procnum,
			Pid:      os.Getpid(),
			Instance: uuid.New(),
			state:    (*atomic.Int32)(region.Pointer(uintptr(i) * stateSize)),
		}
		t.all = append(t.all, p)
		return p
	}
	t.Master = newProc(0, api.ProcnumMaster)
	t.Manager = newProc(1, api.ProcnumManager)
	for i := 0; i < workers; i++ {
		t.Workers = append(t.Workers, newProc(i+2, api.Procnum(i)))
	}
	return t, nil
}

// Lookup returns the process for procnum.
func (t *ProcessTable) Lookup(procnum api.Procnum) (*Process, bool) {
	switch {
	case procnum == api.ProcnumMaster:
		return t.Master, true
	case procnum == api.ProcnumManager:
		return t.Manager, true
	case procnum.IsWorker() && int(procnum) < len(t.Workers):
		return t.Workers[procnum], true
	}
	return nil, false
}

// All returns master, manager and workers in that order.
func (t *ProcessTable) All() []*Process { return t.all }

// Procnums lists the procnum of every process in All order.
func (t *ProcessTable) Procnums() []api.Procnum {
	out := make([]api.Procnum, len(t.all))
	for i, p := range t.all {
		out[i] = p.Procnum
	}
	return out
}

// CreateChannels builds the inbound channel of every process.
func (t *ProcessTable) CreateChannels(kind notify.Kind) error {
	senders := t.Procnums()
	for _, p := range t.all {
		ch, err := CreateSharedChannel(p.Procnum, senders, kind)
		if err != nil {
			t.DestroyChannels()
			return fmt.Errorf("channel for %s: %w", p.Procnum, err)
		}
		p.channel = ch
	}
	return nil
}

// DestroyChannels releases every channel. Safe to call more than once.
func (t *ProcessTable) DestroyChannels() error {
	var errs []error
	for _, p := range t.all {
		if p.channel != nil {
			errs = append(errs, p.channel.Destroy())
			p.channel = nil
		}
	}
	return errors.Join(errs...)
}

// Close destroys the channels and the shared state mapping.
func (t *ProcessTable) Close() error {
	return errors.Join(t.DestroyChannels(), t.states.Unmap())
}

// SharedChannel is the inbound side of one process: a ring per sender, the
// link that wakes the owner and the descriptor socket.
type SharedChannel struct {
	owner   api.Procnum
	region  *shm.Region
	rings   map[api.Procnum]*shmring.Ring
	senders []api.Procnum
	notify  *notify.Link
	fds     *FdLink
}

// CreateSharedChannel allocates the rings senders use to reach owner.
// Master and manager rings go into a MAP_SHARED mapping; worker rings are
// heap allocations.
func CreateSharedChannel(owner api.Procnum, senders []api.Procnum, kind notify.Kind) (*SharedChannel, error) {
	c := &SharedChannel{
		owner:   owner,
		rings:   make(map[api.Procnum]*shmring.Ring, len(senders)),
		senders: append([]api.Procnum(nil), senders...),
	}
	if owner.IsWorker() {
		for _, s := range senders {
			c.rings[s] = shmring.NewPrivate()
		}
	} else {
		region, err := shm.Map(len(senders) * int(shmring.Size))
		if err != nil {
			return nil, err
		}
		c.region = region
		for i, s := range senders {
			c.rings[s] = shmring.NewShared(region.Pointer(uintptr(i) * shmring.Size))
		}
	}

	link, err := notify.New(kind)
	if err != nil {
		c.Destroy()
		return nil, err
	}
	c.notify = link

	fds, err := NewFdLink()
	if err != nil {
		c.Destroy()
		return nil, err
	}
	c.fds = fds
	return c, nil
}

// Owner returns the receiving process.
func (c *SharedChannel) Owner() api.Procnum { return c.owner }

// Inbound returns the ring that from writes into.
func (c *SharedChannel) Inbound(from api.Procnum) (*shmring.Ring, bool) {
	r, ok := c.rings[from]
	return r, ok
}

// Pending sums the unread messages across every inbound ring.
func (c *SharedChannel) Pending() int {
	n := 0
	for _, r := range c.rings {
		n += r.Len()
	}
	return n
}

// Notify returns the wake link.
func (c *SharedChannel) Notify() *notify.Link { return c.notify }

// FdLink returns the descriptor socket pair.
func (c *SharedChannel) FdLink() *FdLink { return c.fds }

// Destroy closes the links and unmaps shared rings.
func (c *SharedChannel) Destroy() error {
	var errs []error
	if c.notify != nil {
		errs = append(errs, c.notify.Close())
		c.notify = nil
	}
	if c.fds != nil {
		errs = append(errs, c.fds.Close())
		c.fds = nil
	}
	c.rings = nil
	if c.region != nil {
		errs = append(errs, c.region.Unmap())
		c.region = nil
	}
	return errors.Join(errs...)
}
