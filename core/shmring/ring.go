// File: core/shmring/ring.go
// Package shmring implements the fixed-capacity message ring placed in
// memory shared by a sending and a receiving process.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Each slot holds a one-byte code and one payload word. A slot is occupied
// while its code is non-zero. The producer owns nextReserve and nextRelease,
// the consumer owns nextRead; all three hold wrapping 8-bit positions.

package shmring

import (
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"unsafe"

	"go.uber.org/zap"

	"github.com/momentics/hioload-ipc/api"
)

// Ensure compile-time interface compliance.
var _ api.Ring = (*Ring)(nil)

// ErrCorrupt is raised when the shared indices describe an impossible state.
var ErrCorrupt = errors.New("shmring: index accounting corrupted")

const cacheLinePad = 64

// layout is the exact shared-memory image of a ring.
type layout struct {
	nextRead    atomic.Uint32
	_           [cacheLinePad - 4]byte
	nextReserve atomic.Uint32
	nextRelease atomic.Uint32
	_           [cacheLinePad - 8]byte
	codes       [Slots]atomic.Uint32
	words       [Slots]atomic.Uint64
}

// Size is the number of bytes a ring occupies in a shared mapping.
const Size = unsafe.Sizeof(layout{})

// Align is the required alignment of a ring inside a mapping.
const Align = 8

// Ring is a process-local handle onto a ring layout.
type Ring struct {
	l        *layout
	draining bool
	log      *zap.Logger
}

// NewPrivate allocates a ring on the Go heap. Used for rings that only
// threads of one address space touch.
func NewPrivate() *Ring {
	return &Ring{l: new(layout), log: zap.NewNop()}
}

// NewShared places a ring at p, which must point to Size zeroed bytes of a
// shared mapping aligned to Align.
func NewShared(p unsafe.Pointer) *Ring {
	if uintptr(p)%Align != 0 {
		panic(fmt.Sprintf("shmring: misaligned ring address %p", p))
	}
	return &Ring{l: (*layout)(p), log: zap.NewNop()}
}

// SetLogger attaches a logger for reader-side anomalies.
func (r *Ring) SetLogger(log *zap.Logger) {
	if log != nil {
		r.log = log
	}
}

// TryPush stores code and word in the next free slot. It returns false,
// leaving the ring untouched, when the ring is full or code is CodeNil.
func (r *Ring) TryPush(code api.Code, word uint64) bool {
	if code == api.CodeNil {
		return false
	}
	l := r.l
	for {
		reserve := Index(l.nextReserve.Load())
		read := Index(l.nextRead.Load())
		if full(read, reserve, l.codes[reserve].Load() != 0) {
			return false
		}
		if !l.nextReserve.CompareAndSwap(uint32(reserve), uint32(reserve.Next())) {
			continue
		}
		l.words[reserve].Store(word)
		// The code is the publication point: a reader never sees it
		// without the word stored above.
		l.codes[reserve].Store(uint32(code))
		// Release strictly in reservation order.
		for !l.nextRelease.CompareAndSwap(uint32(reserve), uint32(reserve.Next())) {
			runtime.Gosched()
		}
		return true
	}
}

// Drain dispatches every slot between nextRead and the release position
// observed on entry. Arrivals during the walk wait for the next call.
// Only the ring's reader may call Drain; a nested call from fn returns 0.
func (r *Ring) Drain(fn func(code api.Code, word uint64)) int {
	if r.draining {
		return 0
	}
	r.draining = true
	defer func() { r.draining = false }()

	l := r.l
	read := Index(l.nextRead.Load())
	release := Index(l.nextRelease.Load())
	reserve := Index(l.nextReserve.Load())
	if read.Distance(release) > read.Distance(reserve) {
		panic(fmt.Errorf("%w: read=%d release=%d reserve=%d", ErrCorrupt, read, release, reserve))
	}

	n := 0
	for i := read; i != release; i = i.Next() {
		code := api.Code(l.codes[i].Load())
		word := l.words[i].Load()
		l.codes[i].Store(uint32(api.CodeNil))
		l.nextRead.Store(uint32(i.Next()))
		if code == api.CodeNil {
			r.log.Warn("ipc ring slot released without code, skipping", zap.Uint8("slot", uint8(i)))
			continue
		}
		fn(code, word)
		n++
	}
	return n
}

// Len returns the number of released messages not yet drained.
func (r *Ring) Len() int {
	read := Index(r.l.nextRead.Load())
	return read.Distance(Index(r.l.nextRelease.Load()))
}

// Cap returns the message capacity, one less than Slots.
func (r *Ring) Cap() int { return Slots - 1 }

// Empty reports whether nothing is waiting to be drained.
func (r *Ring) Empty() bool { return r.Len() == 0 }
