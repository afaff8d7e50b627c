// File: api/payload.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Payload is the single word carried next to a message code.

package api

import "fmt"

// PayloadKind tags the meaning of a payload word.
type PayloadKind uint8

const (
	PayloadNone PayloadKind = iota
	// PayloadLocal is a handle into the sender's arena. Only resolvable in
	// the address space that owns the arena.
	PayloadLocal
	// PayloadShared is an offset into a mapping every process can see.
	PayloadShared
)

const payloadTagShift = 62

// PayloadValueMax is the largest handle or offset a payload word can carry.
// The top two bits hold the kind.
const PayloadValueMax = 1<<payloadTagShift - 1

// Payload is an encoded (kind, value) pair that fits one ring slot word.
// The zero value carries nothing.
type Payload struct {
	word uint64
}

// NoPayload is the empty payload.
var NoPayload = Payload{}

// LocalPayload wraps an arena handle. It panics if handle exceeds
// PayloadValueMax.
func LocalPayload(handle uint64) Payload {
	mustFit("handle", handle)
	return Payload{word: uint64(PayloadLocal)<<payloadTagShift | handle&PayloadValueMax}
}

// SharedPayload wraps an offset into shared memory. It panics if offset
// exceeds PayloadValueMax.
func SharedPayload(offset uint64) Payload {
	mustFit("offset", offset)
	return Payload{word: uint64(PayloadShared)<<payloadTagShift | offset&PayloadValueMax}
}

func mustFit(what string, v uint64) {
	if v > PayloadValueMax {
		panic(fmt.Sprintf("api: payload %s %#x exceeds %#x", what, v, uint64(PayloadValueMax)))
	}
}

// PayloadFromWord decodes a raw slot word.
func PayloadFromWord(w uint64) Payload { return Payload{word: w} }

// Word returns the raw encoding placed in the ring.
func (p Payload) Word() uint64 { return p.word }

// Kind reports which variant p holds.
func (p Payload) Kind() PayloadKind { return PayloadKind(p.word >> payloadTagShift) }

// Local returns the arena handle if p is a local payload.
func (p Payload) Local() (uint64, bool) {
	if p.Kind() != PayloadLocal {
		return 0, false
	}
	return p.word & PayloadValueMax, true
}

// Shared returns the shared-memory offset if p is a shared payload.
func (p Payload) Shared() (uint64, bool) {
	if p.Kind() != PayloadShared {
		return 0, false
	}
	return p.word & PayloadValueMax, true
}

func (p Payload) String() string {
	switch p.Kind() {
	case PayloadNone:
		return "none"
	case PayloadLocal:
		h, _ := p.Local()
		return fmt.Sprintf("local(%d)", h)
	case PayloadShared:
		off, _ := p.Shared()
		return fmt.Sprintf("shared(%#x)", off)
	default:
		return fmt.Sprintf("invalid(%#x)", p.word)
	}
}
