// File: core/shmring/index.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package shmring

// Slots is the fixed number of slots in a ring. Index arithmetic relies on
// it matching the range of a uint8.
const Slots = 256

// Index is a ring position. All arithmetic wraps modulo Slots.
type Index uint8

// Next returns the following position.
func (i Index) Next() Index { return i + 1 }

// Add advances i by n positions.
func (i Index) Add(n int) Index { return i + Index(uint8(n)) }

// Distance returns how many steps forward it takes to reach to from i.
func (i Index) Distance(to Index) int { return int(uint8(to - i)) }

// full reports whether a producer at reserve may not take another slot.
// A slot whose code is still set belongs to the reader; one slot stays free
// so that read == reserve always means empty.
func full(read, reserve Index, occupied bool) bool {
	return reserve.Next() == read || occupied
}
