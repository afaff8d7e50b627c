// Package api
// Author: momentics@gmail.com
//
// Fixed-capacity code/word ring shared by exactly one producer and one consumer.

package api

// Ring is the message ring contract.
type Ring interface {
	// TryPush stores (code, word); returns false if the ring is full.
	TryPush(code Code, word uint64) bool
	// Drain dispatches every released slot to fn and returns the count.
	Drain(fn func(code Code, word uint64)) int
	// Len returns the number of released, unread slots.
	Len() int
	// Cap returns the number of messages the ring can hold.
	Cap() int
}
