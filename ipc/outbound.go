// File: ipc/outbound.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Process-local FIFO of messages that could not be placed into a full ring.

package ipc

import (
	"time"

	"github.com/eapache/queue"

	"github.com/momentics/hioload-ipc/api"
)

// outboundMessage is one queued send.
type outboundMessage struct {
	code    api.Code
	payload api.Payload
	dst     *Process
}

// outboundQueue holds messages in send order and retries the head on a
// timer until its destination ring accepts it.
type outboundQueue struct {
	q     *queue.Queue
	timer api.Timer
	delay time.Duration
	push  func(m outboundMessage) bool
	depth func(n int)
}

func newOutboundQueue(loop api.Loop, delay time.Duration, push func(outboundMessage) bool, depth func(int)) *outboundQueue {
	o := &outboundQueue{
		q:     queue.New(),
		delay: delay,
		push:  push,
		depth: depth,
	}
	o.timer = loop.NewTimer(o.flush)
	return o
}

// Len returns the number of queued messages.
func (o *outboundQueue) Len() int { return o.q.Length() }

// enqueue appends m and arms the retry timer if it is idle.
func (o *outboundQueue) enqueue(m outboundMessage) {
	o.q.Add(m)
	o.depth(o.q.Length())
	if !o.timer.Active() {
		o.timer.Start(o.delay)
	}
}

// flush pushes from the head until a push fails or the queue empties.
func (o *outboundQueue) flush() {
	for o.q.Length() > 0 {
		m := o.q.Peek().(outboundMessage)
		if !o.push(m) {
			o.timer.Start(o.delay)
			break
		}
		o.q.Remove()
	}
	o.depth(o.q.Length())
}

// setDelay changes the retry interval for future arms.
func (o *outboundQueue) setDelay(d time.Duration) {
	if d > 0 {
		o.delay = d
	}
}

// drop empties the queue, handing every message to cancel in order, and
// releases the timer.
func (o *outboundQueue) drop(cancel func(m outboundMessage)) int {
	o.timer.Close()
	n := 0
	for o.q.Length() > 0 {
		cancel(o.q.Remove().(outboundMessage))
		n++
	}
	o.depth(0)
	return n
}
