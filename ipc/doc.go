// Package ipc
// Author: momentics <momentics@gmail.com>
//
// Message and descriptor passing between the master, manager and worker
// processes of one tree.
//
// Every process owns a SharedChannel: one inbound ring per sender, a
// notification link that wakes its loop, and a socket that carries file
// descriptors. A Context holds the process-local side: the outbound retry
// queue, the fd receiver registry and the handler table used for dispatch.
package ipc
