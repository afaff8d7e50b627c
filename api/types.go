// File: api/types.go
// Author: momentics <momentics@gmail.com>
//
// Shared API-level type declarations and constants for the IPC substrate.

package api

import "strconv"

// Code is the one-byte message type tag carried in every ring slot.
type Code uint8

const (
	// CodeNil marks an empty ring slot. It is never a valid application code.
	CodeNil Code = 0

	// CodeAutomatic asks the handler table to pick a free code.
	// It shares the value of CodeNil because zero can never be registered.
	CodeAutomatic Code = CodeNil
)

// Status reports the outcome delivered to fd receive callbacks.
type Status int

const (
	StatusOK Status = iota
	StatusFail
	StatusTimeout
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusFail:
		return "fail"
	case StatusTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Procnum is the logical identity of a process in the tree.
type Procnum int

const (
	ProcnumNone    Procnum = -3
	ProcnumMaster  Procnum = -2
	ProcnumManager Procnum = -1
)

// IsWorker reports whether p names a worker slot.
func (p Procnum) IsWorker() bool { return p >= 0 }

func (p Procnum) String() string {
	switch p {
	case ProcnumNone:
		return "none"
	case ProcnumMaster:
		return "master"
	case ProcnumManager:
		return "manager"
	default:
		return "worker-" + strconv.Itoa(int(p))
	}
}

// ProcessState is the lifecycle state every process publishes in shared memory.
type ProcessState int32

const (
	ProcessDead     ProcessState = -1
	ProcessNil      ProcessState = 0
	ProcessStarting ProcessState = 1
	ProcessRunning  ProcessState = 2
	ProcessStopping ProcessState = 3
	ProcessStopped  ProcessState = 4
)

func (s ProcessState) String() string {
	switch s {
	case ProcessDead:
		return "dead"
	case ProcessNil:
		return "nil"
	case ProcessStarting:
		return "starting"
	case ProcessRunning:
		return "running"
	case ProcessStopping:
		return "stopping"
	case ProcessStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
