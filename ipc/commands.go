// File: ipc/commands.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Built-in control codes exchanged between master, manager and workers.

package ipc

import (
	"errors"

	"github.com/momentics/hioload-ipc/api"
)

const (
	CmdSignal              api.Code = 1
	CmdShutdown            api.Code = 2
	CmdShutdownComplete    api.Code = 3
	CmdReconfigure         api.Code = 4
	CmdReconfigureResponse api.Code = 5
	CmdSetLogFd            api.Code = 6
	CmdListenPort          api.Code = 7
	CmdListenPortResponse  api.Code = 8
)

// Command is the pair of callbacks for one built-in code.
type Command struct {
	Receive ReceiveFunc
	Cancel  CancelFunc
}

// CommandSet lists the built-in commands a process handles. Commands with a
// nil Receive are left unregistered.
type CommandSet struct {
	Signal              Command
	Shutdown            Command
	ShutdownComplete    Command
	Reconfigure         Command
	ReconfigureResponse Command
	SetLogFd            Command
	ListenPort          Command
	ListenPortResponse  Command
}

// RegisterCommands adds every command of set to c's handler table. It stops
// at the first rejected registration.
func RegisterCommands(c *Context, set CommandSet) error {
	entries := []struct {
		name string
		code api.Code
		cmd  Command
	}{
		{"signal", CmdSignal, set.Signal},
		{"shutdown", CmdShutdown, set.Shutdown},
		{"shutdown_complete", CmdShutdownComplete, set.ShutdownComplete},
		{"reconfigure", CmdReconfigure, set.Reconfigure},
		{"reconfigure_response", CmdReconfigureResponse, set.ReconfigureResponse},
		{"set_log_fd", CmdSetLogFd, set.SetLogFd},
		{"listen_port", CmdListenPort, set.ListenPort},
		{"listen_port_response", CmdListenPortResponse, set.ListenPortResponse},
	}
	registered := 0
	for _, e := range entries {
		if e.cmd.Receive == nil {
			continue
		}
		if _, err := c.AddHandler(e.name, e.code, e.cmd.Receive, e.cmd.Cancel); err != nil {
			return err
		}
		registered++
	}
	if registered == 0 {
		return errors.New("ipc: empty command set")
	}
	return nil
}
