package orchestrator

import (
	agenterrors "github.com/vinayprograms/agentorg/errors"
)

// State is the orchestrator lifecycle position.
type State int32

const (
	StateUninitialized State = iota
	StateRunning
	StateShuttingDown
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting_down"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

var (
	// ErrNotRunning is returned by every operation other than Initialize
	// while the orchestrator is not running.
	ErrNotRunning = agenterrors.Precondition("orchestrator is not running")

	// ErrAlreadyInitialized is returned by a second Initialize.
	ErrAlreadyInitialized = agenterrors.Precondition("orchestrator already initialized")
)
