package shutdown

import (
	"context"
	"errors"
	"time"

	"github.com/vinayprograms/agentorg/logging"
)

var (
	// ErrAlreadyShutdown indicates shutdown was already initiated.
	ErrAlreadyShutdown = errors.New("shutdown already initiated")

	// ErrTimeout indicates shutdown did not complete within the deadline.
	ErrTimeout = errors.New("shutdown timeout exceeded")

	// ErrHandlerFailed indicates one or more steps failed.
	ErrHandlerFailed = errors.New("one or more shutdown steps failed")
)

// Phases used by the orchestrator. Lower phases run first; steps in the
// same phase run concurrently.
const (
	// PhaseLoops stops background loops: status broadcast, liveness
	// sweeps and heartbeat senders.
	PhaseLoops = 10

	// PhaseAgents deregisters agents and stops the correlator.
	PhaseAgents = 20

	// PhaseTransport closes the bus, its transport and telemetry sinks.
	PhaseTransport = 30
)

// Func is one shutdown step.
type Func func(ctx context.Context) error

// StepResult describes how a single step finished.
type StepResult struct {
	Name     string
	Phase    int
	Duration time.Duration
	Err      error
}

// Result is the outcome of a complete shutdown.
type Result struct {
	TotalDuration time.Duration
	Steps         []StepResult
	Err           error
}

// Failed returns the names of steps that returned an error.
func (r *Result) Failed() []string {
	var failed []string
	for _, s := range r.Steps {
		if s.Err != nil {
			failed = append(failed, s.Name)
		}
	}
	return failed
}

// Config configures a Coordinator.
type Config struct {
	// Timeout bounds ShutdownWithTimeout when no explicit timeout is given.
	// Default: 30 seconds.
	Timeout time.Duration

	// StopOnError aborts later phases once a step fails.
	StopOnError bool

	Logger *logging.Logger
}

// DefaultConfig returns the default coordinator settings.
func DefaultConfig() Config {
	return Config{Timeout: 30 * time.Second}
}

type step struct {
	name  string
	phase int
	fn    Func
	seq   int
}
