package liveness

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vinayprograms/agentorg/directory"
	"github.com/vinayprograms/agentorg/message"
)

// Common errors.
var (
	ErrAlreadyStarted = errors.New("liveness already started")
	ErrNotStarted     = errors.New("liveness not started")
	ErrInvalidConfig  = errors.New("invalid configuration")
)

// Directory is the view of the agent directory the monitor sweeps.
// *directory.Directory satisfies it.
type Directory interface {
	MarkOffline(id string, cutoff time.Time) (directory.AgentRecord, bool)
	Stale(cutoff time.Time) []string
	PurgeStale(cutoff time.Time) []directory.AgentRecord
}

// Publisher carries agent_offline events. *bus.Bus satisfies it.
type Publisher interface {
	Publish(ctx context.Context, channel string, msg message.Message) error
}

// Beater records a heartbeat for an agent. *directory.Directory satisfies it.
type Beater interface {
	Heartbeat(id string) bool
}

// MonitorConfig configures a liveness monitor.
type MonitorConfig struct {
	// Directory is swept for silent agents. Required.
	Directory Directory

	// Publisher receives agent_offline events. Nil skips them.
	Publisher Publisher

	// AliveTTL is how long an agent may stay silent before it goes offline.
	AliveTTL time.Duration

	// PurgeTTL is how long an agent may stay silent before it is removed.
	// Must exceed AliveTTL.
	PurgeTTL time.Duration

	// OfflineInterval is the period of the offline sweep.
	OfflineInterval time.Duration

	// PurgeInterval is the period of the purge sweep.
	PurgeInterval time.Duration

	// SenderID is the sender of emitted events. Default: "liveness".
	SenderID string

	// Clock defaults to time.Now.
	Clock func() time.Time
}

// DefaultMonitorConfig returns configuration with sensible defaults.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		AliveTTL:        90 * time.Second,
		PurgeTTL:        10 * time.Minute,
		OfflineInterval: 30 * time.Second,
		PurgeInterval:   5 * time.Minute,
		SenderID:        "liveness",
	}
}

// Validate checks the configuration. Zero durations are filled from the
// defaults before the TTL ordering is checked.
func (c *MonitorConfig) Validate() error {
	if c.Directory == nil {
		return fmt.Errorf("%w: directory is required", ErrInvalidConfig)
	}
	d := DefaultMonitorConfig()
	if c.AliveTTL <= 0 {
		c.AliveTTL = d.AliveTTL
	}
	if c.PurgeTTL <= 0 {
		c.PurgeTTL = d.PurgeTTL
	}
	if c.OfflineInterval <= 0 {
		c.OfflineInterval = d.OfflineInterval
	}
	if c.PurgeInterval <= 0 {
		c.PurgeInterval = d.PurgeInterval
	}
	if c.SenderID == "" {
		c.SenderID = d.SenderID
	}
	if c.PurgeTTL <= c.AliveTTL {
		return fmt.Errorf("%w: purge ttl %v must exceed alive ttl %v", ErrInvalidConfig, c.PurgeTTL, c.AliveTTL)
	}
	return nil
}
