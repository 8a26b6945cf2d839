package liveness

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// DefaultHeartbeatInterval is how often a Sender beats when unset.
const DefaultHeartbeatInterval = 30 * time.Second

// Sender refreshes one agent's heartbeat at a fixed interval.
type Sender struct {
	beater   Beater
	agentID  string
	interval time.Duration

	beats  atomic.Uint64
	misses atomic.Uint64

	running atomic.Bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewSender creates a heartbeat sender for agentID.
func NewSender(b Beater, agentID string, interval time.Duration) (*Sender, error) {
	if b == nil || agentID == "" {
		return nil, fmt.Errorf("%w: beater and agent id are required", ErrInvalidConfig)
	}
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	return &Sender{beater: b, agentID: agentID, interval: interval}, nil
}

// Start begins sending heartbeats, the first one immediately.
func (s *Sender) Start(ctx context.Context) error {
	if s.running.Swap(true) {
		return ErrAlreadyStarted
	}
	if ctx == nil {
		ctx = context.Background()
	}

	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	go s.run(ctx)
	return nil
}

func (s *Sender) run(ctx context.Context) {
	defer close(s.doneCh)

	s.beat()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.beat()
		}
	}
}

func (s *Sender) beat() {
	if s.beater.Heartbeat(s.agentID) {
		s.beats.Add(1)
	} else {
		s.misses.Add(1)
	}
}

// Stop stops sending heartbeats and waits for the loop to exit.
func (s *Sender) Stop() error {
	if !s.running.Swap(false) {
		return ErrNotStarted
	}
	close(s.stopCh)
	<-s.doneCh
	return nil
}

// AgentID returns the sender's agent ID.
func (s *Sender) AgentID() string {
	return s.agentID
}

// Beats returns how many heartbeats the directory accepted.
func (s *Sender) Beats() uint64 {
	return s.beats.Load()
}

// Misses returns how many heartbeats were for an unknown agent.
func (s *Sender) Misses() uint64 {
	return s.misses.Load()
}
