package liveness

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vinayprograms/agentorg/directory"
	agenterrors "github.com/vinayprograms/agentorg/errors"
	"github.com/vinayprograms/agentorg/logging"
	"github.com/vinayprograms/agentorg/message"
)

// Monitor moves silent agents through ACTIVE -> OFFLINE -> PURGED.
//
// Two loops run independently: a short one that marks agents offline once
// their heartbeat is older than AliveTTL, and a long one that removes them
// once it is older than PurgeTTL. Both are idempotent.
type Monitor struct {
	cfg    MonitorConfig
	logger *logging.Logger

	mu        sync.RWMutex
	offlineCB []func(directory.AgentRecord)
	purgeCB   []func(directory.AgentRecord)

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewMonitor creates a monitor. It does nothing until Start.
func NewMonitor(cfg MonitorConfig, logger *logging.Logger) (*Monitor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Monitor{
		cfg:    cfg,
		logger: logging.OrDiscard(logger).WithComponent("liveness"),
	}, nil
}

// OnOffline registers fn to run for each agent marked offline.
func (m *Monitor) OnOffline(fn func(directory.AgentRecord)) {
	m.mu.Lock()
	m.offlineCB = append(m.offlineCB, fn)
	m.mu.Unlock()
}

// OnPurge registers fn to run for each agent removed.
func (m *Monitor) OnPurge(fn func(directory.AgentRecord)) {
	m.mu.Lock()
	m.purgeCB = append(m.purgeCB, fn)
	m.mu.Unlock()
}

// Start launches both sweep loops. They stop on Stop or when ctx ends.
func (m *Monitor) Start(ctx context.Context) error {
	if m.running.Swap(true) {
		return ErrAlreadyStarted
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, m.cancel = context.WithCancel(ctx)

	m.wg.Add(2)
	go m.loop(ctx, "offline", m.cfg.OfflineInterval, func(ctx context.Context) { m.SweepOffline(ctx) })
	go m.loop(ctx, "purge", m.cfg.PurgeInterval, func(context.Context) { m.SweepPurge() })
	return nil
}

// Stop cancels both loops and waits for them to exit.
func (m *Monitor) Stop() error {
	if !m.running.Swap(false) {
		return ErrNotStarted
	}
	m.cancel()
	m.wg.Wait()
	return nil
}

func (m *Monitor) loop(ctx context.Context, name string, interval time.Duration, sweep func(context.Context)) {
	defer m.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.guard(name, func() { sweep(ctx) })
		}
	}
}

// guard runs one sweep iteration, logging a panic instead of letting it
// end the loop.
func (m *Monitor) guard(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.SweepError(name, agenterrors.RecoverPanic(r))
		}
	}()
	fn()
}

// SweepOffline marks every agent silent for longer than AliveTTL offline
// and emits agent_offline for each. An agent already offline is skipped,
// so repeated sweeps emit at most one event per silence. It returns the
// ids it transitioned.
func (m *Monitor) SweepOffline(ctx context.Context) []string {
	cutoff := m.cfg.Clock().Add(-m.cfg.AliveTTL)

	var moved []string
	for _, id := range m.cfg.Directory.Stale(cutoff) {
		rec, ok := m.cfg.Directory.MarkOffline(id, cutoff)
		if !ok {
			continue
		}
		moved = append(moved, id)
		m.logger.Info("agent offline", map[string]interface{}{
			"agent_id":       id,
			"last_heartbeat": rec.LastHeartbeat.Format(time.RFC3339),
		})
		m.emitOffline(ctx, rec)

		m.mu.RLock()
		cbs := append(([]func(directory.AgentRecord))(nil), m.offlineCB...)
		m.mu.RUnlock()
		for _, cb := range cbs {
			cb(rec)
		}
	}
	return moved
}

// SweepPurge removes every agent silent for longer than PurgeTTL. Purged
// agents produce no event.
func (m *Monitor) SweepPurge() []directory.AgentRecord {
	cutoff := m.cfg.Clock().Add(-m.cfg.PurgeTTL)

	removed := m.cfg.Directory.PurgeStale(cutoff)
	if len(removed) == 0 {
		return nil
	}

	m.mu.RLock()
	cbs := append(([]func(directory.AgentRecord))(nil), m.purgeCB...)
	m.mu.RUnlock()

	for _, rec := range removed {
		m.logger.Info("agent purged", map[string]interface{}{"agent_id": rec.ID})
		for _, cb := range cbs {
			cb(rec)
		}
	}
	return removed
}

func (m *Monitor) emitOffline(ctx context.Context, rec directory.AgentRecord) {
	if m.cfg.Publisher == nil {
		return
	}
	ev := message.NewEvent(m.cfg.SenderID, message.EventAgentOffline, map[string]interface{}{
		"agent_id":       rec.ID,
		"last_heartbeat": rec.LastHeartbeat.UTC().Format(time.RFC3339Nano),
	}, message.WithPriority(message.PriorityHigh))
	if err := m.cfg.Publisher.Publish(ctx, message.BroadcastChannel, ev); err != nil {
		m.logger.Warn("offline event publish failed", map[string]interface{}{
			"agent_id": rec.ID,
			"error":    err.Error(),
		})
	}
}
