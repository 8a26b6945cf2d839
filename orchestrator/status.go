package orchestrator

import (
	"context"
	"time"

	"github.com/vinayprograms/agentorg/directory"
	"github.com/vinayprograms/agentorg/telemetry"
)

// rateWindow is the span the snapshot message rate is measured over.
const rateWindow = time.Minute

// statusLoop pushes a snapshot to the sink every status interval until
// ctx is cancelled.
func (o *Orchestrator) statusLoop(ctx context.Context) {
	defer close(o.statusDone)

	interval := o.cfg.Orchestrator.StatusInterval.Duration
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.sink.Push(o.snapshot())
		}
	}
}

// Snapshot returns the current organisation status.
func (o *Orchestrator) Snapshot() (telemetry.Snapshot, error) {
	if err := o.requireRunning(); err != nil {
		return telemetry.Snapshot{}, err
	}
	return o.snapshot(), nil
}

func (o *Orchestrator) snapshot() telemetry.Snapshot {
	now := time.Now()
	if o.opts.Clock != nil {
		now = o.opts.Clock()
	}

	records := o.dir.List()
	snap := telemetry.Snapshot{
		Timestamp:       now.UTC(),
		Agents:          make([]telemetry.AgentStatus, 0, len(records)),
		Total:           len(records),
		ByTier:          make(map[string]int),
		ByStatus:        make(map[string]int),
		MessageRate:     o.bus.History().Rate(rateWindow),
		PendingRequests: o.corr.Pending(),
	}
	for _, r := range records {
		snap.Agents = append(snap.Agents, telemetry.AgentStatus{
			ID:            r.ID,
			Name:          r.Name,
			Role:          r.Role,
			Tier:          string(r.Tier),
			Department:    r.Department,
			Status:        string(r.Status),
			ReportingTo:   r.ReportingTo,
			LastHeartbeat: r.LastHeartbeat,
		})
		snap.ByTier[string(r.Tier)]++
		snap.ByStatus[string(r.Status)]++
		if r.Status != directory.StatusOffline {
			snap.Active++
		}
	}

	stats := o.bus.Stats()
	snap.Published = stats.Published
	snap.Delivered = stats.Delivered
	snap.Failures = stats.Failures
	return snap
}
