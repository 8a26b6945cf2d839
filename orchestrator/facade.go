package orchestrator

import (
	"context"
	"time"

	"github.com/vinayprograms/agentorg/bus"
	"github.com/vinayprograms/agentorg/correlator"
	"github.com/vinayprograms/agentorg/directory"
	agenterrors "github.com/vinayprograms/agentorg/errors"
	"github.com/vinayprograms/agentorg/message"
)

// Receipt acknowledges a published message. It says nothing about
// whether or how the recipient handled it.
type Receipt struct {
	MessageID string    `json:"message_id"`
	AgentID   string    `json:"agent_id,omitempty"`
	Channel   string    `json:"channel"`
	SentAt    time.Time `json:"sent_at"`
}

func (o *Orchestrator) requireRunning() error {
	if o.State() != StateRunning {
		return ErrNotRunning
	}
	return nil
}

// checkTarget logs an unknown or offline target. Callers publish anyway:
// history keeps the message and a revived agent may still answer.
func (o *Orchestrator) checkTarget(op, agentID string) {
	rec, ok := o.dir.Get(agentID)
	switch {
	case !ok:
		o.logger.RegistryMiss(op, agentID)
	case !rec.Online():
		err := agenterrors.AgentOffline(agentID)
		o.logger.Warn("target agent offline", map[string]interface{}{
			"op":    op,
			"code":  err.Code(),
			"error": err.Error(),
		})
	}
}

// SendCommand publishes a command to agentID's direct channel and returns
// without waiting for the agent. An unknown or offline agent is logged,
// and the command is still published.
func (o *Orchestrator) SendCommand(ctx context.Context, agentID, command string, params map[string]interface{}) (Receipt, error) {
	if err := o.requireRunning(); err != nil {
		return Receipt{}, err
	}
	o.checkTarget("send_command", agentID)

	msg := message.NewCommand(ID, agentID, command, params)
	channel := message.DirectChannel(agentID)
	if err := o.bus.Publish(ctx, channel, msg); err != nil {
		return Receipt{}, agenterrors.Wrap(err, "publishing command", agenterrors.WithAgentID(agentID))
	}
	return Receipt{MessageID: msg.ID, AgentID: agentID, Channel: channel, SentAt: msg.Timestamp}, nil
}

// Assign sends command to an idle agent matching role and capabilities.
func (o *Orchestrator) Assign(ctx context.Context, role, command string, params map[string]interface{}, capabilities ...string) (Receipt, error) {
	if err := o.requireRunning(); err != nil {
		return Receipt{}, err
	}
	id, ok := o.dir.FindAvailable(role, capabilities...)
	if !ok {
		return Receipt{}, agenterrors.New(agenterrors.ErrCodeNotFound, "no available agent",
			agenterrors.WithMetadata("role", role))
	}
	return o.SendCommand(ctx, id, command, params)
}

// Request asks agentID a question and waits up to timeout for the answer.
// Zero timeout uses the configured request timeout. A timeout is reported
// through Result.TimedOut, not as an error.
func (o *Orchestrator) Request(ctx context.Context, agentID string, q message.Query, timeout time.Duration) (correlator.Result, error) {
	if err := o.requireRunning(); err != nil {
		return correlator.Result{}, err
	}
	o.checkTarget("request", agentID)
	return o.corr.Request(ctx, agentID, q, timeout)
}

// Broadcast publishes an event to every agent.
func (o *Orchestrator) Broadcast(ctx context.Context, event string, data map[string]interface{}) (Receipt, error) {
	if err := o.requireRunning(); err != nil {
		return Receipt{}, err
	}
	msg := message.NewEvent(ID, event, data)
	if err := o.bus.Publish(ctx, message.BroadcastChannel, msg); err != nil {
		return Receipt{}, agenterrors.Wrap(err, "publishing broadcast")
	}
	return Receipt{MessageID: msg.ID, Channel: message.BroadcastChannel, SentAt: msg.Timestamp}, nil
}

// Hierarchy returns the reporting forest.
func (o *Orchestrator) Hierarchy() ([]*directory.Node, error) {
	if err := o.requireRunning(); err != nil {
		return nil, err
	}
	return o.dir.Hierarchy(), nil
}

// Agents lists every registered agent in registration order.
func (o *Orchestrator) Agents() ([]directory.AgentRecord, error) {
	if err := o.requireRunning(); err != nil {
		return nil, err
	}
	return o.dir.List(), nil
}

// Agent returns one agent's record.
func (o *Orchestrator) Agent(id string) (directory.AgentRecord, error) {
	if err := o.requireRunning(); err != nil {
		return directory.AgentRecord{}, err
	}
	rec, ok := o.dir.Get(id)
	if !ok {
		return directory.AgentRecord{}, agenterrors.NotFound(id)
	}
	return rec, nil
}

// History returns retained messages matching f, oldest first.
func (o *Orchestrator) History(f bus.HistoryFilter) ([]bus.Entry, error) {
	if err := o.requireRunning(); err != nil {
		return nil, err
	}
	return o.bus.History().Query(f), nil
}

// SearchHistory runs a full-text search over retained messages.
func (o *Orchestrator) SearchHistory(text string, limit int) ([]bus.Entry, error) {
	if err := o.requireRunning(); err != nil {
		return nil, err
	}
	return o.bus.History().Search(text, limit)
}
