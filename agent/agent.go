// Package agent runs one organisation member: it consumes messages from
// the bus, thinks with a Generator and reports results up the hierarchy.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vinayprograms/agentorg/correlator"
	"github.com/vinayprograms/agentorg/directory"
	agenterrors "github.com/vinayprograms/agentorg/errors"
	"github.com/vinayprograms/agentorg/llm"
	"github.com/vinayprograms/agentorg/logging"
	"github.com/vinayprograms/agentorg/message"
)

// StatusQuery is the question answered from the directory record without
// invoking the generator.
const StatusQuery = "status"

var (
	ErrAlreadyStarted = errors.New("agent already started")
	ErrNotStarted     = errors.New("agent not started")
	ErrStopped        = errors.New("agent stopped")
)

// Profile describes who an agent is.
type Profile struct {
	ID           string
	Name         string
	Role         string
	Tier         message.Tier
	Department   string
	ReportingTo  string
	Capabilities []string
	SystemPrompt string
}

// Info converts the profile into a directory registration.
func (p Profile) Info(subordinates []string) directory.AgentInfo {
	return directory.AgentInfo{
		ID:           p.ID,
		Name:         p.Name,
		Role:         p.Role,
		Tier:         p.Tier,
		Department:   p.Department,
		Capabilities: p.Capabilities,
		ReportingTo:  p.ReportingTo,
		Subordinates: subordinates,
	}
}

// Channels lists the channels the agent listens on.
func (p Profile) Channels() []string {
	return message.ChannelsFor(p.ID, p.Department, p.Tier)
}

// Directory is the part of the directory an agent touches.
type Directory interface {
	Get(id string) (directory.AgentRecord, bool)
	UpdateStatus(id string, status directory.Status, metadata map[string]string) bool
}

// Agent handles messages for one profile.
type Agent struct {
	profile   Profile
	gen       llm.Generator
	publisher correlator.Publisher
	dir       Directory
	logger    *logging.Logger

	// work serializes commands and generated answers; status queries skip it.
	work sync.Mutex

	// Commands run one at a time, in arrival order, on the worker started
	// by Start. Bus delivery only enqueues them.
	mu       sync.Mutex
	queue    []queuedCommand
	notify   chan struct{}
	started  bool
	stopped  bool
	cancel   context.CancelFunc
	doneCh   chan struct{}
	inflight sync.WaitGroup

	handled atomic.Uint64
	failed  atomic.Uint64
}

type queuedCommand struct {
	msg message.Message
	cmd message.Command
}

// New creates an agent. A nil generator falls back to llm.NewEcho.
func New(p Profile, gen llm.Generator, pub correlator.Publisher, dir Directory, logger *logging.Logger) *Agent {
	if gen == nil {
		gen = llm.NewEcho("")
	}
	return &Agent{
		profile:   p,
		gen:       gen,
		publisher: pub,
		dir:       dir,
		logger:    logging.OrDiscard(logger).WithComponent("agent:" + p.ID),
		notify:    make(chan struct{}, 1),
	}
}

// Start launches the command worker. Commands received before Start wait
// in the queue.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return ErrStopped
	}
	if a.started {
		return ErrAlreadyStarted
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, a.cancel = context.WithCancel(ctx)
	a.doneCh = make(chan struct{})
	a.started = true
	go a.run(ctx)
	return nil
}

// Stop cancels the running command, drops queued ones and waits for the
// worker and any generated answers to finish.
func (a *Agent) Stop() error {
	a.mu.Lock()
	if !a.started || a.stopped {
		a.mu.Unlock()
		return ErrNotStarted
	}
	a.stopped = true
	dropped := len(a.queue)
	a.queue = nil
	a.mu.Unlock()

	a.cancel()
	<-a.doneCh
	a.inflight.Wait()
	if dropped > 0 {
		a.logger.Warn("queued commands dropped", map[string]interface{}{"count": dropped})
	}
	return nil
}

// Queued returns the number of commands waiting for the worker.
func (a *Agent) Queued() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.queue)
}

func (a *Agent) enqueue(msg message.Message, cmd message.Command) error {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return ErrStopped
	}
	a.queue = append(a.queue, queuedCommand{msg: msg, cmd: cmd})
	a.mu.Unlock()

	select {
	case a.notify <- struct{}{}:
	default:
	}
	return nil
}

func (a *Agent) run(ctx context.Context) {
	defer close(a.doneCh)
	for {
		a.mu.Lock()
		if len(a.queue) == 0 {
			a.mu.Unlock()
			select {
			case <-a.notify:
				continue
			case <-ctx.Done():
				return
			}
		}
		next := a.queue[0]
		a.queue[0] = queuedCommand{}
		a.queue = a.queue[1:]
		a.mu.Unlock()

		if err := a.execute(ctx, next.msg, next.cmd); err != nil {
			a.logger.Warn("command result not delivered", map[string]interface{}{
				"command": next.cmd.Name,
				"error":   err.Error(),
			})
		}
	}
}

// ID returns the agent id.
func (a *Agent) ID() string { return a.profile.ID }

// Profile returns the agent's profile.
func (a *Agent) Profile() Profile { return a.profile }

// Handled returns the number of commands and queries processed.
func (a *Agent) Handled() uint64 { return a.handled.Load() }

// Failed returns the number of commands and queries whose generation failed.
func (a *Agent) Failed() uint64 { return a.failed.Load() }

// Handle is the agent's bus handler. Commands are queued for the worker;
// queries never wait behind them.
func (a *Agent) Handle(ctx context.Context, msg message.Message) error {
	if msg.SenderID == a.profile.ID {
		return nil
	}

	switch body := msg.Body.(type) {
	case message.Command:
		return a.enqueue(msg, body)
	case message.Query:
		return a.handleQuery(ctx, msg, body)
	case message.Event:
		a.logger.Debug("event", map[string]interface{}{"event": body.Name, "from": msg.SenderID})
	case message.Report:
		a.logger.Debug("report", map[string]interface{}{"subject": body.Subject, "from": msg.SenderID})
	case message.Response:
		// Responses belong to the correlator.
	}
	return nil
}

func (a *Agent) execute(ctx context.Context, msg message.Message, cmd message.Command) error {
	a.work.Lock()
	defer a.work.Unlock()

	a.setStatus(directory.StatusExecuting, map[string]string{"task": cmd.Name})
	text, err := a.gen.Generate(ctx, a.profile.SystemPrompt, cmd.Name, cmd.Params)
	a.handled.Add(1)

	report := message.Report{
		Subject: cmd.Name,
		Data:    map[string]interface{}{"command": cmd.Name, "request_id": msg.ID},
	}
	if err != nil {
		failure := a.failure(err)
		a.logger.Error("command failed", map[string]interface{}{
			"command":  cmd.Name,
			"code":     failure.Code(),
			"category": failure.Category(),
			"error":    err.Error(),
		})
		report.Content = fmt.Sprintf("failed: %v", err)
		report.Data["status"] = "failed"
		report.Data["error"] = failure
		return a.report(ctx, report, message.PriorityHigh)
	}

	a.setStatus(directory.StatusIdle, map[string]string{"task": ""})
	report.Content = text
	report.Data["status"] = "completed"
	return a.report(ctx, report, message.PriorityNormal)
}

// report sends r to the agent's manager, or to everyone when it has none.
func (a *Agent) report(ctx context.Context, r message.Report, p message.Priority) error {
	manager := a.profile.ReportingTo
	channel := message.BroadcastChannel
	if manager != "" {
		channel = message.DirectChannel(manager)
	}
	out := message.NewReport(a.profile.ID, manager, r, message.WithPriority(p))
	if err := a.publisher.Publish(ctx, channel, out); err != nil {
		return agenterrors.Wrap(err, "publishing report", agenterrors.WithAgentID(a.profile.ID))
	}
	return nil
}

func (a *Agent) handleQuery(ctx context.Context, msg message.Message, q message.Query) error {
	if msg.CorrelationID == "" {
		a.logger.Debug("query without correlation id ignored", map[string]interface{}{"from": msg.SenderID})
		return nil
	}

	if strings.EqualFold(strings.TrimSpace(q.Question), StatusQuery) {
		return a.reply(ctx, msg, a.statusPayload())
	}

	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return ErrStopped
	}
	a.inflight.Add(1)
	a.mu.Unlock()

	go func() {
		defer a.inflight.Done()
		if err := a.answer(ctx, msg, q); err != nil {
			a.logger.Warn("answer not delivered", map[string]interface{}{"from": msg.SenderID, "error": err.Error()})
		}
	}()
	return nil
}

// answer generates a reply to q once no command is running.
func (a *Agent) answer(ctx context.Context, msg message.Message, q message.Query) error {
	a.work.Lock()
	defer a.work.Unlock()

	a.setStatus(directory.StatusThinking, nil)
	text, err := a.gen.Generate(ctx, a.profile.SystemPrompt, q.Question, q.Params)
	a.handled.Add(1)

	payload := map[string]interface{}{"agent_id": a.profile.ID}
	if err != nil {
		payload["error"] = a.failure(err)
	} else {
		a.setStatus(directory.StatusIdle, nil)
		payload["answer"] = text
	}
	return a.reply(ctx, msg, payload)
}

// failure records a generation error and returns it in the structured
// form that travels in reports and answers.
func (a *Agent) failure(err error) *agenterrors.Error {
	a.failed.Add(1)
	a.setStatus(directory.StatusError, map[string]string{"last_error": err.Error()})
	return agenterrors.Wrap(err, "generation failed", agenterrors.WithAgentID(a.profile.ID))
}

func (a *Agent) statusPayload() map[string]interface{} {
	p := map[string]interface{}{"agent_id": a.profile.ID}
	rec, ok := a.dir.Get(a.profile.ID)
	if !ok {
		p["status"] = string(directory.StatusOffline)
		return p
	}
	p["name"] = rec.Name
	p["role"] = rec.Role
	p["tier"] = string(rec.Tier)
	p["status"] = string(rec.Status)
	p["last_heartbeat"] = rec.LastHeartbeat.UTC().Format(time.RFC3339Nano)
	if task := rec.Metadata["task"]; task != "" {
		p["task"] = task
	}
	return p
}

func (a *Agent) reply(ctx context.Context, req message.Message, payload map[string]interface{}) error {
	if err := correlator.Reply(ctx, a.publisher, a.profile.ID, req, payload); err != nil {
		return agenterrors.Wrap(err, "replying to "+req.SenderID, agenterrors.WithAgentID(a.profile.ID))
	}
	return nil
}

func (a *Agent) setStatus(s directory.Status, md map[string]string) {
	if !a.dir.UpdateStatus(a.profile.ID, s, md) {
		a.logger.RegistryMiss("update_status", a.profile.ID)
	}
}
