// Package orchestrator composes the bus, directory, correlator, liveness
// monitor and agents into one running organisation, and exposes the
// operations an outer surface (CLI, API) drives it with.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vinayprograms/agentorg/agent"
	"github.com/vinayprograms/agentorg/bus"
	"github.com/vinayprograms/agentorg/config"
	"github.com/vinayprograms/agentorg/correlator"
	"github.com/vinayprograms/agentorg/directory"
	agenterrors "github.com/vinayprograms/agentorg/errors"
	"github.com/vinayprograms/agentorg/liveness"
	"github.com/vinayprograms/agentorg/llm"
	"github.com/vinayprograms/agentorg/logging"
	"github.com/vinayprograms/agentorg/message"
	"github.com/vinayprograms/agentorg/shutdown"
	"github.com/vinayprograms/agentorg/telemetry"
)

// ID is the sender id of everything the orchestrator publishes.
const ID = "orchestrator"

// Options supplies collaborators. Nil fields are built from Config.
type Options struct {
	Config      *config.Config
	Logger      *logging.Logger
	Credentials *config.Credentials

	Generator llm.Generator
	Transport bus.Transport
	Sink      telemetry.Sink

	// Clock drives the directory and liveness monitor. Defaults to time.Now.
	Clock func() time.Time
}

// Orchestrator owns every component of a running organisation.
type Orchestrator struct {
	cfg    *config.Config
	opts   Options
	logger *logging.Logger

	mu    sync.RWMutex
	state State

	provider *telemetry.Provider
	tracer   *telemetry.Tracer
	bus      *bus.Bus
	dir      *directory.Directory
	corr     *correlator.Correlator
	monitor  *liveness.Monitor
	sink     telemetry.Sink
	agents   map[string]*agent.Agent
	order    []string
	senders  []*liveness.Sender

	cancel     context.CancelFunc
	statusDone chan struct{}
	coord      *shutdown.Coordinator
}

// New creates an orchestrator in StateUninitialized.
func New(opts Options) *Orchestrator {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	return &Orchestrator{
		cfg:    cfg,
		opts:   opts,
		logger: logging.OrDiscard(opts.Logger).WithComponent("orchestrator"),
		agents: make(map[string]*agent.Agent),
	}
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

func (o *Orchestrator) setStateLocked(s State) {
	o.logger.StateChange(o.state.String(), s.String())
	o.state = s
}

// Initialize builds and starts every component. On failure everything
// already started is torn down and the state stays Uninitialized.
func (o *Orchestrator) Initialize(ctx context.Context) (err error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state != StateUninitialized {
		return ErrAlreadyInitialized
	}
	if err := o.cfg.Validate(); err != nil {
		return agenterrors.WrapWithCode(err, agenterrors.ErrCodeInvalidInput, "invalid configuration")
	}

	var rollback []func()
	defer func() {
		if err != nil {
			for i := len(rollback) - 1; i >= 0; i-- {
				rollback[i]()
			}
		}
	}()

	if err := o.initTracing(ctx); err != nil {
		return err
	}
	if o.provider != nil {
		rollback = append(rollback, func() { o.provider.Shutdown(context.Background()) })
	}

	transport, err := o.buildTransport()
	if err != nil {
		return err
	}
	o.bus, err = bus.New(transport, bus.Options{
		Logger: o.opts.Logger,
		History: bus.HistoryConfig{
			BucketWidth: o.cfg.Bus.History.BucketWidth.Duration,
			PerBucket:   o.cfg.Bus.History.PerBucket,
			MaxBuckets:  o.cfg.Bus.History.MaxBuckets,
		},
		Search: o.cfg.Bus.History.Search,
		Tracer: o.tracer,
	})
	if err != nil {
		transport.Close()
		return agenterrors.Wrap(err, "creating bus")
	}
	rollback = append(rollback, func() { o.bus.Close() })

	o.dir = directory.New(directory.Options{
		Publisher: o.bus,
		Selector:  directory.NewSelector(o.cfg.Orchestrator.Selector),
		Logger:    o.opts.Logger,
		Clock:     o.opts.Clock,
	})
	rollback = append(rollback, func() { o.dir.Close() })

	o.corr = correlator.New(o.bus, ID, correlator.Options{
		DefaultTimeout: o.cfg.Orchestrator.RequestTimeout.Duration,
		Logger:         o.opts.Logger,
		Tracer:         o.tracer,
	})
	if err := o.corr.Start(); err != nil {
		return agenterrors.Wrap(err, "starting correlator")
	}
	rollback = append(rollback, o.corr.Stop)

	gen, err := o.buildGenerator()
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	rollback = append(rollback, cancel, func() {
		o.agents = make(map[string]*agent.Agent)
		o.order, o.senders = nil, nil
	})

	if err := o.startAgents(ctx, runCtx, gen); err != nil {
		return err
	}
	rollback = append(rollback, o.stopSenders)

	o.monitor, err = liveness.NewMonitor(liveness.MonitorConfig{
		Directory:       o.dir,
		Publisher:       o.bus,
		AliveTTL:        o.cfg.Liveness.AliveTTL.Duration,
		PurgeTTL:        o.cfg.Liveness.PurgeTTL.Duration,
		OfflineInterval: o.cfg.Liveness.OfflineInterval.Duration,
		PurgeInterval:   o.cfg.Liveness.PurgeInterval.Duration,
		Clock:           o.opts.Clock,
	}, o.opts.Logger)
	if err != nil {
		return agenterrors.WrapWithCode(err, agenterrors.ErrCodeInvalidInput, "creating liveness monitor")
	}
	o.monitor.OnPurge(o.forgetAgent)
	if err := o.monitor.Start(runCtx); err != nil {
		return agenterrors.Wrap(err, "starting liveness monitor")
	}
	rollback = append(rollback, func() { o.monitor.Stop() })

	if o.sink, err = o.buildSink(); err != nil {
		return err
	}

	o.cancel = cancel
	o.statusDone = make(chan struct{})
	go o.statusLoop(runCtx)

	o.coord = o.shutdownPlan()
	o.setStateLocked(StateRunning)
	o.logger.Info("organisation running", map[string]interface{}{
		"agents":    len(o.order),
		"transport": o.cfg.Bus.Transport,
	})
	return nil
}

func (o *Orchestrator) initTracing(ctx context.Context) error {
	tc := o.cfg.Telemetry.Tracing
	if tc.Endpoint == "" {
		o.tracer = telemetry.GetTracer()
		return nil
	}
	p, err := telemetry.InitProvider(ctx, telemetry.ProviderConfig{
		ServiceName: tc.ServiceName,
		Endpoint:    tc.Endpoint,
		Protocol:    tc.Protocol,
		Insecure:    tc.Insecure,
		Debug:       tc.Debug,
	})
	if err != nil {
		return agenterrors.WrapWithCode(err, agenterrors.ErrCodeUnavailable, "initializing tracing")
	}
	o.provider = p
	o.tracer = p.Tracer()
	return nil
}

func (o *Orchestrator) buildTransport() (bus.Transport, error) {
	if o.opts.Transport != nil {
		return o.opts.Transport, nil
	}
	switch o.cfg.Bus.Transport {
	case "", "memory":
		return bus.NewMemoryTransport(), nil
	case "nats":
		n := o.cfg.Bus.NATS
		t, err := bus.NewNATSTransport(bus.NATSConfig{
			URL:            n.URL,
			Name:           n.Name,
			Token:          n.Token,
			User:           n.User,
			Password:       n.Password,
			ReconnectWait:  n.ReconnectWait.Duration,
			MaxReconnects:  n.MaxReconnects,
			ConnectTimeout: n.ConnectTimeout.Duration,
		})
		if err != nil {
			return nil, agenterrors.WrapWithCode(err, agenterrors.ErrCodeUnavailable, "connecting to nats",
				agenterrors.WithMetadata("url", n.URL))
		}
		return t, nil
	}
	return nil, agenterrors.Newf(agenterrors.ErrCodeInvalidInput, "unknown bus transport %q", o.cfg.Bus.Transport)
}

func (o *Orchestrator) buildGenerator() (llm.Generator, error) {
	if o.opts.Generator != nil {
		return o.opts.Generator, nil
	}
	provider := o.cfg.LLM.Provider
	if provider == "" {
		provider = llm.InferProviderFromModel(o.cfg.LLM.Model)
	}
	gen, err := llm.New(o.cfg.LLM.Generator(o.opts.Credentials.APIKey(provider)))
	if err != nil {
		return nil, agenterrors.WrapWithCode(err, agenterrors.ErrCodeInvalidInput, "creating generator")
	}
	return gen, nil
}

func (o *Orchestrator) buildSink() (telemetry.Sink, error) {
	if o.opts.Sink != nil {
		return o.opts.Sink, nil
	}
	s, err := telemetry.NewSink(o.cfg.Telemetry.Sink, o.cfg.Telemetry.Endpoint, o.opts.Logger)
	if err != nil {
		return nil, agenterrors.WrapWithCode(err, agenterrors.ErrCodeUnavailable, "creating telemetry sink")
	}
	return s, nil
}

// startAgents registers the roster, subscribes each agent to its channels
// and starts its command worker and heartbeat sender.
func (o *Orchestrator) startAgents(ctx, runCtx context.Context, gen llm.Generator) error {
	subordinates := make(map[string][]string)
	for _, a := range o.cfg.Agents {
		if a.ReportingTo != "" {
			subordinates[a.ReportingTo] = append(subordinates[a.ReportingTo], a.ID)
		}
	}

	for _, a := range o.cfg.Agents {
		profile := agent.Profile{
			ID:           a.ID,
			Name:         a.Name,
			Role:         a.Role,
			Tier:         message.Tier(a.Tier),
			Department:   a.Department,
			ReportingTo:  a.ReportingTo,
			Capabilities: a.Capabilities,
			SystemPrompt: a.SystemPrompt,
		}
		ag := agent.New(profile, gen, o.bus, o.dir, o.opts.Logger)

		if _, err := o.dir.Register(ctx, profile.Info(subordinates[a.ID])); err != nil {
			return agenterrors.Wrap(err, "registering agent", agenterrors.WithAgentID(a.ID))
		}
		for _, ch := range profile.Channels() {
			if err := o.bus.Subscribe(ch, a.ID, ag.Handle); err != nil {
				return agenterrors.Wrap(err, "subscribing "+ch, agenterrors.WithAgentID(a.ID))
			}
		}

		if err := ag.Start(runCtx); err != nil {
			return agenterrors.Wrap(err, "starting agent", agenterrors.WithAgentID(a.ID))
		}

		sender, err := liveness.NewSender(o.dir, a.ID, o.cfg.Liveness.HeartbeatInterval.Duration)
		if err != nil {
			return agenterrors.WrapWithCode(err, agenterrors.ErrCodeInvalidInput, "creating heartbeat sender",
				agenterrors.WithAgentID(a.ID))
		}
		if err := sender.Start(runCtx); err != nil {
			return agenterrors.Wrap(err, "starting heartbeat sender", agenterrors.WithAgentID(a.ID))
		}

		o.agents[a.ID] = ag
		o.order = append(o.order, a.ID)
		o.senders = append(o.senders, sender)
	}
	return nil
}

// forgetAgent drops a purged agent's subscriptions.
func (o *Orchestrator) forgetAgent(rec directory.AgentRecord) {
	n := o.bus.UnsubscribeAll(rec.ID)
	o.logger.Info("agent purged", map[string]interface{}{"agent_id": rec.ID, "subscriptions": n})
}

func (o *Orchestrator) stopSenders() {
	for _, s := range o.senders {
		s.Stop()
	}
}

// shutdownPlan registers the teardown steps. Loops stop first so nothing
// publishes into a closing bus; agents leave while the bus can still carry
// their unregister events.
func (o *Orchestrator) shutdownPlan() *shutdown.Coordinator {
	coord := shutdown.NewCoordinator(shutdown.Config{
		Timeout: o.cfg.Orchestrator.ShutdownGrace.Duration,
		Logger:  o.opts.Logger,
	})

	coord.Register("status-loop", shutdown.PhaseLoops, func(ctx context.Context) error {
		o.cancel()
		select {
		case <-o.statusDone:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	coord.Register("liveness-monitor", shutdown.PhaseLoops, func(context.Context) error {
		return o.monitor.Stop()
	})
	coord.Register("heartbeat-senders", shutdown.PhaseLoops, func(context.Context) error {
		o.stopSenders()
		return nil
	})

	coord.Register("agents", shutdown.PhaseAgents, func(ctx context.Context) error {
		for _, id := range o.order {
			o.bus.UnsubscribeAll(id)
			o.agents[id].Stop()
			o.dir.Unregister(ctx, id)
		}
		return nil
	})
	coord.Register("correlator", shutdown.PhaseAgents, func(context.Context) error {
		o.corr.Stop()
		return nil
	})

	coord.Register("bus", shutdown.PhaseTransport, func(context.Context) error {
		return o.bus.Close()
	})
	coord.Register("directory", shutdown.PhaseTransport, func(context.Context) error {
		return o.dir.Close()
	})
	coord.Register("telemetry-sink", shutdown.PhaseTransport, func(context.Context) error {
		return o.sink.Close()
	})
	if o.provider != nil {
		coord.Register("tracing", shutdown.PhaseTransport, o.provider.Shutdown)
	}
	return coord
}

// Shutdown tears the organisation down in phases and ends in
// StateStopped. Only the first call while running does any work.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	if o.state != StateRunning {
		o.mu.Unlock()
		return ErrNotRunning
	}
	o.setStateLocked(StateShuttingDown)
	coord := o.coord
	o.mu.Unlock()

	err := coord.Shutdown(ctx)

	o.mu.Lock()
	o.setStateLocked(StateStopped)
	o.mu.Unlock()

	if err != nil {
		return fmt.Errorf("orchestrator shutdown: %w", err)
	}
	return nil
}
