package shutdown

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	agenterrors "github.com/vinayprograms/agentorg/errors"
	"github.com/vinayprograms/agentorg/logging"
)

// Coordinator runs registered shutdown steps phase by phase.
type Coordinator struct {
	cfg Config
	log *logging.Logger

	mu      sync.Mutex
	steps   []step
	started bool

	done   chan struct{}
	result *Result
}

// NewCoordinator creates a coordinator.
func NewCoordinator(cfg Config) *Coordinator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	return &Coordinator{
		cfg:  cfg,
		log:  logging.OrDiscard(cfg.Logger).WithComponent("shutdown"),
		done: make(chan struct{}),
	}
}

// Register adds a step. Steps registered once shutdown has begun are
// rejected with ErrAlreadyShutdown.
func (c *Coordinator) Register(name string, phase int, fn Func) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return ErrAlreadyShutdown
	}
	c.steps = append(c.steps, step{name: name, phase: phase, fn: fn, seq: len(c.steps)})
	return nil
}

// Shutdown runs every step. It returns ErrAlreadyShutdown on any call
// after the first.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyShutdown
	}
	c.started = true
	steps := make([]step, len(c.steps))
	copy(steps, c.steps)
	c.mu.Unlock()

	res := c.run(ctx, steps)

	c.mu.Lock()
	c.result = res
	c.mu.Unlock()
	close(c.done)
	return res.Err
}

// ShutdownWithTimeout runs Shutdown under a deadline. Zero uses the
// configured timeout.
func (c *Coordinator) ShutdownWithTimeout(timeout time.Duration) error {
	if timeout <= 0 {
		timeout = c.cfg.Timeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return c.Shutdown(ctx)
}

// Done is closed once Shutdown has finished.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Result returns the shutdown outcome, or nil before Done is closed.
func (c *Coordinator) Result() *Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result
}

func (c *Coordinator) run(ctx context.Context, steps []step) *Result {
	start := time.Now()
	sort.SliceStable(steps, func(i, j int) bool {
		if steps[i].phase != steps[j].phase {
			return steps[i].phase < steps[j].phase
		}
		return steps[i].seq < steps[j].seq
	})

	res := &Result{}
	var failed []error
	for _, group := range groupByPhase(steps) {
		if ctx.Err() != nil {
			res.Err = ErrTimeout
			break
		}
		c.log.Debug("shutdown phase", map[string]interface{}{"phase": group[0].phase, "steps": len(group)})

		results := c.runPhase(ctx, group)
		res.Steps = append(res.Steps, results...)
		for _, r := range results {
			if r.Err != nil {
				failed = append(failed, fmt.Errorf("%s: %w", r.Name, r.Err))
			}
		}
		if len(failed) > 0 && c.cfg.StopOnError {
			break
		}
	}

	if res.Err == nil && len(failed) > 0 {
		res.Err = fmt.Errorf("%w: %w", ErrHandlerFailed, errors.Join(failed...))
	}
	res.TotalDuration = time.Since(start)
	c.log.Elapsed("shutdown", res.TotalDuration)
	return res
}

func (c *Coordinator) runPhase(ctx context.Context, group []step) []StepResult {
	results := make([]StepResult, len(group))
	var wg sync.WaitGroup
	for i, s := range group {
		wg.Add(1)
		go func(i int, s step) {
			defer wg.Done()
			begin := time.Now()
			err := c.call(ctx, s)
			results[i] = StepResult{Name: s.name, Phase: s.phase, Duration: time.Since(begin), Err: err}
			if err != nil {
				c.log.Warn("shutdown step failed", map[string]interface{}{"step": s.name, "error": err.Error()})
			} else {
				c.log.Debug("shutdown step done", map[string]interface{}{"step": s.name})
			}
		}(i, s)
	}
	wg.Wait()
	return results
}

// call runs one step, turning a panic into an error.
func (c *Coordinator) call(ctx context.Context, s step) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = agenterrors.RecoverPanic(r)
		}
	}()
	return s.fn(ctx)
}

// groupByPhase splits phase-sorted steps into consecutive groups.
func groupByPhase(steps []step) [][]step {
	var groups [][]step
	for i := 0; i < len(steps); {
		j := i
		for j < len(steps) && steps[j].phase == steps[i].phase {
			j++
		}
		groups = append(groups, steps[i:j])
		i = j
	}
	return groups
}

// NotifyContext returns a context cancelled on SIGINT or SIGTERM. The
// received signal is logged.
func NotifyContext(parent context.Context, logger *logging.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	log := logging.OrDiscard(logger).WithComponent("shutdown")
	go func() {
		select {
		case sig := <-sigs:
			log.Info("signal received", map[string]interface{}{"signal": sig.String()})
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigs)
	}()
	return ctx, cancel
}
