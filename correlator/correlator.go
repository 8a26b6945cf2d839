package correlator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vinayprograms/agentorg/bus"
	agenterrors "github.com/vinayprograms/agentorg/errors"
	"github.com/vinayprograms/agentorg/logging"
	"github.com/vinayprograms/agentorg/message"
	"github.com/vinayprograms/agentorg/telemetry"
)

// Common errors.
var (
	ErrStopped        = errors.New("correlator stopped")
	ErrNotStarted     = errors.New("correlator not started")
	ErrNoCorrelation  = errors.New("message has no correlation id")
	ErrInvalidRequest = errors.New("invalid request")
)

// DefaultTimeout applies when Request is called with a non-positive timeout.
const DefaultTimeout = 30 * time.Second

// Bus is the part of the message bus the correlator needs.
type Bus interface {
	Publish(ctx context.Context, channel string, msg message.Message) error
	Subscribe(channel, subscriberID string, handler bus.Handler) error
	Unsubscribe(channel, subscriberID string) bool
}

// Publisher sends messages. Reply only needs this much.
type Publisher interface {
	Publish(ctx context.Context, channel string, msg message.Message) error
}

// Result is the outcome of a Request. A timeout is a value, not an error.
type Result struct {
	Response      message.Message
	CorrelationID string
	TimedOut      bool
	Elapsed       time.Duration
}

// Payload returns the response payload, or nil on timeout.
func (r Result) Payload() map[string]interface{} {
	if r.TimedOut {
		return nil
	}
	return r.Response.Payload()
}

// Err returns a TIMEOUT error when the request timed out, the error the
// responder reported under the "error" key, or nil.
func (r Result) Err() error {
	if r.TimedOut {
		return agenterrors.FromCode(agenterrors.ErrCodeTimeout,
			agenterrors.WithMetadata("correlation_id", r.CorrelationID),
			agenterrors.WithMetadata("elapsed", r.Elapsed.String()))
	}
	return responseError(r.Response)
}

// responseError decodes a reported failure. Structured errors keep their
// code; plain strings become INTERNAL.
func responseError(resp message.Message) error {
	switch v := resp.Payload()["error"].(type) {
	case nil:
		return nil
	case string:
		return agenterrors.New(agenterrors.ErrCodeInternal, v, agenterrors.WithAgentID(resp.SenderID))
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return agenterrors.WrapWithCode(err, agenterrors.ErrCodeDecode, "encoding reported error")
		}
		reported := &agenterrors.Error{}
		if err := json.Unmarshal(data, reported); err != nil {
			return agenterrors.WrapWithCode(err, agenterrors.ErrCodeDecode, "decoding reported error",
				agenterrors.WithAgentID(resp.SenderID))
		}
		return reported
	}
}

// Options configures a Correlator.
type Options struct {
	// DefaultTimeout replaces non-positive request timeouts.
	DefaultTimeout time.Duration

	Logger *logging.Logger

	// Tracer wraps requests in spans. Nil uses the global tracer.
	Tracer *telemetry.Tracer
}

type pending struct {
	recipient string
	deadline  time.Time
	ch        chan message.Message // buffer 1, written or closed exactly once
}

// Correlator turns publish into an awaitable call. It listens on its
// owner's direct channel for responses and matches them to outstanding
// requests by correlation id.
type Correlator struct {
	bus            Bus
	ownerID        string
	subscriberID   string
	defaultTimeout time.Duration
	logger         *logging.Logger
	tracer         *telemetry.Tracer

	mu      sync.Mutex
	pending map[string]*pending
	started bool
	stopped bool
}

// New creates a correlator for requests sent on behalf of ownerID.
func New(b Bus, ownerID string, opts Options) *Correlator {
	c := &Correlator{
		bus:            b,
		ownerID:        ownerID,
		subscriberID:   ownerID + "#correlator",
		defaultTimeout: opts.DefaultTimeout,
		logger:         logging.OrDiscard(opts.Logger).WithComponent("correlator"),
		tracer:         opts.Tracer,
		pending:        make(map[string]*pending),
	}
	if c.defaultTimeout <= 0 {
		c.defaultTimeout = DefaultTimeout
	}
	if c.tracer == nil {
		c.tracer = telemetry.GetTracer()
	}
	return c
}

// OwnerID returns the id requests are sent from.
func (c *Correlator) OwnerID() string {
	return c.ownerID
}

// Start subscribes to the owner's direct channel. Calling it again is a
// no-op.
func (c *Correlator) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return ErrStopped
	}
	if c.started {
		return nil
	}
	if err := c.bus.Subscribe(message.DirectChannel(c.ownerID), c.subscriberID, c.Resolve); err != nil {
		return fmt.Errorf("subscribe %s: %w", message.DirectChannel(c.ownerID), err)
	}
	c.started = true
	return nil
}

// Stop unsubscribes and fails every outstanding request with ErrStopped.
func (c *Correlator) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	started := c.started
	outstanding := c.pending
	c.pending = make(map[string]*pending)
	c.mu.Unlock()

	if started {
		c.bus.Unsubscribe(message.DirectChannel(c.ownerID), c.subscriberID)
	}
	for _, p := range outstanding {
		close(p.ch)
	}
}

// Pending returns the number of outstanding requests.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// PendingRequest describes one request still waiting for its response.
type PendingRequest struct {
	CorrelationID string
	Recipient     string
	Deadline      time.Time
}

// Requests lists outstanding requests, earliest deadline first.
func (c *Correlator) Requests() []PendingRequest {
	c.mu.Lock()
	out := make([]PendingRequest, 0, len(c.pending))
	for cid, p := range c.pending {
		out = append(out, PendingRequest{CorrelationID: cid, Recipient: p.recipient, Deadline: p.deadline})
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Deadline.Before(out[j].Deadline) })
	return out
}

// Request sends q to recipientID and waits for the matching response.
//
// The pending entry is registered before the query is published so a fast
// responder cannot beat it. If no response arrives within timeout the
// result has TimedOut set and the error is nil. Cancelling ctx abandons the
// call early and returns ctx.Err().
func (c *Correlator) Request(ctx context.Context, recipientID string, q message.Query, timeout time.Duration) (res Result, err error) {
	if recipientID == "" {
		return Result{}, fmt.Errorf("%w: empty recipient", ErrInvalidRequest)
	}
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}

	cid := uuid.NewString()
	start := time.Now()
	p := &pending{
		recipient: recipientID,
		deadline:  start.Add(timeout),
		ch:        make(chan message.Message, 1),
	}

	c.mu.Lock()
	switch {
	case c.stopped:
		c.mu.Unlock()
		return Result{}, ErrStopped
	case !c.started:
		c.mu.Unlock()
		return Result{}, ErrNotStarted
	}
	c.pending[cid] = p
	c.mu.Unlock()

	ctx, span := c.tracer.StartRequestSpan(ctx, c.ownerID, recipientID, cid)
	defer func() { c.tracer.EndRequestSpan(span, res.Elapsed, res.TimedOut, err) }()

	msg := message.NewQuery(c.ownerID, recipientID, q, message.WithCorrelation(cid))
	if perr := c.bus.Publish(ctx, message.DirectChannel(recipientID), msg); perr != nil {
		c.take(cid)
		return Result{CorrelationID: cid}, fmt.Errorf("publish request: %w", perr)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp, ok := <-p.ch:
		return c.finish(cid, start, resp, ok)
	case <-timer.C:
		if c.take(cid) {
			c.logger.Debug("request timed out", map[string]interface{}{
				"correlation_id": cid,
				"recipient":      recipientID,
				"timeout":        timeout,
			})
			return Result{CorrelationID: cid, TimedOut: true, Elapsed: time.Since(start)}, nil
		}
	case <-ctx.Done():
		if c.take(cid) {
			return Result{CorrelationID: cid, Elapsed: time.Since(start)}, ctx.Err()
		}
	}

	// Lost the race to Resolve or Stop; the outcome is already in flight.
	resp, ok := <-p.ch
	return c.finish(cid, start, resp, ok)
}

func (c *Correlator) finish(cid string, start time.Time, resp message.Message, ok bool) (Result, error) {
	if !ok {
		return Result{CorrelationID: cid, Elapsed: time.Since(start)}, ErrStopped
	}
	return Result{Response: resp, CorrelationID: cid, Elapsed: time.Since(start)}, nil
}

// Resolve delivers a response to the request waiting on its correlation id.
// It is the bus handler for the owner's direct channel. Anything that is
// not a response for an outstanding request is dropped without error.
func (c *Correlator) Resolve(_ context.Context, msg message.Message) error {
	if msg.Type() != message.TypeResponse || msg.CorrelationID == "" {
		return nil
	}
	c.mu.Lock()
	p, ok := c.pending[msg.CorrelationID]
	if ok {
		delete(c.pending, msg.CorrelationID)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Debug("discarding late or unknown response", map[string]interface{}{
			"correlation_id": msg.CorrelationID,
			"sender":         msg.SenderID,
		})
		return nil
	}
	if msg.SenderID != p.recipient {
		c.logger.Debug("response from unexpected sender", map[string]interface{}{
			"correlation_id": msg.CorrelationID,
			"sender":         msg.SenderID,
			"expected":       p.recipient,
		})
	}
	p.ch <- msg
	return nil
}

// take removes cid and reports whether this caller owns its outcome.
func (c *Correlator) take(cid string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.pending[cid]; !ok {
		return false
	}
	delete(c.pending, cid)
	return true
}

// Reply answers req with payload on the requester's direct channel.
func Reply(ctx context.Context, p Publisher, senderID string, req message.Message, payload map[string]interface{}) error {
	if req.CorrelationID == "" {
		return ErrNoCorrelation
	}
	resp := message.NewResponse(senderID, req, payload)
	return p.Publish(ctx, message.DirectChannel(req.SenderID), resp)
}
