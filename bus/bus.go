package bus

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	agenterrors "github.com/vinayprograms/agentorg/errors"
	"github.com/vinayprograms/agentorg/logging"
	"github.com/vinayprograms/agentorg/message"
	"github.com/vinayprograms/agentorg/telemetry"
)

// Handler processes one delivered message. Errors and panics are logged by
// the bus and never reach the publisher.
type Handler func(ctx context.Context, msg message.Message) error

// Options configures a Bus.
type Options struct {
	// Logger for delivery failures and warnings. Nil discards.
	Logger *logging.Logger

	// History bounds the recent-message buffer.
	History HistoryConfig

	// Search enables full-text search over history.
	Search bool

	// Tracer wraps publishes in spans. Nil uses the global tracer.
	Tracer *telemetry.Tracer
}

// Stats are cumulative bus counters.
type Stats struct {
	Published uint64
	Delivered uint64
	Failures  uint64
}

type subKey struct {
	channel    string
	subscriber string
}

type subscription struct {
	key     subKey
	sub     Subscription
	handler Handler
	done    chan struct{}
}

// Bus delivers messages published on a channel to every handler
// subscribed to it. Each subscription is drained by its own goroutine, so
// handlers see one publisher's messages in publish order and a slow or
// failing handler affects no other subscriber.
type Bus struct {
	transport Transport
	history   *History
	logger    *logging.Logger
	tracer    *telemetry.Tracer

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	subs   map[subKey]*subscription
	closed atomic.Bool

	published atomic.Uint64
	delivered atomic.Uint64
	failures  atomic.Uint64
}

// New creates a Bus over transport.
func New(transport Transport, opts Options) (*Bus, error) {
	var index *SearchIndex
	if opts.Search {
		var err error
		index, err = NewSearchIndex()
		if err != nil {
			return nil, err
		}
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = telemetry.GetTracer()
	}

	logger := logging.OrDiscard(opts.Logger).WithComponent("bus")
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		transport: transport,
		history:   NewHistory(opts.History, index, logger),
		logger:    logger,
		tracer:    tracer,
		ctx:       ctx,
		cancel:    cancel,
		subs:      make(map[subKey]*subscription),
	}, nil
}

// NewMemory creates a Bus over a fresh MemoryTransport.
func NewMemory(opts Options) (*Bus, error) {
	return New(NewMemoryTransport(), opts)
}

// Publish records msg in history and hands it to the transport. It does
// not wait for handlers. Publishing on a channel with no subscribers logs
// a warning and succeeds.
func (b *Bus) Publish(ctx context.Context, channel string, msg message.Message) (err error) {
	if b.closed.Load() {
		return ErrClosed
	}
	if err := ValidateSubject(channel); err != nil {
		return err
	}
	if !msg.Type().Valid() {
		return fmt.Errorf("%w: message %s has type %q", ErrInvalidMessage, msg.ID, msg.Type())
	}

	_, span := b.tracer.StartPublishSpan(ctx, channel, string(msg.Type()), msg.ID)
	defer func() { b.tracer.EndSpan(span, err) }()

	data, err := message.Encode(msg)
	if err != nil {
		return err
	}

	b.history.Add(channel, msg)
	if b.SubscriberCount(channel) == 0 {
		b.logger.UnknownRecipient(channel, msg.ID)
	}

	if err := b.transport.Publish(channel, data); err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	b.published.Add(1)
	return nil
}

// Subscribe registers handler for channel under subscriberID. Subscribing
// the same pair twice keeps the first handler.
func (b *Bus) Subscribe(channel, subscriberID string, handler Handler) error {
	if handler == nil {
		return ErrNilHandler
	}
	if err := ValidateSubject(channel); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed.Load() {
		return ErrClosed
	}
	key := subKey{channel: channel, subscriber: subscriberID}
	if _, ok := b.subs[key]; ok {
		return nil
	}

	sub, err := b.transport.Subscribe(channel)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", channel, err)
	}
	s := &subscription{
		key:     key,
		sub:     sub,
		handler: handler,
		done:    make(chan struct{}),
	}
	b.subs[key] = s
	go b.deliver(s)
	return nil
}

// Unsubscribe removes subscriberID from channel. It reports whether a
// subscription existed.
func (b *Bus) Unsubscribe(channel, subscriberID string) bool {
	b.mu.Lock()
	s, ok := b.subs[subKey{channel: channel, subscriber: subscriberID}]
	if ok {
		delete(b.subs, s.key)
	}
	b.mu.Unlock()

	if ok {
		s.sub.Unsubscribe()
	}
	return ok
}

// UnsubscribeAll removes every subscription held by subscriberID.
func (b *Bus) UnsubscribeAll(subscriberID string) int {
	b.mu.Lock()
	var removed []*subscription
	for key, s := range b.subs {
		if key.subscriber == subscriberID {
			removed = append(removed, s)
			delete(b.subs, key)
		}
	}
	b.mu.Unlock()

	for _, s := range removed {
		s.sub.Unsubscribe()
	}
	return len(removed)
}

// SubscriberCount returns the number of local subscribers on channel.
func (b *Bus) SubscriberCount(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := 0
	for key := range b.subs {
		if key.channel == channel {
			n++
		}
	}
	return n
}

// Channels lists channels with at least one local subscriber, sorted.
func (b *Bus) Channels() []string {
	b.mu.RLock()
	seen := make(map[string]struct{})
	for key := range b.subs {
		seen[key.channel] = struct{}{}
	}
	b.mu.RUnlock()

	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// History returns the recent-message buffer.
func (b *Bus) History() *History {
	return b.history
}

// Stats returns cumulative counters.
func (b *Bus) Stats() Stats {
	return Stats{
		Published: b.published.Load(),
		Delivered: b.delivered.Load(),
		Failures:  b.failures.Load(),
	}
}

// Close unsubscribes everything and closes the transport. Handlers in
// flight see their context cancelled; queued deliveries are dropped.
func (b *Bus) Close() error {
	if b.closed.Swap(true) {
		return nil
	}

	b.mu.Lock()
	subs := make([]*subscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.subs = make(map[subKey]*subscription)
	b.mu.Unlock()

	b.cancel()
	for _, s := range subs {
		s.sub.Unsubscribe()
	}
	for _, s := range subs {
		<-s.done
	}

	err := b.transport.Close()
	if herr := b.history.Close(); err == nil {
		err = herr
	}
	return err
}

// deliver drains one subscription until it ends.
func (b *Bus) deliver(s *subscription) {
	defer close(s.done)
	for f := range s.sub.Frames() {
		msg, err := message.Decode(f.Data)
		if err != nil {
			b.failures.Add(1)
			b.logger.Warn("undecodable frame", map[string]interface{}{
				"channel":    s.key.channel,
				"subscriber": s.key.subscriber,
				"error":      err.Error(),
			})
			continue
		}
		b.invoke(s, msg)
	}
}

// invoke runs the handler, isolating panics and errors.
func (b *Bus) invoke(s *subscription, msg message.Message) {
	defer func() {
		if r := recover(); r != nil {
			b.failures.Add(1)
			b.logger.DeliveryFailure(s.key.channel, s.key.subscriber, msg.ID, agenterrors.RecoverPanic(r))
		}
	}()

	if err := s.handler(b.ctx, msg); err != nil {
		b.failures.Add(1)
		b.logger.DeliveryFailure(s.key.channel, s.key.subscriber, msg.ID, err)
		return
	}
	b.delivered.Add(1)
}
