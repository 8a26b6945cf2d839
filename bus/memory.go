package bus

import (
	"sync"
	"sync/atomic"
)

// MemoryTransport implements Transport in-process.
// Every subscription has its own mailbox, so publish never blocks and
// never drops.
type MemoryTransport struct {
	mu     sync.RWMutex
	subs   map[string][]*memorySub
	closed atomic.Bool
}

type memorySub struct {
	subject string
	mb      *mailbox
	closed  atomic.Bool
	t       *MemoryTransport
}

// NewMemoryTransport creates an in-process transport.
func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{
		subs: make(map[string][]*memorySub),
	}
}

// Publish queues data on every subscription to subject.
func (t *MemoryTransport) Publish(subject string, data []byte) error {
	if err := ValidateSubject(subject); err != nil {
		return err
	}
	if t.closed.Load() {
		return ErrClosed
	}

	t.mu.RLock()
	subs := t.subs[subject]
	t.mu.RUnlock()

	for _, sub := range subs {
		if !sub.closed.Load() {
			sub.mb.push(&Frame{Subject: subject, Data: data})
		}
	}
	return nil
}

// Subscribe creates a subscription to subject.
func (t *MemoryTransport) Subscribe(subject string) (Subscription, error) {
	if err := ValidateSubject(subject); err != nil {
		return nil, err
	}
	if t.closed.Load() {
		return nil, ErrClosed
	}

	sub := &memorySub{
		subject: subject,
		mb:      newMailbox(),
		t:       t,
	}

	t.mu.Lock()
	t.subs[subject] = append(t.subs[subject], sub)
	t.mu.Unlock()

	return sub, nil
}

// SubscriptionCount returns the number of open subscriptions on subject.
func (t *MemoryTransport) SubscriptionCount(subject string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subs[subject])
}

// Close ends every subscription.
func (t *MemoryTransport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for _, subs := range t.subs {
		for _, sub := range subs {
			sub.closed.Store(true)
			sub.mb.close()
		}
	}
	t.subs = make(map[string][]*memorySub)
	return nil
}

// Frames returns the delivery channel.
func (s *memorySub) Frames() <-chan *Frame {
	return s.mb.out
}

// Unsubscribe removes the subscription from its transport.
func (s *memorySub) Unsubscribe() error {
	if s.closed.Swap(true) {
		return nil
	}

	s.t.mu.Lock()
	subs := s.t.subs[s.subject]
	for i, sub := range subs {
		if sub == s {
			s.t.subs[s.subject] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(s.t.subs[s.subject]) == 0 {
		delete(s.t.subs, s.subject)
	}
	s.t.mu.Unlock()

	s.mb.close()
	return nil
}
