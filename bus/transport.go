package bus

import (
	"errors"
	"sync"
)

// Common errors.
var (
	ErrClosed         = errors.New("bus closed")
	ErrInvalidSubject = errors.New("invalid subject")
	ErrNilHandler     = errors.New("nil handler")
	ErrInvalidMessage = errors.New("invalid message")
)

// Frame is a raw payload received from a transport.
type Frame struct {
	// Subject the frame was published to.
	Subject string

	// Data is the encoded message.
	Data []byte
}

// Transport moves encoded frames between publishers and subscribers.
// Implementations must deliver frames from one publisher on one subject
// to each subscription in publish order.
type Transport interface {
	// Publish sends data to every subscription on subject.
	Publish(subject string, data []byte) error

	// Subscribe opens a subscription on subject.
	Subscribe(subject string) (Subscription, error)

	// Close shuts the transport down and ends every subscription.
	Close() error
}

// Subscription is an open transport subscription.
type Subscription interface {
	// Frames returns the delivery channel. It is closed when the
	// subscription ends.
	Frames() <-chan *Frame

	// Unsubscribe ends the subscription. Queued frames are discarded.
	Unsubscribe() error
}

// ValidateSubject checks if a subject is valid.
func ValidateSubject(subject string) error {
	if subject == "" {
		return ErrInvalidSubject
	}
	return nil
}

// mailbox is an unbounded FIFO between a transport callback and a reader.
// push never blocks, so a slow handler delays only its own subscription.
type mailbox struct {
	mu     sync.Mutex
	queue  []*Frame
	notify chan struct{}
	done   chan struct{}
	out    chan *Frame
	once   sync.Once
}

func newMailbox() *mailbox {
	mb := &mailbox{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
		out:    make(chan *Frame),
	}
	go mb.pump()
	return mb
}

func (mb *mailbox) push(f *Frame) {
	mb.mu.Lock()
	mb.queue = append(mb.queue, f)
	mb.mu.Unlock()

	select {
	case mb.notify <- struct{}{}:
	default:
	}
}

func (mb *mailbox) pump() {
	defer close(mb.out)
	for {
		mb.mu.Lock()
		if len(mb.queue) == 0 {
			mb.mu.Unlock()
			select {
			case <-mb.notify:
				continue
			case <-mb.done:
				return
			}
		}
		f := mb.queue[0]
		mb.queue[0] = nil
		mb.queue = mb.queue[1:]
		mb.mu.Unlock()

		select {
		case mb.out <- f:
		case <-mb.done:
			return
		}
	}
}

// close stops the pump; the out channel closes once it exits.
func (mb *mailbox) close() {
	mb.once.Do(func() { close(mb.done) })
}

// pending returns the number of queued frames.
func (mb *mailbox) pending() int {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return len(mb.queue)
}
