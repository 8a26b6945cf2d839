// Package message defines the envelope exchanged between agents, its typed
// bodies, and the JSON wire format used on every transport.
package message

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type identifies the kind of message. It is derived from the body.
type Type string

const (
	TypeCommand  Type = "command"
	TypeQuery    Type = "query"
	TypeResponse Type = "response"
	TypeEvent    Type = "event"
	TypeReport   Type = "report"
)

// Valid reports whether t is a known message type.
func (t Type) Valid() bool {
	switch t {
	case TypeCommand, TypeQuery, TypeResponse, TypeEvent, TypeReport:
		return true
	}
	return false
}

// Priority orders messages for consumers that care; the bus does not.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// Event names emitted by the coordination core on the broadcast channel.
const (
	EventAgentRegistered   = "agent_registered"
	EventAgentUnregistered = "agent_unregistered"
	EventAgentOffline      = "agent_offline"
)

// Message is an immutable envelope. Construct with New or the typed helpers;
// copies never share payload maps with the caller.
type Message struct {
	ID            string
	SenderID      string
	RecipientID   string // empty means broadcast
	Body          Body
	Timestamp     time.Time
	CorrelationID string
	Priority      Priority
}

// Type returns the message type carried by the body.
func (m Message) Type() Type {
	if m.Body == nil {
		return ""
	}
	return m.Body.Type()
}

// IsBroadcast reports whether the message has no specific recipient.
func (m Message) IsBroadcast() bool {
	return m.RecipientID == ""
}

// Payload returns the flat wire payload of the body.
func (m Message) Payload() map[string]interface{} {
	if m.Body == nil {
		return map[string]interface{}{}
	}
	return m.Body.payload()
}

// String renders a short description for logs.
func (m Message) String() string {
	to := m.RecipientID
	if to == "" {
		to = "*"
	}
	return fmt.Sprintf("%s %s->%s [%s]", m.Type(), m.SenderID, to, m.ID)
}

// Option customizes a message at construction.
type Option func(*Message)

// WithRecipient addresses the message to a single agent.
func WithRecipient(id string) Option {
	return func(m *Message) { m.RecipientID = id }
}

// WithPriority sets the priority (default normal).
func WithPriority(p Priority) Option {
	return func(m *Message) { m.Priority = p }
}

// WithCorrelation tags the message with a correlation id.
func WithCorrelation(id string) Option {
	return func(m *Message) { m.CorrelationID = id }
}

// WithID overrides the generated message id.
func WithID(id string) Option {
	return func(m *Message) { m.ID = id }
}

// WithTimestamp overrides the creation time.
func WithTimestamp(t time.Time) Option {
	return func(m *Message) { m.Timestamp = t }
}

// New builds a message from sender and body.
func New(senderID string, body Body, opts ...Option) Message {
	m := Message{
		ID:        uuid.NewString(),
		SenderID:  senderID,
		Body:      body,
		Timestamp: time.Now().UTC(),
		Priority:  PriorityNormal,
	}
	for _, opt := range opts {
		opt(&m)
	}
	if m.Body != nil {
		m.Body = m.Body.clone()
	}
	return m
}

// NewCommand builds a command addressed to recipientID.
func NewCommand(senderID, recipientID, command string, params map[string]interface{}, opts ...Option) Message {
	opts = append([]Option{WithRecipient(recipientID)}, opts...)
	return New(senderID, Command{Name: command, Params: params}, opts...)
}

// NewQuery builds a query addressed to recipientID.
func NewQuery(senderID, recipientID string, q Query, opts ...Option) Message {
	opts = append([]Option{WithRecipient(recipientID)}, opts...)
	return New(senderID, q, opts...)
}

// NewResponse builds the response to req, addressed back to its sender and
// carrying its correlation id.
func NewResponse(senderID string, req Message, payload map[string]interface{}, opts ...Option) Message {
	opts = append([]Option{WithRecipient(req.SenderID), WithCorrelation(req.CorrelationID)}, opts...)
	return New(senderID, Response{Payload: payload}, opts...)
}

// NewEvent builds a broadcast event.
func NewEvent(senderID, name string, data map[string]interface{}, opts ...Option) Message {
	return New(senderID, Event{Name: name, Data: data}, opts...)
}

// NewReport builds a report, addressed when recipientID is non-empty.
func NewReport(senderID, recipientID string, r Report, opts ...Option) Message {
	if recipientID != "" {
		opts = append([]Option{WithRecipient(recipientID)}, opts...)
	}
	return New(senderID, r, opts...)
}
