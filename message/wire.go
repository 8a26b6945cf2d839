package message

import (
	"encoding/json"
	"fmt"
	"time"

	agenterrors "github.com/vinayprograms/agentorg/errors"
)

// wireMessage is the JSON shape on every transport:
//
//	{"message_id":"...","message_type":"query","sender_id":"ceo","recipient_id":"cto",
//	 "payload":{...},"timestamp":"2026-...Z","correlation_id":"...",
//	 "priority":"normal"}
//
// recipient_id and correlation_id are null when absent.
type wireMessage struct {
	ID            string                 `json:"message_id"`
	Type          Type                   `json:"message_type"`
	SenderID      string                 `json:"sender_id"`
	RecipientID   *string                `json:"recipient_id"`
	Payload       map[string]interface{} `json:"payload"`
	Timestamp     string                 `json:"timestamp"`
	CorrelationID *string                `json:"correlation_id"`
	Priority      Priority               `json:"priority"`
}

// MarshalJSON encodes the message in wire form.
func (m Message) MarshalJSON() ([]byte, error) {
	w := wireMessage{
		ID:        m.ID,
		Type:      m.Type(),
		SenderID:  m.SenderID,
		Payload:   m.Payload(),
		Timestamp: m.Timestamp.UTC().Format(time.RFC3339Nano),
		Priority:  m.Priority,
	}
	if m.RecipientID != "" {
		r := m.RecipientID
		w.RecipientID = &r
	}
	if m.CorrelationID != "" {
		c := m.CorrelationID
		w.CorrelationID = &c
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes a wire-form message. Unknown types are rejected.
func (m *Message) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	body, ok := bodyFromPayload(w.Type, w.Payload)
	if !ok {
		return fmt.Errorf("unknown message type %q", w.Type)
	}
	ts, err := time.Parse(time.RFC3339Nano, w.Timestamp)
	if err != nil {
		return fmt.Errorf("bad timestamp %q: %w", w.Timestamp, err)
	}

	*m = Message{
		ID:        w.ID,
		SenderID:  w.SenderID,
		Body:      body,
		Timestamp: ts,
		Priority:  w.Priority,
	}
	if w.RecipientID != nil {
		m.RecipientID = *w.RecipientID
	}
	if w.CorrelationID != nil {
		m.CorrelationID = *w.CorrelationID
	}
	switch {
	case m.Priority == "":
		m.Priority = PriorityNormal
	case !m.Priority.Valid():
		return fmt.Errorf("unknown priority %q", m.Priority)
	}
	return nil
}

// Encode serializes m for a transport.
func Encode(m Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, agenterrors.WrapWithCode(err, agenterrors.ErrCodeDecode, "encode message")
	}
	return data, nil
}

// Decode parses a transport frame into a Message.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, agenterrors.WrapWithCode(err, agenterrors.ErrCodeDecode, "decode message")
	}
	return m, nil
}
