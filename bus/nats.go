package bus

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSTransport implements Transport using NATS core pub/sub.
type NATSTransport struct {
	conn *nats.Conn
}

// NATSConfig holds NATS connection configuration.
type NATSConfig struct {
	// URL is the NATS server URL (e.g., "nats://localhost:4222").
	URL string

	// Name is the client name for identification.
	Name string

	// Token for token-based auth.
	Token string

	// User and Password for basic auth.
	User     string
	Password string

	// ReconnectWait is the time to wait between reconnection attempts.
	ReconnectWait time.Duration

	// MaxReconnects is the maximum number of reconnection attempts.
	// -1 = unlimited
	MaxReconnects int

	// ConnectTimeout for initial connection.
	ConnectTimeout time.Duration
}

// DefaultNATSConfig returns configuration with sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:            nats.DefaultURL,
		Name:           "agentorg",
		ReconnectWait:  2 * time.Second,
		MaxReconnects:  -1,
		ConnectTimeout: 5 * time.Second,
	}
}

// NewNATSTransport connects to NATS.
func NewNATSTransport(cfg NATSConfig) (*NATSTransport, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}

	conn, err := nats.Connect(cfg.URL, natsOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", cfg.URL, err)
	}
	return &NATSTransport{conn: conn}, nil
}

// NewNATSTransportFromConn wraps an existing connection.
func NewNATSTransportFromConn(conn *nats.Conn) *NATSTransport {
	return &NATSTransport{conn: conn}
}

func natsOptions(cfg NATSConfig) []nats.Option {
	opts := []nats.Option{
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.Timeout(cfg.ConnectTimeout),
	}
	if cfg.Name != "" {
		opts = append(opts, nats.Name(cfg.Name))
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}
	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}
	return opts
}

// natsSubject maps a channel name to a NATS subject. Colons are legal in
// NATS subjects but dots are token separators, so only dots are escaped.
func natsSubject(channel string) string {
	out := make([]byte, 0, len(channel))
	for i := 0; i < len(channel); i++ {
		if channel[i] == '.' {
			out = append(out, '_')
			continue
		}
		out = append(out, channel[i])
	}
	return string(out)
}

// Publish sends data to a subject.
func (t *NATSTransport) Publish(subject string, data []byte) error {
	if err := ValidateSubject(subject); err != nil {
		return err
	}
	if t.conn.IsClosed() {
		return ErrClosed
	}
	if err := t.conn.Publish(natsSubject(subject), data); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	return nil
}

// Subscribe creates a subscription. The NATS callback only queues, so a
// slow handler never becomes a slow consumer on the connection.
func (t *NATSTransport) Subscribe(subject string) (Subscription, error) {
	if err := ValidateSubject(subject); err != nil {
		return nil, err
	}
	if t.conn.IsClosed() {
		return nil, ErrClosed
	}

	mb := newMailbox()
	sub, err := t.conn.Subscribe(natsSubject(subject), func(m *nats.Msg) {
		mb.push(&Frame{Subject: subject, Data: m.Data})
	})
	if err != nil {
		mb.close()
		return nil, fmt.Errorf("nats subscribe: %w", err)
	}
	return &natsSub{sub: sub, mb: mb}, nil
}

// Close drains nothing and closes the connection.
func (t *NATSTransport) Close() error {
	t.conn.Close()
	return nil
}

// Conn returns the underlying NATS connection.
func (t *NATSTransport) Conn() *nats.Conn {
	return t.conn
}

type natsSub struct {
	sub *nats.Subscription
	mb  *mailbox
}

func (s *natsSub) Frames() <-chan *Frame {
	return s.mb.out
}

func (s *natsSub) Unsubscribe() error {
	err := s.sub.Unsubscribe()
	s.mb.close()
	if err == nats.ErrConnectionClosed || err == nats.ErrBadSubscription {
		return nil
	}
	return err
}
