package bus

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/vinayprograms/agentorg/message"
)

// getNATSURL returns the NATS URL for testing, or skips the test.
func getNATSURL(t *testing.T) string {
	url := os.Getenv("NATS_URL")
	if url == "" {
		url = "nats://localhost:4222"
	}
	if testing.Short() {
		t.Skip("skipping NATS test in short mode")
	}

	cfg := DefaultNATSConfig()
	cfg.URL = url
	cfg.ConnectTimeout = 2 * time.Second
	cfg.MaxReconnects = 0

	tr, err := NewNATSTransport(cfg)
	if err != nil {
		t.Skipf("skipping: NATS not available at %s: %v", url, err)
	}
	tr.Close()
	return url
}

func TestNATSSubject(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"agent:ceo", "agent:ceo"},
		{"agent:dept:engineering", "agent:dept:engineering"},
		{"agent:v1.2", "agent:v1_2"},
	}
	for _, tt := range tests {
		if got := natsSubject(tt.in); got != tt.want {
			t.Errorf("natsSubject(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNewNATSTransport_ConnectFailure(t *testing.T) {
	cfg := DefaultNATSConfig()
	cfg.URL = "nats://127.0.0.1:1"
	cfg.ConnectTimeout = 200 * time.Millisecond
	cfg.MaxReconnects = 0

	if _, err := NewNATSTransport(cfg); err == nil {
		t.Fatal("expected connect error")
	}
}

func TestNATSTransport_PubSub(t *testing.T) {
	url := getNATSURL(t)

	cfg := DefaultNATSConfig()
	cfg.URL = url
	tr, err := NewNATSTransport(cfg)
	if err != nil {
		t.Fatalf("NewNATSTransport error: %v", err)
	}
	defer tr.Close()

	sub, err := tr.Subscribe("agent:nats-test")
	if err != nil {
		t.Fatalf("Subscribe error: %v", err)
	}
	defer sub.Unsubscribe()

	if err := tr.Publish("agent:nats-test", []byte("hello nats")); err != nil {
		t.Fatalf("Publish error: %v", err)
	}

	select {
	case f := <-sub.Frames():
		if string(f.Data) != "hello nats" {
			t.Errorf("data = %q", f.Data)
		}
		if f.Subject != "agent:nats-test" {
			t.Errorf("subject = %q", f.Subject)
		}
	case <-time.After(2 * time.Second):
		t.Error("timeout waiting for frame")
	}
}

func TestNATSTransport_BusRoundTrip(t *testing.T) {
	url := getNATSURL(t)

	cfg := DefaultNATSConfig()
	cfg.URL = url
	tr, err := NewNATSTransport(cfg)
	if err != nil {
		t.Fatalf("NewNATSTransport error: %v", err)
	}
	b, err := New(tr, Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	got := make(chan message.Message, 1)
	b.Subscribe("agent:nats-cto", "cto", func(ctx context.Context, m message.Message) error {
		got <- m
		return nil
	})

	sent := message.NewCommand("ceo", "nats-cto", "plan", nil)
	if err := b.Publish(context.Background(), "agent:nats-cto", sent); err != nil {
		t.Fatal(err)
	}

	select {
	case m := <-got:
		if m.ID != sent.ID {
			t.Errorf("ID = %q, want %q", m.ID, sent.ID)
		}
	case <-time.After(2 * time.Second):
		t.Error("timeout waiting for message")
	}
}
