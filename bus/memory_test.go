package bus

import (
	"fmt"
	"testing"
	"time"
)

func TestValidateSubject(t *testing.T) {
	tests := []struct {
		subject string
		wantErr bool
	}{
		{"agent:ceo", false},
		{"agent:dept:engineering", false},
		{"", true},
	}

	for _, tt := range tests {
		err := ValidateSubject(tt.subject)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateSubject(%q) = %v, wantErr %v", tt.subject, err, tt.wantErr)
		}
	}
}

func TestMemoryTransport_PublishWithoutSubscribers(t *testing.T) {
	tr := NewMemoryTransport()
	defer tr.Close()

	if err := tr.Publish("agent:nobody", []byte("hello")); err != nil {
		t.Errorf("Publish error: %v", err)
	}
}

func TestMemoryTransport_FanOut(t *testing.T) {
	tr := NewMemoryTransport()
	defer tr.Close()

	sub1, _ := tr.Subscribe("agent:broadcast")
	sub2, _ := tr.Subscribe("agent:broadcast")

	tr.Publish("agent:broadcast", []byte("hello"))

	for i, sub := range []Subscription{sub1, sub2} {
		select {
		case f := <-sub.Frames():
			if string(f.Data) != "hello" || f.Subject != "agent:broadcast" {
				t.Errorf("sub%d: frame = %+v", i+1, f)
			}
		case <-time.After(time.Second):
			t.Errorf("sub%d: timeout", i+1)
		}
	}
}

// A subscriber that reads nothing must not cause frames to be dropped.
func TestMemoryTransport_NeverDrops(t *testing.T) {
	tr := NewMemoryTransport()
	defer tr.Close()

	sub, _ := tr.Subscribe("agent:w1")

	const n = 1000
	for i := 0; i < n; i++ {
		if err := tr.Publish("agent:w1", []byte(fmt.Sprint(i))); err != nil {
			t.Fatalf("Publish %d: %v", i, err)
		}
	}

	for i := 0; i < n; i++ {
		select {
		case f := <-sub.Frames():
			if string(f.Data) != fmt.Sprint(i) {
				t.Fatalf("frame %d = %q, out of order", i, f.Data)
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout at frame %d", i)
		}
	}
}

func TestMemoryTransport_Unsubscribe(t *testing.T) {
	tr := NewMemoryTransport()
	defer tr.Close()

	sub, _ := tr.Subscribe("agent:cto")
	if tr.SubscriptionCount("agent:cto") != 1 {
		t.Fatalf("SubscriptionCount = %d", tr.SubscriptionCount("agent:cto"))
	}

	if err := sub.Unsubscribe(); err != nil {
		t.Errorf("Unsubscribe error: %v", err)
	}
	if err := sub.Unsubscribe(); err != nil {
		t.Errorf("second Unsubscribe error: %v", err)
	}
	if tr.SubscriptionCount("agent:cto") != 0 {
		t.Errorf("SubscriptionCount after unsubscribe = %d", tr.SubscriptionCount("agent:cto"))
	}

	select {
	case _, ok := <-sub.Frames():
		if ok {
			t.Error("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Error("channel not closed after unsubscribe")
	}
}

func TestMemoryTransport_Closed(t *testing.T) {
	tr := NewMemoryTransport()
	sub, _ := tr.Subscribe("agent:ceo")
	tr.Close()

	if err := tr.Publish("agent:ceo", []byte("x")); err != ErrClosed {
		t.Errorf("Publish after close = %v, want ErrClosed", err)
	}
	if _, err := tr.Subscribe("agent:ceo"); err != ErrClosed {
		t.Errorf("Subscribe after close = %v, want ErrClosed", err)
	}

	select {
	case _, ok := <-sub.Frames():
		if ok {
			t.Error("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Error("subscription not closed by transport close")
	}
}

func TestMailbox_Pending(t *testing.T) {
	mb := newMailbox()
	defer mb.close()

	for i := 0; i < 3; i++ {
		mb.push(&Frame{Subject: "s"})
	}
	// The pump may hold one frame while waiting on the reader.
	if p := mb.pending(); p < 2 || p > 3 {
		t.Errorf("pending = %d", p)
	}
}

func BenchmarkMemoryTransport_Publish(b *testing.B) {
	tr := NewMemoryTransport()
	defer tr.Close()

	sub, _ := tr.Subscribe("bench")
	go func() {
		for range sub.Frames() {
		}
	}()

	data := []byte("benchmark message")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tr.Publish("bench", data)
	}
}
