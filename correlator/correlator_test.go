package correlator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/vinayprograms/agentorg/bus"
	agenterrors "github.com/vinayprograms/agentorg/errors"
	"github.com/vinayprograms/agentorg/message"
)

func newTestBus(t *testing.T) *bus.Bus {
	t.Helper()
	b, err := bus.NewMemory(bus.Options{})
	if err != nil {
		t.Fatalf("NewMemory: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func newStarted(t *testing.T, b Bus, owner string) *Correlator {
	t.Helper()
	c := New(b, owner, Options{})
	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(c.Stop)
	return c
}

// responder answers every query on id's direct channel after delay.
func responder(t *testing.T, b *bus.Bus, id string, delay time.Duration) {
	t.Helper()
	err := b.Subscribe(message.DirectChannel(id), id, func(ctx context.Context, m message.Message) error {
		q, ok := m.Body.(message.Query)
		if !ok {
			return nil
		}
		time.Sleep(delay)
		return Reply(ctx, b, id, m, map[string]interface{}{"answer": q.Question + " ok", "from": id})
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
}

func TestRequest_EarlyResponse(t *testing.T) {
	b := newTestBus(t)
	c := newStarted(t, b, "ceo")
	responder(t, b, "cto", 500*time.Millisecond)

	start := time.Now()
	res, err := c.Request(context.Background(), "cto", message.Query{Question: "status"}, 2*time.Second)
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("Request error: %v", err)
	}
	if res.TimedOut {
		t.Fatal("request timed out")
	}
	if res.Payload()["answer"] != "status ok" {
		t.Errorf("payload = %v", res.Payload())
	}
	if res.Response.CorrelationID != res.CorrelationID {
		t.Errorf("correlation id mismatch: %q vs %q", res.Response.CorrelationID, res.CorrelationID)
	}
	if elapsed < 500*time.Millisecond || elapsed > 1500*time.Millisecond {
		t.Errorf("elapsed = %v, want about 500ms", elapsed)
	}
	if c.Pending() != 0 {
		t.Errorf("Pending = %d, want 0", c.Pending())
	}
}

func TestRequest_Timeout(t *testing.T) {
	b := newTestBus(t)
	c := newStarted(t, b, "ceo")

	const timeout = 200 * time.Millisecond
	start := time.Now()
	res, err := c.Request(context.Background(), "silent", message.Query{Question: "status"}, timeout)
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("timeout returned error: %v", err)
	}
	if !res.TimedOut {
		t.Fatal("expected TimedOut")
	}
	if elapsed < timeout {
		t.Errorf("returned after %v, before timeout %v", elapsed, timeout)
	}
	if elapsed > timeout+300*time.Millisecond {
		t.Errorf("returned after %v, too long past timeout", elapsed)
	}
	if res.Payload() != nil {
		t.Error("timed out result has payload")
	}
	if !agenterrors.Is(res.Err(), agenterrors.ErrCodeTimeout) {
		t.Errorf("Err() = %v, want TIMEOUT", res.Err())
	}
	if c.Pending() != 0 {
		t.Errorf("Pending = %d after timeout", c.Pending())
	}
}

func TestRequest_ConcurrentCallsGetOwnResponses(t *testing.T) {
	b := newTestBus(t)
	c := newStarted(t, b, "ceo")

	const n = 50
	for i := 0; i < 5; i++ {
		responder(t, b, fmt.Sprintf("worker-%d", i), time.Duration(i)*time.Millisecond)
	}

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			to := fmt.Sprintf("worker-%d", i%5)
			question := fmt.Sprintf("q-%d", i)
			res, err := c.Request(context.Background(), to, message.Query{Question: question}, 2*time.Second)
			if err != nil {
				errs <- err
				return
			}
			if res.TimedOut {
				errs <- fmt.Errorf("%s timed out", question)
				return
			}
			p := res.Payload()
			if p["answer"] != question+" ok" || p["from"] != to {
				errs <- fmt.Errorf("%s got %v", question, p)
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
}

func TestRequest_DuplicateAndLateResponsesDiscarded(t *testing.T) {
	b := newTestBus(t)
	c := newStarted(t, b, "ceo")

	var mu sync.Mutex
	var reqs []message.Message
	b.Subscribe(message.DirectChannel("cfo"), "cfo", func(ctx context.Context, m message.Message) error {
		mu.Lock()
		reqs = append(reqs, m)
		mu.Unlock()
		Reply(ctx, b, "cfo", m, map[string]interface{}{"n": 1})
		Reply(ctx, b, "cfo", m, map[string]interface{}{"n": 2})
		return nil
	})

	res, err := c.Request(context.Background(), "cfo", message.Query{Question: "budget"}, time.Second)
	if err != nil || res.TimedOut {
		t.Fatalf("Request = %+v, %v", res, err)
	}
	if res.Payload()["n"] != float64(1) {
		t.Errorf("payload = %v, want first response", res.Payload())
	}

	// A late response for a finished request resolves nothing.
	mu.Lock()
	req := reqs[0]
	mu.Unlock()
	late := message.NewResponse("cfo", req, map[string]interface{}{"n": 3})
	if err := c.Resolve(context.Background(), late); err != nil {
		t.Errorf("Resolve late response: %v", err)
	}
}

func TestRequest_ContextCancel(t *testing.T) {
	b := newTestBus(t)
	c := newStarted(t, b, "ceo")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := c.Request(ctx, "silent", message.Query{Question: "status"}, 5*time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if time.Since(start) > time.Second {
		t.Error("cancel did not return early")
	}
	if c.Pending() != 0 {
		t.Errorf("Pending = %d after cancel", c.Pending())
	}
}

func TestRequest_StopFailsPending(t *testing.T) {
	b := newTestBus(t)
	c := New(b, "ceo", Options{})
	if err := c.Start(); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := c.Request(context.Background(), "silent", message.Query{Question: "x"}, 5*time.Second)
		done <- err
	}()

	deadline := time.After(2 * time.Second)
	for c.Pending() == 0 {
		select {
		case <-deadline:
			t.Fatal("request never became pending")
		case <-time.After(5 * time.Millisecond):
		}
	}

	reqs := c.Requests()
	if len(reqs) != 1 || reqs[0].Recipient != "silent" || reqs[0].CorrelationID == "" {
		t.Fatalf("Requests = %+v", reqs)
	}
	if left := time.Until(reqs[0].Deadline); left <= 0 || left > 5*time.Second {
		t.Errorf("deadline in %v, want within the 5s timeout", left)
	}

	c.Stop()
	if got := c.Requests(); len(got) != 0 {
		t.Errorf("Requests after Stop = %+v", got)
	}

	select {
	case err := <-done:
		if err != ErrStopped {
			t.Errorf("err = %v, want ErrStopped", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Request did not return after Stop")
	}

	if _, err := c.Request(context.Background(), "x", message.Query{}, time.Second); err != ErrStopped {
		t.Errorf("Request after Stop: %v", err)
	}
	if err := c.Start(); err != ErrStopped {
		t.Errorf("Start after Stop: %v", err)
	}
}

func TestRequest_InvalidUse(t *testing.T) {
	b := newTestBus(t)
	c := New(b, "ceo", Options{})

	if _, err := c.Request(context.Background(), "cto", message.Query{}, time.Second); err != ErrNotStarted {
		t.Errorf("before Start: %v", err)
	}
	c.Start()
	defer c.Stop()
	if _, err := c.Request(context.Background(), "", message.Query{}, time.Second); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("empty recipient: %v", err)
	}
}

type failingBus struct{ *bus.Bus }

func (f failingBus) Publish(context.Context, string, message.Message) error {
	return errors.New("transport down")
}

func TestRequest_PublishFailure(t *testing.T) {
	b := newTestBus(t)
	c := newStarted(t, failingBus{b}, "ceo")

	_, err := c.Request(context.Background(), "cto", message.Query{Question: "x"}, time.Second)
	if err == nil {
		t.Fatal("expected publish error")
	}
	if c.Pending() != 0 {
		t.Errorf("Pending = %d after publish failure", c.Pending())
	}
}

func TestResolve_IgnoresNonResponses(t *testing.T) {
	b := newTestBus(t)
	c := newStarted(t, b, "ceo")

	msgs := []message.Message{
		message.NewCommand("x", "ceo", "do", nil),
		message.NewEvent("x", "noise", nil),
		message.New("x", message.Response{Payload: map[string]interface{}{}}),
	}
	for _, m := range msgs {
		if err := c.Resolve(context.Background(), m); err != nil {
			t.Errorf("Resolve(%s) = %v", m.Type(), err)
		}
	}
}

func TestReply_RequiresCorrelation(t *testing.T) {
	b := newTestBus(t)
	req := message.NewQuery("ceo", "cto", message.Query{Question: "x"})
	if err := Reply(context.Background(), b, "cto", req, nil); err != ErrNoCorrelation {
		t.Errorf("Reply = %v, want ErrNoCorrelation", err)
	}
}

func TestResult_ErrCarriesReportedError(t *testing.T) {
	b := newTestBus(t)
	c := newStarted(t, b, "ceo")

	err := b.Subscribe(message.DirectChannel("cfo"), "cfo", func(ctx context.Context, m message.Message) error {
		q := m.Body.(message.Query)
		var reported interface{} = "ledger locked"
		if q.Question == "structured" {
			reported = agenterrors.New(agenterrors.ErrCodeUnavailable, "model down", agenterrors.WithAgentID("cfo"))
		}
		return Reply(ctx, b, "cfo", m, map[string]interface{}{"error": reported})
	})
	if err != nil {
		t.Fatal(err)
	}

	res, err := c.Request(context.Background(), "cfo", message.Query{Question: "structured"}, time.Second)
	if err != nil || res.TimedOut {
		t.Fatalf("Request = %+v, %v", res, err)
	}
	got := res.Err()
	if agenterrors.Code(got) != agenterrors.ErrCodeUnavailable || !agenterrors.IsRetryable(got) {
		t.Errorf("Err() = %v (code %q)", got, agenterrors.Code(got))
	}
	var ae *agenterrors.Error
	if !errors.As(got, &ae) || ae.AgentID() != "cfo" || ae.Error() != "model down" {
		t.Errorf("reported error = %#v", got)
	}

	res, err = c.Request(context.Background(), "cfo", message.Query{Question: "plain"}, time.Second)
	if err != nil || res.TimedOut {
		t.Fatalf("Request = %+v, %v", res, err)
	}
	if got := res.Err(); !agenterrors.Is(got, agenterrors.ErrCodeInternal) || got.Error() != "ledger locked" {
		t.Errorf("Err() = %v", got)
	}
}

func TestResult_ErrNilOnAnswer(t *testing.T) {
	b := newTestBus(t)
	c := newStarted(t, b, "ceo")
	responder(t, b, "cto", 0)

	res, err := c.Request(context.Background(), "cto", message.Query{Question: "eta"}, time.Second)
	if err != nil || res.TimedOut {
		t.Fatalf("Request = %+v, %v", res, err)
	}
	if res.Err() != nil {
		t.Errorf("Err() = %v", res.Err())
	}
}
