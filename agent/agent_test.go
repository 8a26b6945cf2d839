package agent

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vinayprograms/agentorg/bus"
	"github.com/vinayprograms/agentorg/correlator"
	"github.com/vinayprograms/agentorg/directory"
	agenterrors "github.com/vinayprograms/agentorg/errors"
	"github.com/vinayprograms/agentorg/llm"
	"github.com/vinayprograms/agentorg/message"
)

type fixture struct {
	bus  *bus.Bus
	dir  *directory.Directory
	gen  *llm.Mock
	dev  *Agent
	corr *correlator.Correlator
}

func newFixture(t *testing.T, reportingTo string) *fixture {
	t.Helper()
	b, err := bus.NewMemory(bus.Options{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { b.Close() })

	dir := directory.New(directory.Options{})
	gen := llm.NewMock()
	profile := Profile{
		ID: "dev", Name: "Sam", Role: "Backend Developer", Tier: message.TierWorker,
		Department: "engineering", ReportingTo: reportingTo,
		Capabilities: []string{"go"}, SystemPrompt: "You write Go.",
	}
	if _, err := dir.Register(context.Background(), profile.Info(nil)); err != nil {
		t.Fatal(err)
	}

	dev := New(profile, gen, b, dir, nil)
	if err := dev.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { dev.Stop() })
	for _, ch := range profile.Channels() {
		if err := b.Subscribe(ch, dev.ID(), dev.Handle); err != nil {
			t.Fatal(err)
		}
	}

	corr := correlator.New(b, "orchestrator", correlator.Options{})
	if err := corr.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(corr.Stop)

	return &fixture{bus: b, dir: dir, gen: gen, dev: dev, corr: corr}
}

// capture subscribes to channel and forwards every message.
func capture(t *testing.T, b *bus.Bus, channel string) <-chan message.Message {
	t.Helper()
	out := make(chan message.Message, 16)
	err := b.Subscribe(channel, "observer", func(_ context.Context, m message.Message) error {
		out <- m
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return out
}

func waitFor(t *testing.T, ch <-chan message.Message) message.Message {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return message.Message{}
	}
}

func TestCommand_ReportsToManager(t *testing.T) {
	f := newFixture(t, "lead")
	f.gen.SetResponse("migration written")
	reports := capture(t, f.bus, message.DirectChannel("lead"))

	cmd := message.NewCommand("lead", "dev", "write migration", map[string]interface{}{"table": "users"})
	if err := f.bus.Publish(context.Background(), message.DirectChannel("dev"), cmd); err != nil {
		t.Fatal(err)
	}

	got := waitFor(t, reports)
	r, ok := got.Body.(message.Report)
	if !ok {
		t.Fatalf("body = %T, want Report", got.Body)
	}
	if r.Subject != "write migration" || r.Content != "migration written" || r.Data["status"] != "completed" {
		t.Errorf("report = %+v", r)
	}
	if r.Data["request_id"] != cmd.ID || got.RecipientID != "lead" || got.SenderID != "dev" {
		t.Errorf("report addressing = %+v", got)
	}

	calls := f.gen.Calls()
	if len(calls) != 1 || calls[0].SystemPrompt != "You write Go." || calls[0].Context["table"] != "users" {
		t.Errorf("calls = %+v", calls)
	}
	rec, _ := f.dir.Get("dev")
	if rec.Status != directory.StatusIdle {
		t.Errorf("status = %s, want idle", rec.Status)
	}
	if f.dev.Handled() != 1 {
		t.Errorf("Handled = %d", f.dev.Handled())
	}
}

func TestCommand_FailureReportsError(t *testing.T) {
	f := newFixture(t, "lead")
	f.gen.SetError(errors.New("model unavailable"))
	reports := capture(t, f.bus, message.DirectChannel("lead"))

	cmd := message.NewCommand("lead", "dev", "deploy", nil)
	f.bus.Publish(context.Background(), message.DirectChannel("dev"), cmd)

	got := waitFor(t, reports)
	r := got.Body.(message.Report)
	if r.Data["status"] != "failed" || got.Priority != message.PriorityHigh {
		t.Errorf("report = %+v priority %s", r, got.Priority)
	}
	if reported, ok := r.Data["error"].(map[string]interface{}); !ok || reported["code"] != "INTERNAL" || reported["agent_id"] != "dev" || reported["cause"] != "model unavailable" {
		t.Errorf("report error = %#v", r.Data["error"])
	}
	rec, _ := f.dir.Get("dev")
	if rec.Status != directory.StatusError || rec.Metadata["last_error"] != "model unavailable" {
		t.Errorf("record = %+v", rec)
	}
	if f.dev.Failed() != 1 {
		t.Errorf("Failed = %d", f.dev.Failed())
	}
}

func TestCommand_NoManagerBroadcasts(t *testing.T) {
	f := newFixture(t, "")
	broadcast := capture(t, f.bus, message.BroadcastChannel)

	f.bus.Publish(context.Background(), message.DirectChannel("dev"), message.NewCommand("ops", "dev", "rotate keys", nil))

	got := waitFor(t, broadcast)
	if got.Type() != message.TypeReport || !got.IsBroadcast() {
		t.Errorf("got %s, want broadcast report", got)
	}
}

func TestQuery_StatusFromDirectory(t *testing.T) {
	f := newFixture(t, "lead")

	res, err := f.corr.Request(context.Background(), "dev", message.Query{Question: "status"}, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if res.TimedOut {
		t.Fatal("status query timed out")
	}
	p := res.Payload()
	if p["agent_id"] != "dev" || p["status"] != "idle" || p["role"] != "Backend Developer" || p["tier"] != "worker" {
		t.Errorf("payload = %v", p)
	}
	if len(f.gen.Calls()) != 0 {
		t.Error("status query should not invoke the generator")
	}
}

func TestQuery_GeneratedAnswer(t *testing.T) {
	f := newFixture(t, "lead")
	f.gen.SetResponse("two days")

	res, err := f.corr.Request(context.Background(), "dev", message.Query{Question: "eta for login?"}, time.Second)
	if err != nil || res.TimedOut {
		t.Fatalf("Request = %+v, %v", res, err)
	}
	if res.Payload()["answer"] != "two days" {
		t.Errorf("payload = %v", res.Payload())
	}
	if got := f.gen.Calls(); len(got) != 1 || got[0].UserMessage != "eta for login?" {
		t.Errorf("calls = %+v", got)
	}
}

func TestQuery_GenerationErrorStillAnswers(t *testing.T) {
	f := newFixture(t, "lead")
	f.gen.SetError(errors.New("quota"))

	res, err := f.corr.Request(context.Background(), "dev", message.Query{Question: "eta?"}, time.Second)
	if err != nil || res.TimedOut {
		t.Fatalf("Request = %+v, %v", res, err)
	}
	reported := res.Err()
	if !agenterrors.Is(reported, agenterrors.ErrCodeInternal) || !strings.Contains(reported.Error(), "quota") {
		t.Fatalf("Err() = %v", reported)
	}
	var ae *agenterrors.Error
	if !errors.As(reported, &ae) || ae.AgentID() != "dev" {
		t.Errorf("reported error = %#v", reported)
	}
}

// blockingGenerate parks every call until release is closed.
func blockingGenerate(release <-chan struct{}) func(context.Context, string, string, map[string]interface{}) (string, error) {
	return func(ctx context.Context, _, userMessage string, _ map[string]interface{}) (string, error) {
		select {
		case <-release:
			return "done: " + userMessage, nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

func TestQuery_StatusWhileCommandRuns(t *testing.T) {
	f := newFixture(t, "lead")
	release := make(chan struct{})
	f.gen.GenerateFunc = blockingGenerate(release)
	reports := capture(t, f.bus, message.DirectChannel("lead"))

	cmd := message.NewCommand("lead", "dev", "rebuild index", nil)
	if err := f.bus.Publish(context.Background(), message.DirectChannel("dev"), cmd); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		rec, _ := f.dir.Get("dev")
		if rec.Status == directory.StatusExecuting {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("command never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	res, err := f.corr.Request(context.Background(), "dev", message.Query{Question: "status"}, 500*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if res.TimedOut {
		t.Fatal("status query waited for the running command")
	}
	if p := res.Payload(); p["status"] != "executing" || p["task"] != "rebuild index" {
		t.Errorf("payload = %v", p)
	}

	close(release)
	got := waitFor(t, reports)
	if r := got.Body.(message.Report); r.Content != "done: rebuild index" {
		t.Errorf("report = %+v", r)
	}
}

func TestCommand_RunInArrivalOrder(t *testing.T) {
	f := newFixture(t, "lead")
	var active, maxActive atomic.Int32
	f.gen.GenerateFunc = func(_ context.Context, _, userMessage string, _ map[string]interface{}) (string, error) {
		n := active.Add(1)
		defer active.Add(-1)
		if n > maxActive.Load() {
			maxActive.Store(n)
		}
		time.Sleep(10 * time.Millisecond)
		return userMessage, nil
	}
	reports := capture(t, f.bus, message.DirectChannel("lead"))

	names := []string{"first", "second", "third"}
	for _, name := range names {
		if err := f.bus.Publish(context.Background(), message.DirectChannel("dev"), message.NewCommand("lead", "dev", name, nil)); err != nil {
			t.Fatal(err)
		}
	}
	for _, want := range names {
		got := waitFor(t, reports)
		if r := got.Body.(message.Report); r.Subject != want {
			t.Errorf("report subject = %q, want %q", r.Subject, want)
		}
	}
	if maxActive.Load() != 1 {
		t.Errorf("commands overlapped: max active = %d", maxActive.Load())
	}
}

func TestAgent_StartStop(t *testing.T) {
	dir := directory.New(directory.Options{})
	b, err := bus.NewMemory(bus.Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	a := New(Profile{ID: "solo", Tier: message.TierWorker}, nil, b, dir, nil)
	if err := a.Stop(); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Stop before Start = %v", err)
	}

	cmd := message.NewCommand("lead", "solo", "wait", nil)
	if err := a.Handle(context.Background(), cmd); err != nil {
		t.Fatal(err)
	}
	if a.Queued() != 1 {
		t.Errorf("Queued = %d, want 1", a.Queued())
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := a.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start = %v", err)
	}
	if err := a.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := a.Stop(); !errors.Is(err, ErrNotStarted) {
		t.Errorf("second Stop = %v", err)
	}
	if err := a.Handle(context.Background(), cmd); !errors.Is(err, ErrStopped) {
		t.Errorf("Handle after Stop = %v", err)
	}
	if err := a.Start(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("Start after Stop = %v", err)
	}
}

func TestHandle_IgnoresOwnMessages(t *testing.T) {
	f := newFixture(t, "lead")
	own := message.NewCommand("dev", "dev", "loop forever", nil)
	if err := f.dev.Handle(context.Background(), own); err != nil {
		t.Fatal(err)
	}
	if len(f.gen.Calls()) != 0 || f.dev.Handled() != 0 {
		t.Error("agent handled its own message")
	}
}

func TestHandle_QueryWithoutCorrelation(t *testing.T) {
	f := newFixture(t, "lead")
	q := message.NewQuery("lead", "dev", message.Query{Question: "eta?"})
	if err := f.dev.Handle(context.Background(), q); err != nil {
		t.Errorf("Handle = %v", err)
	}
	if len(f.gen.Calls()) != 0 {
		t.Error("uncorrelated query should be dropped")
	}
}

func TestProfile_Channels(t *testing.T) {
	p := Profile{ID: "cfo", Tier: message.TierExecutive, Department: "Finance"}
	want := []string{"agent:cfo", "agent:broadcast", "agent:dept:finance", "agent:executives"}
	got := p.Channels()
	if len(got) != len(want) {
		t.Fatalf("channels = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("channels[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}
