package telemetry

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func sampleSnapshot(total int) Snapshot {
	return Snapshot{
		Timestamp: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
		Agents: []AgentStatus{
			{ID: "ceo", Name: "Ada", Role: "CEO", Tier: "executive", Status: "idle"},
		},
		Total:    total,
		Active:   total,
		ByTier:   map[string]int{"executive": total},
		ByStatus: map[string]int{"idle": total},
	}
}

func TestNoopSink(t *testing.T) {
	s := NewNoopSink()
	s.Push(sampleSnapshot(1))
	if err := s.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.jsonl")

	s, err := NewFileSink(path)
	if err != nil {
		t.Fatalf("NewFileSink() error = %v", err)
	}
	s.Push(sampleSnapshot(1))
	s.Push(sampleSnapshot(2))
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var totals []int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var snap Snapshot
		if err := json.Unmarshal(scanner.Bytes(), &snap); err != nil {
			t.Fatalf("bad line %q: %v", scanner.Text(), err)
		}
		totals = append(totals, snap.Total)
	}
	if len(totals) != 2 || totals[0] != 1 || totals[1] != 2 {
		t.Errorf("totals = %v", totals)
	}
}

func TestHTTPSink_BatchesAndFlushes(t *testing.T) {
	var mu sync.Mutex
	var batches [][]Snapshot

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var batch []Snapshot
		if err := json.Unmarshal(body, &batch); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mu.Lock()
		batches = append(batches, batch)
		mu.Unlock()
	}))
	defer server.Close()

	s := NewHTTPSink(server.URL, nil)
	for i := 0; i < 12; i++ {
		s.Push(sampleSnapshot(i))
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(batches) != 2 {
		t.Fatalf("batches = %d, want 2", len(batches))
	}
	sizes := map[int]bool{len(batches[0]): true, len(batches[1]): true}
	if !sizes[10] || !sizes[2] {
		t.Errorf("batch sizes = %d, %d", len(batches[0]), len(batches[1]))
	}
}

func TestHTTPSink_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	s := NewHTTPSink(server.URL, nil)
	s.Push(sampleSnapshot(1))
	if err := s.Flush(); err == nil || !strings.Contains(err.Error(), "503") {
		t.Errorf("Flush() error = %v", err)
	}
}

func TestMultiSink(t *testing.T) {
	a := &recordingSink{}
	b := &recordingSink{closeErr: errors.New("b failed")}
	m := MultiSink{a, b}

	m.Push(sampleSnapshot(3))
	if len(a.got) != 1 || len(b.got) != 1 {
		t.Errorf("pushes = %d, %d", len(a.got), len(b.got))
	}
	if err := m.Close(); err == nil || err.Error() != "b failed" {
		t.Errorf("Close() = %v", err)
	}
	if !a.closed || !b.closed {
		t.Error("not every sink closed")
	}
}

func TestNewSink(t *testing.T) {
	tests := []struct {
		kind     string
		endpoint string
		wantErr  bool
	}{
		{"noop", "", false},
		{"", "", false},
		{"file", filepath.Join(t.TempDir(), "s.jsonl"), false},
		{"file", "", true},
		{"http", "http://localhost:1/ingest", false},
		{"http", "", true},
		{"websocket", "127.0.0.1:0", false},
		{"carrier-pigeon", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.kind+"/"+tt.endpoint, func(t *testing.T) {
			s, err := NewSink(tt.kind, tt.endpoint, nil)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewSink() error = %v, wantErr %v", err, tt.wantErr)
			}
			if s != nil {
				s.Close()
			}
		})
	}
}

func TestWebSocketSink_Broadcast(t *testing.T) {
	sink := NewWebSocketSink(nil)
	server := httptest.NewServer(sink)
	defer server.Close()
	defer sink.Close()

	// Pushed before anyone connects; delivered on connect.
	sink.Push(sampleSnapshot(1))

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	defer conn.Close()

	read := func() Snapshot {
		t.Helper()
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var s Snapshot
		if err := json.Unmarshal(data, &s); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return s
	}

	if s := read(); s.Total != 1 {
		t.Errorf("first snapshot Total = %d", s.Total)
	}

	deadline := time.Now().Add(2 * time.Second)
	for sink.Clients() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	sink.Push(sampleSnapshot(7))
	if s := read(); s.Total != 7 {
		t.Errorf("second snapshot Total = %d", s.Total)
	}

	sink.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("expected normal close, got %v", err)
	}
}

func TestTracer_NoopByDefault(t *testing.T) {
	tr := GetTracer()

	ctx, span := tr.StartPublishSpan(context.Background(), "agent:cto", "command", "m-1")
	if ctx == nil || span == nil {
		t.Fatal("nil span")
	}
	tr.EndSpan(span, nil)

	_, span = tr.StartRequestSpan(context.Background(), "ceo", "cto", "c-1")
	tr.EndRequestSpan(span, time.Second, true, nil)

	_, span = tr.StartLLMSpan(context.Background(), "llm.generate")
	tr.EndLLMSpan(span, LLMSpanOptions{Model: "m", Provider: "mock"}, errors.New("x"))
}

func TestInitProvider_RequiresEndpoint(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	if _, err := InitProvider(context.Background(), ProviderConfig{}); err == nil {
		t.Error("expected error without endpoint")
	}
	if _, err := InitProvider(context.Background(), ProviderConfig{Endpoint: "localhost:4317", Protocol: "smoke"}); err == nil {
		t.Error("expected error for unknown protocol")
	}
}

func TestTruncate(t *testing.T) {
	if truncate("short", 10) != "short" {
		t.Error("short string changed")
	}
	if got := truncate("abcdef", 3); got != "abc..." {
		t.Errorf("truncate = %q", got)
	}
}

type recordingSink struct {
	got      []Snapshot
	closed   bool
	closeErr error
}

func (r *recordingSink) Push(s Snapshot) { r.got = append(r.got, s) }
func (r *recordingSink) Close() error {
	r.closed = true
	return r.closeErr
}
