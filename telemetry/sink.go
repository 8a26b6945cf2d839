package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/vinayprograms/agentorg/logging"
)

// Snapshot is the periodic organisation status pushed to observers.
type Snapshot struct {
	Timestamp       time.Time      `json:"timestamp"`
	Agents          []AgentStatus  `json:"agents"`
	Total           int            `json:"total"`
	Active          int            `json:"active"`
	ByTier          map[string]int `json:"by_tier"`
	ByStatus        map[string]int `json:"by_status"`
	MessageRate     float64        `json:"message_rate"` // messages per minute
	PendingRequests int            `json:"pending_requests"`
	Published       uint64         `json:"published"`
	Delivered       uint64         `json:"delivered"`
	Failures        uint64         `json:"failures"`
}

// AgentStatus is one agent as seen in a snapshot.
type AgentStatus struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Role          string    `json:"role"`
	Tier          string    `json:"tier"`
	Department    string    `json:"department,omitempty"`
	Status        string    `json:"status"`
	ReportingTo   string    `json:"reporting_to,omitempty"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// Sink receives snapshots. Push is fire-and-forget: it must not block the
// caller on slow observers and reports no errors.
type Sink interface {
	Push(s Snapshot)
	Close() error
}

// NewSink creates a sink by kind. For "websocket" the endpoint is the
// listen address of the dashboard feed.
func NewSink(kind, endpoint string, logger *logging.Logger) (Sink, error) {
	switch kind {
	case "http":
		if endpoint == "" {
			return nil, fmt.Errorf("http sink needs an endpoint")
		}
		return NewHTTPSink(endpoint, logger), nil
	case "file":
		return NewFileSink(endpoint)
	case "websocket":
		return ListenWebSocketSink(endpoint, logger)
	case "noop", "":
		return NewNoopSink(), nil
	default:
		return nil, fmt.Errorf("unknown telemetry sink: %s", kind)
	}
}

// --- HTTP Sink ---

// HTTPSink batches snapshots and POSTs them as a JSON array.
type HTTPSink struct {
	endpoint  string
	client    *http.Client
	batchSize int
	logger    *logging.Logger

	mu     sync.Mutex
	buffer []Snapshot
	wg     sync.WaitGroup
}

// NewHTTPSink creates an HTTP sink that sends every 10 snapshots.
func NewHTTPSink(endpoint string, logger *logging.Logger) *HTTPSink {
	return &HTTPSink{
		endpoint:  endpoint,
		client:    &http.Client{Timeout: 10 * time.Second},
		batchSize: 10,
		logger:    logging.OrDiscard(logger).WithComponent("telemetry"),
		buffer:    make([]Snapshot, 0, 10),
	}
}

// Push buffers s and ships a full batch in the background.
func (e *HTTPSink) Push(s Snapshot) {
	e.mu.Lock()
	e.buffer = append(e.buffer, s)
	if len(e.buffer) < e.batchSize {
		e.mu.Unlock()
		return
	}
	batch := e.buffer
	e.buffer = make([]Snapshot, 0, e.batchSize)
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.send(batch); err != nil {
			e.logger.Warn("snapshot export failed", map[string]interface{}{"error": err.Error()})
		}
	}()
}

// Flush sends whatever is buffered.
func (e *HTTPSink) Flush() error {
	e.mu.Lock()
	batch := e.buffer
	e.buffer = make([]Snapshot, 0, e.batchSize)
	e.mu.Unlock()
	return e.send(batch)
}

func (e *HTTPSink) send(batch []Snapshot) error {
	if len(batch) == 0 {
		return nil
	}
	data, err := json.Marshal(batch)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("telemetry endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// Close waits for batches in flight and flushes the rest.
func (e *HTTPSink) Close() error {
	e.wg.Wait()
	return e.Flush()
}

// --- File Sink ---

// FileSink appends snapshots to a file as JSON lines.
type FileSink struct {
	file *os.File
	mu   sync.Mutex
}

// NewFileSink opens path for appending.
func NewFileSink(path string) (*FileSink, error) {
	if path == "" {
		return nil, fmt.Errorf("file sink needs a path")
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open telemetry file: %w", err)
	}
	return &FileSink{file: file}, nil
}

func (e *FileSink) Push(s Snapshot) {
	data, err := json.Marshal(s)
	if err != nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.file.Write(append(data, '\n'))
}

func (e *FileSink) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.file.Sync()
	return e.file.Close()
}

// --- Noop Sink ---

// NoopSink discards everything.
type NoopSink struct{}

// NewNoopSink creates a noop sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (NoopSink) Push(Snapshot) {}
func (NoopSink) Close() error  { return nil }

// --- Multi Sink ---

// MultiSink fans a snapshot out to several sinks.
type MultiSink []Sink

func (m MultiSink) Push(s Snapshot) {
	for _, sink := range m {
		sink.Push(s)
	}
}

// Close closes every sink and returns the first error.
func (m MultiSink) Close() error {
	var first error
	for _, sink := range m {
		if err := sink.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
