package llm

import (
	"context"
	"strings"
	"sync"
)

// Echo is an offline Generator that answers deterministically. It is the
// default when no provider is configured.
type Echo struct {
	prefix string
}

// NewEcho creates an Echo generator. An empty prefix defaults to "ack: ".
func NewEcho(prefix string) *Echo {
	if prefix == "" {
		prefix = "ack: "
	}
	return &Echo{prefix: prefix}
}

// Generate returns the prefix followed by the first line of userMessage.
func (e *Echo) Generate(_ context.Context, _, userMessage string, _ map[string]interface{}) (string, error) {
	line := userMessage
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	return e.prefix + strings.TrimSpace(line), nil
}

// Call is one recorded Generate invocation.
type Call struct {
	SystemPrompt string
	UserMessage  string
	Context      map[string]interface{}
}

// Mock is a Generator for tests. It is safe for concurrent use.
type Mock struct {
	mu       sync.Mutex
	response string
	err      error
	calls    []Call

	// GenerateFunc overrides the canned response when set.
	GenerateFunc func(ctx context.Context, systemPrompt, userMessage string, promptContext map[string]interface{}) (string, error)
}

// NewMock creates a mock that answers "mock response".
func NewMock() *Mock {
	return &Mock{response: "mock response"}
}

// SetResponse sets the response content.
func (m *Mock) SetResponse(content string) {
	m.mu.Lock()
	m.response = content
	m.mu.Unlock()
}

// SetError sets an error to return.
func (m *Mock) SetError(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

// Calls returns the recorded calls.
func (m *Mock) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// Generate implements Generator.
func (m *Mock) Generate(ctx context.Context, systemPrompt, userMessage string, promptContext map[string]interface{}) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, Call{SystemPrompt: systemPrompt, UserMessage: userMessage, Context: promptContext})
	fn, resp, err := m.GenerateFunc, m.response, m.err
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, systemPrompt, userMessage, promptContext)
	}
	if err != nil {
		return "", err
	}
	return resp, nil
}
