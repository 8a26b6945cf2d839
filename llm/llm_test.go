package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

type fakeBackend struct {
	calls atomic.Int32
	errs  []error
	text  string
}

func (f *fakeBackend) complete(_ context.Context, req request) (*completion, error) {
	n := int(f.calls.Add(1)) - 1
	if n < len(f.errs) && f.errs[n] != nil {
		return nil, f.errs[n]
	}
	return &completion{Text: f.text + req.User, InputTokens: 3, OutputTokens: 4}, nil
}

func fastRetry() RetryConfig {
	return RetryConfig{MaxRetries: 2, InitBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
}

func TestClient_RetriesTransientErrors(t *testing.T) {
	fb := &fakeBackend{
		errs: []error{errors.New("429 Too Many Requests"), errors.New("503 Service Unavailable")},
		text: "done: ",
	}
	c := &Client{provider: "fake", model: "m", maxTokens: 10, retry: fastRetry(), backend: fb}

	got, err := c.Generate(context.Background(), "sys", "ship it", nil)
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	if got != "done: ship it" {
		t.Errorf("Generate = %q", got)
	}
	if fb.calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", fb.calls.Load())
	}
}

func TestClient_GivesUpAfterMaxRetries(t *testing.T) {
	fb := &fakeBackend{errs: []error{
		errors.New("overloaded"), errors.New("overloaded"), errors.New("overloaded"), errors.New("overloaded"),
	}}
	c := &Client{provider: "fake", retry: fastRetry(), backend: fb}

	_, err := c.Generate(context.Background(), "", "x", nil)
	if err == nil || !strings.Contains(err.Error(), "after 2 retries") {
		t.Errorf("err = %v", err)
	}
	if fb.calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", fb.calls.Load())
	}
}

func TestClient_FatalErrorsAreNotRetried(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"billing", errors.New("402 payment required"), "billing/payment error"},
		{"bad request", errors.New("400 invalid model"), "fake request failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fb := &fakeBackend{errs: []error{tt.err}}
			c := &Client{provider: "fake", retry: fastRetry(), backend: fb}
			_, err := c.Generate(context.Background(), "", "x", nil)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want containing %q", err, tt.want)
			}
			if fb.calls.Load() != 1 {
				t.Errorf("calls = %d, want 1", fb.calls.Load())
			}
		})
	}
}

func TestClient_EmptyResponse(t *testing.T) {
	c := &Client{provider: "fake", retry: fastRetry(), backend: emptyBackend{}}
	if _, err := c.Generate(context.Background(), "", "", nil); !errors.Is(err, ErrEmptyResponse) {
		t.Errorf("err = %v, want ErrEmptyResponse", err)
	}
}

type emptyBackend struct{}

func (emptyBackend) complete(context.Context, request) (*completion, error) {
	return &completion{}, nil
}

func TestWithRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := withRetry(ctx, "fake", RetryConfig{InitBackoff: time.Hour}, func() error {
		return errors.New("503")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestRetryConfig_Defaults(t *testing.T) {
	maxRetries, initBackoff, maxBackoff := RetryConfig{}.effective()
	if maxRetries != 5 || initBackoff != time.Second || maxBackoff != 60*time.Second {
		t.Errorf("defaults = %d, %v, %v", maxRetries, initBackoff, maxBackoff)
	}
}

func TestErrorClassifiers(t *testing.T) {
	tests := []struct {
		err       string
		retryable bool
		billing   bool
	}{
		{"rate limit exceeded", true, false},
		{"HTTP 502 bad gateway", true, false},
		{"gateway timeout", true, false},
		{"insufficient credits", false, true},
		{"invalid api key", false, false},
	}
	for _, tt := range tests {
		err := errors.New(tt.err)
		if isRetryableError(err) != tt.retryable {
			t.Errorf("isRetryableError(%q) = %v", tt.err, !tt.retryable)
		}
		if isBillingError(err) != tt.billing {
			t.Errorf("isBillingError(%q) = %v", tt.err, !tt.billing)
		}
	}
	if isRetryableError(nil) || isBillingError(nil) {
		t.Error("nil classified as error")
	}
}

func TestRenderPrompt(t *testing.T) {
	if got := RenderPrompt("hello", nil); got != "hello" {
		t.Errorf("no context: %q", got)
	}
	got := RenderPrompt("plan q3", map[string]interface{}{"team": "eng", "budget": 10})
	want := "plan q3\n\nContext:\n- budget: 10\n- team: eng"
	if got != want {
		t.Errorf("RenderPrompt = %q, want %q", got, want)
	}
}

func TestInferProviderFromModel(t *testing.T) {
	tests := map[string]string{
		"claude-sonnet-4":  "anthropic",
		"gpt-4o":           "openai",
		"o3-mini":          "openai",
		"gemini-2.0-flash": "google",
		"llama-3":          "",
	}
	for model, want := range tests {
		if got := InferProviderFromModel(model); got != want {
			t.Errorf("InferProviderFromModel(%q) = %q, want %q", model, got, want)
		}
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"echo default", Config{}, false},
		{"echo explicit", Config{Provider: "echo"}, false},
		{"anthropic", Config{Provider: "anthropic", Model: "claude-sonnet-4", APIKey: "k", MaxTokens: 1024}, false},
		{"inferred openai", Config{Model: "gpt-4o", APIKey: "k", MaxTokens: 1024}, false},
		{"google", Config{Provider: "google", Model: "gemini-2.0-flash", APIKey: "k", MaxTokens: 1024}, false},
		{"missing key", Config{Provider: "anthropic", Model: "claude-sonnet-4", MaxTokens: 1024}, true},
		{"missing max tokens", Config{Provider: "openai", Model: "gpt-4o", APIKey: "k"}, true},
		{"uninferrable model", Config{Model: "llama-3"}, true},
		{"unknown provider", Config{Provider: "carrier-pigeon"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := New(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if c, ok := g.(*Client); ok {
				c.Close()
			}
		})
	}
}

func TestOpenAI_MockServer(t *testing.T) {
	var gotBody map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&gotBody)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":      "cmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "gpt-4o",
			"choices": []map[string]interface{}{{
				"index":         0,
				"message":       map[string]interface{}{"role": "assistant", "content": "Budget approved."},
				"finish_reason": "stop",
			}},
			"usage": map[string]interface{}{"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15},
		})
	}))
	defer server.Close()

	g, err := NewOpenAI(Config{Model: "gpt-4o", APIKey: "k", MaxTokens: 256, BaseURL: server.URL + "/", Retry: fastRetry()})
	if err != nil {
		t.Fatal(err)
	}
	got, err := g.Generate(context.Background(), "You are the CFO.", "Approve the budget", map[string]interface{}{"amount": 5})
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	if got != "Budget approved." {
		t.Errorf("Generate = %q", got)
	}

	msgs, _ := gotBody["messages"].([]interface{})
	if len(msgs) != 2 {
		t.Fatalf("messages = %v", gotBody["messages"])
	}
	user, _ := msgs[1].(map[string]interface{})
	if content, _ := user["content"].(string); !strings.Contains(content, "- amount: 5") {
		t.Errorf("user content = %v", user["content"])
	}
}

func TestEcho(t *testing.T) {
	e := NewEcho("")
	got, err := e.Generate(context.Background(), "sys", "  review PR 12 \nmore detail", nil)
	if err != nil || got != "ack: review PR 12" {
		t.Errorf("Echo = %q, %v", got, err)
	}
}

func TestMock(t *testing.T) {
	m := NewMock()
	if got, _ := m.Generate(context.Background(), "s", "u", nil); got != "mock response" {
		t.Errorf("default response = %q", got)
	}
	m.SetResponse("custom")
	if got, _ := m.Generate(context.Background(), "s", "u2", nil); got != "custom" {
		t.Errorf("response = %q", got)
	}
	m.SetError(errors.New("boom"))
	if _, err := m.Generate(context.Background(), "s", "u3", nil); err == nil {
		t.Error("expected error")
	}
	calls := m.Calls()
	if len(calls) != 3 || calls[1].UserMessage != "u2" {
		t.Errorf("calls = %+v", calls)
	}
}
