package llm

import (
	"context"
	"errors"

	"github.com/vinayprograms/agentorg/telemetry"
)

// ErrEmptyResponse is returned when a provider answers with no text.
var ErrEmptyResponse = errors.New("empty response")

type request struct {
	System    string
	User      string
	MaxTokens int
}

type completion struct {
	Text         string
	Model        string
	StopReason   string
	InputTokens  int
	OutputTokens int
}

// backend is one provider's single-shot completion call.
type backend interface {
	complete(ctx context.Context, req request) (*completion, error)
}

// Client is a Generator backed by a remote provider. It renders context
// into the prompt, retries transient failures and traces each call.
type Client struct {
	provider  string
	model     string
	maxTokens int
	retry     RetryConfig
	backend   backend
	closer    func() error
}

// Provider returns the provider name.
func (c *Client) Provider() string { return c.provider }

// Model returns the configured model.
func (c *Client) Model() string { return c.model }

// Generate implements Generator.
func (c *Client) Generate(ctx context.Context, systemPrompt, userMessage string, promptContext map[string]interface{}) (string, error) {
	tracer := telemetry.GetTracer()
	ctx, span := tracer.StartLLMSpan(ctx, "llm.generate")

	req := request{
		System:    systemPrompt,
		User:      RenderPrompt(userMessage, promptContext),
		MaxTokens: c.maxTokens,
	}

	var resp *completion
	attempts, err := withRetry(ctx, c.provider, c.retry, func() error {
		var err error
		resp, err = c.backend.complete(ctx, req)
		return err
	})
	if err == nil && resp.Text == "" {
		err = ErrEmptyResponse
	}

	opts := telemetry.LLMSpanOptions{
		Model:    c.model,
		Provider: c.provider,
		Attempts: attempts,
		Prompt:   req.User,
	}
	if resp != nil {
		if resp.Model != "" {
			opts.Model = resp.Model
		}
		opts.TokensIn = resp.InputTokens
		opts.TokensOut = resp.OutputTokens
		opts.Response = resp.Text
	}
	tracer.EndLLMSpan(span, opts, err)

	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// Close releases provider resources.
func (c *Client) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer()
}
