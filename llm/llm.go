// Package llm provides the text-generation collaborator agents use to
// produce message content.
package llm

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Generator turns a prompt into text.
type Generator interface {
	Generate(ctx context.Context, systemPrompt, userMessage string, promptContext map[string]interface{}) (string, error)
}

// Config selects and configures a generator.
type Config struct {
	Provider  string      `toml:"provider"` // anthropic, openai, google, echo
	Model     string      `toml:"model"`
	APIKey    string      `toml:"-"`
	MaxTokens int         `toml:"max_tokens"`
	BaseURL   string      `toml:"base_url"` // custom endpoint (proxies, compatible servers)
	Retry     RetryConfig `toml:"retry"`

	// RequestsPerMinute caps calls across all agents. Zero is unlimited.
	RequestsPerMinute int `toml:"requests_per_minute"`
}

// RetryConfig holds retry settings for generation calls.
type RetryConfig struct {
	MaxRetries  int           `toml:"max_retries"`  // default 5
	InitBackoff time.Duration `toml:"init_backoff"` // default 1s
	MaxBackoff  time.Duration `toml:"max_backoff"`  // default 60s
}

// Validate validates the configuration for a remote provider.
func (c *Config) Validate() error {
	if c.Model == "" {
		return fmt.Errorf("model is required for %s", c.Provider)
	}
	if c.APIKey == "" {
		return fmt.Errorf("api_key is required for %s", c.Provider)
	}
	if c.MaxTokens <= 0 {
		return fmt.Errorf("max_tokens is required for %s", c.Provider)
	}
	return nil
}

// New creates the generator named by cfg.Provider. An empty provider is
// inferred from the model name, and falls back to Echo when there is no
// model either.
func New(cfg Config) (Generator, error) {
	if cfg.Provider == "" && cfg.Model != "" {
		cfg.Provider = InferProviderFromModel(cfg.Model)
		if cfg.Provider == "" {
			return nil, fmt.Errorf("cannot determine provider for model %q; set provider explicitly", cfg.Model)
		}
	}

	var (
		gen Generator
		err error
	)
	switch cfg.Provider {
	case "", "echo":
		return NewEcho(""), nil
	case "anthropic":
		gen, err = NewAnthropic(cfg)
	case "openai":
		gen, err = NewOpenAI(cfg)
	case "google":
		gen, err = NewGoogle(cfg)
	default:
		return nil, fmt.Errorf("unknown provider: %s", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return NewLimited(gen, cfg.RequestsPerMinute, 1), nil
}

// InferProviderFromModel returns the provider name based on model name
// patterns, or "" when nothing matches.
func InferProviderFromModel(model string) string {
	model = strings.ToLower(model)

	switch {
	case strings.HasPrefix(model, "claude"):
		return "anthropic"
	case strings.HasPrefix(model, "gpt-"),
		strings.HasPrefix(model, "o1"),
		strings.HasPrefix(model, "o3"),
		strings.HasPrefix(model, "chatgpt"):
		return "openai"
	case strings.HasPrefix(model, "gemini"),
		strings.HasPrefix(model, "gemma"):
		return "google"
	}
	return ""
}

// RenderPrompt appends context to the user message as sorted key: value
// lines. Empty context leaves the message untouched.
func RenderPrompt(userMessage string, promptContext map[string]interface{}) string {
	if len(promptContext) == 0 {
		return userMessage
	}
	keys := make([]string, 0, len(promptContext))
	for k := range promptContext {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(userMessage)
	b.WriteString("\n\nContext:\n")
	for _, k := range keys {
		fmt.Fprintf(&b, "- %s: %v\n", k, promptContext[k])
	}
	return strings.TrimRight(b.String(), "\n")
}
