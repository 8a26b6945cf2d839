package llm

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

type googleBackend struct {
	client *genai.Client
	model  string
}

// NewGoogle creates a generator using the Google Gemini SDK. Close it to
// release the underlying connection.
func NewGoogle(cfg Config) (*Client, error) {
	cfg.Provider = "google"
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := []option.ClientOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithEndpoint(cfg.BaseURL))
	}
	client, err := genai.NewClient(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create google client: %w", err)
	}

	return &Client{
		provider:  "google",
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		retry:     cfg.Retry,
		backend:   &googleBackend{client: client, model: cfg.Model},
		closer:    client.Close,
	}, nil
}

func (b *googleBackend) complete(ctx context.Context, req request) (*completion, error) {
	// A model handle per call keeps SystemInstruction out of shared state.
	model := b.client.GenerativeModel(b.model)
	maxTokens := int32(req.MaxTokens)
	model.MaxOutputTokens = &maxTokens
	if req.System != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(req.System)},
		}
	}

	resp, err := model.GenerateContent(ctx, genai.Text(req.User))
	if err != nil {
		return nil, err
	}

	out := &completion{Model: b.model}
	if len(resp.Candidates) > 0 {
		candidate := resp.Candidates[0]
		if candidate.FinishReason != 0 {
			out.StopReason = candidate.FinishReason.String()
		}
		if candidate.Content != nil {
			for _, part := range candidate.Content.Parts {
				if text, ok := part.(genai.Text); ok {
					out.Text += string(text)
				}
			}
		}
	}
	if resp.UsageMetadata != nil {
		out.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		out.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return out, nil
}
