package ai

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/genai"
)

// GeminiClient is the second AIQuerier backend for the content classifier
// (C15), used in place of the Anthropic client when configuration selects
// the "gemini" provider.
type GeminiClient struct {
	client  *genai.Client
	model   string
	logger  *slog.Logger
	enabled bool
}

// NewGeminiClient constructs a Gemini-backed querier. An empty apiKey
// produces a disabled client whose IsAvailable reports false rather than
// erroring; a classifier target built on it then fails each text payload
// with "backend unavailable" without querying.
func NewGeminiClient(apiKey string, model string) (*GeminiClient, error) {
	logger := slog.Default().With("component", "gemini")

	if apiKey == "" {
		logger.Warn("gemini API key not configured, classifier backend disabled")
		return &GeminiClient{enabled: false, logger: logger}, nil
	}

	if model == "" {
		model = "gemini-2.5-flash"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: failed to create client: %w", err)
	}

	return &GeminiClient{
		client:  client,
		model:   model,
		enabled: true,
		logger:  logger,
	}, nil
}

// Query sends a single non-streaming generation request, matching the
// AIQuerier contract shared with Client.
func (c *GeminiClient) Query(ctx context.Context, systemPrompt string, messages []Message, maxTokens int) (*Response, error) {
	if !c.IsAvailable() {
		return nil, fmt.Errorf("gemini: client not configured")
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	start := time.Now()

	contents := c.buildContents(messages)
	config := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: systemPrompt}},
		},
		MaxOutputTokens: int32(maxTokens),
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("gemini: query failed: %w", err)
	}

	var content string
	stopReason := ""
	if len(resp.Candidates) > 0 {
		cand := resp.Candidates[0]
		for _, part := range cand.Content.Parts {
			content += part.Text
		}
		stopReason = string(cand.FinishReason)
	}

	tokensIn, tokensOut := 0, 0
	if resp.UsageMetadata != nil {
		tokensIn = int(resp.UsageMetadata.PromptTokenCount)
		tokensOut = int(resp.UsageMetadata.CandidatesTokenCount)
	}

	latency := time.Since(start)
	c.logger.Info("gemini query completed",
		"latency_ms", latency.Milliseconds(),
		"tokens_in", tokensIn,
		"tokens_out", tokensOut,
	)

	return &Response{
		Content:    content,
		TokensUsed: tokensIn + tokensOut,
		LatencyMS:  int(latency.Milliseconds()),
		StopReason: stopReason,
	}, nil
}

func (c *GeminiClient) buildContents(messages []Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(messages))
	for _, msg := range messages {
		role := "user"
		if msg.Role == "assistant" {
			role = "model"
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: msg.Content}},
		})
	}
	return contents
}

func (c *GeminiClient) IsAvailable() bool {
	return c != nil && c.enabled && c.client != nil
}

func (c *GeminiClient) Close() {
}
