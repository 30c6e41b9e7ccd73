package ai

import (
	"context"
	"fmt"
	"strings"
)

// OpenAICompatGenerator calls an OpenAI-compatible /chat/completions endpoint.
type OpenAICompatGenerator struct {
	client          *OpenAICompatClient
	model           string
	reasoningEffort string
	jsonMode        bool
}

// OpenAICompatOption customizes an OpenAICompatGenerator.
type OpenAICompatOption func(*OpenAICompatGenerator)

// WithReasoningEffort forwards reasoning_effort ("low", "medium", "high") to
// models that support it.
func WithReasoningEffort(effort string) OpenAICompatOption {
	return func(g *OpenAICompatGenerator) {
		g.reasoningEffort = strings.TrimSpace(effort)
	}
}

// WithJSONMode asks the endpoint for a JSON object reply.
func WithJSONMode() OpenAICompatOption {
	return func(g *OpenAICompatGenerator) {
		g.jsonMode = true
	}
}

// NewOpenAICompatGenerator builds an OpenAI-compatible TextGenerator.
func NewOpenAICompatGenerator(client *OpenAICompatClient, model string, opts ...OpenAICompatOption) *OpenAICompatGenerator {
	g := &OpenAICompatGenerator{client: client, model: strings.TrimSpace(model)}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// GenerateText implements TextGenerator using the OpenAI chat completions API.
func (g *OpenAICompatGenerator) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if g.model == "" {
		return "", fmt.Errorf("openai-compat generation model required")
	}
	messages := make([]oaiMessage, 0, 2)
	if strings.TrimSpace(systemPrompt) != "" {
		messages = append(messages, oaiMessage{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, oaiMessage{Role: "user", Content: userPrompt})

	reqBody := oaiChatRequest{
		Model:           g.model,
		Messages:        messages,
		ReasoningEffort: g.reasoningEffort,
	}
	if g.jsonMode {
		reqBody.ResponseFormat = &oaiResponseFormat{Type: "json_object"}
	}

	var chatResp oaiChatResponse
	if err := g.client.doJSON(ctx, "/chat/completions", reqBody, &chatResp); err != nil {
		return "", err
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("openai-compat: no choices: %w", ErrMalformedResponse)
	}
	text := strings.TrimSpace(chatResp.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("openai-compat: empty content: %w", ErrMalformedResponse)
	}
	return text, nil
}
