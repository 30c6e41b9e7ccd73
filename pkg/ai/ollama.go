package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const defaultOllamaBaseURL = "http://127.0.0.1:11434"

// OllamaClient calls a local Ollama server.
type OllamaClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewOllamaClient constructs a client; an empty base URL means the local default.
func NewOllamaClient(baseURL string) *OllamaClient {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultOllamaBaseURL
	}
	return &OllamaClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
}

// OllamaGenerator binds an OllamaClient to one model and uses /api/chat.
type OllamaGenerator struct {
	client    *OllamaClient
	model     string
	jsonReply bool
}

// NewOllamaGenerator builds an Ollama-based TextGenerator. jsonReply sets
// format=json on every call.
func NewOllamaGenerator(client *OllamaClient, model string, jsonReply bool) *OllamaGenerator {
	return &OllamaGenerator{client: client, model: strings.TrimSpace(model), jsonReply: jsonReply}
}

// GenerateText implements TextGenerator.
func (g *OllamaGenerator) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if g.model == "" {
		return "", fmt.Errorf("ollama generation model required")
	}
	req := ollamaChatRequest{Model: g.model}
	if strings.TrimSpace(systemPrompt) != "" {
		req.Messages = append(req.Messages, ollamaChatMessage{Role: "system", Content: systemPrompt})
	}
	req.Messages = append(req.Messages, ollamaChatMessage{Role: "user", Content: userPrompt})
	if g.jsonReply {
		req.Format = "json"
	}

	var resp ollamaChatResponse
	if err := g.client.post(ctx, "/api/chat", req, &resp); err != nil {
		return "", fmt.Errorf("ollama generate: %w", err)
	}
	if strings.TrimSpace(resp.Message.Content) == "" {
		return "", fmt.Errorf("empty response from ollama: %w", ErrMalformedResponse)
	}
	return resp.Message.Content, nil
}

func (c *OllamaClient) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		if errResp.Error != "" {
			return fmt.Errorf("ollama api error: %s", errResp.Error)
		}
		return fmt.Errorf("ollama api error: %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("ollama decode: %w: %v", ErrMalformedResponse, err)
	}
	return nil
}

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ollamaChatRequest never streams; replies are read whole.
type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
	Format   string              `json:"format,omitempty"`
}

type ollamaChatResponse struct {
	Message ollamaChatMessage `json:"message"`
}
