package ai

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
)

const (
	defaultSpeechFormat      = "mp3"
	defaultSpeechContentType = "audio/mpeg"
)

// OpenAIImageGenerator calls /images/generations and returns decoded bytes.
type OpenAIImageGenerator struct {
	client *OpenAICompatClient
	model  string
}

// NewOpenAIImageGenerator builds an ImageGenerator for the given model.
func NewOpenAIImageGenerator(client *OpenAICompatClient, model string) *OpenAIImageGenerator {
	return &OpenAIImageGenerator{client: client, model: strings.TrimSpace(model)}
}

// GenerateImage implements ImageGenerator.
func (g *OpenAIImageGenerator) GenerateImage(ctx context.Context, prompt, size string) ([]byte, error) {
	if g.model == "" {
		return nil, fmt.Errorf("openai-compat image model required")
	}
	reqBody := oaiImageRequest{
		Model:          g.model,
		Prompt:         prompt,
		N:              1,
		Size:           size,
		ResponseFormat: "b64_json",
	}
	var resp oaiImageResponse
	if err := g.client.doJSON(ctx, "/images/generations", reqBody, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return nil, fmt.Errorf("openai-compat: image missing: %w", ErrMalformedResponse)
	}
	data, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return nil, fmt.Errorf("openai-compat: image payload: %w: %v", ErrMalformedResponse, err)
	}
	return data, nil
}

// OpenAISpeechGenerator calls /audio/speech.
type OpenAISpeechGenerator struct {
	client *OpenAICompatClient
	model  string
}

// NewOpenAISpeechGenerator builds a SpeechGenerator for the given model.
func NewOpenAISpeechGenerator(client *OpenAICompatClient, model string) *OpenAISpeechGenerator {
	return &OpenAISpeechGenerator{client: client, model: strings.TrimSpace(model)}
}

// GenerateSpeech implements SpeechGenerator.
func (g *OpenAISpeechGenerator) GenerateSpeech(ctx context.Context, text, voice string) (Speech, error) {
	if g.model == "" {
		return Speech{}, fmt.Errorf("openai-compat speech model required")
	}
	reqBody := oaiSpeechRequest{
		Model:          g.model,
		Input:          text,
		Voice:          voice,
		ResponseFormat: defaultSpeechFormat,
	}
	data, contentType, err := g.client.doRaw(ctx, "/audio/speech", reqBody)
	if err != nil {
		return Speech{}, err
	}
	if len(data) == 0 {
		return Speech{}, fmt.Errorf("openai-compat: empty audio: %w", ErrMalformedResponse)
	}
	if contentType == "" || strings.HasPrefix(contentType, "application/json") {
		contentType = defaultSpeechContentType
	}
	return Speech{Audio: data, ContentType: contentType}, nil
}
