package ai

import (
	"context"
	"errors"
)

// ErrMalformedResponse marks a reply that arrived but could not be used:
// empty, missing fields, or not the requested format.
var ErrMalformedResponse = errors.New("malformed generation response")

// TextGenerator generates text from a system prompt and user prompt.
// All LLM providers (Gemini, Ollama, OpenAI-compatible) implement this interface.
type TextGenerator interface {
	GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// ImageGenerator renders an image for a prompt and returns the encoded bytes.
// size is provider specific, e.g. "1024x1024".
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt, size string) ([]byte, error)
}

// SpeechGenerator narrates text with the given voice.
type SpeechGenerator interface {
	GenerateSpeech(ctx context.Context, text, voice string) (Speech, error)
}

// Speech is synthesized audio and its media type.
type Speech struct {
	Audio       []byte
	ContentType string
}
