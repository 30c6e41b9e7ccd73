package ai

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DecodeJSONReply unmarshals a model reply that should hold one JSON object.
// Markdown code fences and chatter around the object are tolerated.
func DecodeJSONReply(reply string, out any) error {
	text := strings.TrimSpace(reply)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return fmt.Errorf("reply is not a JSON object: %w", ErrMalformedResponse)
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), out); err != nil {
		return fmt.Errorf("decode reply: %w: %v", ErrMalformedResponse, err)
	}
	return nil
}
