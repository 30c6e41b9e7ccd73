package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGeminiGeneratorSendsSafetySettingsAndKeyHeader(t *testing.T) {
	var got geminiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models/gemini-test:generateContent" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("key") != "" {
			t.Errorf("api key must not be sent in the query string")
		}
		if r.Header.Get("x-goog-api-key") != "g-key" {
			t.Errorf("missing api key header")
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"{\"title\":"},{"text":"\"T\"}"}]},"finishReason":"STOP"}]}`))
	}))
	defer srv.Close()

	client, err := NewGeminiClient("g-key", WithGeminiBaseURL(srv.URL+"/"))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	text, err := NewGeminiGenerator(client, "models/gemini-test", true).GenerateText(context.Background(), "sys", "user")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if text != `{"title":"T"}` {
		t.Fatalf("parts should be joined, got %q", text)
	}
	if len(got.SafetySettings) != len(childSafetySettings) {
		t.Fatalf("expected safety settings, got %+v", got.SafetySettings)
	}
	if got.GenerationConfig == nil || got.GenerationConfig.ResponseMimeType != "application/json" {
		t.Fatalf("expected json response mime type")
	}
	if got.SystemInstruction == nil || got.SystemInstruction.Parts[0].Text != "sys" {
		t.Fatalf("expected system instruction")
	}
}

func TestGeminiGeneratorFailures(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		malformed bool
	}{
		{"blocked prompt", http.StatusOK, `{"promptFeedback":{"blockReason":"SAFETY"}}`, true},
		{"safety finish", http.StatusOK, `{"candidates":[{"content":{"parts":[]},"finishReason":"SAFETY"}]}`, true},
		{"no candidates", http.StatusOK, `{"candidates":[]}`, true},
		{"blank text", http.StatusOK, `{"candidates":[{"content":{"parts":[{"text":"  "}]}}]}`, true},
		{"bad json", http.StatusOK, `{`, true},
		{"api error", http.StatusTooManyRequests, `{"error":{"message":"quota"}}`, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()
			client, err := NewGeminiClient("k", WithGeminiBaseURL(srv.URL))
			if err != nil {
				t.Fatalf("new client: %v", err)
			}
			_, err = NewGeminiGenerator(client, "m", false).GenerateText(context.Background(), "", "hi")
			if err == nil {
				t.Fatalf("expected error")
			}
			if got := errors.Is(err, ErrMalformedResponse); got != tc.malformed {
				t.Fatalf("malformed = %v, want %v (%v)", got, tc.malformed, err)
			}
		})
	}
}

func TestNewGeminiClientRequiresKey(t *testing.T) {
	if _, err := NewGeminiClient("  "); err == nil {
		t.Fatalf("expected missing key error")
	}
}
