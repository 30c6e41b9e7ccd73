package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOllamaGeneratorRequestsJSONFormat(t *testing.T) {
	var got ollamaChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"{\"suggestions\":[]}"}}`))
	}))
	defer srv.Close()

	text, err := NewOllamaGenerator(NewOllamaClient(srv.URL+"/"), " llama3 ", true).GenerateText(context.Background(), "sys", "user")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if text != `{"suggestions":[]}` {
		t.Fatalf("unexpected text %q", text)
	}
	if got.Model != "llama3" || got.Format != "json" || got.Stream {
		t.Fatalf("unexpected request %+v", got)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[1].Content != "user" {
		t.Fatalf("unexpected messages %+v", got.Messages)
	}
}

func TestOllamaGeneratorFailures(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		malformed bool
	}{
		{"empty content", http.StatusOK, `{"message":{"content":""}}`, true},
		{"bad json", http.StatusOK, `not json`, true},
		{"unknown model", http.StatusNotFound, `{"error":"model not found"}`, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()
			_, err := NewOllamaGenerator(NewOllamaClient(srv.URL), "llama3", false).GenerateText(context.Background(), "", "hi")
			if err == nil {
				t.Fatalf("expected error")
			}
			if got := errors.Is(err, ErrMalformedResponse); got != tc.malformed {
				t.Fatalf("malformed = %v, want %v (%v)", got, tc.malformed, err)
			}
		})
	}
	if _, err := NewOllamaGenerator(NewOllamaClient(""), "", false).GenerateText(context.Background(), "", "hi"); err == nil {
		t.Fatalf("expected missing model error")
	}
}
