package ai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOpenAICompatGeneratorSendsJSONModeAndEffort(t *testing.T) {
	var got oaiChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("missing bearer token")
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"  {\"title\":\"T\"}  "}}]}`))
	}))
	defer srv.Close()

	gen := NewOpenAICompatGenerator(NewOpenAICompatClient(srv.URL+"/v1/", "sk-test"), "gpt-test",
		WithJSONMode(), WithReasoningEffort("low"))
	text, err := gen.GenerateText(context.Background(), "sys", "user")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if text != `{"title":"T"}` {
		t.Fatalf("unexpected text %q", text)
	}
	if got.Model != "gpt-test" || got.ReasoningEffort != "low" {
		t.Fatalf("unexpected request %+v", got)
	}
	if got.ResponseFormat == nil || got.ResponseFormat.Type != "json_object" {
		t.Fatalf("expected json_object response format")
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" {
		t.Fatalf("unexpected messages %+v", got.Messages)
	}
}

func TestOpenAICompatGeneratorEmptyChoicesIsMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	gen := NewOpenAICompatGenerator(NewOpenAICompatClient(srv.URL, ""), "m")
	if _, err := gen.GenerateText(context.Background(), "", "hi"); !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("expected ErrMalformedResponse, got %v", err)
	}
}

func TestOpenAICompatGeneratorAPIErrorIsNotMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down"}}`))
	}))
	defer srv.Close()

	gen := NewOpenAICompatGenerator(NewOpenAICompatClient(srv.URL, ""), "m")
	_, err := gen.GenerateText(context.Background(), "", "hi")
	if err == nil || errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if err.Error() != "openai-compat api error: slow down" {
		t.Fatalf("unexpected error %q", err.Error())
	}
}

func TestOpenAIImageGeneratorDecodesBase64(t *testing.T) {
	payload := []byte("\x89PNG fake")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/images/generations" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req oaiImageRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.ResponseFormat != "b64_json" || req.Size != "1024x1024" || req.N != 1 {
			t.Errorf("unexpected request %+v", req)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]string{{"b64_json": base64.StdEncoding.EncodeToString(payload)}},
		})
	}))
	defer srv.Close()

	gen := NewOpenAIImageGenerator(NewOpenAICompatClient(srv.URL, ""), "img-model")
	data, err := gen.GenerateImage(context.Background(), "a fox", "1024x1024")
	if err != nil {
		t.Fatalf("generate image: %v", err)
	}
	if string(data) != string(payload) {
		t.Fatalf("unexpected bytes %q", data)
	}
}

func TestOpenAIImageGeneratorMissingDataIsMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	gen := NewOpenAIImageGenerator(NewOpenAICompatClient(srv.URL, ""), "img-model")
	if _, err := gen.GenerateImage(context.Background(), "a fox", ""); !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("expected ErrMalformedResponse, got %v", err)
	}
}

func TestOpenAISpeechGeneratorReturnsAudio(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req oaiSpeechRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Voice != "alloy" || req.Input != "hello" {
			t.Errorf("unexpected request %+v", req)
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("ID3audio"))
	}))
	defer srv.Close()

	gen := NewOpenAISpeechGenerator(NewOpenAICompatClient(srv.URL, ""), "tts-model")
	speech, err := gen.GenerateSpeech(context.Background(), "hello", "alloy")
	if err != nil {
		t.Fatalf("generate speech: %v", err)
	}
	if string(speech.Audio) != "ID3audio" || speech.ContentType != "audio/mpeg" {
		t.Fatalf("unexpected speech %+v", speech)
	}
}

func TestDecodeJSONReply(t *testing.T) {
	tests := []struct {
		name    string
		reply   string
		want    string
		wantErr bool
	}{
		{name: "plain", reply: `{"title":"A"}`, want: "A"},
		{name: "fenced", reply: "```json\n{\"title\":\"B\"}\n```", want: "B"},
		{name: "chatter", reply: `Sure! {"title":"C"} Enjoy.`, want: "C"},
		{name: "not json", reply: "no braces here", wantErr: true},
		{name: "broken", reply: `{"title":}`, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var out struct {
				Title string `json:"title"`
			}
			err := DecodeJSONReply(tc.reply, &out)
			if tc.wantErr {
				if !errors.Is(err, ErrMalformedResponse) {
					t.Fatalf("expected ErrMalformedResponse, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if out.Title != tc.want {
				t.Fatalf("title = %q, want %q", out.Title, tc.want)
			}
		})
	}
}
