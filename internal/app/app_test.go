package app

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"taletinker/pkg/ai"
	"taletinker/pkg/store"
)

type textFunc func(ctx context.Context, system, user string) (string, error)

type fakeText struct {
	mu    sync.Mutex
	fn    textFunc
	calls []string
}

func (f *fakeText) GenerateText(ctx context.Context, system, user string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, user)
	fn := f.fn
	f.mu.Unlock()
	if fn == nil {
		return "", errors.New("no text reply configured")
	}
	return fn(ctx, system, user)
}

func (f *fakeText) reply(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fn = func(context.Context, string, string) (string, error) { return s, nil }
}

func (f *fakeText) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeImages struct {
	w, h   int
	data   []byte
	err    error
	prompt string
	size   string
}

func (f *fakeImages) GenerateImage(_ context.Context, prompt, size string) ([]byte, error) {
	f.prompt, f.size = prompt, size
	if f.err != nil {
		return nil, f.err
	}
	if f.data != nil {
		return f.data, nil
	}
	return pngBytes(f.w, f.h), nil
}

type fakeSpeech struct {
	mu    sync.Mutex
	err   error
	texts []string
	voice string
}

func (f *fakeSpeech) GenerateSpeech(_ context.Context, text, voice string) (ai.Speech, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return ai.Speech{}, f.err
	}
	f.texts = append(f.texts, text)
	f.voice = voice
	return ai.Speech{Audio: []byte("ID3" + text), ContentType: "audio/mpeg"}, nil
}

type memBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	deleted []string
}

func newMemBlobs() *memBlobs {
	return &memBlobs{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *memBlobs) Put(_ context.Context, key string, r io.Reader, _ int64, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	m.types[key] = contentType
	return nil
}

func (m *memBlobs) URL(_ context.Context, key string) (string, error) {
	return "mem://" + key, nil
}

func (m *memBlobs) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	m.deleted = append(m.deleted, key)
	return nil
}

func (m *memBlobs) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

func pngBytes(w, h int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 120, A: 255})
		}
	}
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}

type testEnv struct {
	app    *App
	store  *store.MemoryStore
	blobs  *memBlobs
	text   *fakeText
	images *fakeImages
	speech *fakeSpeech
}

func newTestEnv(t *testing.T, mutate ...func(*Config)) *testEnv {
	t.Helper()
	env := &testEnv{
		store:  store.NewMemoryStore(),
		blobs:  newMemBlobs(),
		text:   &fakeText{},
		images: &fakeImages{w: 64, h: 48},
		speech: &fakeSpeech{},
	}
	cfg := Config{
		Store:             env.store,
		Blobs:             env.blobs,
		Text:              env.text,
		Images:            env.images,
		Speech:            env.speech,
		GenerationTimeout: time.Second,
		ThumbnailMaxSize:  16,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	a, err := New(cfg)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	env.app = a
	return env
}

var (
	alice = Actor{ID: "alice", Email: "alice@example.com"}
	bob   = Actor{ID: "bob", Email: "bobby.tables@school.org", Name: "Bob"}
	anon  = Actor{}
)

func expectKind(t *testing.T, err error, want Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", want)
	}
	if got := KindOf(err); got != want {
		t.Fatalf("expected %s error, got %s (%v)", want, got, err)
	}
}

func TestNewRequiresBlobStore(t *testing.T) {
	_, err := New(Config{Store: store.NewMemoryStore(), Text: &fakeText{}, Images: &fakeImages{}, Speech: &fakeSpeech{}})
	if err == nil || !strings.Contains(err.Error(), "blob store") {
		t.Fatalf("expected blob store error, got %v", err)
	}
}

func TestNewBuildsGeneratorsFromProviderSettings(t *testing.T) {
	_, err := New(Config{Store: store.NewMemoryStore(), Blobs: newMemBlobs(), AIProvider: "openai"})
	if err == nil || !strings.Contains(err.Error(), "text model") {
		t.Fatalf("expected text model error, got %v", err)
	}
	_, err = New(Config{Store: store.NewMemoryStore(), Blobs: newMemBlobs(), AIProvider: "nope", TextModel: "m"})
	if err == nil || !strings.Contains(err.Error(), "unknown ai provider") {
		t.Fatalf("expected provider error, got %v", err)
	}
	a, err := New(Config{
		Store:       store.NewMemoryStore(),
		Blobs:       newMemBlobs(),
		AIProvider:  "openai",
		AIBaseURL:   "http://127.0.0.1:1/v1",
		TextModel:   "gpt-test",
		ImageModel:  "img-test",
		SpeechModel: "tts-test",
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	if a.text == nil || a.images == nil || a.speech == nil {
		t.Fatalf("expected all generators to be built")
	}
	if got := a.Config(); got.MinStoryLines != defaultMinStoryLines || got.AnonSigninLine != defaultAnonSigninLine {
		t.Fatalf("unexpected config %+v", got)
	}
}

func TestErrorKindsMatchSentinels(t *testing.T) {
	err := notFound("Story not found")
	if !errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) {
		t.Fatalf("errors.Is mismatch for %v", err)
	}
	gen := generationError("generate", ai.ErrMalformedResponse)
	var appErr *Error
	if !errors.As(gen, &appErr) || appErr.Reason != ReasonMalformed {
		t.Fatalf("expected malformed generation error, got %v", gen)
	}
	if !errors.Is(gen, ai.ErrMalformedResponse) {
		t.Fatalf("generation error should unwrap to its cause")
	}
	if KindOf(errors.New("boom")) != KindInternal {
		t.Fatalf("foreign errors should be internal")
	}
}

func TestRememberUserUpsertsProfile(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if err := env.app.RememberUser(ctx, anon); err != nil {
		t.Fatalf("anonymous remember: %v", err)
	}
	if err := env.app.RememberUser(ctx, alice); err != nil {
		t.Fatalf("remember: %v", err)
	}
	renamed := alice
	renamed.Name = "Alice"
	if err := env.app.RememberUser(ctx, renamed); err != nil {
		t.Fatalf("remember renamed: %v", err)
	}
	users, err := env.store.GetUsers(ctx, []string{"alice"})
	if err != nil {
		t.Fatalf("get users: %v", err)
	}
	if users["alice"].DisplayName != "Alice" || users["alice"].Email != "alice@example.com" {
		t.Fatalf("unexpected user %+v", users["alice"])
	}
}
