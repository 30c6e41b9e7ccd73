package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"taletinker/pkg/ai"
	"taletinker/pkg/domain"
	"taletinker/pkg/store"
)

func TestEndToEndStoryLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	created, err := env.app.CreateStory(ctx, alice, CreateStoryInput{
		Lines: []string{"Once upon a time"},
		Params: &domain.StoryParams{
			Age:      5,
			Themes:   []domain.Theme{domain.ThemeFamily},
			Realism:  3,
			Didactic: 3,
			Length:   1,
		},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.IsPublished {
		t.Fatalf("new stories start unpublished")
	}

	img, err := env.app.GenerateImage(ctx, alice, created.UUID)
	if err != nil {
		t.Fatalf("image: %v", err)
	}
	if !img.IsPublished {
		t.Fatalf("first image should publish the story")
	}
	if img.Image.ThumbnailWidth > 16 || img.Image.ThumbnailHeight > 16 {
		t.Fatalf("thumbnail exceeds bound: %dx%d", img.Image.ThumbnailWidth, img.Image.ThumbnailHeight)
	}
	if img.Image.Width != 64 || img.Image.Height != 48 || img.Image.ThumbnailWidth != 16 || img.Image.ThumbnailHeight != 12 {
		t.Fatalf("unexpected image sizes %+v", img.Image)
	}
	if env.images.prompt != "Once upon a time" || env.images.size != "1024x1024" {
		t.Fatalf("unexpected image request %q %q", env.images.prompt, env.images.size)
	}

	view, err := env.app.GetStory(ctx, anon, created.UUID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !view.IsPublished || len(view.Images) != 1 {
		t.Fatalf("expected published story with one image, got %+v", view)
	}

	audio, err := env.app.GenerateAudio(ctx, alice, created.UUID, "", "")
	if err != nil {
		t.Fatalf("audio: %v", err)
	}
	if audio.Language != domain.LanguageEnglish || audio.Voice != "alloy" {
		t.Fatalf("unexpected audio %+v", audio)
	}
	if got := env.speech.texts[0]; got != "Once upon a time\n\nOnce upon a time" {
		t.Fatalf("narration should read title and body, got %q", got)
	}

	_, err = env.app.GenerateAudio(ctx, alice, created.UUID, "", "")
	expectKind(t, err, KindConflict)
	if len(env.speech.texts) != 1 {
		t.Fatalf("conflict must be detected before synthesis")
	}
}

func TestGenerateImageAlwaysAddsNewImage(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	created, err := env.app.CreateStory(ctx, alice, CreateStoryInput{Lines: foxLines})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := env.app.GenerateImage(ctx, bob, created.UUID); err != nil {
			t.Fatalf("image %d: %v", i, err)
		}
	}
	images, err := env.store.ListImages(ctx, []int64{created.ID})
	if err != nil {
		t.Fatalf("list images: %v", err)
	}
	if len(images[created.ID]) != 2 {
		t.Fatalf("expected 2 images, got %d", len(images[created.ID]))
	}
	if env.blobs.count() != 4 {
		t.Fatalf("expected image and thumbnail blobs, got %d", env.blobs.count())
	}
}

func TestGenerateImageFailures(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	created, err := env.app.CreateStory(ctx, alice, CreateStoryInput{Lines: foxLines})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err = env.app.GenerateImage(ctx, anon, created.UUID)
	expectKind(t, err, KindUnauthorized)
	_, err = env.app.GenerateImage(ctx, alice, "missing")
	expectKind(t, err, KindNotFound)

	env.images.err = errors.New("connection refused")
	_, err = env.app.GenerateImage(ctx, alice, created.UUID)
	expectKind(t, err, KindGeneration)
	if err.(*Error).Reason != ReasonTransport {
		t.Fatalf("expected transport reason, got %+v", err)
	}

	env.images.err = nil
	env.images.data = []byte("not an image")
	_, err = env.app.GenerateImage(ctx, alice, created.UUID)
	expectKind(t, err, KindGeneration)
	if err.(*Error).Reason != ReasonMalformed {
		t.Fatalf("expected malformed reason, got %+v", err)
	}

	story, _, _ := env.store.GetStoryByID(ctx, created.ID)
	if story.IsPublished || env.blobs.count() != 0 {
		t.Fatalf("failed lanes must leave nothing behind")
	}
}

func TestGenerateStoryPersistsFlatStory(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.text.reply("```json\n{\"title\":\"<b>The Kind Robot</b>\",\"text\":\"<p>Robo helped a bird.</p><p>They became friends.</p>\"}\n```")

	view, err := env.app.GenerateStory(ctx, bob, GenerateStoryInput{
		Params: domain.StoryParams{
			Age:        6,
			Realism:    4,
			Didactic:   2,
			Length:     3,
			Themes:     []domain.Theme{"Friendship", "technology"},
			Characters: "Robo the robot",
			Topic:      "helping others",
			Language:   "fr",
		},
		Instructions: "Keep it gentle.",
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if view.Variant != domain.VariantFlat || view.IsPublished || !view.IsMine {
		t.Fatalf("unexpected story %+v", view)
	}
	if view.Title != "The Kind Robot" || len(view.Lines) != 1 || view.Lines[0].IsManual {
		t.Fatalf("unexpected title or lines: %q %+v", view.Title, view.Lines)
	}
	if view.Lines[0].Text != "Robo helped a bird.\n\nThey became friends." {
		t.Fatalf("markup not stripped: %q", view.Lines[0].Text)
	}
	if view.OriginalLanguage != domain.LanguageFrench || len(view.Texts) != 1 || view.Texts[0].Language != domain.LanguageFrench {
		t.Fatalf("expected french original text, got %+v", view.Texts)
	}

	prompt := env.text.calls[0]
	for _, want := range []string{
		"Write a medium children's story suitable for a 6-year-old child.",
		"Balance realism vs fantasy at 4/5.",
		"Balance didactic vs fun at 2/5.",
		"Themes: friendship, technology.",
		"Characters: Robo the robot.",
		"Topic: helping others.",
		"Keep it gentle.",
		"(language code fr)",
		"Return the result strictly as JSON with keys 'title' and 'text'.",
	} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestStoryPromptIsDeterministic(t *testing.T) {
	a, err := domain.StoryParams{Themes: []domain.Theme{"nature", "animals", "nature"}}.Normalize()
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	b, err := domain.StoryParams{Themes: []domain.Theme{"Animals", "nature"}}.Normalize()
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if storyPrompt(a, "") != storyPrompt(b, "") {
		t.Fatalf("equal parameters should render equal prompts")
	}
	if !strings.HasPrefix(storyPrompt(a, ""), "Write a short children's story suitable for a 5-year-old child.") {
		t.Fatalf("unexpected defaults: %s", storyPrompt(a, ""))
	}
}

func TestGenerateStoryFailuresPersistNothing(t *testing.T) {
	tests := []struct {
		name   string
		fn     textFunc
		kind   Kind
		reason string
	}{
		{
			name:   "invalid json",
			fn:     func(context.Context, string, string) (string, error) { return "Once upon a time...", nil },
			kind:   KindGeneration,
			reason: ReasonMalformed,
		},
		{
			name:   "missing text",
			fn:     func(context.Context, string, string) (string, error) { return `{"title":"Only a title"}`, nil },
			kind:   KindGeneration,
			reason: ReasonMalformed,
		},
		{
			name:   "service down",
			fn:     func(context.Context, string, string) (string, error) { return "", errors.New("503 from upstream") },
			kind:   KindGeneration,
			reason: ReasonTransport,
		},
		{
			name: "timeout",
			fn: func(ctx context.Context, _, _ string) (string, error) {
				<-ctx.Done()
				return "", ctx.Err()
			},
			kind:   KindGeneration,
			reason: ReasonTransport,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t, func(c *Config) { c.GenerationTimeout = 20 * time.Millisecond })
			env.text.fn = tc.fn
			_, err := env.app.GenerateStory(context.Background(), alice, GenerateStoryInput{})
			expectKind(t, err, tc.kind)
			if got := err.(*Error).Reason; got != tc.reason {
				t.Fatalf("reason = %q, want %q", got, tc.reason)
			}
			if n, _ := env.store.CountLines(context.Background()); n != 0 {
				t.Fatalf("failed generation persisted %d lines", n)
			}
			stories, _ := env.store.ListStories(context.Background(), store.StoryQuery{})
			if len(stories) != 0 {
				t.Fatalf("failed generation persisted %d stories", len(stories))
			}
		})
	}
}

func TestGenerateStoryRejectsInvalidParams(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.app.GenerateStory(context.Background(), alice, GenerateStoryInput{Params: domain.StoryParams{Realism: 9}})
	expectKind(t, err, KindValidation)
	if env.text.callCount() != 0 {
		t.Fatalf("validation must happen before any generation call")
	}
}

func TestTranslateReusesExistingText(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	created, err := env.app.CreateStory(ctx, alice, CreateStoryInput{Lines: foxLines, Title: "The Fox"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	env.text.reply(`{"title":"El Zorro","text":"Un zorro se despertó."}`)

	first, err := env.app.Translate(ctx, bob, created.UUID, "ES")
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if first.Language != domain.LanguageSpanish || first.Title != "El Zorro" {
		t.Fatalf("unexpected translation %+v", first)
	}
	if !strings.Contains(env.text.calls[0], "from English to Spanish") || !strings.Contains(env.text.calls[0], "Title: The Fox") {
		t.Fatalf("unexpected translation prompt:\n%s", env.text.calls[0])
	}

	env.text.reply(`{"title":"Otro","text":"Otro texto."}`)
	second, err := env.app.Translate(ctx, bob, created.UUID, "es")
	if err != nil {
		t.Fatalf("translate again: %v", err)
	}
	if second != first || env.text.callCount() != 1 {
		t.Fatalf("existing translation should be returned unchanged without a model call")
	}

	original, err := env.app.Translate(ctx, bob, created.UUID, "en")
	if err != nil || original.Title != "The Fox" {
		t.Fatalf("original language should be served from storage: %+v %v", original, err)
	}
}

func TestTranslateFallsBackToSourceFields(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	created, err := env.app.CreateStory(ctx, alice, CreateStoryInput{Lines: foxLines, Title: "The Fox"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	env.text.reply(`{"text":"Ein Fuchs wachte auf."}`)
	got, err := env.app.Translate(ctx, alice, created.UUID, "de")
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if got.Title != "The Fox" || got.Text != "Ein Fuchs wachte auf." {
		t.Fatalf("unexpected fallback %+v", got)
	}

	_, err = env.app.Translate(ctx, alice, created.UUID, "xx")
	expectKind(t, err, KindValidation)
	_, err = env.app.Translate(ctx, anon, created.UUID, "fr")
	expectKind(t, err, KindUnauthorized)

	env.text.reply("not json at all")
	_, err = env.app.Translate(ctx, alice, created.UUID, "fr")
	expectKind(t, err, KindGeneration)
	if _, ok, _ := env.store.GetText(ctx, created.ID, domain.LanguageFrench); ok {
		t.Fatalf("failed translation must not persist a row")
	}
}

func TestGenerateAudioTranslatesExplicitLanguage(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	created, err := env.app.CreateStory(ctx, alice, CreateStoryInput{Lines: foxLines, Title: "The Fox"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	env.text.reply(`{"title":"Le Renard","text":"Un renard s'est réveillé."}`)

	audio, err := env.app.GenerateAudio(ctx, alice, created.UUID, "fr", "nova")
	if err != nil {
		t.Fatalf("audio: %v", err)
	}
	if audio.Language != domain.LanguageFrench || audio.Voice != "nova" {
		t.Fatalf("unexpected audio %+v", audio)
	}
	if _, ok, _ := env.store.GetText(ctx, created.ID, domain.LanguageFrench); !ok {
		t.Fatalf("audio lane should have materialized the french text")
	}
	if env.speech.texts[0] != "Le Renard\n\nUn renard s'est réveillé." {
		t.Fatalf("narration should use the translation, got %q", env.speech.texts[0])
	}
	if !strings.HasSuffix(audio.URL, ".mp3") {
		t.Fatalf("expected mp3 key, got %s", audio.URL)
	}

	_, err = env.app.GenerateAudio(ctx, alice, created.UUID, "fr", "")
	expectKind(t, err, KindConflict)
	if _, err := env.app.GenerateAudio(ctx, alice, created.UUID, "en", ""); err != nil {
		t.Fatalf("other languages stay available: %v", err)
	}
}

func TestGenerateAudioWithoutText(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	story := domain.Story{UUID: "11111111-1111-1111-1111-111111111111", Variant: domain.VariantFlat, AuthorID: "alice"}
	if err := env.store.CreateStory(ctx, &story); err != nil {
		t.Fatalf("seed story: %v", err)
	}

	_, err := env.app.GenerateAudio(ctx, alice, story.UUID, "", "")
	expectKind(t, err, KindValidation)
	if err.(*Error).Detail != "no story text" {
		t.Fatalf("unexpected detail %q", err.(*Error).Detail)
	}
	_, err = env.app.GenerateAudio(ctx, alice, story.UUID, "es", "")
	expectKind(t, err, KindValidation)
	_, err = env.app.GenerateAudio(ctx, anon, story.UUID, "", "")
	expectKind(t, err, KindUnauthorized)
	_, err = env.app.GenerateAudio(ctx, alice, story.UUID, "klingon", "")
	expectKind(t, err, KindValidation)
}

// blindAudioStore hides existing narrations so the unique row check is the
// one that trips, as when two requests race.
type blindAudioStore struct {
	*store.MemoryStore
}

func (blindAudioStore) GetAudio(context.Context, int64, domain.Language) (domain.StoryAudio, bool, error) {
	return domain.StoryAudio{}, false, nil
}

func TestGenerateAudioRaceRemovesOrphanBlob(t *testing.T) {
	mem := store.NewMemoryStore()
	env := newTestEnv(t, func(c *Config) { c.Store = blindAudioStore{mem} })
	env.store = mem
	ctx := context.Background()
	created, err := env.app.CreateStory(ctx, alice, CreateStoryInput{Lines: foxLines})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.app.GenerateAudio(ctx, alice, created.UUID, "", ""); err != nil {
		t.Fatalf("first audio: %v", err)
	}
	_, err = env.app.GenerateAudio(ctx, alice, created.UUID, "", "")
	expectKind(t, err, KindConflict)
	if env.blobs.count() != 1 || len(env.blobs.deleted) != 1 {
		t.Fatalf("losing writer must delete its blob: %d stored, %v deleted", env.blobs.count(), env.blobs.deleted)
	}
}

func TestGenerateAudioServiceFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	created, err := env.app.CreateStory(ctx, alice, CreateStoryInput{Lines: foxLines})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	env.speech.err = errors.New("upstream 500")
	_, err = env.app.GenerateAudio(ctx, alice, created.UUID, "", "")
	expectKind(t, err, KindGeneration)
	if !errors.Is(err, ErrGeneration) || errors.Is(err, ai.ErrMalformedResponse) {
		t.Fatalf("expected transport generation error, got %v", err)
	}
	audio, _ := env.store.ListAudio(ctx, []int64{created.ID})
	if len(audio[created.ID]) != 0 || env.blobs.count() != 0 {
		t.Fatalf("failed narration must leave nothing behind")
	}
}
