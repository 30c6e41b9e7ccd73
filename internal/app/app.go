package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"taletinker/pkg/ai"
	"taletinker/pkg/domain"
	"taletinker/pkg/imaging"
	"taletinker/pkg/storage"
	"taletinker/pkg/store"
)

const (
	defaultGenerationTimeout = 90 * time.Second
	defaultImageSize         = "1024x1024"
	defaultVoice             = "alloy"
	defaultMinStoryLines     = 5
	defaultAnonSigninLine    = 3
	defaultLineMinChars      = 8
	defaultLineMinWords      = 2
	defaultListLimit         = 20
	maxListLimit             = 100
)

// Config holds runtime configuration for the core application. Generators
// may be injected directly; otherwise they are built from the AI settings.
type Config struct {
	DatabaseURL string
	Store       store.Store
	Blobs       storage.ObjectStore
	ListCache   ListCache

	Text   ai.TextGenerator
	Images ai.ImageGenerator
	Speech ai.SpeechGenerator

	AIProvider      string
	AIBaseURL       string
	AIAPIKey        string
	TextModel       string
	ImageModel      string
	SpeechModel     string
	ReasoningEffort string

	GenerationTimeout time.Duration
	ImageSize         string
	ThumbnailMaxSize  int
	DefaultVoice      string

	MinStoryLines  int
	AnonSigninLine int
	LineMinChars   int
	LineMinWords   int
}

// ListCache memoizes encoded story listings. load runs on a miss.
type ListCache interface {
	Fetch(ctx context.Context, key string, load func(ctx context.Context) ([]byte, error)) ([]byte, error)
}

// App is the core application service wiring storage, blobs and generation.
type App struct {
	store  store.Store
	blobs  storage.ObjectStore
	cache  ListCache
	text   ai.TextGenerator
	images ai.ImageGenerator
	speech ai.SpeechGenerator

	generationTimeout time.Duration
	imageSize         string
	thumbnailMaxSize  int
	defaultVoice      string

	minStoryLines  int
	anonSigninLine int
	lineMinChars   int
	lineMinWords   int

	now func() time.Time
}

// New constructs the application.
func New(cfg Config) (*App, error) {
	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}
	if cfg.Blobs == nil {
		return nil, fmt.Errorf("blob store required")
	}
	if err := buildGenerators(&cfg); err != nil {
		return nil, err
	}

	a := &App{
		store:             dataStore,
		blobs:             cfg.Blobs,
		cache:             cfg.ListCache,
		text:              cfg.Text,
		images:            cfg.Images,
		speech:            cfg.Speech,
		generationTimeout: cfg.GenerationTimeout,
		imageSize:         strings.TrimSpace(cfg.ImageSize),
		thumbnailMaxSize:  cfg.ThumbnailMaxSize,
		defaultVoice:      strings.TrimSpace(cfg.DefaultVoice),
		minStoryLines:     cfg.MinStoryLines,
		anonSigninLine:    cfg.AnonSigninLine,
		lineMinChars:      cfg.LineMinChars,
		lineMinWords:      cfg.LineMinWords,
		now:               func() time.Time { return time.Now().UTC() },
	}
	if a.generationTimeout <= 0 {
		a.generationTimeout = defaultGenerationTimeout
	}
	if a.imageSize == "" {
		a.imageSize = defaultImageSize
	}
	if a.thumbnailMaxSize <= 0 {
		a.thumbnailMaxSize = imaging.DefaultThumbnailSize
	}
	if a.defaultVoice == "" {
		a.defaultVoice = defaultVoice
	}
	if a.minStoryLines <= 0 {
		a.minStoryLines = defaultMinStoryLines
	}
	if a.anonSigninLine <= 0 {
		a.anonSigninLine = defaultAnonSigninLine
	}
	if a.lineMinChars <= 0 {
		a.lineMinChars = defaultLineMinChars
	}
	if a.lineMinWords <= 0 {
		a.lineMinWords = defaultLineMinWords
	}
	return a, nil
}

func buildGenerators(cfg *Config) error {
	if cfg.Text != nil && cfg.Images != nil && cfg.Speech != nil {
		return nil
	}
	provider := strings.ToLower(strings.TrimSpace(cfg.AIProvider))
	if provider == "" {
		provider = "openai"
	}
	var compat *ai.OpenAICompatClient
	if cfg.AIBaseURL != "" {
		compat = ai.NewOpenAICompatClient(cfg.AIBaseURL, cfg.AIAPIKey)
	}
	if cfg.Text == nil {
		if strings.TrimSpace(cfg.TextModel) == "" {
			return fmt.Errorf("text model required")
		}
		switch provider {
		case "openai":
			if compat == nil {
				return fmt.Errorf("ai base URL required for provider openai")
			}
			cfg.Text = ai.NewOpenAICompatGenerator(compat, cfg.TextModel,
				ai.WithJSONMode(), ai.WithReasoningEffort(cfg.ReasoningEffort))
		case "gemini":
			gemini, err := ai.NewGeminiClient(cfg.AIAPIKey)
			if err != nil {
				return err
			}
			cfg.Text = ai.NewGeminiGenerator(gemini, cfg.TextModel, true)
		case "ollama":
			cfg.Text = ai.NewOllamaGenerator(ai.NewOllamaClient(cfg.AIBaseURL), cfg.TextModel, true)
		default:
			return fmt.Errorf("unknown ai provider: %s", provider)
		}
	}
	if cfg.Images == nil || cfg.Speech == nil {
		if compat == nil {
			return fmt.Errorf("ai base URL required for image and speech generation")
		}
		if cfg.Images == nil {
			cfg.Images = ai.NewOpenAIImageGenerator(compat, cfg.ImageModel)
		}
		if cfg.Speech == nil {
			cfg.Speech = ai.NewOpenAISpeechGenerator(compat, cfg.SpeechModel)
		}
	}
	return nil
}

// Actor is the caller as resolved by the auth collaborator. A zero Actor is
// anonymous.
type Actor struct {
	ID    string
	Email string
	Name  string
}

// Authenticated reports whether the actor carries an identity.
func (a Actor) Authenticated() bool {
	return strings.TrimSpace(a.ID) != ""
}

// StoryConfig is the client-facing composer configuration.
type StoryConfig struct {
	MinStoryLines  int `json:"minStoryLines"`
	AnonSigninLine int `json:"anonSigninLine"`
}

// Config returns the composer configuration.
func (a *App) Config() StoryConfig {
	return StoryConfig{MinStoryLines: a.minStoryLines, AnonSigninLine: a.anonSigninLine}
}

// RememberUser upserts the profile of an authenticated actor so author names
// can be shown later.
func (a *App) RememberUser(ctx context.Context, actor Actor) error {
	if !actor.Authenticated() {
		return nil
	}
	now := a.now()
	existing, err := a.store.GetUsers(ctx, []string{actor.ID})
	if err != nil {
		return internalError("load user", err)
	}
	user, ok := existing[actor.ID]
	if ok && user.Email == actor.Email && user.DisplayName == actor.Name {
		return nil
	}
	if !ok {
		user = domain.User{ID: actor.ID, CreatedAt: now}
	}
	user.Email = actor.Email
	user.DisplayName = actor.Name
	user.UpdatedAt = now
	if err := a.store.SaveUser(ctx, user); err != nil {
		return internalError("save user", err)
	}
	return nil
}

func (a *App) withGenerationTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, a.generationTimeout)
}

// storeError maps a storage failure. Duplicates become conflicts.
func storeError(op string, err error) error {
	if errors.Is(err, store.ErrDuplicate) {
		return conflict(op + ": already exists")
	}
	return internalError(op, err)
}
