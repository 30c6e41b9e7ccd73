package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"taletinker/internal/util"
	"taletinker/pkg/ai"
	"taletinker/pkg/domain"
	"taletinker/pkg/imaging"
	"taletinker/pkg/linetree"
	"taletinker/pkg/store"
)

// GenerateStoryInput asks the text lane for a brand-new story.
type GenerateStoryInput struct {
	Params       domain.StoryParams
	Instructions string
}

type storyReply struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

// GenerateStory writes a story from parameters and stores it as a flat,
// unpublished story whose body is a single root line.
func (a *App) GenerateStory(ctx context.Context, actor Actor, in GenerateStoryInput) (StoryView, error) {
	params, err := in.Params.Normalize()
	if err != nil {
		return StoryView{}, validationError("%v", err)
	}
	if err := a.RememberUser(ctx, actor); err != nil {
		return StoryView{}, err
	}
	instructions := strings.TrimSpace(in.Instructions)

	reply, err := a.generateStoryText(ctx, storySystemPrompt, storyPrompt(params, instructions))
	if err != nil {
		return StoryView{}, generationError("generate story", err)
	}
	body := plainText(reply.Text)
	if body == "" {
		return StoryView{}, generationError("generate story", fmt.Errorf("%w: missing text", ai.ErrMalformedResponse))
	}
	title := truncateRunes(plainText(reply.Title), maxTitleRunes)
	if title == "" {
		title = titleFromText(body)
	}

	now := a.now()
	story := domain.Story{
		UUID:             uuid.NewString(),
		Title:            title,
		AuthorID:         actor.ID,
		Variant:          domain.VariantFlat,
		Parameters:       &params,
		Prompt:           instructions,
		OriginalLanguage: params.Language,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	err = a.store.WithTx(ctx, func(tx store.Store) error {
		root, _, err := linetree.AppendGenerated(ctx, tx, []string{body}, actor.ID)
		if err != nil {
			return err
		}
		story.LastLineID = root.ID
		if err := tx.CreateStory(ctx, &story); err != nil {
			return fmt.Errorf("create story: %w", err)
		}
		return tx.CreateText(ctx, &domain.StoryText{
			StoryID:   story.ID,
			Language:  params.Language,
			Title:     title,
			Text:      body,
			CreatedAt: now,
		})
	})
	if err != nil {
		return StoryView{}, storeError("save generated story", err)
	}
	util.LoggerFromContext(ctx).Info("story generated",
		"story_id", story.ID, "language", params.Language, "length", params.Length)
	return a.storyView(ctx, actor, story, true)
}

// generateStoryText runs one bounded text call expecting {title, text}.
// A reply without both fields is malformed.
func (a *App) generateStoryText(ctx context.Context, system, prompt string) (storyReply, error) {
	var reply storyReply
	if err := a.generateJSON(ctx, system, prompt, &reply); err != nil {
		return storyReply{}, err
	}
	if strings.TrimSpace(reply.Text) == "" {
		return storyReply{}, fmt.Errorf("%w: missing text", ai.ErrMalformedResponse)
	}
	return reply, nil
}

func (a *App) generateJSON(ctx context.Context, system, prompt string, out any) error {
	callCtx, cancel := a.withGenerationTimeout(ctx)
	defer cancel()
	raw, err := a.text.GenerateText(callCtx, system, prompt)
	if err != nil {
		return err
	}
	return ai.DecodeJSONReply(raw, out)
}

// Translate returns the story text in lang, creating it from the first
// available text when missing. An existing text is returned unchanged.
func (a *App) Translate(ctx context.Context, actor Actor, ref, language string) (TextView, error) {
	if !actor.Authenticated() {
		return TextView{}, unauthorized()
	}
	lang, ok := domain.ParseLanguage(language)
	if !ok {
		return TextView{}, validationError("unsupported language %q", language)
	}
	story, err := a.findStory(ctx, a.store, ref)
	if err != nil {
		return TextView{}, err
	}
	text, err := a.ensureText(ctx, story, lang)
	if err != nil {
		return TextView{}, err
	}
	return textView(text), nil
}

// ensureText reuses the (story, lang) text or translates the base text into
// it. Losing a creation race to another request resolves to a fresh read.
func (a *App) ensureText(ctx context.Context, story domain.Story, lang domain.Language) (domain.StoryText, error) {
	existing, ok, err := a.store.GetText(ctx, story.ID, lang)
	if err != nil {
		return domain.StoryText{}, internalError("load text", err)
	}
	if ok {
		return existing, nil
	}
	texts, err := a.store.ListTexts(ctx, []int64{story.ID})
	if err != nil {
		return domain.StoryText{}, internalError("list texts", err)
	}
	if len(texts[story.ID]) == 0 {
		return domain.StoryText{}, validationError("no story text")
	}
	source := texts[story.ID][0]

	reply, err := a.translateText(ctx, source, lang)
	if err != nil {
		return domain.StoryText{}, generationError("translate story", err)
	}
	text := domain.StoryText{
		StoryID:   story.ID,
		Language:  lang,
		Title:     reply.Title,
		Text:      reply.Text,
		CreatedAt: a.now(),
	}
	err = a.store.CreateText(ctx, &text)
	if err == nil {
		util.LoggerFromContext(ctx).Info("story translated", "story_id", story.ID, "language", lang)
		return text, nil
	}
	if !errors.Is(err, store.ErrDuplicate) {
		return domain.StoryText{}, internalError("save translation", err)
	}
	existing, ok, err = a.store.GetText(ctx, story.ID, lang)
	if err != nil {
		return domain.StoryText{}, internalError("reload text", err)
	}
	if !ok {
		return domain.StoryText{}, internalError("reload text", fmt.Errorf("text for %s vanished after conflict", lang))
	}
	return existing, nil
}

// translateText keeps the source title or body when the reply omits one.
func (a *App) translateText(ctx context.Context, source domain.StoryText, lang domain.Language) (storyReply, error) {
	var reply storyReply
	if err := a.generateJSON(ctx, translateSystemPrompt, translatePrompt(source, lang), &reply); err != nil {
		return storyReply{}, err
	}
	reply.Title = plainText(reply.Title)
	reply.Text = plainText(reply.Text)
	if reply.Title == "" {
		reply.Title = source.Title
	}
	if reply.Text == "" {
		reply.Text = source.Text
	}
	return reply, nil
}

// GeneratedImage is the outcome of the image lane.
type GeneratedImage struct {
	Image       ImageView `json:"image"`
	IsPublished bool      `json:"isPublished"`
}

// GenerateImage illustrates a story. Every call adds a new image; the first
// one publishes the story.
func (a *App) GenerateImage(ctx context.Context, actor Actor, ref string) (GeneratedImage, error) {
	if !actor.Authenticated() {
		return GeneratedImage{}, unauthorized()
	}
	story, err := a.findStory(ctx, a.store, ref)
	if err != nil {
		return GeneratedImage{}, err
	}
	texts, err := a.store.ListTexts(ctx, []int64{story.ID})
	if err != nil {
		return GeneratedImage{}, internalError("list texts", err)
	}
	prompt := coverFallbackPrompt
	if t := texts[story.ID]; len(t) > 0 && strings.TrimSpace(t[0].Title) != "" {
		prompt = t[0].Title
	}

	callCtx, cancel := a.withGenerationTimeout(ctx)
	data, err := a.images.GenerateImage(callCtx, prompt, a.imageSize)
	cancel()
	if err != nil {
		return GeneratedImage{}, generationError("generate image", err)
	}
	img, format, err := imaging.Decode(data)
	if err != nil {
		return GeneratedImage{}, generationError("generate image", fmt.Errorf("%w: %v", ai.ErrMalformedResponse, err))
	}
	thumb := imaging.Thumbnail(img, a.thumbnailMaxSize)
	thumbData, err := imaging.EncodePNG(thumb)
	if err != nil {
		return GeneratedImage{}, internalError("encode thumbnail", err)
	}

	base := fmt.Sprintf("stories/%s/images/%s", story.UUID, util.NewID())
	row := domain.StoryImage{
		StoryID:         story.ID,
		ImageKey:        base + "." + imageExt(format),
		ThumbnailKey:    base + "_thumb.png",
		Width:           img.Bounds().Dx(),
		Height:          img.Bounds().Dy(),
		ThumbnailWidth:  thumb.Bounds().Dx(),
		ThumbnailHeight: thumb.Bounds().Dy(),
		CreatedAt:       a.now(),
	}
	if err := a.blobs.Put(ctx, row.ImageKey, bytes.NewReader(data), int64(len(data)), "image/"+format); err != nil {
		return GeneratedImage{}, internalError("store image", err)
	}
	if err := a.blobs.Put(ctx, row.ThumbnailKey, bytes.NewReader(thumbData), int64(len(thumbData)), "image/png"); err != nil {
		a.dropBlobs(ctx, row.ImageKey)
		return GeneratedImage{}, internalError("store thumbnail", err)
	}

	published := story.IsPublished
	err = a.store.WithTx(ctx, func(tx store.Store) error {
		if err := tx.CreateImage(ctx, &row); err != nil {
			return err
		}
		current, ok, err := tx.GetStoryByID(ctx, story.ID)
		if err != nil {
			return err
		}
		if !ok {
			return notFound("Story not found")
		}
		if !current.IsPublished {
			if err := tx.SetStoryPublished(ctx, story.ID, true); err != nil {
				return err
			}
		}
		published = true
		return nil
	})
	if err != nil {
		a.dropBlobs(ctx, row.ImageKey, row.ThumbnailKey)
		if KindOf(err) != KindInternal {
			return GeneratedImage{}, err
		}
		return GeneratedImage{}, internalError("save image", err)
	}
	view, err := a.imageView(ctx, row)
	if err != nil {
		return GeneratedImage{}, internalError("resolve image url", err)
	}
	util.LoggerFromContext(ctx).Info("story illustrated", "story_id", story.ID, "image_id", row.ID)
	return GeneratedImage{Image: view, IsPublished: published}, nil
}

func imageExt(format string) string {
	if format == "jpeg" {
		return "jpg"
	}
	return format
}

// GenerateAudio narrates a story in one language. At most one narration
// exists per (story, language).
func (a *App) GenerateAudio(ctx context.Context, actor Actor, ref, language, voice string) (AudioView, error) {
	if !actor.Authenticated() {
		return AudioView{}, unauthorized()
	}
	var (
		lang     domain.Language
		explicit = strings.TrimSpace(language) != ""
	)
	if explicit {
		parsed, ok := domain.ParseLanguage(language)
		if !ok {
			return AudioView{}, validationError("unsupported language %q", language)
		}
		lang = parsed
	}
	story, err := a.findStory(ctx, a.store, ref)
	if err != nil {
		return AudioView{}, err
	}
	if !explicit {
		texts, err := a.store.ListTexts(ctx, []int64{story.ID})
		if err != nil {
			return AudioView{}, internalError("list texts", err)
		}
		if len(texts[story.ID]) == 0 {
			return AudioView{}, validationError("no story text")
		}
		lang = texts[story.ID][0].Language
	}

	if _, exists, err := a.store.GetAudio(ctx, story.ID, lang); err != nil {
		return AudioView{}, internalError("load audio", err)
	} else if exists {
		return AudioView{}, conflict(fmt.Sprintf("audio for %s already exists", lang))
	}

	text, ok, err := a.store.GetText(ctx, story.ID, lang)
	if err != nil {
		return AudioView{}, internalError("load text", err)
	}
	if !ok {
		if !explicit {
			return AudioView{}, validationError("no story text")
		}
		text, err = a.ensureText(ctx, story, lang)
		if err != nil {
			return AudioView{}, err
		}
	}

	voice = strings.TrimSpace(voice)
	if voice == "" {
		voice = a.defaultVoice
	}
	narration := strings.TrimSpace(text.Title + "\n\n" + text.Text)
	callCtx, cancel := a.withGenerationTimeout(ctx)
	speech, err := a.speech.GenerateSpeech(callCtx, narration, voice)
	cancel()
	if err != nil {
		return AudioView{}, generationError("generate audio", err)
	}
	if len(speech.Audio) == 0 {
		return AudioView{}, generationError("generate audio", fmt.Errorf("%w: empty audio", ai.ErrMalformedResponse))
	}
	contentType := speech.ContentType
	if contentType == "" {
		contentType = "audio/mpeg"
	}

	row := domain.StoryAudio{
		StoryID:   story.ID,
		Language:  lang,
		Voice:     voice,
		AudioKey:  fmt.Sprintf("stories/%s/audio/%s-%s.%s", story.UUID, lang, util.NewID(), audioExt(contentType)),
		CreatedAt: a.now(),
	}
	if err := a.blobs.Put(ctx, row.AudioKey, bytes.NewReader(speech.Audio), int64(len(speech.Audio)), contentType); err != nil {
		return AudioView{}, internalError("store audio", err)
	}
	if err := a.store.CreateAudio(ctx, &row); err != nil {
		a.dropBlobs(ctx, row.AudioKey)
		if errors.Is(err, store.ErrDuplicate) {
			return AudioView{}, conflict(fmt.Sprintf("audio for %s already exists", lang))
		}
		return AudioView{}, internalError("save audio", err)
	}
	view, err := a.audioView(ctx, row)
	if err != nil {
		return AudioView{}, internalError("resolve audio url", err)
	}
	util.LoggerFromContext(ctx).Info("story narrated", "story_id", story.ID, "language", lang, "voice", voice)
	return view, nil
}

func audioExt(contentType string) string {
	switch strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0])) {
	case "audio/wav", "audio/x-wav", "audio/wave":
		return "wav"
	case "audio/ogg", "audio/opus":
		return "ogg"
	case "audio/aac":
		return "aac"
	case "audio/flac":
		return "flac"
	default:
		return "mp3"
	}
}

func (a *App) dropBlobs(ctx context.Context, keys ...string) {
	for _, key := range keys {
		if err := a.blobs.Delete(ctx, key); err != nil {
			util.LoggerFromContext(ctx).Warn("delete orphaned blob failed", "key", key, "err", err)
		}
	}
}
