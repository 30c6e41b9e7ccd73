package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"taletinker/internal/util"
	"taletinker/pkg/domain"
	"taletinker/pkg/linetree"
	"taletinker/pkg/store"
)

// CreateStoryInput describes a story assembled from lines.
type CreateStoryInput struct {
	Title   string
	Tagline string
	Lines   []string
	Params  *domain.StoryParams
	Prompt  string
}

// CreateStory appends the lines to the tree and points a new story at the
// tip. Anonymous actors may create stories.
func (a *App) CreateStory(ctx context.Context, actor Actor, in CreateStoryInput) (StoryView, error) {
	if len(in.Lines) == 0 {
		return StoryView{}, validationError("Story must have at least one line")
	}
	lines := make([]string, len(in.Lines))
	for i, raw := range in.Lines {
		line := strings.TrimSpace(raw)
		if reason := a.lineProblem(line); reason != "" {
			return StoryView{}, validationError("line %d: %s", i+1, reason)
		}
		lines[i] = line
	}
	var params *domain.StoryParams
	lang := domain.LanguageEnglish
	if in.Params != nil {
		normalized, err := in.Params.Normalize()
		if err != nil {
			return StoryView{}, validationError("%v", err)
		}
		params = &normalized
		lang = normalized.Language
	}
	if err := a.RememberUser(ctx, actor); err != nil {
		return StoryView{}, err
	}

	title := truncateRunes(strings.TrimSpace(in.Title), maxTitleRunes)
	textTitle := title
	if textTitle == "" {
		textTitle = titleFromText(lines[0])
	}
	now := a.now()
	story := domain.Story{
		UUID:             uuid.NewString(),
		Title:            title,
		Tagline:          strings.TrimSpace(in.Tagline),
		AuthorID:         actor.ID,
		Variant:          domain.VariantTree,
		Parameters:       params,
		Prompt:           strings.TrimSpace(in.Prompt),
		OriginalLanguage: lang,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	var created int
	err := a.store.WithTx(ctx, func(tx store.Store) error {
		tip, n, err := linetree.AppendChain(ctx, tx, lines, actor.ID)
		if err != nil {
			return err
		}
		created = n
		story.LastLineID = tip.ID
		if err := tx.CreateStory(ctx, &story); err != nil {
			return fmt.Errorf("create story: %w", err)
		}
		return tx.CreateText(ctx, &domain.StoryText{
			StoryID:   story.ID,
			Language:  lang,
			Title:     textTitle,
			Text:      strings.Join(lines, " "),
			CreatedAt: now,
		})
	})
	if err != nil {
		if errors.Is(err, linetree.ErrEmptyChain) || errors.Is(err, linetree.ErrBlankLine) {
			return StoryView{}, validationError("%v", err)
		}
		return StoryView{}, storeError("create story", err)
	}
	util.LoggerFromContext(ctx).Info("story created",
		"story_id", story.ID, "lines", len(lines), "new_lines", created, "anonymous", !actor.Authenticated())
	return a.storyView(ctx, actor, story, true)
}

// lineProblem applies the local sentence checks and returns the reason a
// line is rejected, or "" when it passes.
func (a *App) lineProblem(line string) string {
	if line == "" {
		return "Please enter a sentence."
	}
	if len([]rune(line)) < a.lineMinChars {
		return fmt.Sprintf("Please write at least %d characters.", a.lineMinChars)
	}
	if len(strings.Fields(line)) < a.lineMinWords {
		return fmt.Sprintf("Please use at least %d words.", a.lineMinWords)
	}
	letters := 0
	for _, r := range line {
		if unicode.IsLetter(r) {
			letters++
		}
	}
	if letters < 3 {
		return "Please include some letters."
	}
	return ""
}

// GetStory resolves a story by UUID, falling back to its numeric id.
func (a *App) GetStory(ctx context.Context, actor Actor, ref string) (StoryView, error) {
	story, err := a.findStory(ctx, a.store, ref)
	if err != nil {
		return StoryView{}, err
	}
	return a.storyView(ctx, actor, story, true)
}

func (a *App) findStory(ctx context.Context, st store.Store, ref string) (domain.Story, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return domain.Story{}, notFound("Story not found")
	}
	if _, err := uuid.Parse(ref); err == nil {
		story, ok, err := st.GetStoryByUUID(ctx, ref)
		if err != nil {
			return domain.Story{}, internalError("load story", err)
		}
		if ok {
			return story, nil
		}
	}
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		story, ok, err := st.GetStoryByID(ctx, id)
		if err != nil {
			return domain.Story{}, internalError("load story", err)
		}
		if ok {
			return story, nil
		}
	}
	return domain.Story{}, notFound("Story not found")
}

// attributedAuthor reads the tip line's author for tree stories and the
// story's own author for flat ones.
func attributedAuthor(ctx context.Context, st store.Store, story domain.Story) (string, error) {
	if story.Variant == domain.VariantFlat {
		return story.AuthorID, nil
	}
	tip, ok, err := st.GetLine(ctx, story.LastLineID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", linetree.ErrCorruptChain
	}
	return tip.AuthorID, nil
}

func (a *App) storyView(ctx context.Context, actor Actor, story domain.Story, withLines bool) (StoryView, error) {
	path, err := linetree.Traverse(ctx, a.store, story.LastLineID)
	if err != nil {
		return StoryView{}, internalError("traverse story", err)
	}
	author := story.AuthorID
	if story.Variant != domain.VariantFlat && len(path) > 0 {
		author = path[len(path)-1].AuthorID
	}

	view := StoryView{
		ID:               story.ID,
		UUID:             story.UUID,
		Title:            story.Title,
		Tagline:          story.Tagline,
		Variant:          story.Variant,
		Author:           anonymousName,
		IsMine:           actor.Authenticated() && author == actor.ID,
		IsPublished:      story.IsPublished,
		Parameters:       story.Parameters,
		OriginalLanguage: story.OriginalLanguage,
		Texts:            []TextView{},
		Images:           []ImageView{},
		Audio:            []AudioView{},
		CreatedAt:        story.CreatedAt,
	}
	if len(path) > 0 {
		view.RootLineID = path[0].ID
	}

	ids := []int64{story.ID}
	g, gctx := errgroup.WithContext(ctx)
	var (
		texts      map[int64][]domain.StoryText
		images     map[int64][]domain.StoryImage
		audio      map[int64][]domain.StoryAudio
		storyLikes map[int64]domain.LikeState
		lineLikes  map[string]domain.LikeState
		users      map[string]domain.User
	)
	g.Go(func() (err error) { texts, err = a.store.ListTexts(gctx, ids); return })
	g.Go(func() (err error) { images, err = a.store.ListImages(gctx, ids); return })
	g.Go(func() (err error) { audio, err = a.store.ListAudio(gctx, ids); return })
	g.Go(func() (err error) { storyLikes, err = a.store.StoryLikes(gctx, ids, actor.ID); return })
	g.Go(func() (err error) {
		if author == "" {
			return nil
		}
		users, err = a.store.GetUsers(gctx, []string{author})
		return
	})
	if withLines {
		lineIDs := make([]string, len(path))
		for i, l := range path {
			lineIDs[i] = l.ID
		}
		g.Go(func() (err error) { lineLikes, err = a.store.LineLikes(gctx, lineIDs, actor.ID); return })
		g.Go(func() (err error) {
			view.Continuations, err = linetree.ChildCount(gctx, a.store, story.LastLineID)
			return
		})
	}
	if err := g.Wait(); err != nil {
		return StoryView{}, internalError("load story assets", err)
	}

	if author != "" {
		u, ok := users[author]
		view.Author = displayName(u, ok)
	}
	likes := storyLikes[story.ID]
	view.LikeCount, view.IsLiked = likes.LikeCount, likes.IsLiked
	if withLines {
		view.Lines = make([]LineView, len(path))
		for i, l := range path {
			ll := lineLikes[l.ID]
			view.Lines[i] = LineView{
				ID:        l.ID,
				Text:      l.Text,
				AuthorID:  l.AuthorID,
				IsManual:  l.IsManual,
				LikeCount: ll.LikeCount,
				IsLiked:   ll.IsLiked,
			}
		}
	}
	for _, t := range texts[story.ID] {
		view.Texts = append(view.Texts, textView(t))
	}
	for _, img := range images[story.ID] {
		iv, err := a.imageView(ctx, img)
		if err != nil {
			return StoryView{}, internalError("resolve image url", err)
		}
		view.Images = append(view.Images, iv)
	}
	for _, au := range audio[story.ID] {
		av, err := a.audioView(ctx, au)
		if err != nil {
			return StoryView{}, internalError("resolve audio url", err)
		}
		view.Audio = append(view.Audio, av)
	}
	return view, nil
}

// UpdateStoryMeta changes title and/or tagline. Nil fields are left alone.
// Stories with an attributed author may only be edited by that author.
func (a *App) UpdateStoryMeta(ctx context.Context, actor Actor, ref string, title, tagline *string) (StoryView, error) {
	if title == nil && tagline == nil {
		return StoryView{}, validationError("nothing to update")
	}
	if title != nil {
		t := truncateRunes(strings.TrimSpace(*title), maxTitleRunes)
		title = &t
	}
	if tagline != nil {
		t := strings.TrimSpace(*tagline)
		tagline = &t
	}
	var updated domain.Story
	err := a.store.WithTx(ctx, func(tx store.Store) error {
		story, err := a.findStory(ctx, tx, ref)
		if err != nil {
			return err
		}
		author, err := attributedAuthor(ctx, tx, story)
		if err != nil {
			return internalError("resolve author", err)
		}
		if author != "" && author != actor.ID {
			if !actor.Authenticated() {
				return unauthorized()
			}
			return forbidden("You can only edit your own stories")
		}
		if err := tx.UpdateStoryMeta(ctx, story.ID, title, tagline); err != nil {
			return internalError("update story", err)
		}
		story, _, err = tx.GetStoryByID(ctx, story.ID)
		if err != nil {
			return internalError("reload story", err)
		}
		updated = story
		return nil
	})
	if err != nil {
		return StoryView{}, err
	}
	return a.storyView(ctx, actor, updated, false)
}

// DeleteStory removes a story and its assets. Lines stay in the tree.
func (a *App) DeleteStory(ctx context.Context, actor Actor, ref string) error {
	if !actor.Authenticated() {
		return unauthorized()
	}
	var keys []string
	err := a.store.WithTx(ctx, func(tx store.Store) error {
		story, err := a.findStory(ctx, tx, ref)
		if err != nil {
			return err
		}
		author, err := attributedAuthor(ctx, tx, story)
		if err != nil {
			return internalError("resolve author", err)
		}
		if author != actor.ID {
			return forbidden("You can only delete your own stories")
		}
		ids := []int64{story.ID}
		images, err := tx.ListImages(ctx, ids)
		if err != nil {
			return internalError("list images", err)
		}
		audio, err := tx.ListAudio(ctx, ids)
		if err != nil {
			return internalError("list audio", err)
		}
		for _, img := range images[story.ID] {
			keys = append(keys, img.ImageKey, img.ThumbnailKey)
		}
		for _, au := range audio[story.ID] {
			keys = append(keys, au.AudioKey)
		}
		if err := tx.DeleteStory(ctx, story.ID); err != nil {
			return internalError("delete story", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	logger := util.LoggerFromContext(ctx)
	for _, key := range keys {
		if err := a.blobs.Delete(ctx, key); err != nil {
			logger.Warn("delete story blob failed", "key", key, "err", err)
		}
	}
	return nil
}

// ToggleStoryLike flips the actor's like on a story.
func (a *App) ToggleStoryLike(ctx context.Context, actor Actor, ref string) (domain.LikeState, error) {
	if !actor.Authenticated() {
		return domain.LikeState{}, unauthorized()
	}
	if err := a.RememberUser(ctx, actor); err != nil {
		return domain.LikeState{}, err
	}
	var state domain.LikeState
	err := a.store.WithTx(ctx, func(tx store.Store) error {
		story, err := a.findStory(ctx, tx, ref)
		if err != nil {
			return err
		}
		liked, count, err := tx.ToggleStoryLike(ctx, story.ID, actor.ID)
		if err != nil {
			return internalError("toggle story like", err)
		}
		state = domain.LikeState{IsLiked: liked, LikeCount: count}
		return nil
	})
	return state, err
}

// ToggleLineLike flips the actor's like on a line.
func (a *App) ToggleLineLike(ctx context.Context, actor Actor, lineID string) (domain.LikeState, error) {
	if !actor.Authenticated() {
		return domain.LikeState{}, unauthorized()
	}
	if err := a.RememberUser(ctx, actor); err != nil {
		return domain.LikeState{}, err
	}
	var state domain.LikeState
	err := a.store.WithTx(ctx, func(tx store.Store) error {
		s, err := linetree.ToggleLike(ctx, tx, strings.TrimSpace(lineID), actor.ID)
		state = s
		return err
	})
	if err != nil {
		if errors.Is(err, linetree.ErrLineNotFound) {
			return domain.LikeState{}, notFound("Line not found")
		}
		return domain.LikeState{}, internalError("toggle line like", err)
	}
	return state, nil
}
