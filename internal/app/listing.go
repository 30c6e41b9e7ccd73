package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"taletinker/pkg/domain"
	"taletinker/pkg/store"
)

// Listing scopes.
const (
	ScopeAll       = ""
	ScopeMine      = "mine"
	ScopeFavorites = "favorites"
)

// StoryFilter is a listing request. Zero values disable a filter.
// DisplayLanguage picks which text and audio annotate each row; it does not
// filter.
type StoryFilter struct {
	Scope           string
	Age             int
	Theme           string
	Language        string
	Search          string
	PublishedOnly   bool
	Sort            string
	Limit           int
	Offset          int
	DisplayLanguage string
}

type listRequest struct {
	query       store.StoryQuery
	theme       domain.Theme
	displayLang domain.Language
}

func (a *App) normalizeFilter(actor Actor, f StoryFilter) (listRequest, error) {
	req := listRequest{query: store.StoryQuery{
		Search:        strings.TrimSpace(f.Search),
		PublishedOnly: f.PublishedOnly,
		Sort:          store.SortRecent,
		Limit:         f.Limit,
		Offset:        f.Offset,
	}}
	switch strings.ToLower(strings.TrimSpace(f.Scope)) {
	case ScopeAll:
	case ScopeMine:
		if !actor.Authenticated() {
			return listRequest{}, unauthorized()
		}
		req.query.AuthorID = actor.ID
	case ScopeFavorites:
		if !actor.Authenticated() {
			return listRequest{}, unauthorized()
		}
		req.query.LikedBy = actor.ID
	default:
		return listRequest{}, validationError("unknown filter %q", f.Scope)
	}
	if f.Age != 0 {
		if f.Age < domain.MinAge || f.Age > domain.MaxAge {
			return listRequest{}, validationError("age must be between %d and %d", domain.MinAge, domain.MaxAge)
		}
		req.query.Age = f.Age
	}
	if strings.TrimSpace(f.Theme) != "" {
		theme, ok := domain.ParseTheme(f.Theme)
		if !ok {
			return listRequest{}, validationError("unknown theme %q", f.Theme)
		}
		req.theme = theme
	}
	if strings.TrimSpace(f.Language) != "" {
		lang, ok := domain.ParseLanguage(f.Language)
		if !ok {
			return listRequest{}, validationError("unsupported language %q", f.Language)
		}
		req.query.Language = lang
	}
	if strings.TrimSpace(f.DisplayLanguage) != "" {
		lang, ok := domain.ParseLanguage(f.DisplayLanguage)
		if !ok {
			return listRequest{}, validationError("unsupported language %q", f.DisplayLanguage)
		}
		req.displayLang = lang
	}
	switch store.StorySort(strings.ToLower(strings.TrimSpace(f.Sort))) {
	case "", store.SortRecent:
	case store.SortLikes:
		req.query.Sort = store.SortLikes
	default:
		return listRequest{}, validationError("unknown sort %q", f.Sort)
	}
	if req.query.Limit <= 0 {
		req.query.Limit = defaultListLimit
	}
	if req.query.Limit > maxListLimit {
		req.query.Limit = maxListLimit
	}
	if req.query.Offset < 0 {
		req.query.Offset = 0
	}
	return req, nil
}

// cacheKey is stable for equal requests from the same actor.
func (r listRequest) cacheKey(actorID string) string {
	v := url.Values{}
	v.Set("author", r.query.AuthorID)
	v.Set("liked", r.query.LikedBy)
	v.Set("age", strconv.Itoa(r.query.Age))
	v.Set("theme", string(r.theme))
	v.Set("language", string(r.query.Language))
	v.Set("q", strings.ToLower(r.query.Search))
	v.Set("published", strconv.FormatBool(r.query.PublishedOnly))
	v.Set("sort", string(r.query.Sort))
	v.Set("limit", strconv.Itoa(r.query.Limit))
	v.Set("offset", strconv.Itoa(r.query.Offset))
	v.Set("lang", string(r.displayLang))
	return "stories:list:" + actorID + ":" + v.Encode()
}

// ListStories returns one page of story summaries. Pages are served from the
// listing cache when one is configured; entries expire on their own.
func (a *App) ListStories(ctx context.Context, actor Actor, f StoryFilter) ([]StorySummary, error) {
	req, err := a.normalizeFilter(actor, f)
	if err != nil {
		return nil, err
	}
	if a.cache == nil {
		return a.listStories(ctx, actor, req)
	}
	payload, err := a.cache.Fetch(ctx, req.cacheKey(actor.ID), func(ctx context.Context) ([]byte, error) {
		items, err := a.listStories(ctx, actor, req)
		if err != nil {
			return nil, err
		}
		return json.Marshal(items)
	})
	if err != nil {
		var appErr *Error
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		return nil, internalError("list stories", err)
	}
	var items []StorySummary
	if err := json.Unmarshal(payload, &items); err != nil {
		return nil, internalError("decode cached listing", err)
	}
	return items, nil
}

func (a *App) listStories(ctx context.Context, actor Actor, req listRequest) ([]StorySummary, error) {
	q := req.query
	if req.theme != "" {
		// Themes live inside the parameters document, so the page is cut
		// after filtering.
		q.Limit, q.Offset = 0, 0
	}
	stories, err := a.store.ListStories(ctx, q)
	if err != nil {
		return nil, internalError("list stories", err)
	}
	if req.theme != "" {
		filtered := stories[:0]
		for _, s := range stories {
			if s.Parameters != nil && s.Parameters.HasTheme(req.theme) {
				filtered = append(filtered, s)
			}
		}
		stories = page(filtered, req.query.Offset, req.query.Limit)
	}
	return a.summarize(ctx, actor, stories, req.displayLang)
}

// summarize annotates stories with texts, media, likes and authors. Assets
// are prefetched in one batch per kind regardless of how many stories are
// given.
func (a *App) summarize(ctx context.Context, actor Actor, stories []domain.Story, displayLang domain.Language) ([]StorySummary, error) {
	if len(stories) == 0 {
		return []StorySummary{}, nil
	}

	ids := make([]int64, len(stories))
	var tipIDs []string
	for i, s := range stories {
		ids[i] = s.ID
		if s.Variant != domain.VariantFlat && s.LastLineID != "" {
			tipIDs = append(tipIDs, s.LastLineID)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	var (
		texts  map[int64][]domain.StoryText
		images map[int64][]domain.StoryImage
		audio  map[int64][]domain.StoryAudio
		likes  map[int64]domain.LikeState
		tips   map[string]domain.Line
	)
	g.Go(func() (err error) { texts, err = a.store.ListTexts(gctx, ids); return })
	g.Go(func() (err error) { images, err = a.store.ListImages(gctx, ids); return })
	g.Go(func() (err error) { audio, err = a.store.ListAudio(gctx, ids); return })
	g.Go(func() (err error) { likes, err = a.store.StoryLikes(gctx, ids, actor.ID); return })
	g.Go(func() (err error) { tips, err = a.store.GetLines(gctx, tipIDs); return })
	if err := g.Wait(); err != nil {
		return nil, internalError("prefetch story assets", err)
	}

	authors := make([]string, len(stories))
	authorSet := make(map[string]struct{})
	for i, s := range stories {
		author := s.AuthorID
		if s.Variant != domain.VariantFlat {
			author = tips[s.LastLineID].AuthorID
		}
		authors[i] = author
		if author != "" {
			authorSet[author] = struct{}{}
		}
	}
	userIDs := make([]string, 0, len(authorSet))
	for id := range authorSet {
		userIDs = append(userIDs, id)
	}
	users, err := a.store.GetUsers(ctx, userIDs)
	if err != nil {
		return nil, internalError("load authors", err)
	}

	out := make([]StorySummary, len(stories))
	for i, s := range stories {
		like := likes[s.ID]
		summary := StorySummary{
			ID:          s.ID,
			UUID:        s.UUID,
			Title:       s.Title,
			Tagline:     s.Tagline,
			Author:      anonymousName,
			LikeCount:   like.LikeCount,
			IsLiked:     like.IsLiked,
			IsPublished: s.IsPublished,
			Languages:   []domain.Language{},
			CreatedAt:   s.CreatedAt,
		}
		if authors[i] != "" {
			u, ok := users[authors[i]]
			summary.Author = displayName(u, ok)
		}
		if s.Parameters != nil {
			summary.Age = s.Parameters.Age
			summary.Themes = s.Parameters.Themes
		}
		storyTexts := texts[s.ID]
		for _, t := range storyTexts {
			summary.Languages = append(summary.Languages, t.Language)
		}
		if t, ok := pickText(storyTexts, displayLang); ok {
			tv := textView(t)
			summary.Text = &tv
			if summary.Title == "" {
				summary.Title = t.Title
			}
		}
		if au, ok := pickAudio(audio[s.ID], displayLang); ok {
			av, err := a.audioView(ctx, au)
			if err != nil {
				return nil, internalError("resolve audio url", err)
			}
			summary.Audio = &av
		}
		if imgs := images[s.ID]; len(imgs) > 0 {
			iv, err := a.imageView(ctx, imgs[len(imgs)-1])
			if err != nil {
				return nil, internalError("resolve image url", err)
			}
			summary.Thumbnail = &iv
		}
		out[i] = summary
	}
	return out, nil
}

func page(stories []domain.Story, offset, limit int) []domain.Story {
	if offset >= len(stories) {
		return nil
	}
	stories = stories[offset:]
	if limit > 0 && limit < len(stories) {
		stories = stories[:limit]
	}
	return stories
}

// pickText prefers the requested language and falls back to the first text.
func pickText(texts []domain.StoryText, lang domain.Language) (domain.StoryText, bool) {
	for _, t := range texts {
		if t.Language == lang {
			return t, true
		}
	}
	if len(texts) > 0 {
		return texts[0], true
	}
	return domain.StoryText{}, false
}

// pickAudio only matches the requested language, or the first narration when
// no language was requested.
func pickAudio(audio []domain.StoryAudio, lang domain.Language) (domain.StoryAudio, bool) {
	for _, au := range audio {
		if lang == "" || au.Language == lang {
			return au, true
		}
	}
	return domain.StoryAudio{}, false
}
