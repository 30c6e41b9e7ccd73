package app

import (
	"context"
	"strings"
	"time"

	"taletinker/pkg/domain"
)

const anonymousName = "Anonymous"

type LineView struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	AuthorID  string `json:"authorId,omitempty"`
	IsManual  bool   `json:"isManual"`
	LikeCount int    `json:"likeCount"`
	IsLiked   bool   `json:"isLiked"`
}

type TextView struct {
	Language domain.Language `json:"language"`
	Title    string          `json:"title"`
	Text     string          `json:"text"`
}

type ImageView struct {
	ID              int64  `json:"id"`
	URL             string `json:"url"`
	ThumbnailURL    string `json:"thumbnailUrl"`
	Width           int    `json:"width"`
	Height          int    `json:"height"`
	ThumbnailWidth  int    `json:"thumbnailWidth"`
	ThumbnailHeight int    `json:"thumbnailHeight"`
}

type AudioView struct {
	ID       int64           `json:"id"`
	Language domain.Language `json:"language"`
	Voice    string          `json:"voice"`
	URL      string          `json:"url"`
}

// StoryView is a story as shown to one actor. Lines and Continuations, the
// number of lines branching on from the tip, are only filled for detail
// reads.
type StoryView struct {
	ID               int64               `json:"id"`
	UUID             string              `json:"uuid"`
	Title            string              `json:"title"`
	Tagline          string              `json:"tagline"`
	Variant          domain.StoryVariant `json:"variant"`
	Author           string              `json:"author"`
	IsMine           bool                `json:"isMine"`
	RootLineID       string              `json:"rootLineId,omitempty"`
	Lines            []LineView          `json:"lines,omitempty"`
	Continuations    int                 `json:"continuations"`
	LikeCount        int                 `json:"likeCount"`
	IsLiked          bool                `json:"isLiked"`
	IsPublished      bool                `json:"isPublished"`
	Parameters       *domain.StoryParams `json:"parameters,omitempty"`
	OriginalLanguage domain.Language     `json:"originalLanguage"`
	Texts            []TextView          `json:"texts"`
	Images           []ImageView         `json:"images"`
	Audio            []AudioView         `json:"audio"`
	CreatedAt        time.Time           `json:"createdAt"`
}

// StorySummary is a listing row, annotated for the requested language.
type StorySummary struct {
	ID          int64             `json:"id"`
	UUID        string            `json:"uuid"`
	Title       string            `json:"title"`
	Tagline     string            `json:"tagline"`
	Author      string            `json:"author"`
	LikeCount   int               `json:"likeCount"`
	IsLiked     bool              `json:"isLiked"`
	IsPublished bool              `json:"isPublished"`
	Age         int               `json:"age,omitempty"`
	Themes      []domain.Theme    `json:"themes,omitempty"`
	Languages   []domain.Language `json:"languages"`
	Text        *TextView         `json:"text,omitempty"`
	Audio       *AudioView        `json:"audio,omitempty"`
	Thumbnail   *ImageView        `json:"thumbnail,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
}

func textView(t domain.StoryText) TextView {
	return TextView{Language: t.Language, Title: t.Title, Text: t.Text}
}

func (a *App) imageView(ctx context.Context, img domain.StoryImage) (ImageView, error) {
	full, err := a.blobs.URL(ctx, img.ImageKey)
	if err != nil {
		return ImageView{}, err
	}
	thumb, err := a.blobs.URL(ctx, img.ThumbnailKey)
	if err != nil {
		return ImageView{}, err
	}
	return ImageView{
		ID:              img.ID,
		URL:             full,
		ThumbnailURL:    thumb,
		Width:           img.Width,
		Height:          img.Height,
		ThumbnailWidth:  img.ThumbnailWidth,
		ThumbnailHeight: img.ThumbnailHeight,
	}, nil
}

func (a *App) audioView(ctx context.Context, au domain.StoryAudio) (AudioView, error) {
	url, err := a.blobs.URL(ctx, au.AudioKey)
	if err != nil {
		return AudioView{}, err
	}
	return AudioView{ID: au.ID, Language: au.Language, Voice: au.Voice, URL: url}, nil
}

// displayName picks the public author label for a user.
func displayName(u domain.User, ok bool) string {
	if !ok {
		return anonymousName
	}
	if name := strings.TrimSpace(u.DisplayName); name != "" {
		return name
	}
	if email := strings.TrimSpace(u.Email); email != "" {
		return maskEmail(email)
	}
	return anonymousName
}

// maskEmail hides most of the local part and the first domain label,
// e.g. "johnny@example.com" -> "joh***@exa**le.com". Values without an
// "@" are returned unchanged.
func maskEmail(email string) string {
	local, domainPart, found := strings.Cut(email, "@")
	if !found {
		return email
	}
	label, tail, hasTail := strings.Cut(domainPart, ".")
	masked := maskPart(local) + "@" + maskPart(label)
	if hasTail {
		masked += "." + tail
	}
	return masked
}

func maskPart(s string) string {
	r := []rune(s)
	n := len(r)
	switch {
	case n == 0:
		return ""
	case n <= 2:
		return string(r[:1]) + strings.Repeat("*", n-1)
	case n <= 4:
		return string(r[:2]) + strings.Repeat("*", n-2)
	case n <= 6:
		return string(r[:3]) + strings.Repeat("*", n-3)
	default:
		return string(r[:3]) + strings.Repeat("*", n-5) + string(r[n-2:])
	}
}
