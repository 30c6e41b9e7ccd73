package domain

import "time"

// StoryVariant tells how a story's content was assembled.
type StoryVariant string

const (
	// VariantTree stories are built line by line and may share prefixes with other stories.
	VariantTree StoryVariant = "tree"
	// VariantFlat stories are generated from parameters and hold their body in a single root line.
	VariantFlat StoryVariant = "flat"
)

type User struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"displayName"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Line is one immutable node of the story tree. PreviousID is empty for roots.
type Line struct {
	ID         string    `json:"id"`
	Text       string    `json:"text"`
	PreviousID string    `json:"previousId,omitempty"`
	AuthorID   string    `json:"authorId,omitempty"`
	IsManual   bool      `json:"isManual"`
	CreatedAt  time.Time `json:"createdAt"`
}

// IsRoot reports whether the line starts a chain.
func (l Line) IsRoot() bool {
	return l.PreviousID == ""
}

type Story struct {
	ID               int64        `json:"id"`
	UUID             string       `json:"uuid"`
	Title            string       `json:"title"`
	Tagline          string       `json:"tagline"`
	LastLineID       string       `json:"lastLineId"`
	AuthorID         string       `json:"authorId,omitempty"`
	Variant          StoryVariant `json:"variant"`
	Parameters       *StoryParams `json:"parameters,omitempty"`
	Prompt           string       `json:"prompt,omitempty"`
	OriginalLanguage Language     `json:"originalLanguage"`
	IsPublished      bool         `json:"isPublished"`
	CreatedAt        time.Time    `json:"createdAt"`
	UpdatedAt        time.Time    `json:"updatedAt"`
}

type StoryText struct {
	ID        int64     `json:"id"`
	StoryID   int64     `json:"storyId"`
	Language  Language  `json:"language"`
	Title     string    `json:"title"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

type StoryImage struct {
	ID              int64     `json:"id"`
	StoryID         int64     `json:"storyId"`
	ImageKey        string    `json:"-"`
	ThumbnailKey    string    `json:"-"`
	Width           int       `json:"width"`
	Height          int       `json:"height"`
	ThumbnailWidth  int       `json:"thumbnailWidth"`
	ThumbnailHeight int       `json:"thumbnailHeight"`
	CreatedAt       time.Time `json:"createdAt"`
}

type StoryAudio struct {
	ID        int64     `json:"id"`
	StoryID   int64     `json:"storyId"`
	Language  Language  `json:"language"`
	Voice     string    `json:"voice"`
	AudioKey  string    `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
}

// LikeState is the outcome of a like toggle.
type LikeState struct {
	IsLiked   bool `json:"isLiked"`
	LikeCount int  `json:"likeCount"`
}
