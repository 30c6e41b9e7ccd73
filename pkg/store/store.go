package store

import (
	"context"
	"errors"

	"taletinker/pkg/domain"
)

// ErrDuplicate reports that a row with the same unique key already exists.
var ErrDuplicate = errors.New("record already exists")

// StorySort selects the listing order.
type StorySort string

const (
	SortRecent StorySort = "recent"
	SortLikes  StorySort = "likes"
)

// StoryQuery filters a story listing. Zero values disable a filter.
// AuthorID matches the attributed author: the tip line's author for tree
// stories and the story's own author for flat ones.
type StoryQuery struct {
	AuthorID      string
	LikedBy       string
	Age           int
	Language      domain.Language
	Search        string
	PublishedOnly bool
	Sort          StorySort
	Limit         int
	Offset        int
}

// Store defines persistence for the story tree, story assets and playlists.
type Store interface {
	// WithTx runs fn atomically. Nested calls join the outer transaction.
	WithTx(ctx context.Context, fn func(tx Store) error) error

	// users
	SaveUser(ctx context.Context, u domain.User) error
	GetUsers(ctx context.Context, ids []string) (map[string]domain.User, error)

	// lines
	FindLine(ctx context.Context, text, previousID string) (domain.Line, bool, error)
	CreateLine(ctx context.Context, line domain.Line) error
	GetLine(ctx context.Context, id string) (domain.Line, bool, error)
	GetLines(ctx context.Context, ids []string) (map[string]domain.Line, error)
	CountLines(ctx context.Context) (int, error)
	CountLineChildren(ctx context.Context, id string) (int, error)
	ToggleLineLike(ctx context.Context, lineID, userID string) (bool, int, error)
	LineLikes(ctx context.Context, lineIDs []string, userID string) (map[string]domain.LikeState, error)

	// stories
	CreateStory(ctx context.Context, story *domain.Story) error
	GetStoryByUUID(ctx context.Context, uuid string) (domain.Story, bool, error)
	GetStoryByID(ctx context.Context, id int64) (domain.Story, bool, error)
	GetStoriesByID(ctx context.Context, ids []int64) (map[int64]domain.Story, error)
	UpdateStoryMeta(ctx context.Context, id int64, title, tagline *string) error
	SetStoryPublished(ctx context.Context, id int64, published bool) error
	DeleteStory(ctx context.Context, id int64) error
	ListStories(ctx context.Context, q StoryQuery) ([]domain.Story, error)
	ToggleStoryLike(ctx context.Context, storyID int64, userID string) (bool, int, error)
	StoryLikes(ctx context.Context, storyIDs []int64, userID string) (map[int64]domain.LikeState, error)

	// story assets
	ListTexts(ctx context.Context, storyIDs []int64) (map[int64][]domain.StoryText, error)
	GetText(ctx context.Context, storyID int64, lang domain.Language) (domain.StoryText, bool, error)
	CreateText(ctx context.Context, text *domain.StoryText) error
	ListImages(ctx context.Context, storyIDs []int64) (map[int64][]domain.StoryImage, error)
	CreateImage(ctx context.Context, image *domain.StoryImage) error
	ListAudio(ctx context.Context, storyIDs []int64) (map[int64][]domain.StoryAudio, error)
	GetAudio(ctx context.Context, storyID int64, lang domain.Language) (domain.StoryAudio, bool, error)
	CreateAudio(ctx context.Context, audio *domain.StoryAudio) error

	// playlists
	GetPlaylist(ctx context.Context, userID string) (domain.Playlist, bool, error)
	SavePlaylist(ctx context.Context, p domain.Playlist) error
}
