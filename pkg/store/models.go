package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type UserModel struct {
	ID          string `gorm:"primaryKey"`
	Email       string `gorm:"index"`
	DisplayName string
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time
}

// LineModel is unique on (previous_key, text_hash). PreviousKey is the parent
// id or "" for roots so that root lines collide as well; PreviousID carries
// the nullable foreign key.
type LineModel struct {
	ID          string    `gorm:"primaryKey;size:36"`
	Text        string    `gorm:"type:text;not null"`
	TextHash    string    `gorm:"size:64;not null;uniqueIndex:idx_line_identity,priority:2"`
	PreviousKey string    `gorm:"size:36;not null;default:'';uniqueIndex:idx_line_identity,priority:1"`
	PreviousID  *string   `gorm:"size:36;index"`
	AuthorID    *string   `gorm:"index"`
	IsManual    bool      `gorm:"not null"`
	CreatedAt   time.Time `gorm:"not null"`
}

type LineLikeModel struct {
	LineID    string    `gorm:"primaryKey;size:36"`
	UserID    string    `gorm:"primaryKey"`
	CreatedAt time.Time `gorm:"not null"`
}

type StoryModel struct {
	ID               int64  `gorm:"primaryKey;autoIncrement"`
	UUID             string `gorm:"size:36;uniqueIndex;not null"`
	Title            string
	Tagline          string
	LastLineID       *string `gorm:"size:36;index"`
	AuthorID         *string `gorm:"index"`
	Variant          string  `gorm:"size:8;not null"`
	Parameters       datatypes.JSON `gorm:"type:jsonb"`
	Prompt           string         `gorm:"type:text"`
	OriginalLanguage string         `gorm:"size:10;not null"`
	IsPublished      bool           `gorm:"not null;index"`
	CreatedAt        time.Time      `gorm:"not null;index"`
	UpdatedAt        time.Time      `gorm:"not null"`
}

type StoryLikeModel struct {
	StoryID   int64     `gorm:"primaryKey"`
	UserID    string    `gorm:"primaryKey"`
	CreatedAt time.Time `gorm:"not null"`
}

type StoryTextModel struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	StoryID   int64     `gorm:"not null;uniqueIndex:idx_story_text_language,priority:1"`
	Language  string    `gorm:"size:10;not null;uniqueIndex:idx_story_text_language,priority:2"`
	Title     string    `gorm:"size:255;not null"`
	Text      string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"not null"`
}

type StoryImageModel struct {
	ID              int64  `gorm:"primaryKey;autoIncrement"`
	StoryID         int64  `gorm:"not null;index"`
	ImageKey        string `gorm:"not null"`
	ThumbnailKey    string `gorm:"not null"`
	Width           int
	Height          int
	ThumbnailWidth  int
	ThumbnailHeight int
	CreatedAt       time.Time `gorm:"not null"`
}

type StoryAudioModel struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	StoryID   int64     `gorm:"not null;uniqueIndex:idx_story_audio_language,priority:1"`
	Language  string    `gorm:"size:10;not null;uniqueIndex:idx_story_audio_language,priority:2"`
	Voice     string    `gorm:"size:32"`
	AudioKey  string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
}

// PlaylistModel keeps members and order as JSON arrays on the owner row.
type PlaylistModel struct {
	UserID    string         `gorm:"primaryKey"`
	Entries   datatypes.JSON `gorm:"type:jsonb"`
	OrderIDs  datatypes.JSON `gorm:"type:jsonb"`
	UpdatedAt time.Time      `gorm:"not null"`
}
