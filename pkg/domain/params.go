package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrInvalidParams marks a rejected StoryParams value.
var ErrInvalidParams = errors.New("invalid story parameters")

type Language string

const (
	LanguageEnglish Language = "en"
	LanguageSpanish Language = "es"
	LanguageFrench  Language = "fr"
	LanguageGerman  Language = "de"
	LanguageTurkish Language = "tr"
)

var languageNames = map[Language]string{
	LanguageEnglish: "English",
	LanguageSpanish: "Spanish",
	LanguageFrench:  "French",
	LanguageGerman:  "German",
	LanguageTurkish: "Turkish",
}

// ParseLanguage normalizes a language code. Empty input is not a language.
func ParseLanguage(raw string) (Language, bool) {
	lang := Language(strings.ToLower(strings.TrimSpace(raw)))
	_, ok := languageNames[lang]
	return lang, ok
}

// Name returns the English name of the language, or the code when unknown.
func (l Language) Name() string {
	if name, ok := languageNames[l]; ok {
		return name
	}
	return string(l)
}

type Theme string

const (
	ThemeFamily     Theme = "family"
	ThemeFriendship Theme = "friendship"
	ThemeNature     Theme = "nature"
	ThemeAnimals    Theme = "animals"
	ThemeCourage    Theme = "courage"
	ThemeTechnology Theme = "technology"
)

var knownThemes = map[Theme]struct{}{
	ThemeFamily: {}, ThemeFriendship: {}, ThemeNature: {},
	ThemeAnimals: {}, ThemeCourage: {}, ThemeTechnology: {},
}

type Purpose string

const (
	PurposeJoyful   Purpose = "joyful"
	PurposeSoothing Purpose = "soothing"
	PurposeSupport  Purpose = "support"
)

var knownPurposes = map[Purpose]struct{}{
	PurposeJoyful: {}, PurposeSoothing: {}, PurposeSupport: {},
}

const (
	MinScale = 1
	MaxScale = 5
	MinAge   = 3
	MaxAge   = 10

	DefaultScale  = 3
	DefaultAge    = 5
	DefaultLength = 2
)

// StoryParams is the validated generation configuration of a story.
// Scales run from 1 to 5: realism 1 is fully realistic and 5 pure fantasy,
// didactic 1 is strongly educational and 5 purely fun.
type StoryParams struct {
	Realism    int       `json:"realism"`
	Didactic   int       `json:"didactic"`
	Age        int       `json:"age"`
	Themes     []Theme   `json:"themes"`
	Purposes   []Purpose `json:"purposes,omitempty"`
	Characters string    `json:"characters,omitempty"`
	Length     int       `json:"length"`
	Topic      string    `json:"topic,omitempty"`
	Language   Language  `json:"language"`
}

// UnmarshalJSON decodes parameters strictly: unknown keys are rejected and
// story_length is accepted as an alias of length.
func (p *StoryParams) UnmarshalJSON(data []byte) error {
	type plain StoryParams
	var wire struct {
		plain
		StoryLength *int `json:"story_length"`
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&wire); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	out := StoryParams(wire.plain)
	if wire.StoryLength != nil {
		if out.Length != 0 && out.Length != *wire.StoryLength {
			return fmt.Errorf("%w: length and story_length disagree", ErrInvalidParams)
		}
		out.Length = *wire.StoryLength
	}
	*p = out
	return nil
}

// Normalize fills defaults for unset fields and validates the rest.
// Themes and purposes are lower-cased, deduplicated and sorted.
func (p StoryParams) Normalize() (StoryParams, error) {
	out := p
	if out.Realism == 0 {
		out.Realism = DefaultScale
	}
	if out.Didactic == 0 {
		out.Didactic = DefaultScale
	}
	if out.Age == 0 {
		out.Age = DefaultAge
	}
	if out.Length == 0 {
		out.Length = DefaultLength
	}
	if err := checkScale("realism", out.Realism); err != nil {
		return StoryParams{}, err
	}
	if err := checkScale("didactic", out.Didactic); err != nil {
		return StoryParams{}, err
	}
	if err := checkScale("length", out.Length); err != nil {
		return StoryParams{}, err
	}
	if out.Age < MinAge || out.Age > MaxAge {
		return StoryParams{}, fmt.Errorf("%w: age must be between %d and %d", ErrInvalidParams, MinAge, MaxAge)
	}

	if strings.TrimSpace(string(out.Language)) == "" {
		out.Language = LanguageEnglish
	}
	lang, ok := ParseLanguage(string(out.Language))
	if !ok {
		return StoryParams{}, fmt.Errorf("%w: unsupported language %q", ErrInvalidParams, out.Language)
	}
	out.Language = lang

	themes := make([]Theme, 0, len(out.Themes))
	seenThemes := make(map[Theme]struct{}, len(out.Themes))
	for _, raw := range out.Themes {
		theme := Theme(strings.ToLower(strings.TrimSpace(string(raw))))
		if _, ok := knownThemes[theme]; !ok {
			return StoryParams{}, fmt.Errorf("%w: unknown theme %q", ErrInvalidParams, raw)
		}
		if _, dup := seenThemes[theme]; dup {
			continue
		}
		seenThemes[theme] = struct{}{}
		themes = append(themes, theme)
	}
	sort.Slice(themes, func(i, j int) bool { return themes[i] < themes[j] })
	out.Themes = themes

	purposes := make([]Purpose, 0, len(out.Purposes))
	seenPurposes := make(map[Purpose]struct{}, len(out.Purposes))
	for _, raw := range out.Purposes {
		purpose := Purpose(strings.ToLower(strings.TrimSpace(string(raw))))
		if _, ok := knownPurposes[purpose]; !ok {
			return StoryParams{}, fmt.Errorf("%w: unknown purpose %q", ErrInvalidParams, raw)
		}
		if _, dup := seenPurposes[purpose]; dup {
			continue
		}
		seenPurposes[purpose] = struct{}{}
		purposes = append(purposes, purpose)
	}
	sort.Slice(purposes, func(i, j int) bool { return purposes[i] < purposes[j] })
	out.Purposes = purposes

	out.Characters = strings.TrimSpace(out.Characters)
	out.Topic = strings.TrimSpace(out.Topic)
	return out, nil
}

// HasTheme reports whether the theme is part of the parameters.
func (p StoryParams) HasTheme(theme Theme) bool {
	for _, t := range p.Themes {
		if t == theme {
			return true
		}
	}
	return false
}

// ParseTheme validates a single theme value.
func ParseTheme(raw string) (Theme, bool) {
	theme := Theme(strings.ToLower(strings.TrimSpace(raw)))
	_, ok := knownThemes[theme]
	return theme, ok
}

func checkScale(name string, v int) error {
	if v < MinScale || v > MaxScale {
		return fmt.Errorf("%w: %s must be between %d and %d", ErrInvalidParams, name, MinScale, MaxScale)
	}
	return nil
}
