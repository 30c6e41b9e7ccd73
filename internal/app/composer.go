package app

import (
	"context"
	"strings"
)

// LineCheck is the verdict on a proposed line. Line holds the lightly
// corrected sentence when valid; Reason explains a rejection.
type LineCheck struct {
	IsValid bool   `json:"isValid"`
	Line    string `json:"line,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// StoryMeta is a suggested title and tagline.
type StoryMeta struct {
	Title   string `json:"title"`
	Tagline string `json:"tagline"`
}

// SuggestLines proposes two single-sentence continuations for the story so
// far. An empty story gets fixed openers without calling the model.
func (a *App) SuggestLines(ctx context.Context, storyContext []string) ([]string, error) {
	lines := cleanContext(storyContext)
	if len(lines) == 0 {
		return append([]string(nil), openingSuggestions...), nil
	}
	var reply struct {
		Suggestions []string `json:"suggestions"`
		Options     []string `json:"options"`
	}
	if err := a.generateJSON(ctx, suggestSystemPrompt, suggestPrompt(strings.Join(lines, "\n")), &reply); err != nil {
		return nil, generationError("suggest lines", err)
	}
	raw := reply.Suggestions
	if len(raw) == 0 {
		raw = reply.Options
	}
	out := make([]string, 0, 2)
	for _, s := range raw {
		if s = strings.TrimSpace(plainText(s)); s != "" {
			out = append(out, s)
		}
		if len(out) == 2 {
			break
		}
	}
	for len(out) < 2 {
		out = append(out, suggestionFallback)
	}
	return out, nil
}

// CheckLine runs the local sentence checks and then asks the model whether
// the line is a sensible continuation.
func (a *App) CheckLine(ctx context.Context, line string, storyContext []string) (LineCheck, error) {
	line = strings.TrimSpace(line)
	if reason := a.lineProblem(line); reason != "" {
		return LineCheck{Reason: reason}, nil
	}
	var reply struct {
		IsValid bool   `json:"is_valid"`
		Line    string `json:"line"`
		Reason  string `json:"reason"`
	}
	prompt := checkLinePrompt(line, strings.Join(cleanContext(storyContext), "\n"))
	if err := a.generateJSON(ctx, checkSystemPrompt, prompt, &reply); err != nil {
		return LineCheck{}, generationError("check line", err)
	}
	cleaned := strings.TrimSpace(reply.Line)
	if !reply.IsValid || cleaned == "" {
		reason := strings.TrimSpace(reply.Reason)
		if reason == "" {
			reason = checkFallbackReason
		}
		return LineCheck{Reason: reason}, nil
	}
	return LineCheck{IsValid: true, Line: cleaned}, nil
}

// SuggestMeta proposes a title and tagline for the story so far.
func (a *App) SuggestMeta(ctx context.Context, storyContext []string) (StoryMeta, error) {
	lines := cleanContext(storyContext)
	if len(lines) == 0 {
		return StoryMeta{Title: defaultMetaTitle, Tagline: defaultMetaTagline}, nil
	}
	var reply StoryMeta
	if err := a.generateJSON(ctx, metaSystemPrompt, metaPrompt(strings.Join(lines, "\n")), &reply); err != nil {
		return StoryMeta{}, generationError("suggest meta", err)
	}
	meta := StoryMeta{
		Title:   strings.TrimSpace(plainText(reply.Title)),
		Tagline: strings.TrimSpace(plainText(reply.Tagline)),
	}
	if meta.Title == "" {
		meta.Title = defaultMetaTitle
	}
	if meta.Tagline == "" {
		meta.Tagline = defaultMetaTagline
	}
	return meta, nil
}

func cleanContext(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}
