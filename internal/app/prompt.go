package app

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"taletinker/pkg/domain"
)

const (
	coverFallbackPrompt = "children's story cover"

	suggestSystemPrompt   = "You are a helpful assistant for writing children's stories. You provide engaging continuations."
	checkSystemPrompt     = "You validate and lightly correct short story sentences."
	metaSystemPrompt      = "You suggest catchy, kid-friendly story titles and taglines."
	storySystemPrompt     = "You write warm, age-appropriate children's stories."
	translateSystemPrompt = "You translate children's stories faithfully, preserving meaning and tone."

	suggestionFallback  = "Something unexpected happened."
	checkFallbackReason = "Please enter a clearer sentence."
	defaultMetaTitle    = "Untitled Story"
	defaultMetaTagline  = "A tale waiting to be told."
)

var lengthLabels = map[int]string{
	1: "very short",
	2: "short",
	3: "medium",
	4: "long",
	5: "very long",
}

var openingSuggestions = []string{
	"Once upon a time, in a magical forest...",
	"The little robot woke up with a beep...",
}

// storyPrompt renders normalized parameters into the generation prompt.
// Equal parameters always render the same prompt.
func storyPrompt(p domain.StoryParams, extra string) string {
	parts := []string{
		fmt.Sprintf("Write a %s children's story suitable for a %d-year-old child.", lengthLabels[p.Length], p.Age),
		fmt.Sprintf("Balance realism vs fantasy at %d/%d.", p.Realism, domain.MaxScale),
		fmt.Sprintf("Balance didactic vs fun at %d/%d.", p.Didactic, domain.MaxScale),
	}
	if len(p.Themes) > 0 {
		parts = append(parts, "Themes: "+joinValues(p.Themes)+".")
	}
	if len(p.Purposes) > 0 {
		parts = append(parts, "Purpose: "+joinValues(p.Purposes)+".")
	}
	if p.Characters != "" {
		parts = append(parts, "Characters: "+p.Characters+".")
	}
	if p.Topic != "" {
		parts = append(parts, "Topic: "+p.Topic+".")
	}
	if extra = strings.TrimSpace(extra); extra != "" {
		parts = append(parts, extra)
	}
	parts = append(parts,
		fmt.Sprintf("Write the story in %s (language code %s).", p.Language.Name(), p.Language),
		"Return the result strictly as JSON with keys 'title' and 'text'.",
	)
	return strings.Join(parts, " ")
}

func joinValues[T ~string](values []T) string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = string(v)
	}
	return strings.Join(out, ", ")
}

func translatePrompt(src domain.StoryText, target domain.Language) string {
	return fmt.Sprintf("Translate the following children's story from %s to %s (language code %s). "+
		"Keep the meaning, tone and names. "+
		"Return the result strictly as JSON with keys 'title' and 'text'.\n\nTitle: %s\n\nText:\n%s",
		src.Language.Name(), target.Name(), target, src.Title, src.Text)
}

func suggestPrompt(storyContext string) string {
	return "Continue the following children's story with 2 distinct, single-sentence options for what happens next. " +
		"Return JSON with a key 'suggestions' holding a list of 2 strings.\n\nStory so far:\n" + storyContext
}

func checkLinePrompt(line, storyContext string) string {
	var b strings.Builder
	b.WriteString("You review a single proposed sentence for a children's story. ")
	b.WriteString("Decide whether it is a clear, complete, kid-friendly sentence. ")
	b.WriteString("Fix small spelling or grammar mistakes without changing its meaning. ")
	b.WriteString("Return JSON with keys 'is_valid' (boolean), 'line' (the corrected sentence) and 'reason' (short explanation when invalid).")
	if storyContext != "" {
		b.WriteString("\n\nStory so far:\n")
		b.WriteString(storyContext)
	}
	b.WriteString("\n\nProposed line:\n")
	b.WriteString(line)
	return b.String()
}

func metaPrompt(storyContext string) string {
	return "Generate a short title (max 8 words) and a short tagline (max 12 words) for the following children's story. " +
		"Return JSON with keys 'title' and 'tagline'.\n\nStory:\n" + storyContext
}

// plainText drops any markup the model emitted and collapses runs of
// blank lines. Text without tags passes through unchanged apart from
// entity decoding.
func plainText(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return strings.TrimSpace(s)
	}
	tokenizer := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return collapseBlankLines(b.String())
		case html.TextToken:
			b.Write(tokenizer.Text())
		case html.StartTagToken, html.EndTagToken, html.SelfClosingTagToken:
			name, _ := tokenizer.TagName()
			switch string(name) {
			case "p", "br", "div", "li", "h1", "h2", "h3":
				b.WriteString("\n")
			}
		}
	}
}

func collapseBlankLines(s string) string {
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		if strings.TrimSpace(line) == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

// titleFromText derives a fallback title from the first line of a body.
func titleFromText(text string) string {
	first := strings.TrimSpace(text)
	if i := strings.IndexByte(first, '\n'); i >= 0 {
		first = strings.TrimSpace(first[:i])
	}
	if first == "" {
		return "Story"
	}
	return truncateRunes(first, maxTitleRunes)
}

const maxTitleRunes = 255

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
