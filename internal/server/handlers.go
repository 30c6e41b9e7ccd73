package server

import (
	"net/http"
	"strconv"
	"strings"

	"taletinker/internal/app"
	"taletinker/pkg/domain"
)

type createStoryRequest struct {
	Title   string              `json:"title"`
	Tagline string              `json:"tagline"`
	Lines   []string            `json:"lines"`
	Params  *domain.StoryParams `json:"params,omitempty"`
	Prompt  string              `json:"prompt"`
}

type generateStoryRequest struct {
	Params       domain.StoryParams `json:"params"`
	Instructions string             `json:"instructions"`
}

type linesRequest struct {
	Lines []string `json:"lines"`
}

type checkLineRequest struct {
	Line  string   `json:"line"`
	Lines []string `json:"lines"`
}

type updateStoryRequest struct {
	Title   *string `json:"title"`
	Tagline *string `json:"tagline"`
}

type translateRequest struct {
	Language string `json:"language"`
}

type audioRequest struct {
	Language string `json:"language"`
	Voice    string `json:"voice"`
}

type playlistEditRequest struct {
	Story string `json:"story"`
}

type playlistReorderRequest struct {
	Order []int64 `json:"order"`
}

func (s *Server) handleStoryConfig(w http.ResponseWriter, _ *http.Request, _ app.Actor) {
	writeJSON(w, http.StatusOK, s.app.Config())
}

func (s *Server) handleListStories(w http.ResponseWriter, r *http.Request, actor app.Actor) {
	filter, err := parseStoryFilter(r)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	items, err := s.app.ListStories(r.Context(), actor, filter)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"count": len(items),
	})
}

// parseStoryFilter reads listing query parameters. The public listing shows
// published stories unless published=false is given; personal scopes show
// everything by default.
func parseStoryFilter(r *http.Request) (app.StoryFilter, error) {
	q := r.URL.Query()
	f := app.StoryFilter{
		Scope:           strings.TrimSpace(q.Get("filter")),
		Theme:           q.Get("theme"),
		Language:        q.Get("language"),
		Search:          q.Get("q"),
		Sort:            q.Get("sort"),
		DisplayLanguage: q.Get("lang"),
	}
	f.PublishedOnly = f.Scope == app.ScopeAll
	ints := []struct {
		name string
		dst  *int
	}{
		{"age", &f.Age},
		{"limit", &f.Limit},
		{"offset", &f.Offset},
	}
	for _, p := range ints {
		raw := strings.TrimSpace(q.Get(p.name))
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return app.StoryFilter{}, &app.Error{Kind: app.KindValidation, Detail: p.name + " must be a number"}
		}
		*p.dst = n
	}
	if raw := strings.TrimSpace(q.Get("published")); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return app.StoryFilter{}, &app.Error{Kind: app.KindValidation, Detail: "published must be true or false"}
		}
		f.PublishedOnly = b
	}
	return f, nil
}

func (s *Server) handleCreateStory(w http.ResponseWriter, r *http.Request, actor app.Actor) {
	var req createStoryRequest
	if !s.decodeJSON(w, r, &req, false) {
		return
	}
	view, err := s.app.CreateStory(r.Context(), actor, app.CreateStoryInput{
		Title:   req.Title,
		Tagline: req.Tagline,
		Lines:   req.Lines,
		Params:  req.Params,
		Prompt:  req.Prompt,
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (s *Server) handleGenerateStory(w http.ResponseWriter, r *http.Request, actor app.Actor) {
	var req generateStoryRequest
	if !s.decodeJSON(w, r, &req, false) {
		return
	}
	view, err := s.app.GenerateStory(r.Context(), actor, app.GenerateStoryInput{
		Params:       req.Params,
		Instructions: req.Instructions,
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (s *Server) handleSuggestLines(w http.ResponseWriter, r *http.Request, _ app.Actor) {
	var req linesRequest
	if !s.decodeJSON(w, r, &req, true) {
		return
	}
	suggestions, err := s.app.SuggestLines(r.Context(), req.Lines)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"suggestions": suggestions})
}

func (s *Server) handleCheckLine(w http.ResponseWriter, r *http.Request, _ app.Actor) {
	var req checkLineRequest
	if !s.decodeJSON(w, r, &req, false) {
		return
	}
	check, err := s.app.CheckLine(r.Context(), req.Line, req.Lines)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, check)
}

func (s *Server) handleSuggestMeta(w http.ResponseWriter, r *http.Request, _ app.Actor) {
	var req linesRequest
	if !s.decodeJSON(w, r, &req, true) {
		return
	}
	meta, err := s.app.SuggestMeta(r.Context(), req.Lines)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (s *Server) handleGetStory(w http.ResponseWriter, r *http.Request, actor app.Actor) {
	view, err := s.app.GetStory(r.Context(), actor, r.PathValue("id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleUpdateStory(w http.ResponseWriter, r *http.Request, actor app.Actor) {
	var req updateStoryRequest
	if !s.decodeJSON(w, r, &req, false) {
		return
	}
	view, err := s.app.UpdateStoryMeta(r.Context(), actor, r.PathValue("id"), req.Title, req.Tagline)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleDeleteStory(w http.ResponseWriter, r *http.Request, actor app.Actor) {
	if err := s.app.DeleteStory(r.Context(), actor, r.PathValue("id")); err != nil {
		writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLikeStory(w http.ResponseWriter, r *http.Request, actor app.Actor) {
	state, err := s.app.ToggleStoryLike(r.Context(), actor, r.PathValue("id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleLikeLine(w http.ResponseWriter, r *http.Request, actor app.Actor) {
	state, err := s.app.ToggleLineLike(r.Context(), actor, r.PathValue("id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleTranslate(w http.ResponseWriter, r *http.Request, actor app.Actor) {
	var req translateRequest
	if !s.decodeJSON(w, r, &req, false) {
		return
	}
	text, err := s.app.Translate(r.Context(), actor, r.PathValue("id"), req.Language)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, text)
}

func (s *Server) handleGenerateImage(w http.ResponseWriter, r *http.Request, actor app.Actor) {
	img, err := s.app.GenerateImage(r.Context(), actor, r.PathValue("id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, img)
}

func (s *Server) handleGenerateAudio(w http.ResponseWriter, r *http.Request, actor app.Actor) {
	var req audioRequest
	if !s.decodeJSON(w, r, &req, true) {
		return
	}
	audio, err := s.app.GenerateAudio(r.Context(), actor, r.PathValue("id"), req.Language, req.Voice)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, audio)
}

func (s *Server) handleGetPlaylist(w http.ResponseWriter, r *http.Request, actor app.Actor) {
	view, err := s.app.GetPlaylist(r.Context(), actor)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handlePlaylistAdd(w http.ResponseWriter, r *http.Request, actor app.Actor) {
	var req playlistEditRequest
	if !s.decodeJSON(w, r, &req, false) {
		return
	}
	view, err := s.app.PlaylistAdd(r.Context(), actor, req.Story)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handlePlaylistRemove(w http.ResponseWriter, r *http.Request, actor app.Actor) {
	var req playlistEditRequest
	if !s.decodeJSON(w, r, &req, false) {
		return
	}
	view, err := s.app.PlaylistRemove(r.Context(), actor, req.Story)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handlePlaylistReorder(w http.ResponseWriter, r *http.Request, actor app.Actor) {
	var req playlistReorderRequest
	if !s.decodeJSON(w, r, &req, false) {
		return
	}
	view, err := s.app.PlaylistReorder(r.Context(), actor, req.Order)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}
