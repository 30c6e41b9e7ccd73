package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"taletinker/internal/app"
	"taletinker/internal/ratelimit"
	"taletinker/internal/usertoken"
	"taletinker/internal/util"
	"taletinker/pkg/domain"
)

const (
	serviceName            = "taletinker"
	defaultGenerateLimit   = 20
	defaultMaxRequestBytes = 1 << 20
	mediaPrefix            = "/media/"
)

// TokenVerifier turns a bearer token into a caller identity.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (usertoken.Identity, error)
}

// Config wires required dependencies for the HTTP server.
type Config struct {
	App                        *app.App
	TokenVerifier              TokenVerifier
	Redis                      redis.UniversalClient
	GenerateRateLimitPerMinute int
	CORSOrigins                []string
	TrustedProxies             *util.TrustedProxies
	MaxRequestBytes            int64

	// MediaDir, when set, is served under /media/ for the local blob store.
	MediaDir string
}

// Server exposes the story API over HTTP.
type Server struct {
	app             *app.App
	tokenVerifier   TokenVerifier
	mux             *http.ServeMux
	corsOrigins     []string
	trustedProxies  *util.TrustedProxies
	maxRequestBytes int64
	mediaDir        string
	generateLimiter *ratelimit.FixedWindowLimiter
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("server requires app")
	}
	if cfg.TokenVerifier == nil {
		return nil, errors.New("server requires token verifier")
	}
	generateLimit := cfg.GenerateRateLimitPerMinute
	if generateLimit <= 0 {
		generateLimit = defaultGenerateLimit
	}
	generateLimiter, err := ratelimit.NewFixedWindowLimiter(cfg.Redis, "taletinker:ratelimit:generate", generateLimit, time.Minute)
	if err != nil {
		return nil, fmt.Errorf("init generate limiter: %w", err)
	}
	maxBytes := cfg.MaxRequestBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxRequestBytes
	}
	s := &Server{
		app:             cfg.App,
		tokenVerifier:   cfg.TokenVerifier,
		mux:             http.NewServeMux(),
		corsOrigins:     cfg.CORSOrigins,
		trustedProxies:  cfg.TrustedProxies,
		maxRequestBytes: maxBytes,
		mediaDir:        strings.TrimSpace(cfg.MediaDir),
		generateLimiter: generateLimiter,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog(serviceName, util.WithSecurityHeaders(mediaPrefix, util.WithCORS(s.corsOrigins, s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.mediaDir != "" {
		s.mux.Handle("GET "+mediaPrefix, http.StripPrefix(mediaPrefix, http.FileServer(http.Dir(s.mediaDir))))
	}

	s.mux.Handle("GET /api/stories/config", s.withActor(s.handleStoryConfig))
	s.mux.Handle("GET /api/stories", s.withActor(s.handleListStories))
	s.mux.Handle("POST /api/stories", s.withActor(s.handleCreateStory))
	s.mux.Handle("POST /api/stories/generate", s.withActor(s.limited("generate", s.handleGenerateStory)))
	s.mux.Handle("POST /api/stories/suggest", s.withActor(s.limited("suggest", s.handleSuggestLines)))
	s.mux.Handle("POST /api/stories/check-line", s.withActor(s.limited("check-line", s.handleCheckLine)))
	s.mux.Handle("POST /api/stories/suggest-meta", s.withActor(s.limited("suggest-meta", s.handleSuggestMeta)))

	s.mux.Handle("GET /api/stories/{id}", s.withActor(s.handleGetStory))
	s.mux.Handle("PATCH /api/stories/{id}", s.withActor(s.handleUpdateStory))
	s.mux.Handle("DELETE /api/stories/{id}", s.withActor(s.handleDeleteStory))
	s.mux.Handle("POST /api/stories/{id}/like", s.withActor(s.handleLikeStory))
	s.mux.Handle("POST /api/stories/{id}/translate", s.withActor(s.limited("translate", s.handleTranslate)))
	s.mux.Handle("POST /api/stories/{id}/image", s.withActor(s.limited("image", s.handleGenerateImage)))
	s.mux.Handle("POST /api/stories/{id}/audio", s.withActor(s.limited("audio", s.handleGenerateAudio)))
	s.mux.Handle("POST /api/lines/{id}/like", s.withActor(s.handleLikeLine))

	s.mux.Handle("GET /api/playlist", s.withActor(s.handleGetPlaylist))
	s.mux.Handle("POST /api/playlist/add", s.withActor(s.handlePlaylistAdd))
	s.mux.Handle("POST /api/playlist/remove", s.withActor(s.handlePlaylistRemove))
	s.mux.Handle("POST /api/playlist/reorder", s.withActor(s.handlePlaylistReorder))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type actorHandler func(http.ResponseWriter, *http.Request, app.Actor)

// withActor resolves the optional bearer token. A missing token is an
// anonymous caller; a token that does not verify is rejected.
func (s *Server) withActor(next actorHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, present, ok := bearerToken(r)
		if !present {
			next(w, r, app.Actor{})
			return
		}
		if !ok {
			s.audit(r, "token.verify", "fail", "reason", "malformed_header")
			writeError(w, r, http.StatusUnauthorized, string(app.KindUnauthorized), "unauthorized")
			return
		}
		id, err := s.tokenVerifier.Verify(r.Context(), token)
		if err != nil {
			s.audit(r, "token.verify", "fail", "reason", "invalid_signature_or_claims")
			writeError(w, r, http.StatusUnauthorized, string(app.KindUnauthorized), "unauthorized")
			return
		}
		actor := app.Actor{ID: id.Subject, Email: id.Email, Name: id.Name}
		logger := util.LoggerFromContext(r.Context()).With("user_id", actor.ID)
		r = r.WithContext(util.ContextWithLogger(r.Context(), logger))
		next(w, r, actor)
	})
}

// limited applies the generation rate limit to one route. The bucket is the
// route name plus the user when known, or the client IP otherwise, so
// requests against different stories share a quota.
func (s *Server) limited(route string, next actorHandler) actorHandler {
	return func(w http.ResponseWriter, r *http.Request, actor app.Actor) {
		caller := "ip:" + util.ClientIP(r, s.trustedProxies)
		if actor.Authenticated() {
			caller = "user:" + actor.ID
		}
		allowed, retryAfter := s.generateLimiter.Allow(r.Context(), route+"|"+caller)
		if !allowed {
			seconds := int(retryAfter.Round(time.Second) / time.Second)
			if seconds <= 0 {
				seconds = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(seconds))
			writeError(w, r, http.StatusTooManyRequests, "rate_limited", "too many generation requests")
			return
		}
		next(w, r, actor)
	}
}

func bearerToken(r *http.Request) (token string, present, ok bool) {
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if authHeader == "" {
		return "", false, false
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", true, false
	}
	token = strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	return token, true, token != ""
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Reason    string `json:"reason,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code, RequestID: util.RequestIDFromRequest(r)})
}

// writeAppError maps an App failure to its HTTP status.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	logger := util.LoggerFromContext(r.Context())
	resp := errorResponse{Code: string(app.KindOf(err)), RequestID: util.RequestIDFromRequest(r)}
	var appErr *app.Error
	if errors.As(err, &appErr) {
		resp.Error = appErr.Detail
	}
	var status int
	switch app.KindOf(err) {
	case app.KindValidation:
		status = http.StatusBadRequest
	case app.KindUnauthorized:
		status = http.StatusUnauthorized
		resp.Error = "unauthorized"
	case app.KindForbidden:
		status = http.StatusForbidden
	case app.KindNotFound:
		status = http.StatusNotFound
	case app.KindConflict:
		status = http.StatusConflict
		logger.Info("request conflict", "path", r.URL.Path, "err", err)
	case app.KindGeneration:
		status = http.StatusServiceUnavailable
		resp.Error = "story generation is unavailable, please try again"
		if appErr != nil {
			resp.Reason = appErr.Reason
		}
		logger.Warn("generation failed", "path", r.URL.Path, "err", err)
	default:
		status = http.StatusInternalServerError
		resp.Code = string(app.KindInternal)
		resp.Error = "internal error"
		logger.Error("request failed", "path", r.URL.Path, "method", r.Method, "err", err)
	}
	if resp.Error == "" {
		resp.Error = http.StatusText(status)
	}
	writeJSON(w, status, resp)
}

// decodeJSON reads a bounded JSON body and rejects unknown keys. An empty body
// leaves dst untouched when optional is set.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst any, optional bool) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxRequestBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return true
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, http.StatusRequestEntityTooLarge, string(app.KindValidation), "request body too large")
			return false
		}
		msg := "invalid JSON body"
		if errors.Is(err, domain.ErrInvalidParams) || strings.HasPrefix(err.Error(), "json: unknown field") {
			msg = err.Error()
		}
		writeError(w, r, http.StatusBadRequest, string(app.KindValidation), msg)
		return false
	}
	return true
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", util.ClientIP(r, s.trustedProxies),
	}
	logAttrs = append(logAttrs, attrs...)
	logger := util.LoggerFromContext(r.Context())
	if outcome == "success" {
		logger.Info("security_event", logAttrs...)
		return
	}
	logger.Warn("security_event", logAttrs...)
}
