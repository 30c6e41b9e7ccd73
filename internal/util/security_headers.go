package util

import (
	"net/http"
	"strings"
)

// WithSecurityHeaders adds security response headers. JSON API responses are
// locked down and never cached; paths under mediaPrefix serve story images and
// narration, which browsers on other origins may embed and cache.
func WithSecurityHeaders(mediaPrefix string, next http.Handler) http.Handler {
	mediaPrefix = strings.TrimSpace(mediaPrefix)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Permissions-Policy", "geolocation=(), camera=(), microphone=()")
		if mediaPrefix != "" && strings.HasPrefix(r.URL.Path, mediaPrefix) {
			h.Set("Cross-Origin-Resource-Policy", "cross-origin")
			h.Set("Cache-Control", "public, max-age=86400, immutable")
		} else {
			h.Set("X-Frame-Options", "DENY")
			h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'; base-uri 'none'")
			h.Set("Cache-Control", "no-store")
		}
		if r.TLS != nil || strings.EqualFold(strings.TrimSpace(r.Header.Get("X-Forwarded-Proto")), "https") {
			h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		next.ServeHTTP(w, r)
	})
}
