package handlers

import (
	"log"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/gluk-w/termgate/internal/logutil"
)

// originAllowed reports whether r comes from a page on this host or on a
// host matching one of patterns. Patterns use path.Match syntax against the
// origin's host, the same rule websocket.AcceptOptions.OriginPatterns uses.
// Requests without an Origin header are not from a browser page and pass.
func originAllowed(r *http.Request, patterns []string) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	host := strings.ToLower(u.Host)
	if host == strings.ToLower(r.Host) {
		return true
	}
	for _, p := range patterns {
		if ok, err := path.Match(strings.ToLower(p), host); err == nil && ok {
			return true
		}
	}
	return false
}

// CheckOrigin rejects state-changing requests sent by pages on other
// origins. Safe methods pass; the WebSocket upgrade does its own check.
func CheckOrigin(patterns []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}
			if !originAllowed(r, patterns) {
				log.Printf("[handlers] blocked %s %s from origin %s", r.Method,
					logutil.SanitizeForLog(r.URL.Path), logutil.SanitizeForLog(r.Header.Get("Origin")))
				writeError(w, http.StatusForbidden, "Origin not allowed")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
