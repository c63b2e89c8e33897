package mcp

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// AuthMiddleware guards next with a static API key, accepted either as a
// bearer token or as the bare Authorization value. An empty key disables
// the check.
func AuthMiddleware(apiKey string, next http.Handler) http.Handler {
	if apiKey == "" {
		return next
	}
	want := []byte(apiKey)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			w.Header().Set("WWW-Authenticate", `Bearer realm="lspindex"`)
			http.Error(w, "missing authorization header", http.StatusUnauthorized)
			return
		}
		got := []byte(strings.TrimSpace(strings.TrimPrefix(header, "Bearer ")))
		if subtle.ConstantTimeCompare(got, want) != 1 {
			http.Error(w, "invalid credentials", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
