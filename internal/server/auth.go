package server

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// authMiddleware enforces the optional shared-token auth described by
// spec.md: a single static secret compared in constant time. There is
// no token-issuance step, so a JWT library (the teacher's
// golang-jwt/jwt/v5) doesn't fit here — see DESIGN.md.
func authMiddleware(token string, next http.Handler) http.Handler {
	if token == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"unauthorized"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}
