package daemon

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// authMiddleware returns a middleware that validates bearer tokens.
// If token is empty, no authentication is required and all requests pass through.
// Otherwise, requests must include "Authorization: Bearer <token>" header.
func authMiddleware(token string, next http.HandlerFunc) http.HandlerFunc {
	if token == "" {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			unauthorized(w)
			return
		}
		if !tokenEqual(strings.TrimPrefix(auth, "Bearer "), token) {
			unauthorized(w)
			return
		}
		next(w, r)
	}
}

// callbackMiddleware accepts either a bearer token or the X-Callback-Token
// header the HTTP synthesis dispatcher sends.
func callbackMiddleware(token string, next http.HandlerFunc) http.HandlerFunc {
	if token == "" {
		return next
	}
	bearer := authMiddleware(token, next)
	return func(w http.ResponseWriter, r *http.Request) {
		if value := r.Header.Get("X-Callback-Token"); value != "" {
			if !tokenEqual(value, token) {
				unauthorized(w)
				return
			}
			next(w, r)
			return
		}
		bearer(w, r)
	}
}

func tokenEqual(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized"}` + "\n"))
}
