// Package auth guards the HTTP API with a shared bearer token.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// publicPaths never require a token.
var publicPaths = map[string]bool{
	"/healthz": true,
	"/readyz":  true,
}

// Middleware requires "Authorization: Bearer <token>" on every request
// except public paths. Browser websocket clients can't set headers, so an
// access_token query parameter is accepted too. An empty token disables
// authentication, which suits the default loopback listener.
func Middleware(token string, next http.Handler) http.Handler {
	if token == "" {
		return next
	}
	want := []byte(token)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if publicPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		var got string
		if authz := r.Header.Get("Authorization"); strings.HasPrefix(authz, "Bearer ") {
			got = strings.TrimSpace(strings.TrimPrefix(authz, "Bearer "))
		} else if q := r.URL.Query().Get("access_token"); q != "" {
			got = q
		} else {
			http.Error(w, "missing API token", http.StatusUnauthorized)
			return
		}

		if subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			http.Error(w, "invalid API token", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
