// Package auth guards the API with static keys.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// HeaderName carries the key; QueryParam is the fallback for image links.
const (
	HeaderName = "X-API-Key"
	QueryParam = "api_key"
)

// ParseAPIKeys splits a comma-separated list, trimming whitespace and
// dropping empty entries.
func ParseAPIKeys(raw string) []string {
	var keys []string
	for _, k := range strings.Split(raw, ",") {
		k = strings.TrimSpace(k)
		if k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// KeyFrom returns the key presented by r, or "".
func KeyFrom(r *http.Request) string {
	if key := r.Header.Get(HeaderName); key != "" {
		return key
	}
	return r.URL.Query().Get(QueryParam)
}

// APIKeyMiddleware rejects requests without one of validKeys. With no keys
// configured every request passes.
func APIKeyMiddleware(validKeys []string) func(http.Handler) http.Handler {
	keys := make([][]byte, len(validKeys))
	for i, k := range validKeys {
		keys[i] = []byte(k)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(keys) == 0 || known(keys, []byte(KeyFrom(r))) {
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("WWW-Authenticate", `APIKey header="`+HeaderName+`"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
		})
	}
}

func known(keys [][]byte, got []byte) bool {
	if len(got) == 0 {
		return false
	}
	ok := false
	for _, k := range keys {
		if subtle.ConstantTimeCompare(k, got) == 1 {
			ok = true
		}
	}
	return ok
}
