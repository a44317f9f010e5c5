// Package middleware holds the HTTP wrappers shared by every route.
package middleware

import "net/http"

// Chain applies mws to h so that the first one listed is the outermost.
func Chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
