// Package requesttime pins one "now" per HTTP request. Every write inside a
// request shares the same timestamp, so a transfer's credit update and its
// transaction record never disagree about when the event happened.
package requesttime

import (
	"net/http"
	"time"

	"karbon/pkg/requestcontext"
)

// Middleware captures the current time at the start of the request and stores
// it in the context.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithTime(r.Context(), time.Now())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
