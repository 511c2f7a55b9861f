// Package requestid assigns each HTTP request a correlation id. Incoming
// X-Request-ID headers are honored so the id survives proxy hops; otherwise a
// fresh one is generated. The id is echoed on the response and available to
// handlers via requestcontext.
package requestid

import (
	"net/http"

	"github.com/google/uuid"

	"karbon/pkg/requestcontext"
)

const headerName = "X-Request-ID"

// Middleware resolves or generates the request id.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(headerName)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set(headerName, reqID)
		ctx := requestcontext.WithRequestID(r.Context(), reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
