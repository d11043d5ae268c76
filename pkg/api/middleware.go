package api

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// Correlation headers. Responses always carry both with the same value.
const (
	HeaderCorrelationID = "X-Correlation-Id"
	HeaderRequestID     = "X-Request-Id"
)

// correlationMiddleware stamps every response with a correlation id. An
// inbound X-Correlation-Id wins, then an inbound X-Request-Id, then a fresh
// id. Both response headers carry the same value so log lines and client
// traces join on either.
func correlationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderCorrelationID)
		if id == "" {
			id = r.Header.Get(HeaderRequestID)
		}
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(HeaderCorrelationID, id)
		w.Header().Set(HeaderRequestID, id)
		next.ServeHTTP(w, r)
	})
}

func headersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			w.Header().Set("Content-Type", "application/json")
		}
		next.ServeHTTP(w, r)
	})
}
