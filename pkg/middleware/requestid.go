package middleware

import (
	"net/http"

	"github.com/google/uuid"
)

// RequestIDHeader is the header request IDs travel in.
const RequestIDHeader = "X-Request-ID"

// RequestID tags every request with an ID so responses and log lines can be
// matched up. A client-supplied ID is echoed back, otherwise one is minted.
func RequestID(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.New().String()
			r.Header.Set(RequestIDHeader, id)
		}
		w.Header().Set(RequestIDHeader, id)
		next(w, r)
	}
}
