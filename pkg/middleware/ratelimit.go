package middleware

import (
	"net/http"

	"golang.org/x/time/rate"
)

// RateLimit rejects requests the limiter does not admit with 429. Used on
// the manual trigger endpoint, where every accepted request runs the job.
func RateLimit(limiter *rate.Limiter, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}
