package relay

import (
	"net/http"

	"golang.org/x/time/rate"
)

// RateLimit wraps the HTTP query surface with a process-wide token bucket.
// rps <= 0 disables limiting. The websocket ingest path is deliberately not
// behind this: location streams are bounded by their own send queues.
func RateLimit(rps, burst int, next http.Handler) http.Handler {
	if rps <= 0 {
		return next
	}
	if burst <= 0 {
		burst = rps
	}
	lim := rate.NewLimiter(rate.Limit(rps), burst)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !lim.Allow() {
			writeProblem(w, http.StatusTooManyRequests, "Rate limit exceeded", "", r.URL.Path)
			return
		}
		next.ServeHTTP(w, r)
	})
}
