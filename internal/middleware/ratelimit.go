package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
)

// RateLimit creates rate limiting middleware. Requests are keyed by client IP
// unless other key functions are given; several keys are combined.
func RateLimit(requestLimit int, windowLength time.Duration, keys ...httprate.KeyFunc) func(http.Handler) http.Handler {
	if len(keys) == 0 {
		keys = []httprate.KeyFunc{httprate.KeyByIP}
	}

	retryAfter := strconv.Itoa(int(windowLength.Seconds()))
	return httprate.Limit(
		requestLimit,
		windowLength,
		httprate.WithKeyFuncs(keys...),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", retryAfter)
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"rate limit exceeded","retry_after":` + retryAfter + `}`))
		}),
	)
}

// KeyByChat keys requests by the chat named in the route, so one busy
// conversation cannot starve the others.
func KeyByChat(r *http.Request) (string, error) {
	return "chat:" + chi.URLParam(r, "name"), nil
}
