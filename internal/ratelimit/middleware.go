package ratelimit

import (
	"log/slog"
	"net"
	"net/http"
)

// KeyFunc extracts the rate limit key from a request. An empty key skips
// limiting for that request.
type KeyFunc func(r *http.Request) string

// Middleware enforces limiter on next. Rejected requests are answered by
// reject, which writes the caller-facing 429 body; a Retry-After header is
// set before it runs. Limiter errors are logged and the request proceeds.
func Middleware(limiter Limiter, keyFunc KeyFunc, reject http.HandlerFunc, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFunc(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			ok, err := limiter.Allow(r.Context(), key)
			if err != nil {
				logger.Warn("ratelimit: limiter error, allowing request", "key", key, "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if !ok {
				w.Header().Set("Retry-After", "1")
				reject(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// IPKeyFunc keys requests by the client IP in RemoteAddr. X-Forwarded-For
// is ignored: any client can set it. Behind a trusted proxy, have the proxy
// rewrite RemoteAddr instead.
func IPKeyFunc(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return "ip:" + host
}
