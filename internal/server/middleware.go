package server

import (
	"log/slog"
	"net/http"
	"time"

	apierrors "github.com/maruel/tmdb/internal/errors"
	"github.com/maruel/tmdb/internal/server/ratelimit"
)

// RateLimit refuses the requests exceeding the limits with a 429 JSON error.
func RateLimit(limits *ratelimit.Config) func(http.Handler) http.Handler {
	return ratelimit.Middleware(limits, func(w http.ResponseWriter, r *http.Request, res ratelimit.Result) {
		secs := int(res.RetryAfter.Seconds())
		if secs < 1 {
			secs = 1
		}
		writeError(r.Context(), w, apierrors.RateLimitExceeded(secs))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (s *statusWriter) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusWriter) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

// LogRequests logs every request at debug level once served.
func LogRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		slog.DebugContext(r.Context(), "http", "method", r.Method, "path", r.URL.Path, "status", sw.status, "dur", time.Since(start).Round(time.Microsecond))
	})
}
