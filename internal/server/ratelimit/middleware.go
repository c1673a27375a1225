package ratelimit

import (
	"net"
	"net/http"
	"strconv"
)

// WriteHeaders writes the X-RateLimit-* headers, and Retry-After when the
// request was refused.
func WriteHeaders(w http.ResponseWriter, r Result) {
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(r.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(r.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(r.ResetAt.Unix(), 10))
	if !r.Allowed {
		h.Set("Retry-After", strconv.Itoa(int(r.RetryAfter.Seconds())))
	}
}

// Middleware limits the requests per client address. Refused requests are
// answered by refuse.
func Middleware(c *Config, refuse func(http.ResponseWriter, *http.Request, Result)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tier := c.Match(r.Method, r.URL.Path)
			if tier == nil {
				next.ServeHTTP(w, r)
				return
			}
			res := tier.Limiter.Allow(Key(ClientIP(r), tier.Name))
			WriteHeaders(w, res)
			if !res.Allowed {
				refuse(w, r, res)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Key builds the bucket key of a client for a tier.
func Key(client, tier string) string {
	return "ip:" + client + ":" + tier
}

// ClientIP returns the host part of the remote address.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
