package ratelimit

import (
	"net/http"
	"strings"
	"time"
)

// Tier is a named limiter. A nil *Tier does not limit.
type Tier struct {
	Name    string
	Limiter *Limiter
}

// Config holds the read and write tiers.
type Config struct {
	Read  *Tier
	Write *Tier
}

// NewConfig returns tiers allowing the given requests per minute. 0 disables
// a tier. Bursts are a sixth of the rate.
func NewConfig(readPerMin, writePerMin int) *Config {
	c := &Config{}
	if readPerMin > 0 {
		c.Read = &Tier{Name: "read", Limiter: NewLimiter(readPerMin, time.Minute, readPerMin/6)}
	}
	if writePerMin > 0 {
		c.Write = &Tier{Name: "write", Limiter: NewLimiter(writePerMin, time.Minute, writePerMin/6)}
	}
	return c
}

// Match returns the tier of a request, nil when it is not limited.
func (c *Config) Match(method, path string) *Tier {
	if path == "/api/health" {
		return nil
	}
	switch method {
	case http.MethodGet, http.MethodHead:
		return c.Read
	case http.MethodPost:
		// Search is a read even though it is a POST, and so is paging.
		if strings.HasSuffix(path, "/search") || strings.HasSuffix(path, "/pages") {
			return c.Read
		}
		return c.Write
	case http.MethodPut, http.MethodPatch, http.MethodDelete:
		return c.Write
	}
	return nil
}

// Close stops the limiters.
func (c *Config) Close() {
	for _, t := range []*Tier{c.Read, c.Write} {
		if t != nil {
			t.Limiter.Close()
		}
	}
}
