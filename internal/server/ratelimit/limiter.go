// Package ratelimit throttles inbound requests per client.
package ratelimit

import (
	"net"
	"net/http"
	"strings"
	"time"
)

// Limiter decides whether a request identified by key may proceed.
type Limiter interface {
	Allow(key string) bool
	Reset(key string)
}

// Stoppable extends Limiter with a Stop method for background cleanup.
type Stoppable interface {
	Limiter
	Stop()
}

// Config holds the configuration for rate limiting.
type Config struct {
	Enabled bool `yaml:"enabled"`

	// Requests is the number of requests a client may make per Window.
	Requests int `yaml:"requests"`

	// Window is the period over which Requests are refilled.
	Window time.Duration `yaml:"window"`
}

// DefaultConfig returns the default rate limiting configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:  false,
		Requests: 120,
		Window:   time.Minute,
	}
}

// ClientKey extracts the client address used as limiter key. Proxy headers
// win over the socket address.
func ClientKey(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
