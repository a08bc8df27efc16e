package handlers

import (
	"net"
	"net/http"
	"strings"
)

// RateLimiter admits or rejects one event for a key.
type RateLimiter interface {
	Allow(key string) bool
}

const activityScope = "activity:"

// allowActivity charges one activity signal to the calling client's address,
// whichever session it targets.
func allowActivity(limiter RateLimiter, r *http.Request) bool {
	if limiter == nil {
		return true
	}
	return limiter.Allow(activityScope + clientIP(r))
}

// clientIP prefers the first X-Forwarded-For hop and falls back to the
// connection's remote host.
func clientIP(r *http.Request) string {
	if hops := r.Header.Get("X-Forwarded-For"); hops != "" {
		first, _, _ := strings.Cut(hops, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil && host != "" {
		return host
	}
	return addr
}
