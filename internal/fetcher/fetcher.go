// Package fetcher holds the shared contract and classification helpers used
// by the three concrete strategies (light, stealth, ultra). Each strategy
// lives in its own subpackage and implements orchestrator.Fetcher.
package fetcher

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hawkcrawl/scout/internal/orchestrator"
)

// ClassifyHTTPStatus maps a response status code to a FailureKind, or "" if
// the response should be treated as a success.
func ClassifyHTTPStatus(status int) orchestrator.FailureKind {
	switch {
	case status == 0:
		return orchestrator.FailureUnknown
	case status == http.StatusTooManyRequests:
		return orchestrator.FailureHTTP429
	case status == http.StatusUnauthorized || status == http.StatusForbidden || status == 451:
		return orchestrator.FailureHTTP4xxBlocked
	case status >= 500:
		return orchestrator.FailureHTTP5xx
	case status >= 400:
		// Anti-bot signals are limited to 401/403/451 above; other 4xx codes
		// (404, 400, 422, ...) are ordinary client errors, not blocking
		// signals, so they don't trip the circuit's distinct-URL rule or
		// skip retry the way http_4xx_blocked does.
		return orchestrator.FailureUnknown
	default:
		return ""
	}
}

// ClassifyTransportError maps a transport-level error (from an HTTP client
// or browser driver) to a FailureKind.
func ClassifyTransportError(err error) orchestrator.FailureKind {
	if err == nil {
		return ""
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return orchestrator.FailureTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return orchestrator.FailureTimeout
	}
	if errors.Is(err, context.Canceled) {
		return orchestrator.FailureCancelled
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return orchestrator.FailureConnection
	}
	return orchestrator.FailureConnection
}

// ParseRetryAfter reads the Retry-After header as either delta-seconds or
// an HTTP-date, returning 0 if absent or unparseable.
func ParseRetryAfter(h http.Header) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if when, err := http.ParseTime(v); err == nil {
		if d := time.Until(when); d > 0 {
			return d
		}
	}
	return 0
}

// LooksLikeChallenge sniffs a small response body for common bot-challenge
// markers (Cloudflare Turnstile, generic "challenge" pages).
func LooksLikeChallenge(status int, body []byte) bool {
	if len(body) == 0 || len(body) >= 512 {
		return false
	}
	lower := strings.ToLower(string(body))
	return strings.Contains(lower, "challenge") || strings.Contains(lower, "cf-chl") || strings.Contains(lower, "turnstile")
}
