// Package stealth implements the stealth fetch strategy: a plain HTTP
// client with browser-like headers and rotating identities, no JS
// rendering.
package stealth

import (
	"context"
	"crypto/rand"
	"io"
	"math/big"
	"net"
	"net/http"
	"time"

	"github.com/hawkcrawl/scout/internal/fetcher"
	"github.com/hawkcrawl/scout/internal/orchestrator"
)

const maxBodyBytes = 8 << 20 // 8 MiB

// userAgents rotates across a small pool of realistic desktop browser
// strings so repeated requests to the same domain don't all look identical.
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
}

// Config controls the stealth fetcher's client.
type Config struct {
	Timeout time.Duration
}

// Fetcher implements orchestrator.Fetcher with browser-like headers.
type Fetcher struct {
	client *http.Client
}

// New builds a stealth Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Fetcher{
		client: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 15 * time.Second,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     60 * time.Second,
			},
		},
	}
}

// Fetch implements orchestrator.Fetcher.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (orchestrator.FetchOutcome, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return orchestrator.FetchOutcome{Kind: orchestrator.FailureInvalidURL, ElapsedMs: time.Since(start).Milliseconds()}, nil
	}
	applyBrowserHeaders(req)

	var redirectCount int
	client := f.clientCountingRedirects(&redirectCount)

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return orchestrator.FetchOutcome{Kind: orchestrator.FailureCancelled, ElapsedMs: time.Since(start).Milliseconds()}, nil
		}
		return orchestrator.FetchOutcome{Kind: fetcher.ClassifyTransportError(err), ElapsedMs: time.Since(start).Milliseconds()}, nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return orchestrator.FetchOutcome{Kind: orchestrator.FailureConnection, ElapsedMs: time.Since(start).Milliseconds()}, nil
	}

	kind := fetcher.ClassifyHTTPStatus(resp.StatusCode)
	if kind == "" && len(body) == 0 {
		kind = orchestrator.FailureParseEmpty
	}
	if kind == "" && fetcher.LooksLikeChallenge(resp.StatusCode, body) {
		kind = orchestrator.FailureChallenge
	}

	return orchestrator.FetchOutcome{
		Success:       kind == "",
		Content:       body,
		Headers:       resp.Header,
		FinalURL:      resp.Request.URL.String(),
		HTTPStatus:    resp.StatusCode,
		ElapsedMs:     time.Since(start).Milliseconds(),
		Kind:          kind,
		RetryAfter:    fetcher.ParseRetryAfter(resp.Header),
		RedirectCount: redirectCount,
	}, nil
}

// clientCountingRedirects returns a shallow copy of f.client whose
// CheckRedirect also increments count, without mutating the shared client.
func (f *Fetcher) clientCountingRedirects(count *int) *http.Client {
	clone := *f.client
	clone.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		*count = len(via)
		if len(via) >= 10 {
			return http.ErrUseLastResponse
		}
		return nil
	}
	return &clone
}

func applyBrowserHeaders(req *http.Request) {
	req.Header.Set("User-Agent", pickUserAgent())
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	req.Header.Set("Sec-Fetch-Dest", "document")
	req.Header.Set("Upgrade-Insecure-Requests", "1")
}

func pickUserAgent() string {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(userAgents))))
	if err != nil {
		return userAgents[0]
	}
	return userAgents[n.Int64()]
}
