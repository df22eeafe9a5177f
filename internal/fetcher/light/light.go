// Package light implements the light fetch strategy: a plain HTTP client
// via gocolly, no JS rendering, no stealth headers.
package light

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/hawkcrawl/scout/internal/fetcher"
	"github.com/hawkcrawl/scout/internal/orchestrator"
)

// Config controls the light fetcher's collector.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Fetcher implements orchestrator.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

// New builds a light Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.WithTransport(newTransport())
	return &Fetcher{cfg: cfg, baseCollector: c}
}

// Fetch implements orchestrator.Fetcher.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (orchestrator.FetchOutcome, error) {
	return f.do(ctx, http.MethodGet, rawURL, 0)
}

// Head issues a HEAD request through the same collector and transport as
// Fetch, for callers (the site profiler) that only need response metadata
// before deciding whether to spend a full GET.
func (f *Fetcher) Head(ctx context.Context, rawURL string) (orchestrator.FetchOutcome, error) {
	return f.do(ctx, http.MethodHead, rawURL, 0)
}

// FetchTruncated behaves like Fetch but caps the read response body at
// maxBytes, for callers that only need a sample of the body.
func (f *Fetcher) FetchTruncated(ctx context.Context, rawURL string, maxBytes int) (orchestrator.FetchOutcome, error) {
	return f.do(ctx, http.MethodGet, rawURL, maxBytes)
}

func (f *Fetcher) do(ctx context.Context, method, rawURL string, maxBytes int) (orchestrator.FetchOutcome, error) {
	start := time.Now()

	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.SetRequestTimeout(f.cfg.Timeout)
	if maxBytes > 0 {
		collector.MaxBodySize = maxBytes
	}

	var (
		outcome  orchestrator.FetchOutcome
		fetchErr error
	)

	isHead := method == http.MethodHead
	collector.OnResponse(func(r *colly.Response) {
		outcome = buildOutcome(r.Request.URL.String(), r.StatusCode, r.Headers, r.Body, start, isHead)
	})
	collector.OnError(func(r *colly.Response, err error) {
		fetchErr = err
		if r != nil && r.StatusCode != 0 {
			outcome = buildOutcome(rawURL, r.StatusCode, r.Headers, r.Body, start, isHead)
		}
	})

	visit := collector.Visit
	if isHead {
		visit = collector.Head
	}

	done := make(chan error, 1)
	go func() { done <- visit(rawURL) }()

	select {
	case <-ctx.Done():
		return orchestrator.FetchOutcome{Kind: orchestrator.FailureCancelled, ElapsedMs: time.Since(start).Milliseconds()}, nil
	case err := <-done:
		if err != nil && outcome.HTTPStatus == 0 {
			kind := fetcher.ClassifyTransportError(err)
			return orchestrator.FetchOutcome{Kind: kind, ElapsedMs: time.Since(start).Milliseconds()}, nil
		}
		if fetchErr != nil && outcome.Kind == "" {
			outcome.Kind = orchestrator.FailureUnknown
		}
		return outcome, nil
	}
}

func buildOutcome(finalURL string, status int, headers *http.Header, body []byte, start time.Time, isHead bool) orchestrator.FetchOutcome {
	elapsed := time.Since(start).Milliseconds()
	kind := fetcher.ClassifyHTTPStatus(status)

	if kind == "" && len(body) == 0 && !isHead {
		kind = orchestrator.FailureParseEmpty
	}
	if kind == "" {
		if headers != nil && fetcher.LooksLikeChallenge(status, body) {
			kind = orchestrator.FailureChallenge
		}
	}

	var retryAfter time.Duration
	if headers != nil {
		retryAfter = fetcher.ParseRetryAfter(*headers)
	}

	var respHeaders http.Header
	if headers != nil {
		respHeaders = *headers
	}

	return orchestrator.FetchOutcome{
		Success:    kind == "",
		Content:    body,
		Headers:    respHeaders,
		FinalURL:   finalURL,
		HTTPStatus: status,
		ElapsedMs:  elapsed,
		Kind:       kind,
		RetryAfter: retryAfter,
	}
}

func newTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
