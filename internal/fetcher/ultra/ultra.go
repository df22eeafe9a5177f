// Package ultra implements the ultra fetch strategy: a headless Chrome
// session via chromedp, for sites that require full JS execution.
package ultra

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"golang.org/x/time/rate"

	"github.com/hawkcrawl/scout/internal/fetcher"
	"github.com/hawkcrawl/scout/internal/orchestrator"
)

// Config controls the headless fetcher's browser pool and pacing.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// RenderRate caps how many navigations per second the shared browser
	// instance will start, independent of the orchestrator's per-domain
	// rate pacing, since a single browser process has its own resource
	// ceiling regardless of how many domains are in flight.
	RenderRate rate.Limit
}

// Fetcher implements orchestrator.Fetcher using chromedp and headless
// Chrome.
type Fetcher struct {
	cfg         Config
	limiter     *rate.Limiter
	slots       chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// New creates a headless Fetcher backed by chromedp.
func New(cfg Config) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if cfg.RenderRate <= 0 {
		cfg.RenderRate = 2
	}

	var slots chan struct{}
	if cfg.MaxParallel > 0 {
		slots = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Fetcher{
		cfg:         cfg,
		limiter:     rate.NewLimiter(cfg.RenderRate, 1),
		slots:       slots,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close releases the allocator and its browser process.
func (f *Fetcher) Close() {
	f.allocCancel()
}

// Fetch implements orchestrator.Fetcher.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (orchestrator.FetchOutcome, error) {
	start := time.Now()

	if err := f.acquireSlot(ctx); err != nil {
		return orchestrator.FetchOutcome{Kind: orchestrator.FailureCancelled, ElapsedMs: time.Since(start).Milliseconds()}, nil
	}
	defer f.releaseSlot()

	if err := f.limiter.Wait(ctx); err != nil {
		return orchestrator.FetchOutcome{Kind: orchestrator.FailureCancelled, ElapsedMs: time.Since(start).Milliseconds()}, nil
	}

	taskCtx, taskCancel := chromedp.NewContext(f.allocator)
	defer taskCancel()

	taskCtx, cancel := context.WithTimeout(taskCtx, f.cfg.NavigationTimeout)
	defer cancel()

	meta := newResponseMeta()
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	html, finalURL, screenshot, err := f.runHeadless(taskCtx, rawURL)
	if err != nil {
		return orchestrator.FetchOutcome{
			Kind:      fetcher.ClassifyTransportError(err),
			ElapsedMs: time.Since(start).Milliseconds(),
		}, nil
	}

	status, headers, responseURL := meta.snapshotWithFallbacks(rawURL, finalURL)
	content := []byte(html)

	kind := fetcher.ClassifyHTTPStatus(status)
	if kind == "" && len(content) == 0 {
		kind = orchestrator.FailureParseEmpty
	}
	if kind == "" && fetcher.LooksLikeChallenge(status, content) {
		kind = orchestrator.FailureChallenge
	}

	var outcomeScreenshot []byte
	if kind != "" {
		outcomeScreenshot = screenshot
	}

	return orchestrator.FetchOutcome{
		Success:    kind == "",
		Content:    content,
		Headers:    headers,
		Screenshot: outcomeScreenshot,
		FinalURL:   responseURL,
		HTTPStatus: status,
		ElapsedMs:  time.Since(start).Milliseconds(),
		Kind:       kind,
		RetryAfter: fetcher.ParseRetryAfter(headers),
	}, nil
}

// runHeadless navigates to rawURL and captures the rendered page, its final
// URL, and a full-page screenshot for evidence capture on a failing
// attempt; the screenshot is discarded by the caller on success.
func (f *Fetcher) runHeadless(ctx context.Context, rawURL string) (string, string, []byte, error) {
	var html, finalURL string
	var screenshot []byte
	actions := []chromedp.Action{
		f.networkSetupAction(),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500 * time.Millisecond),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
		chromedp.CaptureScreenshot(&screenshot),
	}
	if err := chromedp.Run(ctx, actions...); err != nil {
		return "", "", nil, fmt.Errorf("chromedp run: %w", err)
	}
	return html, finalURL, screenshot, nil
}

func (f *Fetcher) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func (f *Fetcher) acquireSlot(ctx context.Context) error {
	if f.slots == nil {
		return nil
	}
	select {
	case f.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *Fetcher) releaseSlot() {
	if f.slots == nil {
		return
	}
	select {
	case <-f.slots:
	default:
	}
}

type responseMeta struct {
	mu      sync.RWMutex
	status  int
	headers http.Header
	url     string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{headers: http.Header{}}
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	headers := http.Header{}
	for key, value := range event.Response.Headers {
		switch v := value.(type) {
		case string:
			headers.Add(key, v)
		case []interface{}:
			for _, entry := range v {
				headers.Add(key, fmt.Sprint(entry))
			}
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}
	m.mu.Lock()
	m.status = int(event.Response.Status)
	m.headers = headers
	m.url = event.Response.URL
	m.mu.Unlock()
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

func (m *responseMeta) snapshot() (int, http.Header, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status, m.headers.Clone(), m.url
}

func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, http.Header, string) {
	status, headers, url := m.snapshot()
	switch {
	case url != "":
	case finalURL != "":
		url = finalURL
	default:
		url = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	return status, headers, url
}
