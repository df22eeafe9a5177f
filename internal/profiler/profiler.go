// Package profiler implements the Site Profiler: on cache miss it runs a
// HEAD followed by a truncated GET through the light fetcher and classifies
// the domain's anti-bot posture from the responses.
package profiler

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/hawkcrawl/scout/internal/orchestrator"
)

const (
	defaultProbeMaxBytes = 32 * 1024
	defaultProbeTimeout  = 30 * time.Second
	defaultTTL           = 6 * time.Hour
	extremeTTL           = 15 * time.Minute
)

// Config controls the profiler's probe limits and cache TTLs.
type Config struct {
	// ProbeMaxBytes caps the truncated GET body; 0 uses the §4.2 default
	// (32 KiB).
	ProbeMaxBytes int
	// ProbeTimeout bounds how long the HEAD+GET probe pair may run
	// together; 0 uses a 30s default.
	ProbeTimeout time.Duration
	// DefaultTTL is how long a classified profile is trusted before a
	// re-probe; 0 uses a 6h default.
	DefaultTTL time.Duration
	// ExtremeTTL overrides DefaultTTL for domains classified RiskExtreme,
	// since an extreme classification is cheap to confirm and expensive to
	// miss; 0 uses a 15m default.
	ExtremeTTL time.Duration
}

// headFetcher and getFetcher are satisfied by *light.Fetcher; kept as a
// narrow interface so the profiler doesn't import the light package's
// colly dependency transitively into its own public surface.
type headFetcher interface {
	Head(ctx context.Context, rawURL string) (orchestrator.FetchOutcome, error)
	FetchTruncated(ctx context.Context, rawURL string, maxBytes int) (orchestrator.FetchOutcome, error)
}

var delayByRisk = map[orchestrator.Risk]float64{
	orchestrator.RiskLow:     1,
	orchestrator.RiskMedium:  3,
	orchestrator.RiskHigh:    5,
	orchestrator.RiskExtreme: 10,
}

// probeResult is what the profiler's own HEAD+truncated-GET probe
// observes, independent of the orchestrator's Fetcher contract.
type probeResult struct {
	statusCode int
	headers    http.Header
	body       []byte
	retryAfter bool
}

// Profiler implements orchestrator.Profiler.
type Profiler struct {
	fetcher       headFetcher
	probeMaxBytes int
	probeTimeout  time.Duration
	defaultTTL    time.Duration
	extremeTTL    time.Duration
	logger        *zap.Logger

	mu      sync.Mutex
	domains map[string]*domainEntry
}

type domainEntry struct {
	mu                  sync.Mutex
	profile             orchestrator.SiteProfile
	has                 bool
	consecutiveFailures int
}

// New builds a Profiler that probes through fetcher, a *light.Fetcher.
func New(fetcher headFetcher, cfg Config, logger *zap.Logger) *Profiler {
	if cfg.ProbeMaxBytes <= 0 {
		cfg.ProbeMaxBytes = defaultProbeMaxBytes
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = defaultProbeTimeout
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = defaultTTL
	}
	if cfg.ExtremeTTL <= 0 {
		cfg.ExtremeTTL = extremeTTL
	}
	return &Profiler{
		fetcher:       fetcher,
		probeMaxBytes: cfg.ProbeMaxBytes,
		probeTimeout:  cfg.ProbeTimeout,
		defaultTTL:    cfg.DefaultTTL,
		extremeTTL:    cfg.ExtremeTTL,
		logger:        logger,
		domains:       make(map[string]*domainEntry),
	}
}

// Get implements orchestrator.Profiler. Concurrent callers to the same
// domain share one probe: each gets the domain's dedicated mutex before
// checking the cache, so only the first caller performs the HTTP round
// trip.
func (p *Profiler) Get(ctx context.Context, rawURL string) (orchestrator.SiteProfile, error) {
	domain, err := orchestrator.DomainKey(rawURL)
	if err != nil {
		return orchestrator.SiteProfile{}, fmt.Errorf("domain key: %w", err)
	}

	entry := p.entryFor(domain)
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.has && !entry.profile.Expired(time.Now()) {
		return entry.profile, nil
	}

	probe, err := p.probe(ctx, rawURL)
	if err != nil {
		p.logger.Warn("profiler probe failed; assuming medium risk", zap.String("domain", domain), zap.Error(err))
		profile := p.assumedMedium(domain)
		entry.profile = profile
		entry.has = true
		return profile, nil
	}

	profile := p.classify(domain, probe)
	entry.profile = profile
	entry.has = true
	return profile, nil
}

// Invalidate implements orchestrator.Profiler. Call after 3 consecutive
// terminal failures on a domain to force a fresh probe next time.
func (p *Profiler) Invalidate(domain string) {
	entry := p.entryFor(domain)
	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.has = false
}

func (p *Profiler) entryFor(domain string) *domainEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.domains[domain]
	if !ok {
		e = &domainEntry{}
		p.domains[domain] = e
	}
	return e
}

// probe issues a HEAD request first (cheap signal: status, headers,
// Retry-After) followed by a truncated GET (≤ probeMaxBytes) through the
// light fetcher, per §4.2. The HEAD result's headers win when both
// responses carry the same header, since it reflects the un-truncated
// response.
func (p *Profiler) probe(ctx context.Context, rawURL string) (probeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, p.probeTimeout)
	defer cancel()

	head, err := p.fetcher.Head(ctx, rawURL)
	if err != nil {
		return probeResult{}, fmt.Errorf("probe head: %w", err)
	}

	get, err := p.fetcher.FetchTruncated(ctx, rawURL, p.probeMaxBytes)
	if err != nil {
		return probeResult{}, fmt.Errorf("probe get: %w", err)
	}

	headers := get.Headers
	if headers == nil {
		headers = http.Header{}
	}
	for k, v := range head.Headers {
		headers[k] = v
	}

	status := get.HTTPStatus
	if status == 0 {
		status = head.HTTPStatus
	}

	return probeResult{
		statusCode: status,
		headers:    headers,
		body:       get.Content,
		retryAfter: headers.Get("Retry-After") != "",
	}, nil
}

func (p *Profiler) assumedMedium(domain string) orchestrator.SiteProfile {
	return orchestrator.SiteProfile{
		Domain:                  domain,
		Risk:                    orchestrator.RiskMedium,
		RiskScore:               40,
		RecommendedStrategy:     orchestrator.StrategyStealth,
		RecommendedDelaySeconds: delayByRisk[orchestrator.RiskMedium],
		ComputedAt:              time.Now(),
		TTL:                     p.defaultTTL,
	}
}

// classify applies the §4.2 signal table in order; first match wins for
// risk. The point table below is additive and advisory: the risk ladder it
// produces is what callers branch on, never the raw score.
func (p *Profiler) classify(domain string, probe probeResult) orchestrator.SiteProfile {
	body := probe.body
	lower := bytes.ToLower(body)
	server := strings.ToLower(probe.headers.Get("Server"))
	cfRay := probe.headers.Get("Cf-Ray") != ""

	var (
		risk         orchestrator.Risk
		recommended  orchestrator.Strategy
		protections  []orchestrator.Protection
		score        int
	)

	switch {
	case len(body) < 512 && containsAny(lower, "challenge", "cf-chl", "turnstile"):
		risk, recommended = orchestrator.RiskExtreme, orchestrator.StrategyUltra
		protections = append(protections, orchestrator.ProtectionCaptchaLikely)
		score += 90
	case (strings.Contains(server, "cloudflare") || cfRay) && (probe.statusCode == 403 || probe.statusCode == 503):
		risk, recommended = orchestrator.RiskHigh, orchestrator.StrategyUltra
		protections = append(protections, orchestrator.ProtectionCloudflareLike)
		score += 70
	case probe.statusCode == 429 || probe.retryAfter:
		risk, recommended = orchestrator.RiskHigh, orchestrator.StrategyStealth
		protections = append(protections, orchestrator.ProtectionRateLimitSignal)
		score += 60
	case lacksBodyTextButShipsJS(body):
		risk, recommended = orchestrator.RiskMedium, orchestrator.StrategyStealth
		protections = append(protections, orchestrator.ProtectionJSRequired)
		score += 40
	case probe.statusCode == 200 && bodyTextLen(body) >= 2*1024:
		risk, recommended = orchestrator.RiskLow, orchestrator.StrategyLight
		score += 5
	case probe.statusCode >= 400 && probe.statusCode < 500:
		risk, recommended = orchestrator.RiskMedium, orchestrator.StrategyStealth
		score += 35
	default:
		risk, recommended = orchestrator.RiskLow, orchestrator.StrategyLight
		score += 10
	}

	if score > 100 {
		score = 100
	}

	ttl := p.defaultTTL
	if risk == orchestrator.RiskExtreme {
		ttl = p.extremeTTL
	}

	delay := delayByRisk[risk]

	return orchestrator.SiteProfile{
		Domain:                  domain,
		Risk:                    risk,
		RiskScore:               score,
		Protections:             protections,
		RecommendedStrategy:     recommended,
		RecommendedDelaySeconds: delay,
		ComputedAt:              time.Now(),
		TTL:                     ttl,
	}
}

func containsAny(lower []byte, needles ...string) bool {
	for _, n := range needles {
		if bytes.Contains(lower, []byte(n)) {
			return true
		}
	}
	return false
}

func bodyTextLen(body []byte) int {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return len(body)
	}
	return len(strings.TrimSpace(doc.Find("body").Text()))
}

func lacksBodyTextButShipsJS(body []byte) bool {
	if len(body) == 0 {
		return false
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return false
	}
	text := strings.TrimSpace(doc.Find("body").Text())
	scriptBytes := 0
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		scriptBytes += len(s.Text())
	})
	ratio := 1.0
	if len(body) > 0 {
		ratio = float64(len(text)) / float64(len(body))
	}
	return scriptBytes > 100*1024 && ratio < 0.05
}
