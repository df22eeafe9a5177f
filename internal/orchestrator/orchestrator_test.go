package orchestrator_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hawkcrawl/scout/internal/cache"
	"github.com/hawkcrawl/scout/internal/circuit"
	"github.com/hawkcrawl/scout/internal/confidence"
	"github.com/hawkcrawl/scout/internal/cost"
	"github.com/hawkcrawl/scout/internal/evidence"
	"github.com/hawkcrawl/scout/internal/learner"
	"github.com/hawkcrawl/scout/internal/orchestrator"
	"github.com/hawkcrawl/scout/internal/ratelimit"
	"github.com/hawkcrawl/scout/internal/retry"
	"github.com/hawkcrawl/scout/internal/selector"
)

type fakeCompliance struct {
	decision orchestrator.ComplianceDecision
	err      error
}

func (f *fakeCompliance) Decide(context.Context, string) (orchestrator.ComplianceDecision, error) {
	return f.decision, f.err
}

type fakeProfiler struct {
	profile orchestrator.SiteProfile
}

func (f *fakeProfiler) Get(context.Context, string) (orchestrator.SiteProfile, error) {
	return f.profile, nil
}

func (f *fakeProfiler) Invalidate(string) {}

type fakeFetcher struct {
	outcomes []orchestrator.FetchOutcome
	calls    int
}

func (f *fakeFetcher) Fetch(context.Context, string) (orchestrator.FetchOutcome, error) {
	idx := f.calls
	if idx >= len(f.outcomes) {
		idx = len(f.outcomes) - 1
	}
	f.calls++
	return f.outcomes[idx], nil
}

func newHarness(t *testing.T, compliance orchestrator.ComplianceGate, profiler orchestrator.Profiler, fetchers map[orchestrator.Strategy]orchestrator.Fetcher) *orchestrator.Orchestrator {
	t.Helper()
	evCapturer := evidence.New(evidence.NewMemoryStore(), 10, nil)
	return orchestrator.New(orchestrator.Config{
		Compliance: compliance,
		Profiler:   profiler,
		Selector:   selector.New(),
		Rate:       ratelimit.New(ratelimit.Config{DefaultDelay: time.Millisecond, MinDelay: time.Millisecond, MaxDelay: time.Second}),
		Circuit:    circuit.New(circuit.Config{}),
		Retry:      retry.New(),
		Learner:    learner.New(nil, nil),
		Evidence:   evCapturer,
		Confidence: confidence.New(),
		Cost:       cost.New(orchestrator.CostLimits{Tokens: 1_000_000, BrowserMins: 1000, Requests: 1_000_000, USD: 1000}),
		Cache:      cache.New(time.Minute),
		Fetchers:   fetchers,
		StrategyTimeouts: orchestrator.StrategyTimeouts{
			orchestrator.StrategyLight:   time.Second,
			orchestrator.StrategyStealth: time.Second,
			orchestrator.StrategyUltra:   time.Second,
		},
		BatchConcurrency: 2,
	})
}

func allowDecision() orchestrator.ComplianceDecision {
	return orchestrator.ComplianceDecision{Allowed: true}
}

func lightProfile() orchestrator.SiteProfile {
	return orchestrator.SiteProfile{
		Domain:              "example.com",
		RecommendedStrategy: orchestrator.StrategyLight,
		TTL:                 time.Hour,
		ComputedAt:          time.Now(),
	}
}

func TestScrapeSucceedsOnFirstAttempt(t *testing.T) {
	fetcher := &fakeFetcher{outcomes: []orchestrator.FetchOutcome{
		{Success: true, Content: []byte("<html>hello world, this is a page</html>"), HTTPStatus: 200, ElapsedMs: 50},
	}}
	o := newHarness(t,
		&fakeCompliance{decision: allowDecision()},
		&fakeProfiler{profile: lightProfile()},
		map[orchestrator.Strategy]orchestrator.Fetcher{orchestrator.StrategyLight: fetcher},
	)

	result, err := o.Scrape(context.Background(), orchestrator.Request{URL: "https://example.com/page"})
	require.NoError(t, err)
	require.Equal(t, "success", result.Status)
	require.Equal(t, orchestrator.StrategyLight, result.StrategyUsed)
	require.Equal(t, 1, result.Attempts)
	require.NotNil(t, result.Confidence)
}

func TestScrapeDeniedByComplianceReturnsComplianceError(t *testing.T) {
	o := newHarness(t,
		&fakeCompliance{decision: orchestrator.ComplianceDecision{Allowed: false, Reason: "robots_disallow"}},
		&fakeProfiler{profile: lightProfile()},
		map[orchestrator.Strategy]orchestrator.Fetcher{orchestrator.StrategyLight: &fakeFetcher{}},
	)

	result, err := o.Scrape(context.Background(), orchestrator.Request{URL: "https://example.com/page"})
	require.Error(t, err)
	require.Equal(t, orchestrator.FailureComplianceDenied, result.FailureKind)
}

func TestScrapeDeniedByBlacklistReturnsHTTP4xxBlocked(t *testing.T) {
	o := newHarness(t,
		&fakeCompliance{decision: orchestrator.ComplianceDecision{Allowed: false, Reason: "blacklisted"}},
		&fakeProfiler{profile: lightProfile()},
		map[orchestrator.Strategy]orchestrator.Fetcher{orchestrator.StrategyLight: &fakeFetcher{}},
	)

	result, err := o.Scrape(context.Background(), orchestrator.Request{URL: "https://example.com/page"})
	require.Error(t, err)
	require.Equal(t, orchestrator.FailureHTTP4xxBlocked, result.FailureKind)
}

func TestScrapeRejectsUnsupportedScheme(t *testing.T) {
	o := newHarness(t,
		&fakeCompliance{decision: allowDecision()},
		&fakeProfiler{profile: lightProfile()},
		map[orchestrator.Strategy]orchestrator.Fetcher{orchestrator.StrategyLight: &fakeFetcher{}},
	)

	result, err := o.Scrape(context.Background(), orchestrator.Request{URL: "ftp://example.com/page"})
	require.Error(t, err)
	require.Equal(t, orchestrator.FailureInvalidURL, result.FailureKind)
}

func TestScrapeRejectsPrivateAddressUnlessAllowed(t *testing.T) {
	o := newHarness(t,
		&fakeCompliance{decision: allowDecision()},
		&fakeProfiler{profile: lightProfile()},
		map[orchestrator.Strategy]orchestrator.Fetcher{orchestrator.StrategyLight: &fakeFetcher{}},
	)

	result, err := o.Scrape(context.Background(), orchestrator.Request{URL: "http://127.0.0.1:8080/admin"})
	require.Error(t, err)
	require.Equal(t, orchestrator.FailureInvalidURL, result.FailureKind)
}

func TestScrapeEscalatesAcrossStrategiesOnChallenge(t *testing.T) {
	lightFetcher := &fakeFetcher{outcomes: []orchestrator.FetchOutcome{
		{Success: false, Kind: orchestrator.FailureChallenge, ElapsedMs: 10},
	}}
	stealthFetcher := &fakeFetcher{outcomes: []orchestrator.FetchOutcome{
		{Success: true, Content: []byte("<html>now it works, plenty of content here</html>"), HTTPStatus: 200, ElapsedMs: 80},
	}}
	o := newHarness(t,
		&fakeCompliance{decision: allowDecision()},
		&fakeProfiler{profile: lightProfile()},
		map[orchestrator.Strategy]orchestrator.Fetcher{
			orchestrator.StrategyLight:   lightFetcher,
			orchestrator.StrategyStealth: stealthFetcher,
		},
	)

	result, err := o.Scrape(context.Background(), orchestrator.Request{URL: "https://example.com/page", BypassCache: true})
	require.NoError(t, err)
	require.Equal(t, "success", result.Status)
	require.Equal(t, orchestrator.StrategyStealth, result.StrategyUsed)
	require.Equal(t, 2, result.Attempts)
}

func TestScrapeExhaustsAllStrategiesAndReturnsLastFailure(t *testing.T) {
	fetcher := &fakeFetcher{outcomes: []orchestrator.FetchOutcome{
		{Success: false, Kind: orchestrator.FailureHTTP4xxBlocked, ElapsedMs: 5},
	}}
	o := newHarness(t,
		&fakeCompliance{decision: allowDecision()},
		&fakeProfiler{profile: lightProfile()},
		map[orchestrator.Strategy]orchestrator.Fetcher{
			orchestrator.StrategyLight:   fetcher,
			orchestrator.StrategyStealth: fetcher,
			orchestrator.StrategyUltra:   fetcher,
		},
	)

	result, err := o.Scrape(context.Background(), orchestrator.Request{URL: "https://example.com/page", BypassCache: true})
	require.Error(t, err)
	require.Equal(t, "error", result.Status)
	require.Equal(t, orchestrator.FailureHTTP4xxBlocked, result.FailureKind)
	require.Equal(t, 3, result.Attempts)
}

func TestScrapeForceStrategySkipsSelection(t *testing.T) {
	fetcher := &fakeFetcher{outcomes: []orchestrator.FetchOutcome{
		{Success: true, Content: []byte("<html>forced strategy content here</html>"), HTTPStatus: 200, ElapsedMs: 20},
	}}
	o := newHarness(t,
		&fakeCompliance{decision: allowDecision()},
		&fakeProfiler{profile: lightProfile()},
		map[orchestrator.Strategy]orchestrator.Fetcher{orchestrator.StrategyUltra: fetcher},
	)

	result, err := o.Scrape(context.Background(), orchestrator.Request{URL: "https://example.com/page", ForceStrategy: orchestrator.StrategyUltra})
	require.NoError(t, err)
	require.Equal(t, orchestrator.StrategyUltra, result.StrategyUsed)
}

func TestScrapeBatchRunsAllRequestsConcurrently(t *testing.T) {
	fetcher := &fakeFetcher{outcomes: []orchestrator.FetchOutcome{
		{Success: true, Content: []byte("<html>batch content goes here nicely</html>"), HTTPStatus: 200, ElapsedMs: 15},
	}}
	o := newHarness(t,
		&fakeCompliance{decision: allowDecision()},
		&fakeProfiler{profile: lightProfile()},
		map[orchestrator.Strategy]orchestrator.Fetcher{orchestrator.StrategyLight: fetcher},
	)

	requests := []orchestrator.Request{
		{URL: "https://example.com/a", BypassCache: true},
		{URL: "https://example.com/b", BypassCache: true},
		{URL: "https://example.com/c", BypassCache: true},
	}
	results := o.ScrapeBatch(context.Background(), requests)
	require.Len(t, results, 3)
	for i, r := range results {
		require.Equal(t, "success", r.Status, "request %d", i)
	}
}

func TestScrapeReturnsCachedResultOnSecondCall(t *testing.T) {
	fetcher := &fakeFetcher{outcomes: []orchestrator.FetchOutcome{
		{Success: true, Content: []byte("<html>cacheable content right here</html>"), HTTPStatus: 200, ElapsedMs: 30},
	}}
	o := newHarness(t,
		&fakeCompliance{decision: allowDecision()},
		&fakeProfiler{profile: lightProfile()},
		map[orchestrator.Strategy]orchestrator.Fetcher{orchestrator.StrategyLight: fetcher},
	)

	req := orchestrator.Request{URL: "https://example.com/cached"}
	first, err := o.Scrape(context.Background(), req)
	require.NoError(t, err)
	require.False(t, first.Cached)

	second, err := o.Scrape(context.Background(), req)
	require.NoError(t, err)
	require.True(t, second.Cached)
	require.Equal(t, 1, fetcher.calls)
}
