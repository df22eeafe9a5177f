package orchestrator

import (
	"context"
	"time"
)

// Fetcher is the capability contract shared by all three strategies. An
// implementation must honor ctx cancellation, never panic on a failed
// fetch, and populate Kind on any non-success outcome.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (FetchOutcome, error)
}

// ComplianceDecision is the output of the Compliance Gate.
type ComplianceDecision struct {
	Allowed    bool
	Reason     string
	CrawlDelay time.Duration
}

// ComplianceGate decides whether a URL may be fetched at all.
type ComplianceGate interface {
	Decide(ctx context.Context, url string) (ComplianceDecision, error)
}

// Profiler classifies a domain's anti-bot posture and recommends an
// initial strategy and pacing.
type Profiler interface {
	Get(ctx context.Context, url string) (SiteProfile, error)
	Invalidate(domain string)
}

// StrategySelector orders the strategies a Scrape call should try.
type StrategySelector interface {
	Choose(profile SiteProfile, stats map[Strategy]StrategyStat, req Request) []Strategy
}

// RateController paces requests per domain.
type RateController interface {
	AcquireSlot(ctx context.Context, domain string) error
	RecordOutcome(domain string, outcome FetchOutcome)
	CurrentDelay(domain string) time.Duration
	// SeedDelay raises a domain's current delay to at least delay, the
	// profiled/compliance-recommended starting pace, the first time the
	// domain is seen or whenever profiledAt names a freshly computed
	// profile. It never lowers a delay the adaptive loop already raised.
	SeedDelay(domain string, delay time.Duration, profiledAt time.Time)
}

// CircuitBreaker gates execution per domain based on recent failure
// history.
type CircuitBreaker interface {
	CanExecute(domain string) bool
	RecordSuccess(domain string)
	RecordFailure(domain string, kind FailureKind, url string)
	State(domain string) CircuitSnapshot
	States() []CircuitSnapshot
}

// CircuitSnapshot is a point-in-time view of one domain's circuit state,
// used by telemetry.
type CircuitSnapshot struct {
	Domain              string
	State               CircuitBreakerState
	ConsecutiveFailures int
	OpenedAt            *time.Time
}

// RetryPolicy decides whether the same strategy should be retried before
// escalating, and how long to back off before the retry.
type RetryPolicy interface {
	ShouldRetry(kind FailureKind, attemptInStrategy int, retryAfter time.Duration) bool
	Backoff(kind FailureKind, attemptInStrategy int, retryAfter time.Duration) time.Duration
}

// Learner records per-(domain,strategy) outcomes and reports current
// stats to the selector.
type Learner interface {
	Record(ctx context.Context, domain string, strategy Strategy, success bool, elapsedMs int64) error
	Stats(ctx context.Context, domain string) (map[Strategy]StrategyStat, error)
}

// EvidenceCapturer persists artifacts on failing attempts and reports them
// back as read-only telemetry.
type EvidenceCapturer interface {
	Capture(ctx context.Context, rec EvidenceRecord) (string, error)
	Finalize(ctx context.Context, traceID string)
	Recent(limit int) []EvidenceRecord
}

// ConfidenceScorer is a pure function of a result and the strategy used.
type ConfidenceScorer interface {
	Score(result ScrapeResult, strategy Strategy, outcome FetchOutcome) ConfidenceScore
}

// CostUsage reports the current rolling-hour spend against ceilings.
type CostUsage struct {
	CurrentHour  time.Time
	Tokens       int64
	BrowserMins  float64
	Requests     int64
	USD          float64
	Limits       CostLimits
	ExceededMap  map[string]bool
}

// CostLimits are the configured ceilings.
type CostLimits struct {
	Tokens      int64
	BrowserMins float64
	Requests    int64
	USD         float64
}

// CostController enforces rolling-hour ceilings before a strategy is
// admitted.
type CostController interface {
	Admit(strategy Strategy) bool
	Charge(strategy Strategy, outcome FetchOutcome)
	Usage() CostUsage
}

// ResultCache is a fingerprint-keyed, TTL'd cache of ScrapeResults with
// single-flight coalescing of concurrent identical requests.
type ResultCache interface {
	Get(fingerprint string) (ScrapeResult, bool)
	Put(fingerprint string, result ScrapeResult)
	Do(fingerprint string, fn func() (ScrapeResult, error)) (ScrapeResult, error, bool)
}
