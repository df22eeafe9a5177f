package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hawkcrawl/scout/internal/scrapeerr"
	"github.com/hawkcrawl/scout/internal/telemetry"
)

// Notifier publishes a small completion event when a Scrape call reaches a
// terminal state. Optional; nil means no notifications are sent.
type Notifier interface {
	Notify(ctx context.Context, event CompletionEvent) error
}

// CompletionEvent is published on terminal success or terminal failure.
type CompletionEvent struct {
	TraceID      string   `json:"trace_id"`
	Domain       string   `json:"domain"`
	Status       string   `json:"status"`
	StrategyUsed Strategy `json:"strategy_used,omitempty"`
	Attempts     int      `json:"attempts"`
}

// StrategyTimeouts maps a strategy to its per-attempt fetch timeout.
type StrategyTimeouts map[Strategy]time.Duration

// DefaultStrategyTimeouts matches §4.4's defaults.
func DefaultStrategyTimeouts() StrategyTimeouts {
	return StrategyTimeouts{
		StrategyLight:   15 * time.Second,
		StrategyStealth: 45 * time.Second,
		StrategyUltra:   120 * time.Second,
	}
}

// Config wires every collaborator the Escalation Runner needs.
type Config struct {
	Compliance       ComplianceGate
	Profiler         Profiler
	Selector         StrategySelector
	Rate             RateController
	Circuit          CircuitBreaker
	Retry            RetryPolicy
	Learner          Learner
	Evidence         EvidenceCapturer
	Confidence       ConfidenceScorer
	Cost             CostController
	Cache            ResultCache
	Fetchers         map[Strategy]Fetcher
	StrategyTimeouts StrategyTimeouts
	Notifier         Notifier
	DefaultTimeout   time.Duration
	BatchConcurrency int
	SSRFAllowPrivate bool
	Logger           *zap.Logger
}

// Orchestrator is the Scrape/ScrapeBatch facade: §4.8's Escalation Runner.
type Orchestrator struct {
	cfg Config
}

// New builds an Orchestrator from a fully-wired Config.
func New(cfg Config) *Orchestrator {
	if cfg.StrategyTimeouts == nil {
		cfg.StrategyTimeouts = DefaultStrategyTimeouts()
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 180 * time.Second
	}
	if cfg.BatchConcurrency <= 0 {
		cfg.BatchConcurrency = 8
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Orchestrator{cfg: cfg}
}

// Scrape runs the Escalation Runner algorithm for one request.
func (o *Orchestrator) Scrape(ctx context.Context, req Request) (ScrapeResult, error) {
	traceID, err := telemetry.NewTraceID()
	if err != nil {
		return ScrapeResult{}, fmt.Errorf("mint trace id: %w", err)
	}
	ctx = telemetry.WithTraceID(ctx, traceID)
	logger := telemetry.Bind(o.cfg.Logger, traceID, "orchestrator")

	timeout := o.cfg.DefaultTimeout
	if req.TimeoutSeconds > 0 {
		timeout = time.Duration(req.TimeoutSeconds) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	result, err := o.run(ctx, req, traceID, logger)
	telemetry.ObserveScrape(result.Status, string(result.StrategyUsed), time.Since(start).Seconds())
	o.notify(ctx, result, logger)
	return result, err
}

func (o *Orchestrator) run(ctx context.Context, req Request, traceID string, logger *zap.Logger) (ScrapeResult, error) {
	if req.URL == "" {
		return o.fail(traceID, req, FailureInvalidURL, nil)
	}
	if err := ValidateScheme(req.URL); err != nil {
		return o.fail(traceID, req, FailureInvalidURL, err)
	}
	if err := CheckSSRF(ctx, req.URL, o.cfg.SSRFAllowPrivate); err != nil {
		return o.fail(traceID, req, FailureInvalidURL, err)
	}
	domain, err := DomainKey(req.URL)
	if err != nil {
		return o.fail(traceID, req, FailureInvalidURL, err)
	}

	fp, err := Fingerprint(req)
	if err != nil {
		return o.fail(traceID, req, FailureInvalidURL, err)
	}

	if !req.BypassCache {
		if cached, hit := o.cfg.Cache.Get(fp); hit {
			telemetry.IncCacheHit()
			cached.Cached = true
			cached.TraceID = traceID
			return cached, nil
		}
	}

	decision, err := o.cfg.Compliance.Decide(ctx, req.URL)
	if err != nil {
		logger.Warn("compliance decide failed", zap.Error(err))
		return o.fail(traceID, req, FailureInternal, err)
	}
	if !decision.Allowed {
		if decision.Reason == "blacklisted" {
			return o.fail(traceID, req, FailureHTTP4xxBlocked, nil)
		}
		return o.fail(traceID, req, FailureComplianceDenied, nil)
	}

	if !o.cfg.Circuit.CanExecute(domain) {
		return o.fail(traceID, req, FailureCircuitOpen, nil)
	}

	exec := func() (ScrapeResult, error) {
		return o.execute(ctx, req, domain, traceID, decision.CrawlDelay, logger)
	}
	if req.BypassCache {
		return exec()
	}

	result, err, _ := o.cfg.Cache.Do(fp, exec)
	return result, err
}

// execute runs the strategy escalation loop; it never touches the cache
// directly so callers can route it through BypassCache or Cache.Do.
func (o *Orchestrator) execute(ctx context.Context, req Request, domain string, traceID string, crawlDelay time.Duration, logger *zap.Logger) (ScrapeResult, error) {
	profile, err := o.cfg.Profiler.Get(ctx, req.URL)
	if err != nil {
		logger.Warn("profiler get failed", zap.Error(err))
	}
	o.seedRateDelay(domain, profile, crawlDelay)

	stats, err := o.cfg.Learner.Stats(ctx, domain)
	if err != nil {
		logger.Warn("learner stats failed", zap.Error(err))
	}

	order := o.cfg.Selector.Choose(profile, stats, req)

	attempts := 0
	var totalElapsedMs int64
	var lastOutcome FetchOutcome
	var lastErr error

	for _, strategy := range order {
		attemptInStrategy := 0
		for {
			if !o.cfg.Cost.Admit(strategy) {
				return o.finalize(traceID, req, attempts, totalElapsedMs, FailureCostExceeded, nil)
			}

			if err := o.cfg.Rate.AcquireSlot(ctx, domain); err != nil {
				return o.finalize(traceID, req, attempts, totalElapsedMs, FailureCancelled, nil)
			}

			fetchCtx, fetchCancel := context.WithTimeout(ctx, o.strategyTimeout(strategy))
			outcome, ferr := o.cfg.Fetchers[strategy].Fetch(fetchCtx, req.URL)
			fetchCancel()
			attempts++
			lastOutcome, lastErr = outcome, ferr
			totalElapsedMs += outcome.ElapsedMs

			o.cfg.Rate.RecordOutcome(domain, outcome)
			o.cfg.Cost.Charge(strategy, outcome)

			if ferr != nil {
				logger.Warn("fetch returned error", zap.String("strategy", string(strategy)), zap.Error(ferr))
			}

			if ctx.Err() != nil {
				return o.finalize(traceID, req, attempts, totalElapsedMs, FailureCancelled, nil)
			}

			if outcome.Success {
				o.cfg.Circuit.RecordSuccess(domain)
				if err := o.cfg.Learner.Record(ctx, domain, strategy, true, outcome.ElapsedMs); err != nil {
					logger.Warn("learner record failed", zap.Error(err))
				}

				result := o.buildResult(req, outcome, strategy, attempts, traceID)
				score := o.cfg.Confidence.Score(result, strategy, outcome)
				result.Confidence = &score
				return result, nil
			}

			o.cfg.Circuit.RecordFailure(domain, outcome.Kind, req.URL)
			if err := o.cfg.Learner.Record(ctx, domain, strategy, false, outcome.ElapsedMs); err != nil {
				logger.Warn("learner record failed", zap.Error(err))
			}

			o.captureEvidence(ctx, traceID, domain, req.URL, attempts, outcome, logger)

			if outcome.Kind.IsFatal() {
				return o.finalize(traceID, req, attempts, totalElapsedMs, outcome.Kind, nil)
			}

			if o.cfg.Retry.ShouldRetry(outcome.Kind, attemptInStrategy, outcome.RetryAfter) {
				backoff := o.cfg.Retry.Backoff(outcome.Kind, attemptInStrategy, outcome.RetryAfter)
				attemptInStrategy++
				if outcome.Kind == FailureTimeout {
					backoff += o.strategyTimeout(strategy) / 2
				}
				if err := sleepCtx(ctx, backoff); err != nil {
					return o.finalize(traceID, req, attempts, totalElapsedMs, FailureCancelled, nil)
				}
				continue
			}

			break // same-strategy retries exhausted; escalate to next strategy
		}
	}

	o.cfg.Evidence.Finalize(ctx, traceID)
	kind := lastOutcome.Kind
	if kind == "" {
		kind = FailureUnknown
	}
	return o.finalize(traceID, req, attempts, totalElapsedMs, kind, lastErr)
}

func (o *Orchestrator) captureEvidence(ctx context.Context, traceID, domain, url string, attempt int, outcome FetchOutcome, logger *zap.Logger) {
	switch outcome.Kind {
	case FailureChallenge, FailureHTTP4xxBlocked, FailureHTTP429:
	default:
		return
	}
	excerpt := outcome.Content
	if len(excerpt) > 4096 {
		excerpt = excerpt[:4096]
	}
	rec := EvidenceRecord{
		TraceID:     traceID,
		Domain:      domain,
		URL:         url,
		Attempt:     attempt,
		Kind:        outcome.Kind,
		HTTPStatus:  outcome.HTTPStatus,
		Headers:     outcome.Headers,
		BodyExcerpt: excerpt,
		Screenshot:  outcome.Screenshot,
		CapturedAt:  time.Now(),
	}
	if _, err := o.cfg.Evidence.Capture(ctx, rec); err != nil {
		logger.Warn("evidence capture failed", zap.Error(err))
	}
}

// ScrapeBatch fans requests out through the same per-domain gates
// concurrently, bounded by a worker pool, mirroring the teacher's
// dispatcher+worker split for callers that already hold a URL list.
func (o *Orchestrator) ScrapeBatch(ctx context.Context, requests []Request) []ScrapeResult {
	results := make([]ScrapeResult, len(requests))
	if len(requests) == 0 {
		return results
	}

	workers := o.cfg.BatchConcurrency
	if workers > len(requests) {
		workers = len(requests)
	}

	jobs := make(chan int)
	done := make(chan struct{})

	for w := 0; w < workers; w++ {
		go func() {
			for idx := range jobs {
				result, err := o.Scrape(ctx, requests[idx])
				if err != nil && result.Status == "" {
					result = ScrapeResult{Status: "error", URL: requests[idx].URL}
				}
				results[idx] = result
			}
			done <- struct{}{}
		}()
	}

	go func() {
		for i := range requests {
			jobs <- i
		}
		close(jobs)
	}()

	for w := 0; w < workers; w++ {
		<-done
	}
	return results
}

// seedRateDelay wires the larger of the profiler's risk-indexed delay
// (§4.2) and the robots Crawl-delay (§4.1) into the rate controller as the
// domain's starting pace, per §4.5. The controller itself dedupes: this
// only takes effect the first time the domain is seen or when profile
// names a freshly computed profile, and it never lowers a delay the
// adaptive loop has already raised.
func (o *Orchestrator) seedRateDelay(domain string, profile SiteProfile, crawlDelay time.Duration) {
	delay := time.Duration(profile.RecommendedDelaySeconds * float64(time.Second))
	if crawlDelay > delay {
		delay = crawlDelay
	}
	if delay <= 0 {
		return
	}
	o.cfg.Rate.SeedDelay(domain, delay, profile.ComputedAt)
}

func (o *Orchestrator) strategyTimeout(strategy Strategy) time.Duration {
	if d, ok := o.cfg.StrategyTimeouts[strategy]; ok {
		return d
	}
	return 30 * time.Second
}

func (o *Orchestrator) buildResult(req Request, outcome FetchOutcome, strategy Strategy, attempts int, traceID string) ScrapeResult {
	return ScrapeResult{
		Status:        "success",
		URL:           req.URL,
		FinalURL:      outcome.FinalURL,
		Content:       outcome.Content,
		ContentLength: len(outcome.Content),
		StrategyUsed:  strategy,
		Attempts:      attempts,
		ElapsedMs:     outcome.ElapsedMs,
		TraceID:       traceID,
	}
}

func (o *Orchestrator) finalize(traceID string, req Request, attempts int, elapsedMs int64, kind FailureKind, cause error) (ScrapeResult, error) {
	result := ScrapeResult{
		Status:      "error",
		URL:         req.URL,
		Attempts:    attempts,
		ElapsedMs:   elapsedMs,
		FailureKind: kind,
		TraceID:     traceID,
	}
	return result, scrapeerr.New(scrapeerr.Kind(kind), attempts, traceID, cause)
}

func (o *Orchestrator) fail(traceID string, req Request, kind FailureKind, cause error) (ScrapeResult, error) {
	return o.finalize(traceID, req, 0, 0, kind, cause)
}

func (o *Orchestrator) notify(ctx context.Context, result ScrapeResult, logger *zap.Logger) {
	if o.cfg.Notifier == nil {
		return
	}
	domain, err := DomainKey(result.URL)
	if err != nil {
		return
	}
	event := CompletionEvent{
		TraceID:      result.TraceID,
		Domain:       domain,
		Status:       result.Status,
		StrategyUsed: result.StrategyUsed,
		Attempts:     result.Attempts,
	}
	if err := o.cfg.Notifier.Notify(ctx, event); err != nil {
		logger.Warn("completion notify failed", zap.Error(err))
	}
}

// sleepCtx sleeps for d, honoring ctx cancellation. Jitter is already
// applied by RetryPolicy.Backoff, so d is used as-is.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
