// Package cost implements the Cost Controller: rolling-hour ceilings on
// tokens, browser minutes, requests, and estimated dollar spend.
package cost

import (
	"sync"
	"time"

	"github.com/hawkcrawl/scout/internal/orchestrator"
)

const evictAfter = 2 * time.Hour

// perUnitUSD estimates dollar cost per request for each strategy; ultra and
// stealth cost more because they consume browser minutes.
var perUnitUSD = map[orchestrator.Strategy]float64{
	orchestrator.StrategyLight:   0.0001,
	orchestrator.StrategyStealth: 0.001,
	orchestrator.StrategyUltra:   0.01,
}

// creditsBrowserMinutes reports whether a strategy's elapsed time is
// credited toward the browser-minutes ceiling.
var creditsBrowserMinutes = map[orchestrator.Strategy]bool{
	orchestrator.StrategyStealth: true,
	orchestrator.StrategyUltra:   true,
}

type hourBucket struct {
	tokens      int64
	browserMins float64
	requests    int64
	usd         float64
	lastTouched time.Time
}

// Controller implements orchestrator.CostController.
type Controller struct {
	limits orchestrator.CostLimits

	mu      sync.Mutex
	buckets map[time.Time]*hourBucket
}

// New builds a Controller bound by limits.
func New(limits orchestrator.CostLimits) *Controller {
	return &Controller{limits: limits, buckets: make(map[time.Time]*hourBucket)}
}

// Admit implements orchestrator.CostController: rejects strategy if any
// ceiling is already exceeded for the current hour.
func (c *Controller) Admit(strategy orchestrator.Strategy) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictLocked()

	b := c.bucketLocked(time.Now())
	if c.limits.Tokens > 0 && b.tokens >= c.limits.Tokens {
		return false
	}
	if c.limits.BrowserMins > 0 && b.browserMins >= c.limits.BrowserMins {
		return false
	}
	if c.limits.Requests > 0 && b.requests >= c.limits.Requests {
		return false
	}
	if c.limits.USD > 0 && b.usd >= c.limits.USD {
		return false
	}
	return true
}

// Charge implements orchestrator.CostController, crediting strategy's cost
// to the current hour bucket.
func (c *Controller) Charge(strategy orchestrator.Strategy, outcome orchestrator.FetchOutcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictLocked()

	b := c.bucketLocked(time.Now())
	b.requests++
	b.usd += perUnitUSD[strategy]
	if creditsBrowserMinutes[strategy] {
		b.browserMins += float64(outcome.ElapsedMs) / 60000.0
	}
	b.lastTouched = time.Now()
}

// Usage implements orchestrator.CostController.
func (c *Controller) Usage() orchestrator.CostUsage {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictLocked()

	hour := hourKey(time.Now())
	b, ok := c.buckets[hour]
	if !ok {
		b = &hourBucket{}
	}

	exceeded := make(map[string]bool)
	exceeded["tokens"] = c.limits.Tokens > 0 && b.tokens >= c.limits.Tokens
	exceeded["browser_minutes"] = c.limits.BrowserMins > 0 && b.browserMins >= c.limits.BrowserMins
	exceeded["requests"] = c.limits.Requests > 0 && b.requests >= c.limits.Requests
	exceeded["usd"] = c.limits.USD > 0 && b.usd >= c.limits.USD

	return orchestrator.CostUsage{
		CurrentHour: hour,
		Tokens:      b.tokens,
		BrowserMins: b.browserMins,
		Requests:    b.requests,
		USD:         b.usd,
		Limits:      c.limits,
		ExceededMap: exceeded,
	}
}

func (c *Controller) bucketLocked(now time.Time) *hourBucket {
	key := hourKey(now)
	b, ok := c.buckets[key]
	if !ok {
		b = &hourBucket{lastTouched: now}
		c.buckets[key] = b
	}
	return b
}

func (c *Controller) evictLocked() {
	cutoff := time.Now().Add(-evictAfter)
	for key, b := range c.buckets {
		if b.lastTouched.Before(cutoff) {
			delete(c.buckets, key)
		}
	}
}

func hourKey(t time.Time) time.Time {
	return t.Truncate(time.Hour)
}
