// Package retry implements Intelligent Retry: a FailureKind-keyed table of
// same-strategy retry caps and backoffs, applied before the Escalation
// Runner advances to the next strategy.
package retry

import (
	"crypto/rand"
	"math/big"
	"time"

	"github.com/hawkcrawl/scout/internal/orchestrator"
)

type rule struct {
	maxRetries int
	backoff    func(attemptInStrategy int, retryAfter time.Duration) time.Duration
}

// Policy implements orchestrator.RetryPolicy per the §4.7 table.
type Policy struct {
	rules map[orchestrator.FailureKind]rule
}

// New builds the default Intelligent Retry table.
func New() *Policy {
	return &Policy{
		rules: map[orchestrator.FailureKind]rule{
			orchestrator.FailureTimeout: {
				maxRetries: 1,
				backoff: func(_ int, _ time.Duration) time.Duration {
					return 0 // additional 50% of the strategy timeout is applied by the caller
				},
			},
			orchestrator.FailureConnection: {
				maxRetries: 2,
				backoff: func(attempt int, _ time.Duration) time.Duration {
					steps := []time.Duration{time.Second, 2 * time.Second}
					return pick(steps, attempt)
				},
			},
			orchestrator.FailureHTTP429: {
				maxRetries: 2,
				backoff: func(attempt int, retryAfter time.Duration) time.Duration {
					if retryAfter > 0 {
						return retryAfter
					}
					steps := []time.Duration{5 * time.Second, 10 * time.Second}
					return pick(steps, attempt)
				},
			},
			orchestrator.FailureHTTP5xx: {
				maxRetries: 1,
				backoff: func(_ int, _ time.Duration) time.Duration {
					return 2 * time.Second
				},
			},
			orchestrator.FailureChallenge:        {maxRetries: 0},
			orchestrator.FailureHTTP4xxBlocked:   {maxRetries: 0},
			orchestrator.FailureParseEmpty:       {maxRetries: 0},
			orchestrator.FailureComplianceDenied: {maxRetries: 0},
		},
	}
}

// ShouldRetry implements orchestrator.RetryPolicy.
func (p *Policy) ShouldRetry(kind orchestrator.FailureKind, attemptInStrategy int, retryAfter time.Duration) bool {
	r, ok := p.rules[kind]
	if !ok {
		return false
	}
	return attemptInStrategy < r.maxRetries
}

// Backoff implements orchestrator.RetryPolicy, applying +/-20% jitter. A
// server-supplied Retry-After on http_429 is returned unchanged.
func (p *Policy) Backoff(kind orchestrator.FailureKind, attemptInStrategy int, retryAfter time.Duration) time.Duration {
	r, ok := p.rules[kind]
	if !ok || r.backoff == nil {
		return 0
	}
	base := r.backoff(attemptInStrategy, retryAfter)
	if kind == orchestrator.FailureHTTP429 && retryAfter > 0 {
		return base
	}
	return jitter(base)
}

func pick(steps []time.Duration, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= len(steps) {
		attempt = len(steps) - 1
	}
	return steps[attempt]
}

// jitter applies +/-20% uniform jitter to d.
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	spread := int64(d) / 5 // 20%
	if spread <= 0 {
		return d
	}
	n, err := rand.Int(rand.Reader, big.NewInt(2*spread+1))
	if err != nil {
		return d
	}
	delta := n.Int64() - spread
	return time.Duration(int64(d) + delta)
}
