// Package ratelimit implements the Rate Controller: per-domain adaptive
// pacing that doubles on 429, decays gently on success, and creeps up on
// timeout, instead of a fixed token bucket.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hawkcrawl/scout/internal/orchestrator"
	"github.com/hawkcrawl/scout/internal/telemetry"
)

// Config bounds the adaptive delay.
type Config struct {
	DefaultDelay time.Duration
	MinDelay     time.Duration
	MaxDelay     time.Duration
}

type domainState struct {
	mu              sync.Mutex
	lastRequestAt   time.Time
	currentDelay    time.Duration
	consecutive429s int
	seededAt        time.Time
}

// Controller implements orchestrator.RateController.
type Controller struct {
	cfg Config

	mu     sync.RWMutex
	states map[string]*domainState
}

// New builds a Controller with the given bounds.
func New(cfg Config) *Controller {
	if cfg.MinDelay <= 0 {
		cfg.MinDelay = 500 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 60 * time.Second
	}
	if cfg.DefaultDelay <= 0 {
		cfg.DefaultDelay = time.Second
	}
	return &Controller{cfg: cfg, states: make(map[string]*domainState)}
}

// AcquireSlot implements orchestrator.RateController: blocks until
// now >= last_request_at + current_delay, then updates last_request_at to
// the unblock time.
func (c *Controller) AcquireSlot(ctx context.Context, domain string) error {
	state := c.stateFor(domain)
	state.mu.Lock()
	defer state.mu.Unlock()

	wait := time.Until(state.lastRequestAt.Add(state.currentDelay))
	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return fmt.Errorf("acquire rate slot: %w", ctx.Err())
		case <-timer.C:
		}
	}
	now := time.Now()
	state.lastRequestAt = now
	telemetry.SetRateDelay(domain, state.currentDelay.Seconds())
	return nil
}

// RecordOutcome implements orchestrator.RateController.
func (c *Controller) RecordOutcome(domain string, outcome orchestrator.FetchOutcome) {
	state := c.stateFor(domain)
	state.mu.Lock()
	defer state.mu.Unlock()

	switch {
	case outcome.Kind == orchestrator.FailureHTTP429:
		state.consecutive429s++
		state.currentDelay = c.clamp(state.currentDelay * 2)
	case outcome.Success:
		state.consecutive429s = 0
		state.currentDelay = c.clamp(time.Duration(float64(state.currentDelay) * 0.9))
	case outcome.Kind == orchestrator.FailureTimeout:
		state.currentDelay = c.clamp(time.Duration(float64(state.currentDelay) * 1.25))
	}
	telemetry.SetRateDelay(domain, state.currentDelay.Seconds())
}

// SeedDelay implements orchestrator.RateController: it raises the
// domain's current delay to at least delay, the first time the domain is
// seen (a brand-new state still at its zero seededAt) or whenever
// profiledAt is newer than the profile that last seeded this domain (a
// re-probe). It only ever raises the delay, never undoing the adaptive
// decay RecordOutcome has already applied.
func (c *Controller) SeedDelay(domain string, delay time.Duration, profiledAt time.Time) {
	state := c.stateFor(domain)
	state.mu.Lock()
	defer state.mu.Unlock()

	if !state.seededAt.IsZero() && !profiledAt.After(state.seededAt) {
		return
	}
	state.seededAt = profiledAt

	if seeded := c.clamp(delay); seeded > state.currentDelay {
		state.currentDelay = seeded
	}
}

// CurrentDelay implements orchestrator.RateController.
func (c *Controller) CurrentDelay(domain string) time.Duration {
	state := c.stateFor(domain)
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.currentDelay
}

func (c *Controller) clamp(d time.Duration) time.Duration {
	if d < c.cfg.MinDelay {
		return c.cfg.MinDelay
	}
	if d > c.cfg.MaxDelay {
		return c.cfg.MaxDelay
	}
	return d
}

func (c *Controller) stateFor(domain string) *domainState {
	c.mu.RLock()
	s, ok := c.states[domain]
	c.mu.RUnlock()
	if ok {
		return s
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok = c.states[domain]; ok {
		return s
	}
	s = &domainState{currentDelay: c.cfg.DefaultDelay}
	c.states[domain] = s
	return s
}
