// Package compliance implements the Compliance Gate: robots.txt
// enforcement plus an in-memory domain blacklist, consulted before any
// fetcher runs.
package compliance

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"

	"github.com/hawkcrawl/scout/internal/orchestrator"
)

const (
	robotsTTL        = 24 * time.Hour
	robotsFailureTTL = 1 * time.Hour
	robotsMaxBytes   = 1 << 20
)

type robotsEntry struct {
	data      *robotstxt.RobotsData
	fetchedAt time.Time
	ttl       time.Duration
	permissive bool
}

// Gate implements orchestrator.ComplianceGate.
type Gate struct {
	client    *http.Client
	userAgent string
	respect   bool
	logger    *zap.Logger

	mu        sync.RWMutex
	robots    map[string]robotsEntry
	blacklist *blocklist
}

// New builds a Gate. respect toggles robots.txt enforcement; blacklist
// entries may be exact hosts, "*.suffix", or ".suffix" wildcards.
func New(respect bool, userAgent string, blacklistDomains []string, logger *zap.Logger) *Gate {
	return &Gate{
		client:    &http.Client{Timeout: 10 * time.Second},
		userAgent: userAgent,
		respect:   respect,
		logger:    logger,
		robots:    make(map[string]robotsEntry),
		blacklist: newBlocklist(blacklistDomains),
	}
}

// Decide implements orchestrator.ComplianceGate.
func (g *Gate) Decide(ctx context.Context, rawURL string) (orchestrator.ComplianceDecision, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return orchestrator.ComplianceDecision{}, fmt.Errorf("parse url: %w", err)
	}
	host := strings.ToLower(u.Hostname())

	if g.blacklist.IsBlocked(host) {
		return orchestrator.ComplianceDecision{Allowed: false, Reason: "blacklisted"}, nil
	}

	if !g.respect {
		return orchestrator.ComplianceDecision{Allowed: true}, nil
	}

	data, permissive, err := g.loadRobots(ctx, u)
	if err != nil {
		g.logger.Warn("robots fetch failed; allowing access", zap.String("host", host), zap.Error(err))
		return orchestrator.ComplianceDecision{Allowed: true}, nil
	}
	if permissive {
		return orchestrator.ComplianceDecision{Allowed: true}, nil
	}

	group := data.FindGroup(g.userAgent)
	if group == nil || group.Test(u.Path) {
		delay := time.Duration(0)
		if group != nil && group.CrawlDelay > 0 {
			delay = group.CrawlDelay
		}
		return orchestrator.ComplianceDecision{Allowed: true, CrawlDelay: delay}, nil
	}
	return orchestrator.ComplianceDecision{Allowed: false, Reason: "robots_disallow"}, nil
}

func (g *Gate) loadRobots(ctx context.Context, u *url.URL) (*robotstxt.RobotsData, bool, error) {
	host := strings.ToLower(u.Host)

	g.mu.RLock()
	entry, ok := g.robots[host]
	g.mu.RUnlock()
	if ok && time.Since(entry.fetchedAt) < entry.ttl {
		return entry.data, entry.permissive, nil
	}

	robotsURL := *u
	robotsURL.Path = path.Join("/", "robots.txt")
	robotsURL.RawQuery = ""
	robotsURL.Fragment = ""

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL.String(), nil)
	if err != nil {
		return nil, false, fmt.Errorf("new robots request: %w", err)
	}
	req.Header.Set("User-Agent", g.userAgent)

	resp, err := g.client.Do(req)
	if err != nil {
		g.cachePermissive(host)
		return nil, false, fmt.Errorf("fetch robots: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			g.logger.Debug("close robots body failed", zap.Error(cerr))
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, robotsMaxBytes))
	if err != nil {
		g.cachePermissive(host)
		return nil, false, fmt.Errorf("read robots body: %w", err)
	}

	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		g.cachePermissive(host)
		return nil, false, fmt.Errorf("parse robots: %w", err)
	}

	g.mu.Lock()
	g.robots[host] = robotsEntry{data: data, fetchedAt: time.Now(), ttl: robotsTTL}
	g.mu.Unlock()
	return data, false, nil
}

func (g *Gate) cachePermissive(host string) {
	g.mu.Lock()
	g.robots[host] = robotsEntry{fetchedAt: time.Now(), ttl: robotsFailureTTL, permissive: true}
	g.mu.Unlock()
}
