// Package selector implements the Strategy Selector: combining a site
// profile with learned strategy stats into an ordered, escalation-monotone
// list of strategies to try.
package selector

import (
	"sort"

	"github.com/hawkcrawl/scout/internal/orchestrator"
)

var ladder = []orchestrator.Strategy{
	orchestrator.StrategyLight,
	orchestrator.StrategyStealth,
	orchestrator.StrategyUltra,
}

// Selector implements orchestrator.StrategySelector.
type Selector struct{}

// New builds a Selector. It is stateless.
func New() *Selector {
	return &Selector{}
}

// Choose implements orchestrator.StrategySelector.
func (s *Selector) Choose(profile orchestrator.SiteProfile, stats map[orchestrator.Strategy]orchestrator.StrategyStat, req orchestrator.Request) []orchestrator.Strategy {
	if req.ForceStrategy != "" {
		return []orchestrator.Strategy{req.ForceStrategy}
	}

	first := profile.RecommendedStrategy
	if first == "" {
		first = orchestrator.StrategyLight
	}

	ordered := monotoneTail(first)
	ordered = capWithTrustPriority(ordered, trustedCandidates(stats), 3)
	return dedupe(ordered)
}

// trustedCandidates lists strategies trusted for this domain, ordered by
// descending success rate.
func trustedCandidates(stats map[orchestrator.Strategy]orchestrator.StrategyStat) []orchestrator.Strategy {
	type candidate struct {
		strategy orchestrator.Strategy
		rate     float64
	}
	var trusted []candidate
	for strategy, stat := range stats {
		if stat.Trusted() {
			trusted = append(trusted, candidate{strategy: strategy, rate: stat.SuccessRate()})
		}
	}
	sort.Slice(trusted, func(i, j int) bool { return trusted[i].rate > trusted[j].rate })

	out := make([]orchestrator.Strategy, len(trusted))
	for i, c := range trusted {
		out[i] = c.strategy
	}
	return out
}

// monotoneTail builds the canonical [light, stealth, ultra] ladder prefix
// starting at first, always walked in ladder order: if first is stealth,
// the only permissible tail is [ultra]; if light, [stealth, ultra].
func monotoneTail(first orchestrator.Strategy) []orchestrator.Strategy {
	startIdx := ladderIndex(first)
	if startIdx < 0 {
		return []orchestrator.Strategy{first}
	}
	allowedTail := ladder[startIdx+1:]

	out := []orchestrator.Strategy{first}
	out = append(out, allowedTail...)
	return out
}

// capWithTrustPriority trims ordered to at most limit entries without ever
// reordering it — ordered is already in ladder order and stays that way.
// When a trim is required, trusted decides which tail entries survive,
// preferring higher-success-rate strategies over untested ones; it never
// moves a surviving entry ahead of a lighter one still in the result.
func capWithTrustPriority(ordered []orchestrator.Strategy, trusted []orchestrator.Strategy, limit int) []orchestrator.Strategy {
	if len(ordered) <= limit {
		return ordered
	}

	keep := map[orchestrator.Strategy]struct{}{ordered[0]: {}}
	for _, s := range trusted {
		if len(keep) >= limit {
			break
		}
		if contains(ordered, s) {
			keep[s] = struct{}{}
		}
	}
	for _, s := range ordered {
		if len(keep) >= limit {
			break
		}
		keep[s] = struct{}{}
	}

	out := make([]orchestrator.Strategy, 0, limit)
	for _, s := range ordered {
		if _, ok := keep[s]; ok {
			out = append(out, s)
		}
	}
	return out
}

func ladderIndex(s orchestrator.Strategy) int {
	for i, v := range ladder {
		if v == s {
			return i
		}
	}
	return -1
}

func contains(list []orchestrator.Strategy, s orchestrator.Strategy) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func dedupe(list []orchestrator.Strategy) []orchestrator.Strategy {
	seen := make(map[orchestrator.Strategy]struct{}, len(list))
	out := make([]orchestrator.Strategy, 0, len(list))
	for _, s := range list {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
