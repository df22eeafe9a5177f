package selector

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hawkcrawl/scout/internal/orchestrator"
)

func TestChooseForceStrategyShortCircuits(t *testing.T) {
	s := New()
	order := s.Choose(
		orchestrator.SiteProfile{RecommendedStrategy: orchestrator.StrategyLight},
		nil,
		orchestrator.Request{ForceStrategy: orchestrator.StrategyUltra},
	)
	require.Equal(t, []orchestrator.Strategy{orchestrator.StrategyUltra}, order)
}

func TestChooseStartsAtRecommendedAndEscalatesMonotonically(t *testing.T) {
	s := New()
	order := s.Choose(
		orchestrator.SiteProfile{RecommendedStrategy: orchestrator.StrategyStealth},
		nil,
		orchestrator.Request{},
	)
	require.Equal(t, []orchestrator.Strategy{orchestrator.StrategyStealth, orchestrator.StrategyUltra}, order)
}

func TestChooseLightRecommendationEscalatesThroughFullLadder(t *testing.T) {
	s := New()
	order := s.Choose(
		orchestrator.SiteProfile{RecommendedStrategy: orchestrator.StrategyLight},
		nil,
		orchestrator.Request{},
	)
	require.Equal(t, []orchestrator.Strategy{orchestrator.StrategyLight, orchestrator.StrategyStealth, orchestrator.StrategyUltra}, order)
}

func TestChooseNeverPlacesHeavierBeforeLighter(t *testing.T) {
	s := New()
	stats := map[orchestrator.Strategy]orchestrator.StrategyStat{
		orchestrator.StrategyUltra: {Attempts: 10, Successes: 9},
	}
	order := s.Choose(
		orchestrator.SiteProfile{RecommendedStrategy: orchestrator.StrategyStealth},
		stats,
		orchestrator.Request{},
	)
	for i := 1; i < len(order); i++ {
		require.Greater(t, ladderIndex(order[i]), ladderIndex(order[i-1]))
	}
}

func TestChooseNeverPromotesTrustedHeavierAheadOfUntestedLighter(t *testing.T) {
	s := New()
	stats := map[orchestrator.Strategy]orchestrator.StrategyStat{
		orchestrator.StrategyUltra: {Attempts: 10, Successes: 9},
	}
	order := s.Choose(
		orchestrator.SiteProfile{RecommendedStrategy: orchestrator.StrategyLight},
		stats,
		orchestrator.Request{},
	)
	require.Equal(t, []orchestrator.Strategy{orchestrator.StrategyLight, orchestrator.StrategyStealth, orchestrator.StrategyUltra}, order)
}

func TestChooseCapsAtThree(t *testing.T) {
	s := New()
	order := s.Choose(
		orchestrator.SiteProfile{RecommendedStrategy: orchestrator.StrategyLight},
		nil,
		orchestrator.Request{},
	)
	require.LessOrEqual(t, len(order), 3)
}
