package confidence

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hawkcrawl/scout/internal/orchestrator"
)

func TestScoreHighQualityLightFetchScoresNearOne(t *testing.T) {
	s := New()
	result := orchestrator.ScrapeResult{Content: make([]byte, 8192), ElapsedMs: 200}
	outcome := orchestrator.FetchOutcome{HTTPStatus: 200, HadStructuredData: true}

	score := s.Score(result, orchestrator.StrategyLight, outcome)
	require.Greater(t, score.Overall, 0.9)
	require.Empty(t, score.Warnings)
}

func TestScoreEmptyContentScoresLowWithWarnings(t *testing.T) {
	s := New()
	result := orchestrator.ScrapeResult{ElapsedMs: 100}
	outcome := orchestrator.FetchOutcome{HTTPStatus: 200}

	score := s.Score(result, orchestrator.StrategyLight, outcome)
	require.Less(t, score.Overall, 0.7)
	require.Contains(t, score.Warnings, "low content length")
	require.Contains(t, score.Warnings, "no structured data detected")
}

func TestScoreNon200ResponseQualityIsZero(t *testing.T) {
	s := New()
	outcome := orchestrator.FetchOutcome{HTTPStatus: 500}
	score := s.Score(orchestrator.ScrapeResult{}, orchestrator.StrategyLight, outcome)
	require.Zero(t, score.Factors.ResponseQuality)
}

func TestScoreRedirectChainDiscountsResponseQuality(t *testing.T) {
	s := New()
	outcome := orchestrator.FetchOutcome{HTTPStatus: 200, RedirectCount: 5}
	score := s.Score(orchestrator.ScrapeResult{}, orchestrator.StrategyLight, outcome)
	require.InDelta(t, 0.6, score.Factors.ResponseQuality, 0.001)
}

func TestScoreSniffsStructuredDataFromContentWhenNotReported(t *testing.T) {
	s := New()
	result := orchestrator.ScrapeResult{Content: []byte(`<html><body><table><tr><td>x</td></tr></table></body></html>`)}
	score := s.Score(result, orchestrator.StrategyLight, orchestrator.FetchOutcome{HTTPStatus: 200})
	require.Equal(t, 1.0, score.Factors.HadStructuredData)
}

func TestScoreSpeedFactorDecaysWithElapsedTime(t *testing.T) {
	s := New()
	fast := s.Score(orchestrator.ScrapeResult{ElapsedMs: 100}, orchestrator.StrategyLight, orchestrator.FetchOutcome{})
	slow := s.Score(orchestrator.ScrapeResult{ElapsedMs: 1600}, orchestrator.StrategyLight, orchestrator.FetchOutcome{})
	require.Greater(t, fast.Factors.Speed, slow.Factors.Speed)
	require.InDelta(t, 0.2, slow.Factors.Speed, 0.001)
}

func TestScoreHeavierStrategyDiscountsStrategyWeight(t *testing.T) {
	s := New()
	light := s.Score(orchestrator.ScrapeResult{}, orchestrator.StrategyLight, orchestrator.FetchOutcome{})
	ultra := s.Score(orchestrator.ScrapeResult{}, orchestrator.StrategyUltra, orchestrator.FetchOutcome{})
	require.Greater(t, light.Factors.StrategyWeight, ultra.Factors.StrategyWeight)
}
