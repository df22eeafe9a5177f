// Package confidence implements the Confidence Scorer: a pure, post-hoc
// quality assessment of a ScrapeResult from its content, strategy, and
// response characteristics.
package confidence

import (
	"bytes"

	"github.com/PuerkitoBio/goquery"

	"github.com/hawkcrawl/scout/internal/orchestrator"
)

// expectedMedianMs is the per-strategy expected response time used by the
// speed factor.
var expectedMedianMs = map[orchestrator.Strategy]float64{
	orchestrator.StrategyLight:   400,
	orchestrator.StrategyStealth: 1500,
	orchestrator.StrategyUltra:   4000,
}

var strategyWeight = map[orchestrator.Strategy]float64{
	orchestrator.StrategyLight:   1.0,
	orchestrator.StrategyStealth: 0.9,
	orchestrator.StrategyUltra:   0.8,
}

const (
	weightContentLength = 0.3
	weightStrategy      = 0.2
	weightResponse      = 0.2
	weightStructured    = 0.1
	weightSpeed         = 0.2

	warnThreshold = 0.3
)

// Scorer implements orchestrator.ConfidenceScorer.
type Scorer struct{}

// New builds a Scorer.
func New() *Scorer {
	return &Scorer{}
}

// Score implements orchestrator.ConfidenceScorer.
func (s *Scorer) Score(result orchestrator.ScrapeResult, strategy orchestrator.Strategy, outcome orchestrator.FetchOutcome) orchestrator.ConfidenceScore {
	factors := orchestrator.ConfidenceFactors{
		ContentLength:     contentLengthFactor(len(result.Content)),
		StrategyWeight:    strategyWeight[strategy],
		ResponseQuality:   responseQualityFactor(outcome),
		HadStructuredData: structuredDataFactor(outcome.HadStructuredData, result.Content),
		Speed:             speedFactor(strategy, result.ElapsedMs),
	}

	overall := weightContentLength*factors.ContentLength +
		weightStrategy*factors.StrategyWeight +
		weightResponse*factors.ResponseQuality +
		weightStructured*factors.HadStructuredData +
		weightSpeed*factors.Speed

	var warnings []string
	if factors.ContentLength < warnThreshold {
		warnings = append(warnings, "low content length")
	}
	if factors.ResponseQuality < warnThreshold {
		warnings = append(warnings, "poor response quality")
	}
	if factors.HadStructuredData < warnThreshold {
		warnings = append(warnings, "no structured data detected")
	}
	if factors.Speed < warnThreshold {
		warnings = append(warnings, "response much slower than expected")
	}

	return orchestrator.ConfidenceScore{Overall: overall, Factors: factors, Warnings: warnings}
}

// contentLengthFactor is piecewise-linear: 0 at 0 bytes, 0.5 at 1 KiB, 1 at
// >= 8 KiB.
func contentLengthFactor(n int) float64 {
	switch {
	case n <= 0:
		return 0
	case n <= 1024:
		return 0.5 * float64(n) / 1024
	case n >= 8192:
		return 1
	default:
		return 0.5 + 0.5*float64(n-1024)/float64(8192-1024)
	}
}

func responseQualityFactor(outcome orchestrator.FetchOutcome) float64 {
	if outcome.HTTPStatus != 200 {
		return 0
	}
	if outcome.RedirectCount > 3 {
		return 0.6
	}
	return 1
}

// structuredDataFactor trusts the fetcher-reported flag when set; otherwise
// falls back to sniffing the content directly.
func structuredDataFactor(reported bool, content []byte) float64 {
	if reported {
		return 1
	}
	if hasStructuredData(content) {
		return 1
	}
	return 0
}

func hasStructuredData(content []byte) bool {
	if len(content) == 0 {
		return false
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return false
	}
	if doc.Find(`script[type="application/ld+json"]`).Length() > 0 {
		return true
	}
	if doc.Find(`meta[property^="og:"]`).Length() > 0 {
		return true
	}
	if doc.Find("table").Length() > 0 {
		return true
	}
	return false
}

// speedFactor is 1 at or below the strategy's expected median, decaying
// linearly to 0.2 at 4x the median.
func speedFactor(strategy orchestrator.Strategy, elapsedMs int64) float64 {
	median := expectedMedianMs[strategy]
	if median <= 0 {
		median = 1000
	}
	ratio := float64(elapsedMs) / median
	switch {
	case ratio <= 1:
		return 1
	case ratio >= 4:
		return 0.2
	default:
		return 1 - 0.8*(ratio-1)/3
	}
}
