package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hawkcrawl/scout/internal/orchestrator"
)

func TestShouldRetryRespectsPerKindCaps(t *testing.T) {
	p := New()

	require.True(t, p.ShouldRetry(orchestrator.FailureTimeout, 0, 0))
	require.False(t, p.ShouldRetry(orchestrator.FailureTimeout, 1, 0))

	require.True(t, p.ShouldRetry(orchestrator.FailureConnection, 0, 0))
	require.True(t, p.ShouldRetry(orchestrator.FailureConnection, 1, 0))
	require.False(t, p.ShouldRetry(orchestrator.FailureConnection, 2, 0))

	require.False(t, p.ShouldRetry(orchestrator.FailureChallenge, 0, 0))
	require.False(t, p.ShouldRetry(orchestrator.FailureHTTP4xxBlocked, 0, 0))
	require.False(t, p.ShouldRetry(orchestrator.FailureParseEmpty, 0, 0))
	require.False(t, p.ShouldRetry(orchestrator.FailureComplianceDenied, 0, 0))
}

func TestBackoffHonorsRetryAfterFor429(t *testing.T) {
	p := New()
	d := p.Backoff(orchestrator.FailureHTTP429, 0, 3*time.Second)
	require.Equal(t, 3*time.Second, d)
}

func TestBackoffFallsBackToExponentialTableFor429(t *testing.T) {
	p := New()
	d := p.Backoff(orchestrator.FailureHTTP429, 0, 0)
	require.InDelta(t, 5*time.Second, d, float64(1500*time.Millisecond))
}

func TestBackoffAppliesJitterWithinTwentyPercent(t *testing.T) {
	p := New()
	d := p.Backoff(orchestrator.FailureHTTP5xx, 0, 0)
	require.InDelta(t, 2*time.Second, d, float64(400*time.Millisecond))
}

func TestBackoffZeroForNonRetryableKinds(t *testing.T) {
	p := New()
	require.Equal(t, time.Duration(0), p.Backoff(orchestrator.FailureChallenge, 0, 0))
}
