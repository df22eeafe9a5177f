package learner

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/hawkcrawl/scout/internal/orchestrator"
)

func TestRecordAccumulatesAttemptsAndSuccesses(t *testing.T) {
	var journal bytes.Buffer
	l := New(&journal, nil)

	require.NoError(t, l.Record(context.Background(), "example.com", orchestrator.StrategyLight, true, 100))
	require.NoError(t, l.Record(context.Background(), "example.com", orchestrator.StrategyLight, false, 200))

	stats, err := l.Stats(context.Background(), "example.com")
	require.NoError(t, err)
	stat := stats[orchestrator.StrategyLight]
	require.Equal(t, 2, stat.Attempts)
	require.Equal(t, 1, stat.Successes)
	require.InDelta(t, 0.5, stat.SuccessRate(), 0.001)
}

func TestRecordWritesOneJournalLinePerCall(t *testing.T) {
	var journal bytes.Buffer
	l := New(&journal, nil)
	require.NoError(t, l.Record(context.Background(), "example.com", orchestrator.StrategyLight, true, 100))

	var entry journalEntry
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(journal.Bytes()), &entry))
	require.Equal(t, "example.com", entry.Domain)
	require.True(t, entry.Success)
}

func TestStatsIsolatedPerDomain(t *testing.T) {
	l := New(nil, nil)
	require.NoError(t, l.Record(context.Background(), "a.test", orchestrator.StrategyLight, true, 100))
	require.NoError(t, l.Record(context.Background(), "b.test", orchestrator.StrategyLight, true, 100))

	statsA, _ := l.Stats(context.Background(), "a.test")
	require.Len(t, statsA, 1)
	statsB, _ := l.Stats(context.Background(), "b.test")
	require.Len(t, statsB, 1)

	statsC, err := l.Stats(context.Background(), "unknown.test")
	require.NoError(t, err)
	require.Empty(t, statsC)
}

func TestRecordUpsertsIntoPostgresWhenStoreConfigured(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	l := New(nil, mock)

	mock.ExpectExec("INSERT INTO strategy_stats").
		WithArgs("example.com", "light", 1, 1, float64(150), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, l.Record(context.Background(), "example.com", orchestrator.StrategyLight, true, 150))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTrustedRequiresMinimumAttemptsAndSuccessRate(t *testing.T) {
	l := New(nil, nil)
	for i := 0; i < 4; i++ {
		require.NoError(t, l.Record(context.Background(), "example.com", orchestrator.StrategyLight, true, 100))
	}
	stats, _ := l.Stats(context.Background(), "example.com")
	require.False(t, stats[orchestrator.StrategyLight].Trusted())

	require.NoError(t, l.Record(context.Background(), "example.com", orchestrator.StrategyLight, true, 100))
	stats, _ = l.Stats(context.Background(), "example.com")
	require.True(t, stats[orchestrator.StrategyLight].Trusted())
}
