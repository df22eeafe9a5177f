// Package learner implements the Adaptive Learner: per-(domain, strategy)
// outcome tracking, backed by an append-only journal and an optional
// Postgres store for durability across restarts.
package learner

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hawkcrawl/scout/internal/orchestrator"
)

// execQueryCloser is the subset of *pgxpool.Pool the Learner needs,
// satisfied by both a real pool and pgxmock in tests.
type execQueryCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Close()
}

// statSnapshot is the exact state of one StrategyStat at compaction time,
// letting replay restore it directly instead of re-deriving it by
// re-applying every individual event that produced it.
type statSnapshot struct {
	Attempts      int       `json:"attempts"`
	Successes     int       `json:"successes"`
	AvgResponseMs float64   `json:"avg_response_ms"`
	LastSuccessAt time.Time `json:"last_success_at"`
}

// journalEntry is one append-only record, mirroring the on-disk NDJSON
// layout so a restart can replay history into memory. A plain entry
// records one outcome event; Snapshot is set only on compacted lines,
// where it replaces the per-event fields with the exact accumulated state.
type journalEntry struct {
	Domain    string        `json:"domain"`
	Strategy  string        `json:"strategy"`
	Success   bool          `json:"success"`
	ElapsedMs int64         `json:"elapsed_ms"`
	At        time.Time     `json:"at"`
	Snapshot  *statSnapshot `json:"snapshot,omitempty"`
}

// Learner implements orchestrator.Learner. Stats live in memory, guarded by
// a mutex; every Record call also appends to a journal writer (a *Journal
// in production, io.Discard in tests) and, if a store is configured,
// upserts into Postgres.
type Learner struct {
	mu    sync.RWMutex
	stats map[string]map[orchestrator.Strategy]*orchestrator.StrategyStat

	journal io.Writer
	store   execQueryCloser
}

// New builds a Learner writing its append-only journal to journal (pass
// io.Discard to disable, or a *Journal for replay/compaction support) and,
// if store is non-nil, persisting stats to Postgres.
func New(journal io.Writer, store execQueryCloser) *Learner {
	if journal == nil {
		journal = io.Discard
	}
	return &Learner{
		stats:   make(map[string]map[orchestrator.Strategy]*orchestrator.StrategyStat),
		journal: journal,
		store:   store,
	}
}

// Record implements orchestrator.Learner.
func (l *Learner) Record(ctx context.Context, domain string, strategy orchestrator.Strategy, success bool, elapsedMs int64) error {
	entry := journalEntry{Domain: domain, Strategy: string(strategy), Success: success, ElapsedMs: elapsedMs, At: time.Now()}
	l.applyJournalEntry(entry)

	if err := l.appendJournal(entry); err != nil {
		return fmt.Errorf("append learner journal: %w", err)
	}

	if l.store != nil {
		snapshot := l.statSnapshotFor(domain, strategy)
		if err := l.persist(ctx, snapshot); err != nil {
			return fmt.Errorf("persist strategy stat: %w", err)
		}
	}
	return nil
}

// applyJournalEntry folds one journal entry into the in-memory stats,
// either as an incremental event (Attempts++, conditionally Successes++)
// or, for a compacted snapshot line, as an exact overwrite.
func (l *Learner) applyJournalEntry(e journalEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	strategy := orchestrator.Strategy(e.Strategy)
	byStrategy, ok := l.stats[e.Domain]
	if !ok {
		byStrategy = make(map[orchestrator.Strategy]*orchestrator.StrategyStat)
		l.stats[e.Domain] = byStrategy
	}
	stat, ok := byStrategy[strategy]
	if !ok {
		stat = &orchestrator.StrategyStat{Domain: e.Domain, Strategy: strategy}
		byStrategy[strategy] = stat
	}

	if e.Snapshot != nil {
		stat.Attempts = e.Snapshot.Attempts
		stat.Successes = e.Snapshot.Successes
		stat.AvgResponseMs = e.Snapshot.AvgResponseMs
		stat.LastSuccessAt = e.Snapshot.LastSuccessAt
		return
	}

	stat.Attempts++
	if e.Success {
		stat.Successes++
		stat.LastSuccessAt = e.At
	}
	stat.AvgResponseMs = runningAverage(stat.AvgResponseMs, stat.Attempts, float64(e.ElapsedMs))
}

func (l *Learner) statSnapshotFor(domain string, strategy orchestrator.Strategy) orchestrator.StrategyStat {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return *l.stats[domain][strategy]
}

// Stats implements orchestrator.Learner.
func (l *Learner) Stats(ctx context.Context, domain string) (map[orchestrator.Strategy]orchestrator.StrategyStat, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[orchestrator.Strategy]orchestrator.StrategyStat)
	for strategy, stat := range l.stats[domain] {
		out[strategy] = *stat
	}
	return out, nil
}

// AllStats returns a snapshot of every tracked domain's strategy stats,
// for telemetry callers that did not narrow the query to one domain.
func (l *Learner) AllStats() map[string]map[orchestrator.Strategy]orchestrator.StrategyStat {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[string]map[orchestrator.Strategy]orchestrator.StrategyStat, len(l.stats))
	for domain, byStrategy := range l.stats {
		snapshot := make(map[orchestrator.Strategy]orchestrator.StrategyStat, len(byStrategy))
		for strategy, stat := range byStrategy {
			snapshot[strategy] = *stat
		}
		out[domain] = snapshot
	}
	return out
}

// ReplayJournal rebuilds in-memory stats from j's on-disk history, intended
// to run once at startup, before Record is called for the first time.
func (l *Learner) ReplayJournal(j *Journal) error {
	return j.Replay(l.applyJournalEntry)
}

// appendJournal writes e to the journal and, if the journal is a *Journal
// (supports compaction), triggers a compaction once the log has grown past
// 10x the live (domain, strategy) set size, per the journal's compaction
// rule.
func (l *Learner) appendJournal(e journalEntry) error {
	line, err := json.Marshal(e)
	if err != nil {
		return err
	}
	line = append(line, '\n')
	if _, err := l.journal.Write(line); err != nil {
		return err
	}

	j, ok := l.journal.(*Journal)
	if !ok {
		return nil
	}
	live := l.liveSetSize()
	if live > 0 && j.Lines() > 10*live {
		if err := j.Compact(l.snapshotEntries()); err != nil {
			return fmt.Errorf("compact journal: %w", err)
		}
	}
	return nil
}

func (l *Learner) liveSetSize() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	for _, byStrategy := range l.stats {
		n += len(byStrategy)
	}
	return n
}

func (l *Learner) snapshotEntries() []journalEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	entries := make([]journalEntry, 0, len(l.stats))
	for domain, byStrategy := range l.stats {
		for strategy, stat := range byStrategy {
			entries = append(entries, journalEntry{
				Domain:   domain,
				Strategy: string(strategy),
				Snapshot: &statSnapshot{
					Attempts:      stat.Attempts,
					Successes:     stat.Successes,
					AvgResponseMs: stat.AvgResponseMs,
					LastSuccessAt: stat.LastSuccessAt,
				},
			})
		}
	}
	return entries
}

func (l *Learner) persist(ctx context.Context, stat orchestrator.StrategyStat) error {
	query := `
INSERT INTO strategy_stats (domain, strategy, attempts, successes, avg_response_ms, last_success_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (domain, strategy) DO UPDATE SET
	attempts = EXCLUDED.attempts,
	successes = EXCLUDED.successes,
	avg_response_ms = EXCLUDED.avg_response_ms,
	last_success_at = EXCLUDED.last_success_at`
	_, err := l.store.Exec(ctx, query, stat.Domain, string(stat.Strategy), stat.Attempts, stat.Successes, stat.AvgResponseMs, stat.LastSuccessAt)
	return err
}

// LoadFromStore replays all persisted stats from Postgres into memory,
// intended to be called once at startup.
func (l *Learner) LoadFromStore(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	rows, err := l.store.Query(ctx, `SELECT domain, strategy, attempts, successes, avg_response_ms, last_success_at FROM strategy_stats`)
	if err != nil {
		return fmt.Errorf("query strategy_stats: %w", err)
	}
	defer rows.Close()

	l.mu.Lock()
	defer l.mu.Unlock()
	for rows.Next() {
		var domain, strategy string
		var stat orchestrator.StrategyStat
		if err := rows.Scan(&domain, &strategy, &stat.Attempts, &stat.Successes, &stat.AvgResponseMs, &stat.LastSuccessAt); err != nil {
			return fmt.Errorf("scan strategy_stats row: %w", err)
		}
		stat.Domain = domain
		stat.Strategy = orchestrator.Strategy(strategy)
		byStrategy, ok := l.stats[domain]
		if !ok {
			byStrategy = make(map[orchestrator.Strategy]*orchestrator.StrategyStat)
			l.stats[domain] = byStrategy
		}
		byStrategy[stat.Strategy] = &stat
	}
	return rows.Err()
}

func runningAverage(prevAvg float64, count int, sample float64) float64 {
	if count <= 1 {
		return sample
	}
	return prevAvg + (sample-prevAvg)/float64(count)
}
