package learner

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Journal is a file-backed append-only NDJSON writer: the Strategy-learning
// journal's durability layer. Every Record call appends one line; Compact
// rewrites the file down to one snapshot line per (domain, strategy) pair
// once the log has grown past 10x the live set size.
type Journal struct {
	mu    sync.Mutex
	path  string
	file  *os.File
	lines int
}

// OpenJournal opens (creating it and its parent directory if necessary) the
// NDJSON file at path for appending, counting its existing lines so later
// compaction checks know the current length without a second pass.
func OpenJournal(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open journal file: %w", err)
	}
	lines, err := countLines(file)
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("count journal lines: %w", err)
	}
	return &Journal{path: path, file: file, lines: lines}, nil
}

func countLines(file *os.File) (int, error) {
	if _, err := file.Seek(0, 0); err != nil {
		return 0, err
	}
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	n := 0
	for scanner.Scan() {
		n++
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}
	if _, err := file.Seek(0, 2); err != nil {
		return 0, err
	}
	return n, nil
}

// Write implements io.Writer. The caller supplies one already
// newline-terminated JSON line per call.
func (j *Journal) Write(p []byte) (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	n, err := j.file.Write(p)
	if err != nil {
		return n, err
	}
	j.lines++
	return n, nil
}

// Lines returns the current line count, for the caller's compaction
// threshold check.
func (j *Journal) Lines() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lines
}

// Replay reads every line in the journal from the start, in file order,
// and calls fn for each decoded entry, so a restart can rebuild in-memory
// state before accepting new writes. The file position is restored to the
// end afterward so subsequent Write calls keep appending.
func (j *Journal) Replay(fn func(journalEntry)) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if _, err := j.file.Seek(0, 0); err != nil {
		return fmt.Errorf("seek journal for replay: %w", err)
	}
	scanner := bufio.NewScanner(j.file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry journalEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			return fmt.Errorf("decode journal line: %w", err)
		}
		fn(entry)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan journal: %w", err)
	}
	if _, err := j.file.Seek(0, 2); err != nil {
		return fmt.Errorf("seek journal to end after replay: %w", err)
	}
	return nil
}

// Compact rewrites the journal to hold exactly one snapshot line per entry
// in live, discarding the individual-event history that produced it.
func (j *Journal) Compact(live []journalEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	tmpPath := j.path + ".compact"
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("create compaction file: %w", err)
	}

	writer := bufio.NewWriter(tmp)
	for _, entry := range live {
		line, err := json.Marshal(entry)
		if err != nil {
			_ = tmp.Close()
			return fmt.Errorf("marshal snapshot entry: %w", err)
		}
		line = append(line, '\n')
		if _, err := writer.Write(line); err != nil {
			_ = tmp.Close()
			return fmt.Errorf("write snapshot entry: %w", err)
		}
	}
	if err := writer.Flush(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("flush compaction file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close compaction file: %w", err)
	}

	if err := j.file.Close(); err != nil {
		return fmt.Errorf("close journal before compaction swap: %w", err)
	}
	if err := os.Rename(tmpPath, j.path); err != nil {
		return fmt.Errorf("swap compacted journal into place: %w", err)
	}

	file, err := os.OpenFile(j.path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return fmt.Errorf("reopen journal after compaction: %w", err)
	}
	j.file = file
	j.lines = len(live)
	return nil
}

// Close releases the underlying file handle.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.file.Close()
}
