// Package logging includes tests for the zap logger helpers.
package logging

import (
	"testing"

	"go.uber.org/zap"

	"github.com/hawkcrawl/scout/internal/telemetry/ring"
)

// TestNewDevelopmentLogger confirms the development logger builds and logs.
func TestNewDevelopmentLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(true, nil)
	if err != nil {
		t.Fatalf("New(true, nil) error = %v", err)
	}
	if logger == nil {
		t.Fatal("expected logger to be non-nil")
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush
	logger.Info("development logger ready")
}

// TestNewProductionLogger ensures the production logger configuration succeeds.
func TestNewProductionLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(false, nil)
	if err != nil {
		t.Fatalf("New(false, nil) error = %v", err)
	}
	if logger == nil {
		t.Fatal("expected logger to be non-nil")
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush
	logger.Info("production logger ready")
}

// TestNewLoggerWithRing confirms records are teed into the ring buffer sink.
func TestNewLoggerWithRing(t *testing.T) {
	t.Parallel()

	buf := ring.New(8)
	logger, err := New(false, buf)
	if err != nil {
		t.Fatalf("New(false, buf) error = %v", err)
	}
	logger.Info("hello from ring test", zap.String("trace_id", "trace-1"))
	if err := logger.Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}
	records := buf.Recent(10, "")
	if len(records) == 0 {
		t.Fatal("expected at least one record in ring buffer")
	}
}
