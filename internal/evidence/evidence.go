// Package evidence implements the Evidence Capturer: best-effort artifact
// persistence on failing attempts, retained with a rolling cap and
// retrievable as read-only telemetry.
package evidence

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hawkcrawl/scout/internal/orchestrator"
	"github.com/hawkcrawl/scout/internal/telemetry"
)

// ArtifactStore persists an opaque blob at path and returns a retrieval
// handle (typically a URI). Implementations: local filesystem, in-memory,
// GCS.
type ArtifactStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Capturer implements orchestrator.EvidenceCapturer.
type Capturer struct {
	store        ArtifactStore
	retentionCap int
	logger       *zap.Logger

	mu      sync.Mutex
	records []orchestrator.EvidenceRecord // ordered oldest to newest
}

// defaultRetentionCap is the rolling cap on retained records (spec default
// 500 most recent).
const defaultRetentionCap = 500

// evidenceMeta is the captured attempt's metadata, written as meta.json
// alongside the raw body and header artifacts.
type evidenceMeta struct {
	TraceID       string                   `json:"trace_id"`
	Domain        string                   `json:"domain"`
	URL           string                   `json:"url"`
	Attempt       int                      `json:"attempt"`
	Kind          orchestrator.FailureKind `json:"kind"`
	HTTPStatus    int                      `json:"http_status,omitempty"`
	HeadersDigest string                   `json:"headers_digest"`
	CapturedAt    time.Time                `json:"captured_at"`
}

// New builds a Capturer. store may be nil, in which case Capture still
// records metadata and assigns a handle without persisting artifacts
// anywhere durable.
func New(store ArtifactStore, retentionCap int, logger *zap.Logger) *Capturer {
	if retentionCap <= 0 {
		retentionCap = defaultRetentionCap
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Capturer{store: store, retentionCap: retentionCap, logger: logger}
}

// Capture implements orchestrator.EvidenceCapturer. It writes a
// directory-per-trace-attempt layout: body.bin (the truncated response
// body), headers.json (the response headers, if any), meta.json (the
// attempt's metadata and headers digest), and screenshot.png when rec
// carries a captured screenshot. Errors are logged and swallowed upstream
// by callers that treat capture as best-effort; Capture itself still
// returns the error so callers may choose to log differently.
func (c *Capturer) Capture(ctx context.Context, rec orchestrator.EvidenceRecord) (string, error) {
	rec.HeadersDigest = headersDigest(rec.Headers)
	dir := fmt.Sprintf("evidence/%s/%d", rec.TraceID, rec.Attempt)

	if c.store == nil {
		handle := fmt.Sprintf("inmem://%s", dir)
		rec.EvidenceHandle = handle
		c.append(rec)
		telemetry.IncEvidenceCaptured()
		return handle, nil
	}

	bodyURI, err := c.store.PutObject(ctx, dir+"/body.bin", "application/octet-stream", rec.BodyExcerpt)
	if err != nil {
		c.logger.Warn("evidence body capture failed", zap.String("trace_id", rec.TraceID), zap.Error(err))
		return "", fmt.Errorf("put evidence body: %w", err)
	}

	if headersJSON, err := json.Marshal(rec.Headers); err == nil {
		if _, err := c.store.PutObject(ctx, dir+"/headers.json", "application/json", headersJSON); err != nil {
			c.logger.Warn("evidence headers capture failed", zap.String("trace_id", rec.TraceID), zap.Error(err))
		}
	}

	meta := evidenceMeta{
		TraceID:       rec.TraceID,
		Domain:        rec.Domain,
		URL:           rec.URL,
		Attempt:       rec.Attempt,
		Kind:          rec.Kind,
		HTTPStatus:    rec.HTTPStatus,
		HeadersDigest: rec.HeadersDigest,
		CapturedAt:    rec.CapturedAt,
	}
	if metaJSON, err := json.Marshal(meta); err == nil {
		if _, err := c.store.PutObject(ctx, dir+"/meta.json", "application/json", metaJSON); err != nil {
			c.logger.Warn("evidence meta capture failed", zap.String("trace_id", rec.TraceID), zap.Error(err))
		}
	}

	if len(rec.Screenshot) > 0 {
		screenshotURI, err := c.store.PutObject(ctx, dir+"/screenshot.png", "image/png", rec.Screenshot)
		if err != nil {
			c.logger.Warn("evidence screenshot capture failed", zap.String("trace_id", rec.TraceID), zap.Error(err))
		} else {
			rec.ScreenshotHandle = screenshotURI
		}
	}

	rec.EvidenceHandle = bodyURI
	c.append(rec)
	telemetry.IncEvidenceCaptured()
	return bodyURI, nil
}

func (c *Capturer) append(rec orchestrator.EvidenceRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, rec)
	if len(c.records) > c.retentionCap {
		c.records = c.records[len(c.records)-c.retentionCap:]
	}
}

// Finalize implements orchestrator.EvidenceCapturer. There is no per-trace
// buffering to flush in this implementation; Finalize exists so callers
// have a consistent lifecycle hook regardless of backend.
func (c *Capturer) Finalize(ctx context.Context, traceID string) {}

// Recent implements orchestrator.EvidenceCapturer, returning up to limit
// records, most recent first.
func (c *Capturer) Recent(limit int) []orchestrator.EvidenceRecord {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.records)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]orchestrator.EvidenceRecord, limit)
	for i := 0; i < limit; i++ {
		out[i] = c.records[n-1-i]
	}
	return out
}

// headersDigest returns a SHA-256 hex digest of headers, canonicalized by
// sorting keys and their values so the digest is stable regardless of map
// iteration order. An empty or nil header set digests to the hash of the
// empty string, not the empty string itself, so it still distinguishes
// "captured, no headers" from "digest not computed".
func headersDigest(headers http.Header) string {
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		values := append([]string(nil), headers[k]...)
		sort.Strings(values)
		b.WriteString(k)
		b.WriteByte(':')
		b.WriteString(strings.Join(values, ","))
		b.WriteByte('\n')
	}

	h := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(h[:])
}
