package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hawkcrawl/scout/internal/orchestrator"
	"github.com/hawkcrawl/scout/internal/telemetry"
	"github.com/hawkcrawl/scout/internal/telemetry/ring"
)

// ScrapeRunner is the subset of *orchestrator.Orchestrator the server needs.
type ScrapeRunner interface {
	Scrape(ctx context.Context, req orchestrator.Request) (orchestrator.ScrapeResult, error)
	ScrapeBatch(ctx context.Context, requests []orchestrator.Request) []orchestrator.ScrapeResult
}

// CircuitReporter exposes per-domain circuit state for telemetry.
type CircuitReporter interface {
	States() []orchestrator.CircuitSnapshot
}

// StrategyReporter exposes the learner's adaptive strategy stats.
type StrategyReporter interface {
	Stats(ctx context.Context, domain string) (map[orchestrator.Strategy]orchestrator.StrategyStat, error)
	AllStats() map[string]map[orchestrator.Strategy]orchestrator.StrategyStat
}

// CostReporter exposes the current rolling-hour spend.
type CostReporter interface {
	Usage() orchestrator.CostUsage
}

// EvidenceReporter exposes recently captured evidence records.
type EvidenceReporter interface {
	Recent(limit int) []orchestrator.EvidenceRecord
}

// LogReporter exposes recently logged records from the ring buffer.
type LogReporter interface {
	Recent(limit int, levelFilter string) []ring.Record
}

// Server wires HTTP handlers to the orchestrator and its telemetry
// collaborators.
type Server struct {
	router   chi.Router
	runner   ScrapeRunner
	circuits CircuitReporter
	strategy StrategyReporter
	cost     CostReporter
	evidence EvidenceReporter
	logs     LogReporter
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes installed.
func NewServer(
	runner ScrapeRunner,
	circuits CircuitReporter,
	strategy StrategyReporter,
	cost CostReporter,
	evidence EvidenceReporter,
	logs LogReporter,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		runner:   runner,
		circuits: circuits,
		strategy: strategy,
		cost:     cost,
		evidence: evidence,
		logs:     logs,
		logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Handle("/metrics", telemetry.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/scrape", s.scrape)
		r.Post("/scrape/batch", s.scrapeBatch)
		r.Get("/circuits", s.getCircuitStates)
		r.Get("/strategy-stats", s.getStrategyStats)
		r.Get("/cost", s.getCostUsage)
		r.Get("/logs", s.getRecentLogs)
		r.Get("/evidence", s.getRecentEvidence)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type scrapeRequest struct {
	URL            string `json:"url"`
	Hint           string `json:"hint"`
	ForceStrategy  string `json:"force_strategy"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	BypassCache    bool   `json:"bypass_cache"`
}

func (req scrapeRequest) toRequest() orchestrator.Request {
	return orchestrator.Request{
		URL:            req.URL,
		Hint:           req.Hint,
		ForceStrategy:  orchestrator.Strategy(req.ForceStrategy),
		TimeoutSeconds: req.TimeoutSeconds,
		BypassCache:    req.BypassCache,
	}
}

func (s *Server) scrape(w http.ResponseWriter, r *http.Request) {
	var req scrapeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	result, err := s.runner.Scrape(r.Context(), req.toRequest())
	if err != nil {
		writeJSON(w, http.StatusOK, result)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) scrapeBatch(w http.ResponseWriter, r *http.Request) {
	var reqs []scrapeRequest
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil || len(reqs) == 0 {
		writeError(w, http.StatusBadRequest, "at least one request is required")
		return
	}
	requests := make([]orchestrator.Request, len(reqs))
	for i, req := range reqs {
		requests[i] = req.toRequest()
	}
	results := s.runner.ScrapeBatch(r.Context(), requests)
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) getCircuitStates(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"circuits": s.circuits.States()})
}

func (s *Server) getStrategyStats(w http.ResponseWriter, r *http.Request) {
	domain := r.URL.Query().Get("domain")
	if domain == "" {
		writeJSON(w, http.StatusOK, map[string]any{"stats": s.strategy.AllStats()})
		return
	}
	stats, err := s.strategy.Stats(r.Context(), domain)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load strategy stats")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stats": map[string]any{domain: stats}})
}

func (s *Server) getCostUsage(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.cost.Usage())
}

func (s *Server) getRecentLogs(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	level := r.URL.Query().Get("level")
	writeJSON(w, http.StatusOK, map[string]any{"logs": s.logs.Recent(limit, level)})
}

func (s *Server) getRecentEvidence(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	writeJSON(w, http.StatusOK, map[string]any{"evidence": s.evidence.Recent(limit)})
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("recovered", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
