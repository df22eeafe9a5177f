// Package app wires every orchestrator collaborator from a loaded Config
// and acts as the single construction point for the CLI and serve
// commands, the way the teacher's internal/server package builds its App.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hawkcrawl/scout/internal/api"
	"github.com/hawkcrawl/scout/internal/cache"
	"github.com/hawkcrawl/scout/internal/circuit"
	"github.com/hawkcrawl/scout/internal/compliance"
	"github.com/hawkcrawl/scout/internal/confidence"
	"github.com/hawkcrawl/scout/internal/config"
	"github.com/hawkcrawl/scout/internal/cost"
	"github.com/hawkcrawl/scout/internal/evidence"
	"github.com/hawkcrawl/scout/internal/fetcher/light"
	"github.com/hawkcrawl/scout/internal/fetcher/stealth"
	"github.com/hawkcrawl/scout/internal/fetcher/ultra"
	"github.com/hawkcrawl/scout/internal/learner"
	"github.com/hawkcrawl/scout/internal/logging"
	"github.com/hawkcrawl/scout/internal/notify"
	"github.com/hawkcrawl/scout/internal/orchestrator"
	"github.com/hawkcrawl/scout/internal/profiler"
	"github.com/hawkcrawl/scout/internal/ratelimit"
	"github.com/hawkcrawl/scout/internal/retry"
	"github.com/hawkcrawl/scout/internal/selector"
	"github.com/hawkcrawl/scout/internal/telemetry"
	"github.com/hawkcrawl/scout/internal/telemetry/ring"
)

// App is the dependency injection container holding every long-lived
// service: the orchestrator, its telemetry collaborators, the HTTP server,
// and whatever external clients (Postgres, GCS, Pub/Sub) the config asked
// for.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	orchestrator *orchestrator.Orchestrator
	server       *api.Server

	pgPool         *pgxpool.Pool
	gcsClient      *storage.Client
	pubsubClient   *pubsub.Client
	learnerJournal *learner.Journal
}

// New builds an App from cfg, constructing a client for every external
// backend the config names. It fails on a backend setting that cannot be
// parsed; it does not ping the backends themselves.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	logs := ring.New(cfg.Logging.RingBufferLen)
	logger, err := logging.New(cfg.Logging.Development, logs)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	telemetry.Init()

	evidenceStore, gcsClient, err := buildEvidenceStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("build evidence store: %w", err)
	}
	evidenceCapturer := evidence.New(evidenceStore, cfg.Evidence.RetentionCount, logger)

	var pgPool *pgxpool.Pool
	if cfg.Database.DSN != "" {
		pgPool, err = connectPostgres(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
	}

	journal, err := learner.OpenJournal(cfg.Learner.JournalPath)
	if err != nil {
		return nil, fmt.Errorf("open learner journal: %w", err)
	}
	adaptiveLearner := learner.New(journal, pgPool)
	if pgPool != nil {
		if err := adaptiveLearner.LoadFromStore(ctx); err != nil {
			return nil, fmt.Errorf("replay learner state from postgres: %w", err)
		}
	} else if err := adaptiveLearner.ReplayJournal(journal); err != nil {
		return nil, fmt.Errorf("replay learner journal: %w", err)
	}

	lightFetcher := light.New(light.Config{UserAgent: cfg.Fetch.UserAgent, Timeout: cfg.Fetch.LightTimeout})
	fetchers, err := buildFetchers(cfg, lightFetcher)
	if err != nil {
		return nil, fmt.Errorf("build fetchers: %w", err)
	}

	var notifier orchestrator.Notifier
	var pubsubClient *pubsub.Client
	if cfg.PubSub.TopicName != "" {
		pubsubClient, err = pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("connect pubsub: %w", err)
		}
		notifier = notify.New(notify.NewPubSubPublisher(pubsubClient), cfg.PubSub.TopicName)
	}

	circuitRegistry := circuit.New(circuit.Config{
		FailureThreshold:    cfg.Circuit.FailureThreshold,
		RecoveryTimeout:     cfg.Circuit.RecoveryTimeout,
		HalfOpenMax:         cfg.Circuit.HalfOpenMax,
		BlockedURLThreshold: cfg.Circuit.BlockedURLThreshold,
	})
	costController := cost.New(orchestrator.CostLimits{
		Tokens:      cfg.Cost.TokenCeiling,
		BrowserMins: cfg.Cost.BrowserMinutesCeiling,
		Requests:    cfg.Cost.RequestCeiling,
		USD:         cfg.Cost.USDCeiling,
	})

	orch := orchestrator.New(orchestrator.Config{
		Compliance: compliance.New(cfg.Compliance.RespectRobots, cfg.Fetch.UserAgent, cfg.Compliance.BlacklistDomains, logger),
		Profiler: profiler.New(lightFetcher, profiler.Config{
			ProbeMaxBytes: int(cfg.Profile.ProbeMaxBytes),
			ProbeTimeout:  cfg.Profile.ProbeWaitMax,
			DefaultTTL:    cfg.Profile.DefaultTTL,
			ExtremeTTL:    cfg.Profile.ExtremeTTL,
		}, logger),
		Selector:   selector.New(),
		Rate: ratelimit.New(ratelimit.Config{
			DefaultDelay: secondsToDuration(cfg.Rate.DefaultDelaySeconds),
			MinDelay:     secondsToDuration(cfg.Rate.MinDelaySeconds),
			MaxDelay:     secondsToDuration(cfg.Rate.MaxDelaySeconds),
		}),
		Circuit:    circuitRegistry,
		Retry:      retry.New(),
		Learner:    adaptiveLearner,
		Evidence:   evidenceCapturer,
		Confidence: confidence.New(),
		Cost:       costController,
		Cache:      cache.New(cfg.Cache.TTL),
		Fetchers:   fetchers,
		StrategyTimeouts: orchestrator.StrategyTimeouts{
			orchestrator.StrategyLight:   cfg.Fetch.LightTimeout,
			orchestrator.StrategyStealth: cfg.Fetch.StealthTimeout,
			orchestrator.StrategyUltra:   cfg.Fetch.UltraTimeout,
		},
		Notifier:         notifier,
		DefaultTimeout:   cfg.Fetch.DefaultTimeout,
		SSRFAllowPrivate: cfg.Fetch.SSRFAllowPrivate,
		Logger:           logger,
	})

	server := api.NewServer(orch, circuitRegistry, adaptiveLearner, costController, evidenceCapturer, logs, logger)

	return &App{
		cfg:            cfg,
		logger:         logger,
		orchestrator:   orch,
		server:         server,
		pgPool:         pgPool,
		gcsClient:      gcsClient,
		pubsubClient:   pubsubClient,
		learnerJournal: journal,
	}, nil
}

// Orchestrator exposes the Scrape/ScrapeBatch facade for one-shot CLI use.
func (a *App) Orchestrator() *orchestrator.Orchestrator {
	return a.orchestrator
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Serve runs the telemetry HTTP server until ctx is canceled or a SIGINT/
// SIGTERM arrives, then shuts it down gracefully.
func (a *App) Serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}

// Close releases every external client the App opened. Best-effort: errors
// are logged, not returned, since shutdown must proceed regardless.
func (a *App) Close() {
	if a.learnerJournal != nil {
		if err := a.learnerJournal.Close(); err != nil {
			a.logger.Warn("close learner journal failed", zap.Error(err))
		}
	}
	if a.pgPool != nil {
		a.pgPool.Close()
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("close gcs client failed", zap.Error(err))
		}
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("close pubsub client failed", zap.Error(err))
		}
	}
	if err := a.logger.Sync(); err != nil {
		a.logger.Warn("sync logger on shutdown failed", zap.Error(err))
	}
}

func buildEvidenceStore(ctx context.Context, cfg config.Config) (evidence.ArtifactStore, *storage.Client, error) {
	switch cfg.Evidence.Backend {
	case "local":
		store, err := evidence.NewLocalStore(cfg.Evidence.LocalDir)
		return store, nil, err
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("connect gcs: %w", err)
		}
		store, err := evidence.NewGCSStore(client, cfg.Evidence.GCSBucket)
		if err != nil {
			return nil, client, err
		}
		return store, client, nil
	default:
		return evidence.NewMemoryStore(), nil, nil
	}
}

func connectPostgres(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	return pgxpool.NewWithConfig(ctx, poolCfg)
}

func buildFetchers(cfg config.Config, lightFetcher *light.Fetcher) (map[orchestrator.Strategy]orchestrator.Fetcher, error) {
	ultraFetcher, err := ultra.New(ultra.Config{
		MaxParallel:       cfg.Fetch.UltraMaxConcurrency,
		UserAgent:         cfg.Fetch.UserAgent,
		NavigationTimeout: cfg.Fetch.UltraTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("build ultra fetcher: %w", err)
	}
	return map[orchestrator.Strategy]orchestrator.Fetcher{
		orchestrator.StrategyLight:   lightFetcher,
		orchestrator.StrategyStealth: stealth.New(stealth.Config{Timeout: cfg.Fetch.StealthTimeout}),
		orchestrator.StrategyUltra:   ultraFetcher,
	}, nil
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
