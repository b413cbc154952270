// Package server provides the public entry point for initializing the
// guardrail engine service.
//
// This package exists in pkg/ (not internal/) so that an embedding service
// can compose the full server and wrap its handler with its own middleware.
//
// Usage:
//
//	srv, err := server.New(ctx)
//	go srv.RunBackground(ctx)
//	http.ListenAndServe(":8080", srv.Handler)
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/agentoven/agentoven/guardrail-engine/internal/api"
	"github.com/agentoven/agentoven/guardrail-engine/internal/api/handlers"
	"github.com/agentoven/agentoven/guardrail-engine/internal/catalog"
	"github.com/agentoven/agentoven/guardrail-engine/internal/config"
	"github.com/agentoven/agentoven/guardrail-engine/internal/guardrails"
	"github.com/agentoven/agentoven/guardrail-engine/internal/judge"
	"github.com/agentoven/agentoven/guardrail-engine/internal/notify"
	"github.com/agentoven/agentoven/guardrail-engine/internal/retention"
	"github.com/agentoven/agentoven/guardrail-engine/internal/store"
	"github.com/agentoven/agentoven/guardrail-engine/internal/telemetry"
	"github.com/agentoven/agentoven/guardrail-engine/pkg/contracts"
)

// Config is the public configuration for the guardrail server. Zero fields
// keep the values loaded from the environment.
type Config struct {
	Port        int
	DatabaseURL string
	DataDir     string
	CatalogFile string
}

// Server holds the initialized guardrail engine service.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Store backs the catalog, audit log and tool counters.
	Store store.Store

	// Service evaluates steps. Exposed for in-process callers.
	Service *guardrails.Service

	// Port is the port the server should listen on.
	Port int

	// ShutdownFunc should be called on graceful shutdown to flush telemetry.
	ShutdownFunc telemetry.ShutdownFunc

	watcher  *catalog.Watcher
	janitor  *retention.Janitor
	notifier *notify.Dispatcher
}

// New initializes every component from environment configuration.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, &Config{})
}

// NewWithConfig initializes the server with explicit overrides.
func NewWithConfig(ctx context.Context, pubCfg *Config) (*Server, error) {
	cfg := config.Load()
	if pubCfg.Port > 0 {
		cfg.Port = pubCfg.Port
	}
	if pubCfg.DatabaseURL != "" {
		cfg.Database.URL = pubCfg.DatabaseURL
	}
	if pubCfg.DataDir != "" {
		cfg.Database.DataDir = pubCfg.DataDir
	}
	if pubCfg.CatalogFile != "" {
		cfg.Catalog.File = pubCfg.CatalogFile
	}
	return build(ctx, cfg)
}

func build(ctx context.Context, cfg *config.Config) (*Server, error) {
	policy, err := guardrails.ParseFailurePolicy(cfg.Engine.FailurePolicy)
	if err != nil {
		return nil, err
	}

	shutdown, err := telemetry.Init(ctx, cfg.Telemetry, cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	dataStore, err := openStore(ctx, cfg.Database)
	if err != nil {
		return nil, errors.Join(err, shutdown(ctx))
	}

	var watcher *catalog.Watcher
	if cfg.Catalog.File != "" {
		watcher = catalog.NewWatcher(cfg.Catalog.File, dataStore, cfg.Project, cfg.Catalog.PollInterval)
		if _, err := watcher.Sync(ctx); err != nil {
			dataStore.Close()
			return nil, errors.Join(fmt.Errorf("load catalog: %w", err), shutdown(ctx))
		}
	}

	engineOpts := []guardrails.EngineOption{
		guardrails.WithMaxConcurrency(cfg.Engine.MaxConcurrency),
		guardrails.WithJudgeTimeout(cfg.Engine.JudgeTimeout),
		guardrails.WithWarnAllowProceed(cfg.Engine.WarnAllowProceed),
	}
	if cfg.Judge.Enabled() {
		engineOpts = append(engineOpts, guardrails.WithJudge(judge.New(
			judge.WithProvider(cfg.Judge.Provider),
			judge.WithEndpoint(cfg.Judge.Endpoint),
			judge.WithModel(cfg.Judge.Model),
			judge.WithAPIKey(cfg.Judge.APIKey),
		)))
		log.Info().Str("provider", cfg.Judge.Provider).Str("model", cfg.Judge.Model).Msg("✅ LLM judge configured")
	} else {
		log.Warn().Msg("No LLM judge configured, llm_judge conditions will error")
	}

	var (
		audit    contracts.AuditSink = dataStore
		notifier *notify.Dispatcher
	)
	if len(cfg.Notify.WebhookURLs) > 0 {
		events := make([]notify.EventType, 0, len(cfg.Notify.Events))
		for _, e := range cfg.Notify.Events {
			events = append(events, notify.EventType(e))
		}
		channels := make([]notify.Channel, 0, len(cfg.Notify.WebhookURLs))
		for _, u := range cfg.Notify.WebhookURLs {
			channels = append(channels, notify.Channel{URL: u, Secret: cfg.Notify.WebhookSecret, Events: events})
		}
		notifier = notify.NewDispatcher(dataStore, channels)
		audit = notifier
		log.Info().Int("webhooks", len(channels)).Msg("✅ Webhook alerts configured")
	}

	svc := guardrails.NewService(guardrails.NewEngine(engineOpts...), dataStore,
		guardrails.WithCounters(dataStore, cfg.Engine.CounterWindow),
		guardrails.WithAuditSink(audit),
		guardrails.WithFailurePolicy(policy),
	)
	log.Info().
		Int("max_concurrency", cfg.Engine.MaxConcurrency).
		Str("failure_policy", string(policy)).
		Msg("✅ Guardrail engine initialized")

	var janitorOpts []retention.JanitorOption
	if cfg.Retention.ArchiveDir != "" {
		janitorOpts = append(janitorOpts, retention.WithArchiver(
			retention.NewLocalFileArchiver(cfg.Retention.ArchiveDir, cfg.Retention.ArchiveCompress)))
	}
	janitor := retention.NewJanitor(dataStore, cfg.Retention.Interval,
		cfg.Retention.AuditRetention, cfg.Retention.InvocationRetention, janitorOpts...)

	h := handlers.New(dataStore, svc)
	return &Server{
		Handler:      api.NewRouter(cfg, h),
		Store:        dataStore,
		Service:      svc,
		Port:         cfg.Port,
		ShutdownFunc: shutdown,
		watcher:      watcher,
		janitor:      janitor,
		notifier:     notifier,
	}, nil
}

// openStore selects PostgreSQL when a database URL is configured and the
// in-memory store otherwise.
func openStore(ctx context.Context, cfg config.DatabaseConfig) (store.Store, error) {
	if cfg.URL != "" {
		pg, err := store.NewPostgresStore(ctx, cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		log.Info().Msg("✅ PostgreSQL store initialized")
		return pg, nil
	}
	mem := store.NewMemoryStore(cfg.DataDir)
	if cfg.DataDir != "" {
		log.Info().Str("data_dir", cfg.DataDir).Msg("✅ In-memory store initialized (persistent)")
	} else {
		log.Info().Msg("✅ In-memory store initialized")
	}
	return mem, nil
}

// RunBackground runs the catalog watcher and the retention janitor until
// ctx is canceled.
func (s *Server) RunBackground(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	if s.watcher != nil {
		g.Go(func() error {
			s.watcher.Run(gctx)
			return nil
		})
	}
	g.Go(func() error {
		s.janitor.Start(gctx)
		return nil
	})
	return g.Wait()
}

// Close waits for pending webhook deliveries, then closes the store.
func (s *Server) Close() error {
	if s.notifier != nil {
		s.notifier.Wait()
	}
	return s.Store.Close()
}
