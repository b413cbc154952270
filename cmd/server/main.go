// Command server runs the guardrail engine HTTP service.
//
// It serves guardrail definitions per agent, step evaluation with
// block / warn / modify decisions, tool invocation counters for drift
// detection and the evaluation audit log. Storage is in-memory unless
// DATABASE_URL points at PostgreSQL.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/agentoven/agentoven/guardrail-engine/pkg/server"
)

const shutdownGrace = 15 * time.Second

func main() {
	setupLogging()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("Failed to load .env file")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatal().Err(err).Msg("Guardrail engine stopped")
	}
}

func setupLogging() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	if lvl, err := zerolog.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil && lvl != zerolog.NoLevel {
		zerolog.SetGlobalLevel(lvl)
	}
}

func run(ctx context.Context) error {
	log.Info().Msg("🛡️  Guardrail engine starting...")

	srv, err := server.New(ctx)
	if err != nil {
		return fmt.Errorf("initialize server: %w", err)
	}

	background := make(chan error, 1)
	go func() { background <- srv.RunBackground(ctx) }()

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", srv.Port),
		Handler:           srv.Handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      150 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Int("port", srv.Port).Msg("🔥 Guardrail engine ready")
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case err = <-serveErr:
	case <-ctx.Done():
		log.Info().Msg("🛑 Shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		err = httpServer.Shutdown(shutdownCtx)
		<-background
		if flushErr := srv.ShutdownFunc(shutdownCtx); flushErr != nil {
			log.Warn().Err(flushErr).Msg("Failed to flush telemetry")
		}
	}
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	return errors.Join(err, srv.Close())
}
