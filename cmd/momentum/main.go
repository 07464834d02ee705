// Package main provides the momentum worker entry point.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/momentum/internal/config"
	"github.com/thebtf/momentum/internal/worker"
	"github.com/thebtf/momentum/pkg/client"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	dataDir := flag.String("data-dir", "", "Directory for the SQLite database (default: ~/.momentum)")
	port := flag.Int("port", 0, "Listen port (overrides MOMENTUM_WORKER_PORT)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	healthcheck := flag.Bool("healthcheck", false, "Probe a running worker and exit 0 if healthy")
	flag.Parse()

	if *healthcheck {
		os.Exit(probe(*port))
	}

	if err := config.EnsureAll(); err != nil {
		// Logging is not configured yet; the default logger writes JSON to stderr
		log.Fatal().Err(err).Msg("Failed to ensure data directory")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load config, using defaults")
		cfg = config.Default()
	}
	if *debug {
		cfg.LogLevel = "debug"
	}
	setupLogging(cfg)

	if *dataDir != "" {
		cfg.DBPath = filepath.Join(*dataDir, "momentum.db")
	}
	if *port > 0 {
		cfg.WorkerPort = *port
	}

	svc, err := worker.NewService(Version, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create worker service")
	}
	if err := svc.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start worker service")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("Shutting down momentum worker")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := svc.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Shutdown error")
		os.Exit(1)
	}
}

// probe checks the worker on port (or the configured port) and returns an
// exit code.
func probe(port int) int {
	if port <= 0 {
		port = config.GetWorkerPort()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if client.IsRunning(ctx, port) {
		return 0
	}
	fmt.Fprintf(os.Stderr, "momentum worker on port %d is not healthy\n", port)
	return 1
}

// setupLogging configures the global zerolog logger from cfg.
func setupLogging(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	if cfg.LogFormat == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
}
