// Package worker provides the HTTP service in front of the momentum engine.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm/logger"

	"github.com/thebtf/momentum/internal/config"
	gormdb "github.com/thebtf/momentum/internal/db/gorm"
	"github.com/thebtf/momentum/internal/engine"
	"github.com/thebtf/momentum/internal/lock"
	"github.com/thebtf/momentum/internal/watcher"
	"github.com/thebtf/momentum/internal/worker/sse"
)

// Service wires the store, lock backend, engine and HTTP routes together.
type Service struct {
	startTime      time.Time
	ctx            context.Context
	config         *config.Config
	store          *gormdb.Store
	engine         *engine.Engine
	locker         lock.Locker
	sseBroadcaster *sse.Broadcaster
	settings       *watcher.Watcher
	router         *chi.Mux
	server         *http.Server
	cancel         context.CancelFunc
	closeLocker    func() error
	version        string
	ready          atomic.Bool
}

// NewService opens the configured store and lock backend and builds the
// engine. The caller owns Start and Shutdown.
func NewService(version string, cfg *config.Config) (*Service, error) {
	ctx, cancel := context.WithCancel(context.Background())

	gormLevel := logger.Silent
	if cfg.LogLevel == "debug" {
		gormLevel = logger.Info
	}
	store, err := gormdb.NewStore(gormdb.Config{
		Driver:   cfg.DBDriver,
		Path:     cfg.DBPath,
		DSN:      cfg.DBDSN,
		MaxConns: cfg.MaxConns,
		LogLevel: gormLevel,
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open store: %w", err)
	}

	svc := &Service{
		version:        version,
		config:         cfg,
		store:          store,
		sseBroadcaster: sse.NewBroadcaster(),
		ctx:            ctx,
		cancel:         cancel,
		startTime:      time.Now(),
		closeLocker:    func() error { return nil },
	}

	if cfg.RedisAddr != "" {
		rl, err := lock.NewRedisLocker(ctx, lock.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			TTL:      cfg.LockTTL(),
		})
		if err != nil {
			cancel()
			_ = store.Close()
			return nil, fmt.Errorf("connect redis locker: %w", err)
		}
		svc.locker = rl
		svc.closeLocker = rl.Close
		log.Info().Str("addr", cfg.RedisAddr).Msg("Using Redis lock backend")
	} else {
		svc.locker = lock.NewKeyedMutex()
	}

	eng, err := engine.New(store,
		engine.WithLocker(svc.locker),
		engine.WithNotifier(svc.sseBroadcaster),
		engine.WithLimits(LimitsFromConfig(cfg)),
	)
	if err != nil {
		cancel()
		svc.closeResources()
		return nil, fmt.Errorf("create engine: %w", err)
	}
	svc.engine = eng

	svc.router = chi.NewRouter()
	svc.setupRoutes()
	return svc, nil
}

// LimitsFromConfig converts the configured tunables into engine limits. An
// unknown timezone falls back to UTC with a warning.
func LimitsFromConfig(cfg *config.Config) engine.Limits {
	loc, err := cfg.Location()
	if err != nil {
		log.Warn().Err(err).Msg("Invalid timezone, using UTC")
	}
	return engine.Limits{
		Location:                  loc,
		DailyMomentumCap:          cfg.DailyMomentumCap,
		MaxPlaysPerArtifactPerDay: cfg.MaxPlaysPerDay,
		PracticePowerDelta:        cfg.PracticePowerDelta,
	}
}

func (s *Service) setupRoutes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(s.requireReady)
			r.Use(requireUser)

			r.Get("/momentum", s.handleGetMomentum)
			r.Post("/conversations/complete", s.handleConversationCompleted)

			r.Post("/drills", s.handleSubmitDrill)
			r.Get("/drills", s.handleListDrills)
			r.Get("/eligibility", s.handleEligibility)

			r.Post("/artifacts", s.handleCreateArtifact)
			r.Route("/artifacts/{artifactID}", func(r chi.Router) {
				r.Get("/", s.handleGetArtifact)
				r.Post("/use", s.handleArtifactUse)
				r.Post("/scenarios", s.handleCreateScenario)
				r.Get("/scenarios", s.handleListScenarios)
			})

			r.Put("/profile", s.handleUpsertProfile)
			r.Get("/events", s.handleEvents)
		})
	})
}

// Handler exposes the router, mainly for tests and embedding.
func (s *Service) Handler() http.Handler {
	return s.router
}

// Engine returns the scoring engine.
func (s *Service) Engine() *engine.Engine {
	return s.engine
}

// Start binds the listener, begins serving and starts the settings watcher.
func (s *Service) Start() error {
	ln, err := net.Listen("tcp", s.config.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.config.Addr(), err)
	}

	if w, err := watcher.New(config.SettingsPath(), s.reloadSettings); err != nil {
		log.Warn().Err(err).Msg("Settings watcher unavailable, limits will not hot-reload")
	} else if err := w.Start(); err != nil {
		log.Warn().Err(err).Msg("Failed to start settings watcher")
	} else {
		s.settings = w
	}

	s.serve(ln)
	s.ready.Store(true)
	log.Info().
		Str("addr", ln.Addr().String()).
		Str("version", s.version).
		Str("db_driver", s.store.Driver()).
		Msg("Momentum worker started")
	return nil
}

// serve starts the HTTP server on ln. Event streams are closed as soon as
// shutdown begins so they do not hold it open; other requests drain.
func (s *Service) serve(ln net.Listener) {
	s.server = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return s.ctx },
	}
	s.server.RegisterOnShutdown(s.sseBroadcaster.CloseAll)

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server stopped")
		}
	}()
}

// reloadSettings re-reads the settings file and swaps the engine limits.
// Connection settings are only read at startup.
func (s *Service) reloadSettings() {
	cfg, err := config.Reload()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to reload settings, keeping current limits")
		return
	}
	s.engine.SetLimits(LimitsFromConfig(cfg))
}

// Shutdown stops accepting requests, closes event streams, waits for
// in-flight requests until ctx expires and releases the store and lock
// backend.
func (s *Service) Shutdown(ctx context.Context) error {
	s.ready.Store(false)
	if s.settings != nil {
		_ = s.settings.Stop()
	}

	var shutdownErr error
	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("shutdown http server: %w", err)
		}
	} else {
		s.sseBroadcaster.CloseAll()
	}
	// In-flight requests have drained or the deadline passed
	s.cancel()
	s.closeResources()
	log.Info().Msg("Momentum worker stopped")
	return shutdownErr
}

func (s *Service) closeResources() {
	if err := s.closeLocker(); err != nil {
		log.Warn().Err(err).Msg("Failed to close lock backend")
	}
	if err := s.store.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close store")
	}
}
