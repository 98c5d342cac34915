package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/artpar/launchpad/internal/shell/api"
	"github.com/artpar/launchpad/internal/shell/audit"
	"github.com/artpar/launchpad/internal/shell/events"
	"github.com/artpar/launchpad/internal/shell/executor"
	"github.com/artpar/launchpad/internal/shell/lock"
	"github.com/artpar/launchpad/internal/shell/metrics"
	"github.com/artpar/launchpad/internal/shell/orchestrator"
	"github.com/artpar/launchpad/internal/shell/store"
	"github.com/artpar/launchpad/internal/shell/stream"
	"github.com/artpar/launchpad/internal/shell/workers"
)

// =============================================================================
// Exit Codes
// =============================================================================

const (
	ExitSuccess         = 0
	ExitConfigError     = 1
	ExitDatabaseError   = 2
	ExitRedisError      = 3
	ExitHTTPServerError = 4
)

// =============================================================================
// Server
// =============================================================================

// Server represents the launchpad application server.
type Server struct {
	config       *Config
	httpServer   *http.Server
	store        *store.SQLiteStore
	redis        *redis.Client
	orchestrator *orchestrator.Orchestrator
	hub          *stream.Hub
	relay        *stream.Relay
	reaper       *workers.Reaper
	logger       *slog.Logger

	relayCancel context.CancelFunc
}

// NewServer creates a new server with the given config.
func NewServer(cfg *Config, logger *slog.Logger) (*Server, error) {
	s, err := store.NewSQLiteStore(cfg.Database.DSN)
	if err != nil {
		return nil, &ServerError{Op: "NewServer", Err: err, ExitCode: ExitDatabaseError}
	}

	var rdb *redis.Client
	if cfg.Redis.Enabled() {
		rdb, err = events.DialRedis(events.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			s.Close()
			return nil, &ServerError{Op: "NewServer", Err: err, ExitCode: ExitRedisError}
		}
	}

	collector := metrics.New()
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collector,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// Without Redis the relay doubles as the broker: events published by
	// this process reach the websocket clients of this process only.
	hub := stream.NewHub(logger)
	var (
		broker events.Broker
		relay  *stream.Relay
	)
	if rdb != nil {
		broker = events.NewRedisBroker(rdb)
		relay = stream.NewRelay(rdb, cfg.Events.Channel, hub, logger)
	} else {
		relay = stream.NewRelay(nil, cfg.Events.Channel, hub, logger)
		broker = relay
		logger.Info("redis disabled, relaying events in-process")
	}
	publisher := events.NewPublisher(broker, events.Config{
		Channel:        cfg.Events.Channel,
		PublishTimeout: cfg.Events.PublishTimeout,
	}, collector, logger)

	var locker lock.Locker = lock.NewLocalLocker()
	if strings.EqualFold(cfg.Lock.Backend, "redis") {
		locker = lock.NewRedisLocker(rdb, cfg.Lock.TTL, logger)
	}

	runner := executor.New(executor.Config{
		Binary:  cfg.Provider.Binary,
		Path:    cfg.Provider.Path,
		Home:    cfg.Provider.Home,
		WorkDir: cfg.Provider.WorkDir,
	}, collector, logger)

	sink := audit.NewSlogSink(logger)
	orch := orchestrator.New(orchestrator.Deps{
		Services:    s,
		Deployments: s,
		Runner:      runner,
		Tokens:      tokenSource(cfg.Provider),
		Events:      publisher,
		Locker:      locker,
		Audit:       sink,
		Notifier:    sink,
		Metrics:     collector,
		Logger:      logger,
	}, orchestrator.Config{
		MaxParallel:    cfg.Orchestrator.MaxParallel,
		RetryDelay:     cfg.Orchestrator.RetryDelay,
		MaxRetryDelay:  cfg.Orchestrator.MaxRetryDelay,
		DeployTimeout:  cfg.Provider.DeployTimeout,
		CommandTimeout: cfg.Provider.CommandTimeout,
		TokenEnv:       cfg.Provider.TokenEnv,
		Environment:    cfg.Orchestrator.Environment,
	})

	var reaper *workers.Reaper
	if cfg.Reaper.Enabled {
		reaper = workers.NewReaper(s, locker, publisher, workers.ReaperConfig{
			Interval:   cfg.Reaper.Interval,
			StaleAfter: cfg.Reaper.StaleAfter,
		}, logger)
	}

	warnInsecureAuth(cfg.Auth, logger)

	readyChecks := map[string]api.ReadyCheck{"database": s.Ping}
	if rdb != nil {
		readyChecks["redis"] = func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}
	}

	handler := api.SetupAPI(api.APIConfig{
		Orchestrator:     orch,
		Stream:           stream.NewHandler(hub, stream.OriginChecker(cfg.Auth.AllowedOrigins), logger),
		Logger:           logger,
		Metrics:          collector,
		Gatherer:         registry,
		ReadyChecks:      readyChecks,
		AuthSharedSecret: cfg.Auth.SharedSecret,
	})

	httpServer := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return &Server{
		config:       cfg,
		httpServer:   httpServer,
		store:        s,
		redis:        rdb,
		orchestrator: orch,
		hub:          hub,
		relay:        relay,
		reaper:       reaper,
		logger:       logger,
	}, nil
}

// warnInsecureAuth logs the auth settings that leave the API open.
func warnInsecureAuth(cfg AuthConfig, logger *slog.Logger) {
	if cfg.SharedSecret == "" {
		logger.Warn("auth.shared_secret is empty; gateway identity headers are trusted from any caller")
	}
	for _, origin := range cfg.AllowedOrigins {
		if strings.TrimSpace(origin) == "*" {
			logger.Warn("auth.allowed_origins contains *; event streams accept any browser origin")
			break
		}
	}
}

// tokenSource prefers a per-workspace token and falls back to the shared one.
func tokenSource(cfg ProviderConfig) executor.TokenSource {
	if len(cfg.WorkspaceTokens) == 0 {
		return executor.StaticToken(cfg.Token)
	}
	if cfg.Token == "" {
		return executor.TokenMap(cfg.WorkspaceTokens)
	}
	return tokenChain{executor.TokenMap(cfg.WorkspaceTokens), executor.StaticToken(cfg.Token)}
}

type tokenChain []executor.TokenSource

func (c tokenChain) Token(ctx context.Context, workspaceID string) (string, error) {
	err := executor.ErrNoToken
	for _, src := range c {
		var tok string
		if tok, err = src.Token(ctx, workspaceID); err == nil {
			return tok, nil
		}
	}
	return "", err
}

// Start starts the server and blocks until shutdown.
func (s *Server) Start(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 2)

	if s.redis != nil {
		relayCtx, cancel := context.WithCancel(context.Background())
		s.relayCancel = cancel
		go func() {
			if err := s.relay.Run(relayCtx); err != nil {
				errCh <- err
			}
		}()
	}

	if s.reaper != nil {
		s.reaper.Start()
	}

	go func() {
		s.logger.Info("starting HTTP server", "address", s.config.Server.Address())
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var startErr error
	select {
	case sig := <-sigCh:
		s.logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		startErr = &ServerError{Op: "Start", Err: err, ExitCode: ExitHTTPServerError}
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	if err := s.Shutdown(context.Background()); err != nil {
		s.logger.Error("shutdown error", "error", err)
	}
	return startErr
}

// Shutdown stops accepting requests, drains in-flight runs and then closes
// the connections.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.Server.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	if err := s.orchestrator.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("orchestrator shutdown error", "error", err)
	}

	if s.reaper != nil {
		s.reaper.Stop()
	}

	if s.relayCancel != nil {
		s.relayCancel()
	}
	s.hub.CloseAll()

	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Error("redis close error", "error", err)
		}
	}

	if err := s.store.Close(); err != nil {
		s.logger.Error("database close error", "error", err)
	}

	s.logger.Info("shutdown complete")
	return nil
}

// =============================================================================
// Server Error
// =============================================================================

// ServerError represents an error during server operation.
type ServerError struct {
	Op       string
	Err      error
	ExitCode int
}

func (e *ServerError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *ServerError) Unwrap() error {
	return e.Err
}
