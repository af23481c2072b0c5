// Package app wires configuration, storage, services and the HTTP transport
// into a runnable entitlement server.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"keygate/internal/config"
	"keygate/internal/infrastructure"
	"keygate/internal/services"
	"keygate/internal/store"
	"keygate/internal/token"
	transport "keygate/internal/transport/http"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

// Application is the assembled entitlement server.
type Application struct {
	Config *config.Config
	Server *http.Server
	Store  store.Store
	Logger *slog.Logger
}

// New loads configuration and builds the full application graph.
func New() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return NewWithConfig(cfg)
}

// NewWithConfig builds the application from an already-loaded configuration.
func NewWithConfig(cfg *config.Config) (*Application, error) {
	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.Info("server starting",
		slog.String("version", Version),
		slog.String("store_backend", cfg.Store.Backend),
		slog.Int("port", cfg.Server.Port))

	st, err := newStore(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	codec, err := token.LoadSigningCodec(cfg.Signing.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load signing key: %w", err)
	}

	hbService := services.NewHeartbeatService(st, codec, cfg.Licensing, logger)
	regService := services.NewRegistrationService(st, codec, cfg.Licensing, logger)

	router := transport.NewRouter(cfg, hbService, regService, st, Version, logger)

	server := &http.Server{
		Addr:         cfg.GetAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return &Application{
		Config: cfg,
		Server: server,
		Store:  st,
		Logger: logger,
	}, nil
}

// newStore selects the persistence backend from configuration.
func newStore(cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	switch cfg.Store.Backend {
	case "postgres":
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return store.NewPostgresStore(ctx, cfg.Store.DSN)
	case "memory":
		logger.Warn("using in-memory store, entitlement state will not survive restarts")
		return store.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store backend: %q", cfg.Store.Backend)
	}
}

// Run serves HTTP until the context is canceled or SIGINT/SIGTERM arrives,
// then shuts down gracefully within the configured timeout.
func (a *Application) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.Info("listening", slog.String("addr", a.Server.Addr))
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.Logger.Info("shutting down", slog.String("reason", gctx.Err().Error()))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
		defer cancel()

		if err := a.Server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	err := g.Wait()

	if closeErr := a.Store.Close(); closeErr != nil {
		a.Logger.Error("failed to close store", slog.String("error", closeErr.Error()))
	}
	if logErr := infrastructure.CloseLogFile(); logErr != nil {
		a.Logger.Error("failed to close log file", slog.String("error", logErr.Error()))
	}

	return err
}
