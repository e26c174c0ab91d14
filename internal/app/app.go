package app

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/courier/internal/auth"
	"github.com/vovakirdan/courier/internal/config"
	"github.com/vovakirdan/courier/internal/core"
	"github.com/vovakirdan/courier/internal/service/messaging"
	"github.com/vovakirdan/courier/internal/service/notify"
	"github.com/vovakirdan/courier/internal/service/presence"
	"github.com/vovakirdan/courier/internal/session"
	"github.com/vovakirdan/courier/internal/store"
	"github.com/vovakirdan/courier/internal/store/mongodb"
	"github.com/vovakirdan/courier/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/courier/internal/transport/http"
)

const openTimeout = 10 * time.Second

// App wires together core and transport layers.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	registry        core.Registry
	store           store.Store
	sessions        session.Store
	log             *zerolog.Logger
}

// OpenStore opens the conversation repository selected by cfg.Driver.
func OpenStore(ctx context.Context, cfg config.DatabaseConfig, logger *zerolog.Logger) (store.Store, error) {
	switch cfg.Driver {
	case "sqlite":
		st, err := sqlite.New(cfg.Path)
		if err != nil {
			return nil, err
		}
		return st, nil
	case "mongo":
		ctx, cancel := context.WithTimeout(ctx, openTimeout)
		defer cancel()
		st, err := mongodb.Open(ctx, cfg.MongoURI, cfg.MongoDatabase, logger)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// OpenSessions opens the session store selected by cfg.Driver.
func OpenSessions(cfg config.SessionConfig) (session.Store, error) {
	switch cfg.Driver {
	case "memory":
		return session.NewMemoryStore(), nil
	case "valkey":
		vs, err := session.NewValkeyStore(session.ValkeyOptions{
			Addr:     cfg.ValkeyAddr,
			Password: cfg.ValkeyPassword,
			DB:       cfg.ValkeyDB,
		})
		if err != nil {
			return nil, err
		}
		return vs, nil
	default:
		return nil, fmt.Errorf("unsupported session driver %q", cfg.Driver)
	}
}

// NewAuthService builds the session bridge from configuration.
func NewAuthService(cfg *config.Config, users store.UserStore, sessions session.Store, logger *zerolog.Logger) *auth.Service {
	return auth.NewService(users, sessions, auth.Options{
		Token: auth.TokenConfig{
			Secret: []byte(cfg.Session.Secret),
			Issuer: cfg.Session.Issuer,
			TTL:    cfg.Session.TTL,
		},
		SessionTTL:    cfg.Session.TTL,
		LookupTimeout: cfg.Realtime.HandshakeTimeout,
	}, logger)
}

// New constructs the application with provided configuration.
func New(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	st, err := OpenStore(ctx, cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	logger.Info().Str("driver", cfg.Database.Driver).Msg("database initialized")

	sessions, err := OpenSessions(cfg.Session)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("init sessions: %w", err)
	}
	logger.Info().Str("driver", cfg.Session.Driver).Msg("session store initialized")

	registry := core.NewRegistry()
	router := core.NewRouter(registry, logger)
	messagingService := messaging.New(st, router, logger)

	server := transporthttp.NewServer(transporthttp.Services{
		Auth:      NewAuthService(cfg, st, sessions, logger),
		Messaging: messagingService,
		Presence:  presence.New(router, messagingService, logger),
		Notify:    notify.New(router, registry, logger),
		Registry:  registry,
	}, cfg, logger)

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		registry:        registry,
		store:           st,
		sessions:        sessions,
		log:             logger,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		a.log.Info().Str("addr", a.server.Addr).Msg("http server listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		a.cleanup()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		// Shutdown does not track hijacked websocket connections.
		for _, c := range a.registry.All() {
			c.Kick("server shutting down")
		}
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.cleanup()
			return err
		}

		a.cleanup()
		return <-serverErr
	}
}

// cleanup closes database and other resources.
func (a *App) cleanup() {
	if a.sessions != nil {
		if err := a.sessions.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close session store")
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
