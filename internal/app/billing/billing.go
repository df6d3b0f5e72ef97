package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"golang.org/x/sync/errgroup"

	"github.com/magabrotheeeer/genbilling/internal/app/core"
	"github.com/magabrotheeeer/genbilling/internal/config"
	"github.com/magabrotheeeer/genbilling/internal/http/handlers/health"
	"github.com/magabrotheeeer/genbilling/internal/lib/jwt"
	"github.com/magabrotheeeer/genbilling/internal/migrations"
	"github.com/magabrotheeeer/genbilling/internal/services/generation"
	"github.com/magabrotheeeer/genbilling/internal/services/ratelimit"
	"github.com/magabrotheeeer/genbilling/internal/services/usage"
)

const shutdownTimeout = 15 * time.Second

// App — HTTP-сервер биллингового ядра.
type App struct {
	server *http.Server
	logger *slog.Logger
	core   *core.Core
}

// New применяет миграции, собирает сервисы и маршруты.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	c, err := core.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if err = migrations.Run(c.DB.DB, cfg.MigrationsPath); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	tracker := usage.New(c.DB, logger)
	evaluator := ratelimit.New(cfg.Limits)
	if cfg.ServiceToken == "" {
		logger.Warn("service token is not configured, internal routes are closed")
	}

	services := Services{
		Subscriptions: c.Subscriptions,
		Generations:   generation.New(c.Subscriptions, tracker, c.Ledger, evaluator, logger),
		Usage:         tracker,
		Ledger:        c.Ledger,
		Webhooks:      c.Webhooks,
		Tokens:        jwt.NewJWTMaker(cfg.JWTSecretKey, cfg.TokenTTL),
		ServiceToken:  cfg.ServiceToken,
		Health: []health.Check{
			{Name: "postgres", Pinger: c.DB, Critical: true},
			{Name: "redis", Pinger: c.Cache},
		},
	}

	router := chi.NewRouter()
	RegisterRoutes(router, logger, services, Throttle{
		RequestsPerSec: cfg.RequestsPerSec,
		Burst:          cfg.Burst,
	})

	srv := &http.Server{
		Addr:         cfg.AddressHTTP,
		Handler:      router,
		ReadTimeout:  cfg.TimeoutHTTP,
		WriteTimeout: cfg.TimeoutHTTP,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return &App{
		server: srv,
		logger: logger,
		core:   c,
	}, nil
}

// Run обслуживает запросы до отмены ctx и затем плавно останавливает сервер.
func (a *App) Run(ctx context.Context) error {
	defer a.core.Close()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("HTTP server starting on", slog.String("address", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		timeoutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.logger.Info("shutting down HTTP server gracefully")
		return a.server.Shutdown(timeoutCtx)
	})
	return g.Wait()
}
