// Package billing собирает HTTP-приложение биллингового ядра.
package billing

import (
	"log/slog"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/magabrotheeeer/genbilling/internal/http/handlers/credits/adjust"
	"github.com/magabrotheeeer/genbilling/internal/http/handlers/credits/balance"
	"github.com/magabrotheeeer/genbilling/internal/http/handlers/credits/refund"
	"github.com/magabrotheeeer/genbilling/internal/http/handlers/health"
	"github.com/magabrotheeeer/genbilling/internal/http/handlers/payment/paymentwebhook"
	"github.com/magabrotheeeer/genbilling/internal/http/handlers/subscription/cancel"
	"github.com/magabrotheeeer/genbilling/internal/http/handlers/subscription/create"
	"github.com/magabrotheeeer/genbilling/internal/http/handlers/subscription/read"
	"github.com/magabrotheeeer/genbilling/internal/http/handlers/subscription/resume"
	"github.com/magabrotheeeer/genbilling/internal/http/handlers/usage/claim"
	"github.com/magabrotheeeer/genbilling/internal/http/handlers/usage/record"
	"github.com/magabrotheeeer/genbilling/internal/http/handlers/usage/status"
	"github.com/magabrotheeeer/genbilling/internal/http/middlewarectx"
	"github.com/magabrotheeeer/genbilling/internal/metrics"
	"github.com/magabrotheeeer/genbilling/internal/services/generation"
	"github.com/magabrotheeeer/genbilling/internal/services/ledger"
	"github.com/magabrotheeeer/genbilling/internal/services/subscription"
	"github.com/magabrotheeeer/genbilling/internal/services/usage"
	"github.com/magabrotheeeer/genbilling/internal/services/webhook"
)

// Services — зависимости маршрутов.
type Services struct {
	Subscriptions *subscription.Service
	Generations   *generation.Service
	Usage         *usage.Tracker
	Ledger        *ledger.Service
	Webhooks      *webhook.Processor
	Tokens        middlewarectx.TokenParser
	ServiceToken  string
	Health        []health.Check
}

// Throttle — параметры глобального ограничителя запросов.
type Throttle struct {
	RequestsPerSec float64
	Burst          int
}

// RegisterRoutes регистрирует все маршруты приложения.
func RegisterRoutes(r chi.Router, logger *slog.Logger, svc Services, throttle Throttle) {
	// Глобальные middleware
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Logger,
		middleware.Recoverer,
		metrics.Middleware,
	)

	r.Get("/health", health.New(logger, 2*time.Second, svc.Health...).ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/docs/*", httpSwagger.WrapHandler)

	r.Route("/api/v1", func(r chi.Router) {
		// Webhook подписывается провайдером, а не пользователем
		r.Post("/payments/webhook", paymentwebhook.New(logger, svc.Webhooks).ServeHTTP)

		// Внутренние сервисы со служебным ключом
		r.Route("/internal", func(r chi.Router) {
			r.Use(middlewarectx.RequireService(svc.ServiceToken, logger))
			r.Post("/credits/refund", refund.New(logger, svc.Generations).ServeHTTP)
			r.Post("/credits/adjust", adjust.New(logger, svc.Ledger).ServeHTTP)
		})

		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.RateLimitMiddleware(logger, throttle.RequestsPerSec, throttle.Burst))
			r.Use(middlewarectx.Identity(svc.Tokens, logger))

			// Пользователь или анонимная сессия
			r.Group(func(r chi.Router) {
				r.Use(middlewarectx.RequireOwner)
				r.Get("/usage", status.New(logger, svc.Generations).ServeHTTP)
				r.Post("/usage", record.New(logger, svc.Generations).ServeHTTP)
			})

			// Только аутентифицированный пользователь
			r.Group(func(r chi.Router) {
				r.Use(middlewarectx.RequireUser)
				r.Post("/usage/claim", claim.New(logger, svc.Usage).ServeHTTP)
				r.Get("/subscription", read.New(logger, svc.Subscriptions).ServeHTTP)
				r.Post("/subscription/create", create.New(logger, svc.Subscriptions).ServeHTTP)
				r.Post("/subscription/cancel", cancel.New(logger, svc.Subscriptions).ServeHTTP)
				r.Post("/subscription/resume", resume.New(logger, svc.Subscriptions).ServeHTTP)
				r.Get("/credits", balance.New(logger, svc.Ledger).ServeHTTP)
			})
		})
	})
}
