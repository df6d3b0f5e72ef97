// Package cancel реализует HTTP-обработчик отмены подписки.
//
// Локальный пробный период завершается сразу. Платная подписка отменяется у
// провайдера и сохраняет доступ до конца оплаченного периода.
package cancel

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/genbilling/internal/http/middlewarectx"
	"github.com/magabrotheeeer/genbilling/internal/http/response"
	"github.com/magabrotheeeer/genbilling/internal/lib/sl"
	"github.com/magabrotheeeer/genbilling/internal/models"
	"github.com/magabrotheeeer/genbilling/internal/paymentprovider"
)

// Handler обрабатывает запросы на отмену подписки.
type Handler struct {
	log     *slog.Logger
	service Service
	now     func() time.Time
}

// Service описывает отмену подписки.
type Service interface {
	Cancel(ctx context.Context, userUID string) (*models.Subscription, error)
}

// New создает новый Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
		now:     time.Now,
	}
}

// ServeHTTP godoc
// @Summary Отменить подписку
// @Description Завершает локальный пробный период или отменяет платную подписку в конце периода.
// @Tags Subscription
// @Produce  json
// @Security BearerAuth
// @Success 200 {object} response.Response{data=response.Subscription} "Подписка после отмены"
// @Failure 401 {object} response.ErrorResponse "Пользователь не авторизован"
// @Failure 404 {object} response.ErrorResponse "Подписка не найдена"
// @Failure 409 {object} response.ErrorResponse "Подписку нельзя отменить"
// @Failure 502 {object} response.ErrorResponse "Провайдер недоступен"
// @Failure 503 {object} response.ErrorResponse "Хранилище недоступно"
// @Router /subscription/cancel [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.subscription.cancel"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	uid, ok := middlewarectx.UserFrom(r.Context())
	if !ok {
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, response.Error("unauthorized"))
		return
	}

	sub, err := h.service.Cancel(r.Context(), uid)
	switch {
	case err == nil:
	case errors.Is(err, models.ErrNotCancellable):
		render.Status(r, http.StatusConflict)
		render.JSON(w, r, response.Error("subscription is not cancellable"))
		return
	case errors.Is(err, models.ErrNotFound):
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, response.Error("subscription not found"))
		return
	case errors.Is(err, paymentprovider.ErrUnexpectedStatus):
		log.Error("provider rejected cancellation", sl.User(uid), sl.Err(err))
		render.Status(r, http.StatusBadGateway)
		render.JSON(w, r, response.Error("payment provider unavailable"))
		return
	case errors.Is(err, models.ErrStoreUnavailable), errors.Is(err, models.ErrConcurrencyConflict):
		log.Error("failed to cancel subscription", sl.User(uid), sl.Err(err))
		render.Status(r, http.StatusServiceUnavailable)
		render.JSON(w, r, response.Error("service temporarily unavailable"))
		return
	default:
		log.Error("failed to cancel subscription", sl.User(uid), sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not cancel subscription"))
		return
	}

	log.Info("subscription cancelled", sl.User(uid), slog.String("status", string(sub.Status)))
	render.JSON(w, r, response.OKWithData(response.FromSubscription(sub, h.now())))
}
