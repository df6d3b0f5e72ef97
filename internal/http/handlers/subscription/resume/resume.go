// Package resume реализует HTTP-обработчик возобновления подписки.
package resume

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

// Handler обрабатывает запросы на возобновление подписки.
type Handler struct {
	log     *slog.Logger
	service Service
	now     func() time.Time
}

// Service описывает возобновление подписки.
type Service interface {
	Resume(ctx context.Context, userUID string) (*models.Subscription, error)
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
// @Summary Возобновить подписку
// @Description Возобновляет приостановленную подписку или снимает отмену в конце периода.
// @Tags Subscription
// @Produce  json
// @Security BearerAuth
// @Success 200 {object} response.Response{data=response.Subscription} "Подписка возобновлена"
// @Failure 401 {object} response.ErrorResponse "Пользователь не авторизован"
// @Failure 404 {object} response.ErrorResponse "Подписка не найдена"
// @Failure 409 {object} response.ErrorResponse "Подписку нельзя возобновить"
// @Failure 502 {object} response.ErrorResponse "Провайдер недоступен"
// @Failure 503 {object} response.ErrorResponse "Хранилище недоступно"
// @Router /subscription/resume [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.subscription.resume"
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

	sub, err := h.service.Resume(r.Context(), uid)
	switch {
	case err == nil:
	case errors.Is(err, models.ErrNotResumable):
		render.Status(r, http.StatusConflict)
		render.JSON(w, r, response.Error("subscription is not resumable"))
		return
	case errors.Is(err, models.ErrNotFound):
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, response.Error("subscription not found"))
		return
	case errors.Is(err, paymentprovider.ErrUnexpectedStatus):
		log.Error("provider rejected resume", sl.User(uid), sl.Err(err))
		render.Status(r, http.StatusBadGateway)
		render.JSON(w, r, response.Error("payment provider unavailable"))
		return
	case errors.Is(err, models.ErrStoreUnavailable), errors.Is(err, models.ErrConcurrencyConflict):
		log.Error("failed to resume subscription", sl.User(uid), sl.Err(err))
		render.Status(r, http.StatusServiceUnavailable)
		render.JSON(w, r, response.Error("service temporarily unavailable"))
		return
	default:
		log.Error("failed to resume subscription", sl.User(uid), sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not resume subscription"))
		return
	}

	log.Info("subscription resumed", sl.User(uid))
	render.JSON(w, r, response.OKWithData(response.FromSubscription(sub, h.now())))
}
