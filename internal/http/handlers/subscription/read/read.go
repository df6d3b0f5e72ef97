// Package read реализует HTTP-обработчик получения подписки текущего пользователя.
//
// Отсутствующая подписка создаётся бесплатной, поэтому авторизованный
// пользователь всегда получает состояние тарифа.
package read

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
)

// Handler обрабатывает запросы на получение подписки.
type Handler struct {
	log     *slog.Logger // Логгер для записи информации и ошибок
	service Service      // Сервис подписок
	now     func() time.Time
}

// Service описывает чтение подписки.
type Service interface {
	Get(ctx context.Context, userUID string) (*models.Subscription, error)
}

// New создает новый Handler с переданным логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
		now:     time.Now,
	}
}

// ServeHTTP godoc
// @Summary Подписка пользователя
// @Description Возвращает тариф, статус, период и баланс баллов текущего пользователя.
// @Tags Subscription
// @Produce  json
// @Security BearerAuth
// @Success 200 {object} response.Response{data=response.Subscription} "Подписка"
// @Failure 401 {object} response.ErrorResponse "Пользователь не авторизован"
// @Failure 503 {object} response.ErrorResponse "Хранилище недоступно"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера"
// @Router /subscription [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.subscription.read"
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

	sub, err := h.service.Get(r.Context(), uid)
	if err != nil {
		log.Error("failed to read subscription", sl.User(uid), sl.Err(err))
		if errors.Is(err, models.ErrStoreUnavailable) {
			render.Status(r, http.StatusServiceUnavailable)
			render.JSON(w, r, response.Error("service temporarily unavailable"))
			return
		}
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not read subscription"))
		return
	}

	render.JSON(w, r, response.OKWithData(response.FromSubscription(sub, h.now())))
}
