// Package paymentwebhook принимает вебхуки платёжного провайдера.
//
// Тело читается целиком до проверки подписи. Провайдер повторяет доставку
// при любом ответе, кроме 2xx, поэтому 2xx возвращается только для
// применённого или уже завершённого события. Событие, которое ещё
// обрабатывает другой получатель, отвечает 409.
package paymentwebhook

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/genbilling/internal/http/response"
	"github.com/magabrotheeeer/genbilling/internal/lib/sl"
	"github.com/magabrotheeeer/genbilling/internal/models"
	"github.com/magabrotheeeer/genbilling/internal/services/webhook"
)

const maxBodyBytes = 1 << 20

// Service описывает обработчик событий провайдера.
type Service interface {
	Process(ctx context.Context, body []byte, signature string) (*webhook.Result, error)
}

// Handler — HTTP-обработчик вебхуков.
type Handler struct {
	log     *slog.Logger // Логгер для записи информации и ошибок
	service Service
}

// New создаёт Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
	}
}

// Ack — ответ на принятую доставку.
type Ack struct {
	Received bool   `json:"received" example:"true"`
	Outcome  string `json:"outcome" example:"applied"`
}

// ServeHTTP godoc
// @Summary Вебхук платёжного провайдера
// @Description Принимает событие провайдера, проверяет подпись creem-signature и применяет его ровно один раз.
// @Tags Payments
// @Accept  json
// @Produce  json
// @Param creem-signature header string true "hex HMAC-SHA256 тела"
// @Success 200 {object} response.Response{data=Ack} "Событие принято"
// @Failure 400 {object} response.ErrorResponse "Некорректное тело"
// @Failure 401 {object} response.ErrorResponse "Неверная подпись"
// @Failure 409 {object} response.ErrorResponse "Событие ещё обрабатывается, провайдер повторит доставку"
// @Failure 500 {object} response.ErrorResponse "Временная ошибка, провайдер повторит доставку"
// @Router /payments/webhook [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.payment.webhook"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		log.Error("failed to read webhook body", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}

	res, err := h.service.Process(r.Context(), body, r.Header.Get(webhook.SignatureHeader))
	switch {
	case errors.Is(err, webhook.ErrInvalidSignature):
		log.Warn("invalid or missing webhook signature")
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, response.Error("invalid signature"))
		return
	case errors.Is(err, webhook.ErrMalformedPayload):
		log.Warn("malformed webhook payload", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid payload"))
		return
	case errors.Is(err, models.ErrEventInFlight):
		log.Info("webhook event is in flight, asking provider to retry")
		render.Status(r, http.StatusConflict)
		render.JSON(w, r, response.Error("event is being processed"))
		return
	case err != nil:
		log.Error("failed to process webhook event", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("webhook processing failed"))
		return
	}

	render.JSON(w, r, response.OKWithData(Ack{Received: true, Outcome: string(res.Outcome)}))
}
