// Package adjust выполняет ручную корректировку баланса службой поддержки.
//
// Корректировка доступна только внутренним сервисам со служебным ключом и
// идемпотентна по referenceId.
package adjust

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/genbilling/internal/http/response"
	"github.com/magabrotheeeer/genbilling/internal/lib/sl"
	"github.com/magabrotheeeer/genbilling/internal/models"
)

// Service описывает ручную корректировку баланса.
type Service interface {
	Adjust(ctx context.Context, userUID string, delta int64, referenceID, reason string) (*models.CreditTransaction, error)
}

// Handler — HTTP-обработчик POST /internal/credits/adjust.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

// New создаёт Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		validate: validator.New(),
	}
}

// Request — тело POST /internal/credits/adjust. Отрицательная delta списывает баллы.
type Request struct {
	UserID      string `json:"userId" validate:"required,max=128" example:"user_42"`
	Delta       int64  `json:"delta" validate:"required" example:"25"`
	ReferenceID string `json:"referenceId" validate:"required,max=128" example:"ticket_1042"`
	Reason      string `json:"reason" validate:"required,max=256" example:"compensation for failed render"`
}

// AdjustResponse — результат корректировки.
type AdjustResponse struct {
	ReferenceID string `json:"referenceId" example:"ticket_1042"`
	Amount      int64  `json:"amount" example:"25"`
	Direction   string `json:"direction" example:"credit"`
	Balance     int64  `json:"balance" example:"125"`
}

// ServeHTTP godoc
// @Summary Скорректировать баланс
// @Description Начисляет или списывает баллы вручную. Повтор с тем же referenceId не меняет баланс.
// @Tags Internal
// @Accept  json
// @Produce  json
// @Security ServiceToken
// @Param request body Request true "Пользователь, величина и причина корректировки"
// @Success 200 {object} response.Response{data=AdjustResponse} "Баланс скорректирован"
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON или величина"
// @Failure 403 {object} response.ErrorResponse "Неверный служебный ключ"
// @Failure 404 {object} response.ErrorResponse "Подписчик не найден"
// @Failure 409 {object} response.ErrorResponse "Недостаточно баллов для списания"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Failure 503 {object} response.ErrorResponse "Хранилище недоступно"
// @Router /internal/credits/adjust [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.credits.adjust"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("failed to decode request", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		log.Warn("validation failed", sl.Err(err))
		render.Status(r, http.StatusUnprocessableEntity)
		render.JSON(w, r, response.ValidationError(err.(validator.ValidationErrors)))
		return
	}
	log = log.With(sl.User(req.UserID), slog.String("reference_id", req.ReferenceID))

	t, err := h.service.Adjust(r.Context(), req.UserID, req.Delta, req.ReferenceID, req.Reason)
	switch {
	case err == nil:
	case errors.Is(err, models.ErrInvalidAmount):
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("delta must not be zero"))
		return
	case errors.Is(err, models.ErrNotFound):
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, response.Error("subscriber not found"))
		return
	case errors.Is(err, models.ErrInsufficientBalance):
		log.Info("adjustment rejected: insufficient balance", slog.Int64("delta", req.Delta))
		render.Status(r, http.StatusConflict)
		render.JSON(w, r, response.Error("insufficient balance"))
		return
	case errors.Is(err, models.ErrStoreUnavailable), errors.Is(err, models.ErrConcurrencyConflict):
		log.Error("failed to adjust balance", sl.Err(err))
		render.Status(r, http.StatusServiceUnavailable)
		render.JSON(w, r, response.Error("service temporarily unavailable"))
		return
	default:
		log.Error("failed to adjust balance", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not adjust balance"))
		return
	}

	render.JSON(w, r, response.OKWithData(AdjustResponse{
		ReferenceID: req.ReferenceID,
		Amount:      t.Amount,
		Direction:   t.Metadata["direction"],
		Balance:     t.BalanceAfter,
	}))
}
