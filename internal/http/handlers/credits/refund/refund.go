// Package refund возвращает баллы за генерацию, которая не была выполнена.
//
// Возврат вызывают внутренние сервисы генерации со служебным ключом. Он
// привязан к пользователю и referenceId исходного списания и выполняется
// не более одного раза. Списание другого пользователя не находится.
package refund

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

// Source — источник записей возврата, создаваемых через API.
const Source = "api:refund"

// Service описывает возврат списания.
type Service interface {
	Refund(ctx context.Context, userUID, referenceID, source string) (*models.CreditTransaction, error)
}

// Handler — HTTP-обработчик POST /internal/credits/refund.
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

// Request — тело POST /internal/credits/refund.
type Request struct {
	UserID      string `json:"userId" validate:"required,max=128" example:"user_42"`
	ReferenceID string `json:"referenceId" validate:"required,max=128" example:"task_01HZX"`
}

// RefundResponse — результат возврата.
type RefundResponse struct {
	ReferenceID string `json:"referenceId" example:"task_01HZX"`
	Refunded    int64  `json:"refunded" example:"5"`
	Balance     int64  `json:"balance" example:"100"`
}

// ServeHTTP godoc
// @Summary Вернуть баллы за генерацию
// @Description Возвращает пользователю баллы списания с указанным referenceId. Повторный вызов не меняет баланс.
// @Tags Internal
// @Accept  json
// @Produce  json
// @Security ServiceToken
// @Param request body Request true "Пользователь и идентификатор задачи генерации"
// @Success 200 {object} response.Response{data=RefundResponse} "Баллы возвращены"
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON"
// @Failure 403 {object} response.ErrorResponse "Неверный служебный ключ"
// @Failure 404 {object} response.ErrorResponse "Списание пользователя не найдено"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Failure 503 {object} response.ErrorResponse "Хранилище недоступно"
// @Router /internal/credits/refund [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.credits.refund"
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

	t, err := h.service.Refund(r.Context(), req.UserID, req.ReferenceID, Source)
	switch {
	case err == nil:
	case errors.Is(err, models.ErrSpendNotFound):
		log.Info("refund rejected: no spend for user")
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, response.Error("spend transaction not found"))
		return
	case errors.Is(err, models.ErrStoreUnavailable), errors.Is(err, models.ErrConcurrencyConflict):
		log.Error("failed to refund credits", sl.Err(err))
		render.Status(r, http.StatusServiceUnavailable)
		render.JSON(w, r, response.Error("service temporarily unavailable"))
		return
	default:
		log.Error("failed to refund credits", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not refund credits"))
		return
	}

	render.JSON(w, r, response.OKWithData(RefundResponse{
		ReferenceID: req.ReferenceID,
		Refunded:    t.Amount,
		Balance:     t.BalanceAfter,
	}))
}
