// Package record учитывает генерацию: проверяет квоту, списывает баллы
// платного тарифа и увеличивает счётчик использования.
//
// Повторный запрос с тем же referenceId не списывает баллы повторно и
// возвращает тот же счётчик.
package record

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/genbilling/internal/http/middlewarectx"
	"github.com/magabrotheeeer/genbilling/internal/http/response"
	"github.com/magabrotheeeer/genbilling/internal/lib/sl"
	"github.com/magabrotheeeer/genbilling/internal/models"
	"github.com/magabrotheeeer/genbilling/internal/services/generation"
	"github.com/magabrotheeeer/genbilling/internal/services/ledger"
)

// Service описывает учёт генерации.
type Service interface {
	Record(ctx context.Context, req generation.Request) (*generation.Outcome, error)
}

// Handler — HTTP-обработчик POST /usage.
type Handler struct {
	log      *slog.Logger        // Логгер для записи информации и ошибок
	service  Service             // Сервис генераций
	validate *validator.Validate // Валидатор структуры входящих данных
}

// New создаёт Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		validate: validator.New(),
	}
}

// Request — тело POST /usage.
type Request struct {
	Type        string `json:"type" validate:"required,oneof=image video_standard video_high" example:"image"`
	ReferenceID string `json:"referenceId" validate:"required,max=128" example:"task_01HZX"`
}

// RecordResponse — ответ на учтённую генерацию.
type RecordResponse struct {
	Success  bool   `json:"success" example:"true"`
	NewCount int    `json:"newCount" example:"3"`
	Charged  int64  `json:"charged" example:"0"`
	Balance  *int64 `json:"balance,omitempty"`
	Replayed bool   `json:"replayed,omitempty"`
}

// ServeHTTP godoc
// @Summary Учесть генерацию
// @Description Проверяет лимит тарифа, затем баланс баллов, и атомарно списывает баллы и увеличивает счётчик. Повтор с тем же referenceId идемпотентен.
// @Tags Usage
// @Accept  json
// @Produce  json
// @Security BearerAuth
// @Param X-Session-ID header string false "Идентификатор анонимной сессии"
// @Param request body Request true "Вид генерации и идентификатор задачи"
// @Success 200 {object} response.Response{data=RecordResponse} "Генерация учтена"
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON"
// @Failure 401 {object} response.ErrorResponse "Нет пользователя и сессии"
// @Failure 402 {object} response.InsufficientBalance "Недостаточно баллов"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Failure 429 {object} response.LimitExceeded "Исчерпан лимит"
// @Failure 503 {object} response.ErrorResponse "Хранилище недоступно"
// @Router /usage [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.usage.record"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	owner, ok := middlewarectx.OwnerFrom(r.Context())
	if !ok {
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, response.Error("user or session identification missing"))
		return
	}

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

	out, err := h.service.Record(r.Context(), generation.Request{
		Owner:       owner,
		Type:        models.GenerationType(req.Type),
		ReferenceID: req.ReferenceID,
	})
	if err != nil {
		h.fail(w, r, log, err)
		return
	}

	render.JSON(w, r, response.OKWithData(RecordResponse{
		Success:  true,
		NewCount: out.Count,
		Charged:  out.Charged,
		Balance:  out.Balance,
		Replayed: out.Replayed,
	}))
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	var (
		limitErr   *generation.LimitError
		balanceErr *generation.BalanceError
	)
	switch {
	case errors.As(err, &limitErr):
		d := limitErr.Decision
		used := limitErr.Usage.ThisMonth
		if d.IsTrialing {
			used = limitErr.Usage.TrialTotal
		}
		render.Status(r, http.StatusTooManyRequests)
		render.JSON(w, r, response.LimitExceeded{
			Status:  response.StatusError,
			Error:   d.Reason,
			Limits:  response.Limits{Daily: d.Limits.Daily, Monthly: d.Limits.Monthly},
			Usage:   response.Usage{Today: limitErr.Usage.Today, ThisMonth: used},
			ResetAt: d.ResetAt,
		})
	case errors.As(err, &balanceErr):
		render.Status(r, http.StatusPaymentRequired)
		render.JSON(w, r, response.InsufficientBalance{
			Status:   response.StatusError,
			Error:    "insufficient balance",
			Balance:  balanceErr.Balance,
			Required: balanceErr.Required,
		})
	case errors.Is(err, ledger.ErrUnknownGenerationType):
		render.Status(r, http.StatusUnprocessableEntity)
		render.JSON(w, r, response.Error("unknown generation type"))
	case errors.Is(err, models.ErrStoreUnavailable), errors.Is(err, models.ErrConcurrencyConflict):
		log.Error("failed to record generation", sl.Err(err))
		render.Status(r, http.StatusServiceUnavailable)
		render.JSON(w, r, response.Error("service temporarily unavailable"))
	default:
		log.Error("failed to record generation", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not record generation"))
	}
}
