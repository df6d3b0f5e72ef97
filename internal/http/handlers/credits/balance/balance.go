// Package balance отдаёт баланс баллов и последние записи кредитного журнала.
package balance

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/genbilling/internal/http/middlewarectx"
	"github.com/magabrotheeeer/genbilling/internal/http/response"
	"github.com/magabrotheeeer/genbilling/internal/lib/sl"
	"github.com/magabrotheeeer/genbilling/internal/models"
)

// Service описывает чтение журнала.
type Service interface {
	Balance(ctx context.Context, userUID string) (*models.Balance, error)
	History(ctx context.Context, userUID string, limit int) ([]*models.CreditTransaction, error)
}

// Handler — HTTP-обработчик GET /credits.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создаёт Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
	}
}

// Transaction — запись журнала в ответе.
type Transaction struct {
	ID           string    `json:"id" example:"5f0c7c1e-8f7e-4a57-9b8e-2f0a1c3d4e5f"`
	Type         string    `json:"type" example:"spend"`
	Amount       int64     `json:"amount" example:"5"`
	BalanceAfter int64     `json:"balanceAfter" example:"95"`
	ReferenceID  string    `json:"referenceId" example:"task_01HZX"`
	Source       string    `json:"source,omitempty" example:"generation"`
	CreatedAt    time.Time `json:"createdAt"`
}

// BalanceResponse — ответ GET /credits.
type BalanceResponse struct {
	Balance        int64         `json:"balance" example:"95"`
	LifetimeEarned int64         `json:"lifetimeEarned" example:"100"`
	LifetimeSpent  int64         `json:"lifetimeSpent" example:"5"`
	Transactions   []Transaction `json:"transactions"`
}

// ServeHTTP godoc
// @Summary Баланс баллов
// @Description Возвращает баланс баллов и последние операции журнала, новые первыми.
// @Tags Credits
// @Produce  json
// @Security BearerAuth
// @Param limit query int false "Число записей журнала"
// @Success 200 {object} response.Response{data=BalanceResponse} "Баланс"
// @Failure 400 {object} response.ErrorResponse "Некорректный limit"
// @Failure 401 {object} response.ErrorResponse "Пользователь не авторизован"
// @Failure 503 {object} response.ErrorResponse "Хранилище недоступно"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера"
// @Router /credits [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.credits.balance"
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

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.Error("invalid limit"))
			return
		}
		limit = n
	}

	b, err := h.service.Balance(r.Context(), uid)
	if errors.Is(err, models.ErrNotFound) {
		b, err = &models.Balance{UserUID: uid}, nil
	}
	if err != nil {
		h.fail(w, r, log, uid, err)
		return
	}
	history, err := h.service.History(r.Context(), uid, limit)
	if err != nil {
		h.fail(w, r, log, uid, err)
		return
	}

	out := BalanceResponse{
		Balance:        b.Balance,
		LifetimeEarned: b.LifetimeEarned,
		LifetimeSpent:  b.LifetimeSpent,
		Transactions:   make([]Transaction, 0, len(history)),
	}
	for _, t := range history {
		out.Transactions = append(out.Transactions, Transaction{
			ID:           t.ID,
			Type:         string(t.Type),
			Amount:       t.Amount,
			BalanceAfter: t.BalanceAfter,
			ReferenceID:  t.ReferenceID,
			Source:       t.Source,
			CreatedAt:    t.CreatedAt,
		})
	}
	render.JSON(w, r, response.OKWithData(out))
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, log *slog.Logger, uid string, err error) {
	log.Error("failed to read credits", sl.User(uid), sl.Err(err))
	if errors.Is(err, models.ErrStoreUnavailable) {
		render.Status(r, http.StatusServiceUnavailable)
		render.JSON(w, r, response.Error("service temporarily unavailable"))
		return
	}
	render.Status(r, http.StatusInternalServerError)
	render.JSON(w, r, response.Error("could not read credits"))
}
