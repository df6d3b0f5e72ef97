// Package status отдаёт текущую квоту генераций владельца запроса.
package status

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
	"github.com/magabrotheeeer/genbilling/internal/services/generation"
)

// Service описывает расчёт квоты.
type Service interface {
	Status(ctx context.Context, owner models.Owner) (*generation.Status, error)
}

// Handler — HTTP-обработчик GET /usage.
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

// SubscriptionInfo — краткое состояние подписки.
type SubscriptionInfo struct {
	Tier       string `json:"tier" example:"free"`
	Status     string `json:"status" example:"active"`
	IsTrialing bool   `json:"isTrialing" example:"false"`
}

// Remaining — остаток квоты; -1 означает отсутствие лимита.
type Remaining struct {
	Daily   int `json:"daily" example:"2"`
	Monthly int `json:"monthly" example:"-1"`
}

// UsageResponse — ответ GET /usage.
type UsageResponse struct {
	Today        int              `json:"today" example:"1"`
	ThisMonth    int              `json:"thisMonth" example:"12"`
	TrialTotal   *int             `json:"trialTotal,omitempty"`
	Limits       response.Limits  `json:"limits"`
	Remaining    Remaining        `json:"remaining"`
	CanGenerate  bool             `json:"canGenerate" example:"true"`
	Reason       string           `json:"reason,omitempty"`
	ResetAt      *time.Time       `json:"resetAt,omitempty"`
	Subscription SubscriptionInfo `json:"subscription"`
}

// ServeHTTP godoc
// @Summary Текущая квота генераций
// @Description Возвращает счётчики за сегодня и за месяц, действующие лимиты и возможность генерации для пользователя или анонимной сессии.
// @Tags Usage
// @Produce  json
// @Security BearerAuth
// @Param X-Session-ID header string false "Идентификатор анонимной сессии"
// @Success 200 {object} response.Response{data=UsageResponse} "Квота"
// @Failure 401 {object} response.ErrorResponse "Нет пользователя и сессии"
// @Failure 503 {object} response.ErrorResponse "Хранилище недоступно"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера"
// @Router /usage [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.usage.status"
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

	st, err := h.service.Status(r.Context(), owner)
	if err != nil {
		log.Error("failed to get usage", slog.String("owner", owner.String()), sl.Err(err))
		if errors.Is(err, models.ErrStoreUnavailable) {
			render.Status(r, http.StatusServiceUnavailable)
			render.JSON(w, r, response.Error("service temporarily unavailable"))
			return
		}
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not get usage"))
		return
	}

	render.JSON(w, r, response.OKWithData(FromStatus(st)))
}

// FromStatus строит ответ из квоты.
func FromStatus(st *generation.Status) UsageResponse {
	d := st.Decision
	resp := UsageResponse{
		Today:       st.Usage.Today,
		ThisMonth:   st.Usage.ThisMonth,
		Limits:      response.Limits{Daily: d.Limits.Daily, Monthly: d.Limits.Monthly},
		Remaining:   Remaining{Daily: d.Remaining.Daily, Monthly: d.Remaining.Monthly},
		CanGenerate: d.Allowed,
		Reason:      d.Reason,
		ResetAt:     d.ResetAt,
		Subscription: SubscriptionInfo{
			Tier:       string(d.Tier),
			Status:     string(models.StatusActive),
			IsTrialing: d.IsTrialing,
		},
	}
	if st.Subscription != nil {
		resp.Subscription.Tier = string(st.Subscription.Tier)
		resp.Subscription.Status = string(st.Subscription.Status)
	}
	if d.IsTrialing {
		total := st.Usage.TrialTotal
		resp.TrialTotal = &total
	}
	return resp
}
