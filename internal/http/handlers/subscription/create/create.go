// Package create реализует HTTP-обработчик оформления платного тарифа.
//
// Handler принимает выбранный план и признак пробного периода. Пробный период
// начинается сразу, иначе возвращается адрес страницы оплаты провайдера.
package create

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/genbilling/internal/http/middlewarectx"
	"github.com/magabrotheeeer/genbilling/internal/http/response"
	"github.com/magabrotheeeer/genbilling/internal/lib/sl"
	"github.com/magabrotheeeer/genbilling/internal/models"
	"github.com/magabrotheeeer/genbilling/internal/paymentprovider"
	"github.com/magabrotheeeer/genbilling/internal/services/subscription"
)

// Handler управляет HTTP-запросами на оформление тарифа.
type Handler struct {
	log      *slog.Logger        // Логгер для записи информации и ошибок
	service  Service             // Сервис подписок
	validate *validator.Validate // Валидатор структуры входящих данных
}

// Service описывает оформление тарифа.
type Service interface {
	Create(ctx context.Context, req subscription.CreateRequest) (*subscription.CreateResult, error)
}

// New создает новый Handler с переданными логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		validate: validator.New(),
	}
}

// Request — тело POST /subscription/create.
type Request struct {
	PlanID     string `json:"planId" validate:"required,max=64" example:"pro_monthly"`
	StartTrial bool   `json:"startTrial" example:"false"`
}

// CreateResponse — начатый пробный период или адрес оплаты.
type CreateResponse struct {
	Trial       bool       `json:"trial,omitempty" example:"true"`
	TrialEndsAt *time.Time `json:"trialEndsAt,omitempty"`
	CheckoutURL string     `json:"checkoutUrl,omitempty" example:"https://checkout.example.com/ch_1"`
}

// ServeHTTP godoc
// @Summary Оформить тариф
// @Description Начинает пробный период выбранного тарифа или создаёт сессию оплаты у провайдера.
// @Tags Subscription
// @Accept  json
// @Produce  json
// @Security BearerAuth
// @Param request body Request true "План и признак пробного периода"
// @Success 200 {object} response.Response{data=CreateResponse} "Пробный период начат или создана оплата"
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON или план"
// @Failure 401 {object} response.ErrorResponse "Пользователь не авторизован"
// @Failure 409 {object} response.ErrorResponse "Пробный период уже использован или тариф уже оформлен"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Failure 502 {object} response.ErrorResponse "Провайдер недоступен"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера"
// @Failure 503 {object} response.ErrorResponse "Хранилище недоступно"
// @Router /subscription/create [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.subscription.create"
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

	res, err := h.service.Create(r.Context(), subscription.CreateRequest{
		UserUID:    uid,
		Email:      middlewarectx.EmailFrom(r.Context()),
		PlanID:     req.PlanID,
		StartTrial: req.StartTrial,
	})
	switch {
	case err == nil:
	case errors.Is(err, models.ErrInvalidPlan):
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid plan"))
		return
	case errors.Is(err, models.ErrTrialAlreadyUsed):
		render.Status(r, http.StatusConflict)
		render.JSON(w, r, response.Error("trial already used"))
		return
	case errors.Is(err, models.ErrAlreadySubscribed):
		render.Status(r, http.StatusConflict)
		render.JSON(w, r, response.Error("already subscribed"))
		return
	case errors.Is(err, models.ErrStoreUnavailable), errors.Is(err, models.ErrConcurrencyConflict):
		log.Error("failed to create subscription", sl.User(uid), sl.Err(err))
		render.Status(r, http.StatusServiceUnavailable)
		render.JSON(w, r, response.Error("service temporarily unavailable"))
		return
	case errors.Is(err, paymentprovider.ErrUnexpectedStatus):
		log.Error("provider rejected checkout", sl.User(uid), sl.Err(err))
		render.Status(r, http.StatusBadGateway)
		render.JSON(w, r, response.Error("payment provider unavailable"))
		return
	default:
		log.Error("failed to create subscription", sl.User(uid), sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not create subscription"))
		return
	}

	log.Info("subscription create handled", sl.User(uid), slog.String("plan_id", req.PlanID), slog.Bool("trial", res.Trial))
	render.JSON(w, r, response.OKWithData(CreateResponse{
		Trial:       res.Trial,
		TrialEndsAt: res.TrialEndsAt,
		CheckoutURL: res.CheckoutURL,
	}))
}
