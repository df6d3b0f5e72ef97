// Package claim переносит счётчик анонимной сессии на вошедшего пользователя.
package claim

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/genbilling/internal/http/middlewarectx"
	"github.com/magabrotheeeer/genbilling/internal/http/response"
	"github.com/magabrotheeeer/genbilling/internal/lib/sl"
)

// Service описывает перенос счётчика.
type Service interface {
	MigrateSession(ctx context.Context, sessionID, userUID string) (int, error)
}

// Handler — HTTP-обработчик POST /usage/claim.
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

// ClaimResponse — число перенесённых генераций.
type ClaimResponse struct {
	Migrated int `json:"migrated" example:"2"`
}

// ServeHTTP godoc
// @Summary Перенести счётчик сессии
// @Description Переносит сегодняшний счётчик анонимной сессии на пользователя. Повторный вызов ничего не переносит.
// @Tags Usage
// @Produce  json
// @Security BearerAuth
// @Param X-Session-ID header string true "Идентификатор анонимной сессии"
// @Success 200 {object} response.Response{data=ClaimResponse} "Перенос выполнен"
// @Failure 400 {object} response.ErrorResponse "Нет сессии"
// @Failure 401 {object} response.ErrorResponse "Пользователь не авторизован"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера"
// @Router /usage/claim [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.usage.claim"
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
	session, ok := middlewarectx.SessionFrom(r.Context())
	if !ok {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("session identification missing"))
		return
	}

	migrated, err := h.service.MigrateSession(r.Context(), session, uid)
	if err != nil {
		log.Error("failed to migrate session usage", sl.User(uid), sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not migrate session usage"))
		return
	}

	render.JSON(w, r, response.OKWithData(ClaimResponse{Migrated: migrated}))
}
