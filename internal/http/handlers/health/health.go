// Package health отдаёт состояние зависимостей сервиса.
package health

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/render"

	"github.com/magabrotheeeer/genbilling/internal/http/response"
	"github.com/magabrotheeeer/genbilling/internal/lib/sl"
)

// Pinger проверяет доступность зависимости.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Check — проверяемая зависимость. Недоступность Critical-зависимости
// переводит ответ в 503.
type Check struct {
	Name     string
	Pinger   Pinger
	Critical bool
}

// Handler — HTTP-обработчик GET /health.
type Handler struct {
	log     *slog.Logger
	checks  []Check
	timeout time.Duration
}

// New создаёт Handler.
func New(log *slog.Logger, timeout time.Duration, checks ...Check) *Handler {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Handler{
		log:     log,
		checks:  checks,
		timeout: timeout,
	}
}

// HealthResponse — состояние сервиса и зависимостей.
type HealthResponse struct {
	Status       string            `json:"status" example:"ok"`
	Dependencies map[string]string `json:"dependencies"`
}

// ServeHTTP godoc
// @Summary Состояние сервиса
// @Description Проверяет Postgres и Redis. Недоступный Redis понижает статус до degraded.
// @Tags Health
// @Produce  json
// @Success 200 {object} response.Response{data=HealthResponse} "Сервис работает"
// @Failure 503 {object} response.Response{data=HealthResponse} "Хранилище недоступно"
// @Router /health [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.health"

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	out := HealthResponse{Status: "ok", Dependencies: make(map[string]string, len(h.checks))}
	code := http.StatusOK
	for _, c := range h.checks {
		if err := c.Pinger.Ping(ctx); err != nil {
			h.log.Warn("dependency unavailable", slog.String("op", op), slog.String("dependency", c.Name), sl.Err(err))
			out.Dependencies[c.Name] = "down"
			if c.Critical {
				out.Status = "unavailable"
				code = http.StatusServiceUnavailable
			} else if out.Status == "ok" {
				out.Status = "degraded"
			}
			continue
		}
		out.Dependencies[c.Name] = "up"
	}

	render.Status(r, code)
	render.JSON(w, r, response.OKWithData(out))
}
