package middlewarectx

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/genbilling/internal/http/response"
)

// ServiceTokenHeader — заголовок служебного ключа внутренних вызовов.
const ServiceTokenHeader = "X-Service-Token"

// RequireService пропускает только запросы внутренних сервисов с ключом
// token в заголовке X-Service-Token. Пустой token закрывает маршрут.
func RequireService(token string, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(ServiceTokenHeader)
			if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				log.Warn("service token rejected",
					slog.String("op", "middlewarectx.RequireService"),
					slog.String("request_id", middleware.GetReqID(r.Context())),
					slog.Bool("present", got != ""))
				render.Status(r, http.StatusForbidden)
				render.JSON(w, r, response.Error("forbidden"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
