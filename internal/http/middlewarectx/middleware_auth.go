// Package middlewarectx содержит HTTP middleware для определения владельца
// запроса и ограничения потока запросов.
//
// Identity разбирает JWT из заголовка Authorization и кладёт в контекст
// идентификатор пользователя. Анонимный вызывающий передаёт X-Session-ID.
// Невалидный токен отклоняется с HTTP 401 Unauthorized.
package middlewarectx

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/genbilling/internal/http/response"
	"github.com/magabrotheeeer/genbilling/internal/lib/sl"
	"github.com/magabrotheeeer/genbilling/internal/models"
)

// Key тип для ключей контекста HTTP-запроса.
type Key string

const (
	// UserUID — ключ идентификатора пользователя в контексте
	UserUID Key = "user_uid"
	// Email — ключ email пользователя в контексте
	Email Key = "email"
	// SessionID — ключ анонимной сессии в контексте
	SessionID Key = "session_id"
)

// SessionHeader — заголовок анонимной сессии.
const SessionHeader = "X-Session-ID"

const maxSessionIDLen = 128

// Identity возвращает middleware, который определяет владельца запроса.
// Запрос без токена и без сессии пропускается дальше; обязательность
// владельца проверяют RequireUser и RequireOwner.
func Identity(tokens TokenParser, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const op = "middlewarectx.Identity"
			log := log.With(
				slog.String("op", op),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)
			ctx := r.Context()

			if authHeader := r.Header.Get("Authorization"); authHeader != "" {
				if !strings.HasPrefix(authHeader, "Bearer ") {
					log.Warn("invalid authorization header")
					render.Status(r, http.StatusUnauthorized)
					render.JSON(w, r, response.Error("missing or invalid authorization header"))
					return
				}
				claims, err := tokens.ParseToken(strings.TrimPrefix(authHeader, "Bearer "))
				if err != nil {
					log.Warn("invalid or expired token", sl.Err(err))
					render.Status(r, http.StatusUnauthorized)
					render.JSON(w, r, response.Error("invalid or expired token"))
					return
				}
				ctx = context.WithValue(ctx, UserUID, claims.UserUID())
				ctx = context.WithValue(ctx, Email, claims.Email)
			}

			if session := strings.TrimSpace(r.Header.Get(SessionHeader)); session != "" && len(session) <= maxSessionIDLen {
				ctx = context.WithValue(ctx, SessionID, session)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireUser отклоняет запросы без аутентифицированного пользователя.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := UserFrom(r.Context()); !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, response.Error("unauthorized"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireOwner отклоняет запросы без пользователя и без сессии.
func RequireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := OwnerFrom(r.Context()); !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, response.Error("user or session identification missing"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// UserFrom возвращает идентификатор пользователя из контекста.
func UserFrom(ctx context.Context) (string, bool) {
	uid, ok := ctx.Value(UserUID).(string)
	return uid, ok && uid != ""
}

// EmailFrom возвращает email пользователя из контекста.
func EmailFrom(ctx context.Context) string {
	email, _ := ctx.Value(Email).(string)
	return email
}

// SessionFrom возвращает идентификатор анонимной сессии из контекста.
func SessionFrom(ctx context.Context) (string, bool) {
	session, ok := ctx.Value(SessionID).(string)
	return session, ok && session != ""
}

// OwnerFrom возвращает владельца счётчиков: пользователя, если он
// аутентифицирован, иначе сессию.
func OwnerFrom(ctx context.Context) (models.Owner, bool) {
	if uid, ok := UserFrom(ctx); ok {
		return models.UserOwner(uid), true
	}
	if session, ok := SessionFrom(ctx); ok {
		return models.SessionOwner(session), true
	}
	return models.Owner{}, false
}
