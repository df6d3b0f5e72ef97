// Package sl содержит вспомогательные атрибуты для логгера slog.
package sl

import "log/slog"

// Err возвращает атрибут "error" с текстом ошибки.
//
// Пример:
//
//	log.Error("failed to deduct credits", sl.Err(err))
func Err(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "<nil>")
	}
	return slog.String("error", err.Error())
}

// Op возвращает логгер с атрибутом операции.
func Op(log *slog.Logger, op string) *slog.Logger {
	return log.With(slog.String("op", op))
}

// User возвращает атрибут идентификатора пользователя.
func User(uid string) slog.Attr {
	return slog.String("user_uid", uid)
}
