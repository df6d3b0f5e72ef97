// Package response содержит вспомогательные типы и функции для формирования
// унифицированных JSON‑ответов HTTP‑обработчиков. Пакет упрощает возврат
// успешных ответов, ошибок и сообщений валидации в едином формате.
package response

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator"
)

// Response описывает стандартную структуру JSON‑ответа сервера.
// Поле Status — статус запроса ("OK" или "Error").
// Поле Error — текст ошибки (опционально, при неуспехе).
// Поле Data — данные ответа (опционально, при успехе).
type Response struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
	Data   any    `json:"data,omitempty"`
}

// ErrorResponse — структура ошибки для Swagger-документации.
// Используется в аннотациях @Failure как возвращаемый тип ошибки.
type ErrorResponse struct {
	Status string `json:"status" example:"Error"`
	Error  string `json:"error" example:"invalid request body"`
}

const (
	// StatusOK — значение статуса для успешного ответа.
	StatusOK = "OK"
	// StatusError — значение статуса для ответа с ошибкой.
	StatusError = "Error"
)

// OKWithData возвращает успешный Response с переданными данными.
func OKWithData(data any) Response {
	return Response{
		Status: StatusOK,
		Data:   data,
	}
}

// Error возвращает Response с ошибкой и переданным сообщением.
func Error(msg string) ErrorResponse {
	return ErrorResponse{
		Status: StatusError,
		Error:  msg,
	}
}

// Limits — действующие лимиты генераций; 0 означает отсутствие лимита.
type Limits struct {
	Daily   int `json:"daily" example:"3"`
	Monthly int `json:"monthly" example:"30"`
}

// Usage — текущие счётчики генераций.
type Usage struct {
	Today     int `json:"today" example:"3"`
	ThisMonth int `json:"thisMonth" example:"12"`
}

// LimitExceeded — ответ 429 при исчерпанной квоте.
type LimitExceeded struct {
	Status  string     `json:"status" example:"Error"`
	Error   string     `json:"error" example:"Daily limit reached"`
	Limits  Limits     `json:"limits"`
	Usage   Usage      `json:"usage"`
	ResetAt *time.Time `json:"resetAt,omitempty"`
}

// InsufficientBalance — ответ 402 при нехватке баллов.
type InsufficientBalance struct {
	Status   string `json:"status" example:"Error"`
	Error    string `json:"error" example:"insufficient balance"`
	Balance  int64  `json:"balance" example:"2"`
	Required int64  `json:"required" example:"5"`
}

// ValidationError формирует Response со статусом Error на основе ошибок валидации.
// Каждое нарушение формируется в человеко‑читаемый текст, объединённый через запятую.
func ValidationError(errs validator.ValidationErrors) Response {
	var errsMsgs []string

	for _, err := range errs {
		switch err.ActualTag() {
		case "required":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s is a required field", err.Field()))
		case "oneof":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s must be one of: %s", err.Field(), err.Param()))
		case "max":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s must be at most %s characters", err.Field(), err.Param()))
		default:
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s is not a valid", err.Field()))
		}
	}
	return Response{
		Status: StatusError,
		Error:  strings.Join(errsMsgs, ", "),
	}
}
