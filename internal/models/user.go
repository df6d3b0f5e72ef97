// Package models содержит доменную модель подписчика системы.
package models

import "time"

// Subscriber — конечный пользователь. Создаётся при первой аутентификации
// и никогда не удаляется.
type Subscriber struct {
	UID       string
	Email     string
	CreatedAt time.Time
}
