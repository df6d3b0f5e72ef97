package models

import (
	"fmt"
	"time"
)

// OwnerKind различает пользователя и анонимную сессию.
type OwnerKind string

const (
	OwnerUser    OwnerKind = "user"
	OwnerSession OwnerKind = "session"
)

// Owner — владелец счётчика использования: либо пользователь, либо сессия.
type Owner struct {
	Kind OwnerKind
	ID   string
}

// UserOwner возвращает владельца-пользователя.
func UserOwner(uid string) Owner {
	return Owner{Kind: OwnerUser, ID: uid}
}

// SessionOwner возвращает владельца-сессию.
func SessionOwner(sessionID string) Owner {
	return Owner{Kind: OwnerSession, ID: sessionID}
}

// IsUser сообщает, что владелец аутентифицирован.
func (o Owner) IsUser() bool {
	return o.Kind == OwnerUser
}

func (o Owner) String() string {
	return fmt.Sprintf("%s:%s", o.Kind, o.ID)
}

// UsageRecord — счётчик генераций владельца за календарный день UTC.
type UsageRecord struct {
	Owner           Owner
	Date            time.Time
	GenerationCount int
}

// UsageSnapshot — агрегированные счётчики для оценки лимитов.
type UsageSnapshot struct {
	Today      int
	ThisMonth  int
	TrialTotal int
}
