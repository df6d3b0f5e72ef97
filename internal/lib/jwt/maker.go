// Package jwt реализует выпуск и проверку JWT вызывающей стороны.
//
// Токены подписываются HS256; subject содержит uid пользователя.
package jwt

import (
	"time"
)

// Maker описывает выпуск и разбор токенов.
type Maker interface {
	GenerateToken(userUID, email string) (string, error)
	ParseToken(tokenStr string) (*CustomClaims, error)
}

// MakerImpl реализует Maker с секретным ключом и временем жизни токена.
type MakerImpl struct {
	secretKey string
	tokenTTL  time.Duration
}

// NewJWTMaker создаёт MakerImpl на основе секретного ключа и TTL.
func NewJWTMaker(secretKey string, ttl time.Duration) *MakerImpl {
	return &MakerImpl{
		secretKey: secretKey,
		tokenTTL:  ttl,
	}
}
