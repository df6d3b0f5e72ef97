package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoSubject — в токене нет uid пользователя.
var ErrNoSubject = errors.New("token has no subject")

// CustomClaims — данные, хранящиеся в JWT.
type CustomClaims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// UserUID возвращает uid пользователя из subject.
func (c *CustomClaims) UserUID() string {
	return c.Subject
}

// GenerateToken создаёт токен для пользователя, подписанный секретным ключом.
func (j *MakerImpl) GenerateToken(userUID, email string) (string, error) {
	claims := CustomClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userUID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(j.tokenTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(j.secretKey))
}

// ParseToken проверяет подпись и срок действия токена и возвращает его claims.
func (j *MakerImpl) ParseToken(tokenStr string) (*CustomClaims, error) {
	const op = "jwt.ParseToken"
	token, err := jwt.ParseWithClaims(tokenStr, &CustomClaims{}, func(_ *jwt.Token) (any, error) {
		return []byte(j.secretKey), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	claims, ok := token.Claims.(*CustomClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%s: invalid token", op)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrNoSubject)
	}
	return claims, nil
}
