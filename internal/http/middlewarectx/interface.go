package middlewarectx

import "github.com/magabrotheeeer/genbilling/internal/lib/jwt"

// TokenParser проверяет JWT и возвращает его claims.
type TokenParser interface {
	ParseToken(token string) (*jwt.CustomClaims, error)
}
