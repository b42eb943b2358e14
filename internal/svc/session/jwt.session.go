package session

import (
	"fmt"

	"github.com/golang-jwt/jwt/v4"
)

type JWTClaimUser struct {
	UserID       string  `json:"u"`
	TokenVersion float64 `json:"v"`

	jwt.RegisteredClaims
}

func SignJWT(secret string, claim jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claim)

	return token.SignedString([]byte(secret))
}

func VerifyJWT(secret string, token string, out jwt.Claims) (*jwt.Token, error) {
	return jwt.ParseWithClaims(
		token,
		out,
		func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("bad jwt signing method, expected HMAC but got %v", t.Header["alg"])
			}

			return []byte(secret), nil
		},
	)
}
