package identity

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenIssuer issues and verifies the login JWT described in spec §4.6.2:
// sub=username, exp=now+expireMinutes, signed HS256.
type TokenIssuer struct {
	secret        []byte
	expireMinutes int
}

func NewTokenIssuer(secret string, expireMinutes int) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), expireMinutes: expireMinutes}
}

// Issue returns a signed JWT for username.
func (ti *TokenIssuer) Issue(username string) (string, error) {
	claims := jwt.MapClaims{
		"sub": username,
		"exp": time.Now().Add(time.Duration(ti.expireMinutes) * time.Minute).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(ti.secret)
}

// Verify decodes tokenString and returns the subject username. Any
// decoding failure or missing subject is reported as a generic error; the
// caller (auth middleware) maps all of them to AccessDenied per spec §4.6.
func (ti *TokenIssuer) Verify(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return ti.secret, nil
	})
	if err != nil {
		return "", err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("invalid token")
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", fmt.Errorf("missing subject")
	}

	return sub, nil
}
