// Package testtoken mints HS256 bearer tokens accepted by the API when it
// runs with AUTH0_TEST_MODE=1.
package testtoken

import (
	"errors"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

const defaultTTL = time.Hour

// Sign returns a token for email signed with secret.
func Sign(email string, secret []byte, ttl time.Duration) (string, error) {
	if email == "" {
		return "", errors.New("email is required")
	}
	if len(secret) == 0 {
		return "", errors.New("secret is required")
	}
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   "test|" + email,
		"email": email,
		"iat":   now.Unix(),
		"exp":   now.Add(ttl).Unix(),
	})
	return token.SignedString(secret)
}

// FromEnv signs a one hour token for email with TEST_JWT_SECRET.
func FromEnv(email string) (string, error) {
	secret := os.Getenv("TEST_JWT_SECRET")
	if secret == "" {
		return "", errors.New("TEST_JWT_SECRET must be set")
	}
	return Sign(email, []byte(secret), defaultTTL)
}
