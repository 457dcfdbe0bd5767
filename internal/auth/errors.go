package auth

import (
	"errors"
	"fmt"

	"colegio.org/internal/apperr"
)

// ErrInvalidToken indicates the bearer token failed signature or claim validation.
var ErrInvalidToken = errors.New("invalid token")

var errInvalidCredentials = apperr.Unauthorized("invalid credentials")

func invalidToken() error {
	return fmt.Errorf("%w: %w", apperr.ErrUnauthorized, ErrInvalidToken)
}

func sessionExpired() error {
	return apperr.Unauthorized("session expired")
}
