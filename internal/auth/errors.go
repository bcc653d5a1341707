package auth

import "errors"

// Domain errors for token handling.
var (
	ErrTokenInvalid = errors.New("auth: invalid token")
	ErrNoSecret     = errors.New("auth: token secret is empty")
	ErrInvalidRole  = errors.New("auth: invalid role")
)
