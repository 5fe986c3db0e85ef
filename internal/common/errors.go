// Package common defines the sentinel errors shared by the credential store,
// authenticator, session registry and push channel layers. Callers should
// match them with errors.Is.
package common

import (
	"errors"
	"fmt"
)

var (
	// Store-level errors.
	ErrNotFound          = errors.New("not found")
	ErrDuplicateUsername = errors.New("username already taken")

	// Authentication errors.
	ErrUnknownUser   = errors.New("unknown user")
	ErrBadCredential = errors.New("bad credential")
	ErrValidation    = errors.New("validation error")

	// ErrUsernameTooLong also matches ErrValidation.
	ErrUsernameTooLong = fmt.Errorf("%w: username too long", ErrValidation)

	// Session errors.
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrChannelClosed    = errors.New("channel closed")

	// Token errors.
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)
