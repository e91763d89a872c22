package auth

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks missing or malformed registration/login input
	ErrValidation = errors.New("validation failed")
	// ErrUserExists is returned when the email or username is already registered
	ErrUserExists = errors.New("User already exists")
	// ErrUserNotFound is returned by stores when no user matches
	ErrUserNotFound = errors.New("user not found")
	// ErrInvalidCredentials covers both unknown email and wrong password
	ErrInvalidCredentials = errors.New("Invalid credentials")
	// ErrMissingSecret means the token signing secret is not configured
	ErrMissingSecret = errors.New("token signing secret is not configured")
	// ErrTokenExpired means the signature is valid but the token is past expiry
	ErrTokenExpired = errors.New("token expired")
	// ErrInvalidToken means the token is malformed or its signature does not match
	ErrInvalidToken = errors.New("invalid token")
)

// validationError carries the user-facing message while matching ErrValidation
type validationError struct {
	message string
}

func (e *validationError) Error() string {
	return e.message
}

func (e *validationError) Is(target error) bool {
	return target == ErrValidation
}

// NewValidationError returns an error that satisfies errors.Is(err, ErrValidation)
func NewValidationError(format string, args ...interface{}) error {
	return &validationError{message: fmt.Sprintf(format, args...)}
}
