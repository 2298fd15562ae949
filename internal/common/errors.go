// Package common defines shared constants and sentinel errors used across
// the signdesk server layers. Callers should use errors.Is to match these
// values.
package common

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// Repository-level errors.
	ErrNotFound = errors.New("not found")

	// State machine errors.
	ErrInvalidTransition = errors.New("invalid transition")
	ErrNotYourTurn       = errors.New("not your turn")
	ErrEnvelopeClosed    = errors.New("envelope closed")

	// Submission validation; match with errors.Is, inspect field ids via
	// errors.As against *ValidationError.
	ErrValidationFailed = errors.New("validation failed")

	// Service-level errors (generic/internal flow control).
	ErrInternal     = errors.New("internal error")
	ErrUnauthorized = errors.New("unauthorized")

	// Auth errors (invalid or malformed session token).
	ErrInvalidToken = errors.New("invalid token")
)

// ValidationError reports which submitted fields failed validation.
// It unwraps to ErrValidationFailed so callers can branch on the
// sentinel without losing the field list.
type ValidationError struct {
	FieldIDs []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: fields [%s]", strings.Join(e.FieldIDs, ", "))
}

func (e *ValidationError) Unwrap() error {
	return ErrValidationFailed
}
