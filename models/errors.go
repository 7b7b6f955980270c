package models

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by the repositories and services.
var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrStaleState        = errors.New("stale reservation state")
	ErrPolicyViolation   = errors.New("not eligible for cancellation")
	ErrForbidden         = errors.New("actor is not a party to this reservation")
	ErrValidation        = errors.New("validation failed")

	// ErrDuplicateRecord indicates a second current or second completed settlement record.
	ErrDuplicateRecord = errors.New("duplicate settlement record")
)

// Error codes surfaced to collaborators.
const (
	CodeInvalidTransition = "invalid_transition"
	CodePolicyViolation   = "policy_violation"
	CodeNotFound          = "reservation_not_found"
	CodeForbidden         = "forbidden"
	CodeValidation        = "validation_error"
	CodeInternal          = "internal_error"
)

// EngineError is a business error carrying a code for the HTTP layer.
type EngineError struct {
	Err     error
	Message string
	Code    string
}

func (e *EngineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

func NewInvalidTransition(id string, from, to ReservationStatus) error {
	return &EngineError{
		Code:    CodeInvalidTransition,
		Message: fmt.Sprintf("reservation %s cannot move from %s to %s", id, from, to),
		Err:     ErrInvalidTransition,
	}
}

func NewPolicyViolation(reason string) error {
	return &EngineError{
		Code:    CodePolicyViolation,
		Message: reason,
		Err:     ErrPolicyViolation,
	}
}

func NewValidationError(msg string) error {
	return &EngineError{
		Code:    CodeValidation,
		Message: msg,
		Err:     ErrValidation,
	}
}
