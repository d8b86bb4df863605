package shared

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation marks user-correctable input problems.
	ErrValidation = errors.New("validation failed")
	// ErrConflict marks state conflicts such as duplicates or invalid transitions.
	ErrConflict = errors.New("conflict")
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrAccessDenied is returned when the principal may not perform the action.
	ErrAccessDenied = errors.New("access denied")
	// ErrUnauthenticated is returned when no usable identity is attached to the request.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrUnavailable wraps connectivity or permission failures of a backing store.
	ErrUnavailable = errors.New("backing store unavailable")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrCSRFTokenMissing occurs when CSRF token missing.
	ErrCSRFTokenMissing = errors.New("csrf token missing")
	// ErrCSRFTokenMismatch occurs when CSRF tokens do not match.
	ErrCSRFTokenMismatch = errors.New("csrf token mismatch")
)

// FieldError describes a single invalid field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError collects field errors and matches ErrValidation.
type ValidationError struct {
	Fields []FieldError
}

// Add appends a field error.
func (e *ValidationError) Add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

// Err returns nil when no field errors were collected.
func (e *ValidationError) Err() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Unwrap lets errors.Is match ErrValidation.
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// Unavailable wraps a driver error as a retryable backing-store failure.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}
