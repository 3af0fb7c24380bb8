package services

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an entity is not found
	ErrNotFound = errors.New("entity not found")

	// ErrAlreadyExists is returned when attempting to create a duplicate entity
	ErrAlreadyExists = errors.New("entity already exists")

	// ErrInvalidInput is returned when input validation fails
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnauthorizedWebhook is returned when the webhook signature does not
	// match the configured secret
	ErrUnauthorizedWebhook = errors.New("webhook signature mismatch")

	// ErrMalformedEvent is returned when a webhook payload cannot be mapped
	// to a pull-request event
	ErrMalformedEvent = errors.New("malformed webhook payload")

	// ErrEventIgnored is returned for well-formed webhook payloads whose
	// event type is not a pull-request lifecycle event
	ErrEventIgnored = errors.New("event type ignored")
)

// ValidationError wraps field-specific validation errors
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) error {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
