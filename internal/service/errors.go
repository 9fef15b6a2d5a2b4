package service

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingContent means the campaign has no message, template or variant to render
	ErrMissingContent = errors.New("campaign has no content")
	// ErrMissingCredentials means the channel's sender identity or transport is not configured
	ErrMissingCredentials = errors.New("missing provider credentials")
	// ErrInvalidAddress means a recipient address could not be normalized
	ErrInvalidAddress = errors.New("invalid recipient address")
)

// NotFoundError represents a resource not found error
type NotFoundError struct {
	Resource string
	ID       int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with ID %d not found", e.Resource, e.ID)
}

// ValidationError represents a validation error
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s", e.Message)
}

// BusinessLogicError represents a business logic error
type BusinessLogicError struct {
	Message string
}

func (e *BusinessLogicError) Error() string {
	return fmt.Sprintf("business logic error: %s", e.Message)
}

// ConflictError represents a state conflict, such as pausing a completed campaign
type ConflictError struct {
	Resource string
	Message  string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict with %s: %s", e.Resource, e.Message)
}
