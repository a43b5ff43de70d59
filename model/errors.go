package model

import (
	"errors"
	"fmt"
)

// Standard error codes.
const (
	ErrBadRequest          = "BAD_REQUEST"
	ErrUnauthorized        = "UNAUTHORIZED"
	ErrForbidden           = "FORBIDDEN"
	ErrNotFound            = "NOT_FOUND"
	ErrConflict            = "CONFLICT"
	ErrValidationError     = "VALIDATION_ERROR"
	ErrInvalidState        = "INVALID_STATE"
	ErrApproverUnavailable = "APPROVER_UNAVAILABLE"
	ErrInternalError       = "INTERNAL_ERROR"
)

// Field-level validation codes.
const (
	FieldRequired      = "REQUIRED"
	FieldUnknown       = "UNKNOWN_FIELD"
	FieldInvalidType   = "INVALID_TYPE"
	FieldInvalidOption = "INVALID_OPTION"
	FieldInvalidFormat = "INVALID_FORMAT"
)

// ErrorEnvelope is the standard error returned by the service. It implements
// the error interface and is rendered as-is by the transport layer.
type ErrorEnvelope struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
	TraceID string       `json:"trace_id,omitempty"`
}

// Error implements the error interface.
func (e *ErrorEnvelope) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// FieldError describes a field-level validation error.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CodeOf returns the envelope code carried by err, or "" when err is not
// (and does not wrap) an *ErrorEnvelope.
func CodeOf(err error) string {
	var ee *ErrorEnvelope
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ""
}

// NewBadRequestError returns a BAD_REQUEST error.
func NewBadRequestError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrBadRequest, Message: msg}
}

// NewUnauthorizedError returns an UNAUTHORIZED error.
func NewUnauthorizedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrUnauthorized, Message: msg}
}

// NewForbiddenError returns a FORBIDDEN error.
func NewForbiddenError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrForbidden, Message: msg}
}

// NewPermissionError returns a FORBIDDEN error for an actor who is not allowed
// to act on a request in its current state (not the current approver, not
// the requester).
func NewPermissionError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrForbidden, Message: msg}
}

// NewNotFoundError returns a NOT_FOUND error.
func NewNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotFound, Message: msg}
}

// NewConflictError returns a CONFLICT error.
func NewConflictError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrConflict, Message: msg}
}

// NewInvalidStateError returns an INVALID_STATE error.
func NewInvalidStateError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrInvalidState, Message: msg}
}

// NewApproverUnavailableError returns an APPROVER_UNAVAILABLE error.
func NewApproverUnavailableError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrApproverUnavailable, Message: msg}
}

// NewValidationError returns a VALIDATION_ERROR with field-level details.
func NewValidationError(details []FieldError) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrValidationError,
		Message: "One or more fields are invalid",
		Details: details,
	}
}

// NewCommentRequiredError returns a VALIDATION_ERROR for an action that must
// carry a comment.
func NewCommentRequiredError(action ActionType) *ErrorEnvelope {
	return NewValidationError([]FieldError{{
		Field:   "comment",
		Code:    FieldRequired,
		Message: fmt.Sprintf("A comment is required to %s a request", action.Verb()),
	}})
}

// NewInternalError returns an INTERNAL_ERROR.
func NewInternalError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInternalError,
		Message: "An unexpected error occurred",
	}
}
