package services

import (
	"errors"
	"fmt"
)

// GroupOperationError is a business-rule violation whose message is safe to
// show to the end user verbatim.
type GroupOperationError struct {
	Message string
}

func (e *GroupOperationError) Error() string {
	return e.Message
}

// NewGroupOperationError creates a GroupOperationError with a formatted message.
func NewGroupOperationError(format string, args ...any) *GroupOperationError {
	return &GroupOperationError{Message: fmt.Sprintf(format, args...)}
}

// IsGroupOperationError reports whether err is or wraps a GroupOperationError.
func IsGroupOperationError(err error) bool {
	var opErr *GroupOperationError
	return errors.As(err, &opErr)
}

// AccessDeniedError means the caller may not perform the operation (HTTP 403).
type AccessDeniedError struct {
	Message string
}

func (e *AccessDeniedError) Error() string {
	return e.Message
}

// IsAccessDenied reports whether err is or wraps an AccessDeniedError.
func IsAccessDenied(err error) bool {
	var denied *AccessDeniedError
	return errors.As(err, &denied)
}
