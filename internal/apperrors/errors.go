// Package apperrors provides the error taxonomy shared by the mljob helpers.
package apperrors

import (
	"errors"
	"fmt"
	"strings"

	sf "github.com/snowflakedb/gosnowflake"
)

// Sentinel errors for classification via errors.Is().
var (
	ErrValidation     = errors.New("validation error")
	ErrNotFound       = errors.New("not found")
	ErrPermission     = errors.New("permission denied")
	ErrAuthentication = errors.New("authentication failed")
	ErrTimeout        = errors.New("timed out")
	ErrInternal       = errors.New("internal error")
)

// Error provides structured error with context.
type Error struct {
	Sentinel error  // Wrapped sentinel for errors.Is() classification
	Message  string // Human-readable message
	Field    string // For validation errors (e.g., "entrypoint")
	Resource string // For not found errors (e.g., "compute pool")
	Op       string // Operation that failed (e.g., "warehouse.put")
	Cause    error  // Underlying error
}

// Error returns the human-readable error message.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap exposes both the sentinel and the cause to errors.Is/errors.As.
func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Sentinel}
	}
	return []error{e.Sentinel, e.Cause}
}

// Validation creates a validation error for a specific field.
func Validation(field, message string) error {
	return &Error{
		Sentinel: ErrValidation,
		Message:  message,
		Field:    field,
	}
}

// NotFound creates a not found error for a resource.
func NotFound(resource, id string) error {
	return &Error{
		Sentinel: ErrNotFound,
		Message:  fmt.Sprintf("%s %s not found", resource, id),
		Resource: resource,
	}
}

// Timeout creates a timeout error for an operation.
func Timeout(op, message string) error {
	return &Error{
		Sentinel: ErrTimeout,
		Message:  message,
		Op:       op,
	}
}

// Internal creates an internal error wrapping an underlying cause.
func Internal(op string, cause error) error {
	return &Error{
		Sentinel: ErrInternal,
		Message:  fmt.Sprintf("%s: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}

// Snowflake error numbers with a known meaning.
const (
	sfInsufficientPrivileges = 3001
	sfObjectNotFound         = 2003
	sfIncorrectCredentials   = 390100
	sfAuthTokenExpired       = 390114
	sfSessionGone            = 390112
)

// Classify maps an error to one of the sentinel categories. It returns nil
// when the error does not fit any of them.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	for _, s := range []error{ErrPermission, ErrAuthentication, ErrNotFound, ErrTimeout, ErrValidation} {
		if errors.Is(err, s) {
			return s
		}
	}

	var sfErr *sf.SnowflakeError
	if errors.As(err, &sfErr) {
		switch sfErr.Number {
		case sfInsufficientPrivileges:
			return ErrPermission
		case sfObjectNotFound:
			return ErrNotFound
		case sfIncorrectCredentials, sfAuthTokenExpired, sfSessionGone:
			return ErrAuthentication
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "insufficient privileges"), strings.Contains(msg, "access control"):
		return ErrPermission
	case strings.Contains(msg, "incorrect username or password"), strings.Contains(msg, "authentication"):
		return ErrAuthentication
	case strings.Contains(msg, "does not exist"), strings.Contains(msg, "not found"):
		return ErrNotFound
	}
	return nil
}

// IsPermission reports whether err looks like a missing-privilege error.
func IsPermission(err error) bool {
	return Classify(err) == ErrPermission
}

// Category names the classification of err for display.
func Category(err error) string {
	switch Classify(err) {
	case ErrPermission:
		return "permission"
	case ErrNotFound:
		return "not found"
	case ErrAuthentication:
		return "authentication"
	case ErrTimeout:
		return "timeout"
	case ErrValidation:
		return "validation"
	default:
		return "other"
	}
}
