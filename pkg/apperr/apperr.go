// Package apperr defines typed application errors shared by the domain
// services and the HTTP handlers that translate them into status codes.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Type classifies an application error.
type Type string

const (
	TypeNotFound   Type = "NOT_FOUND"
	TypeValidation Type = "VALIDATION"
	TypeConflict   Type = "CONFLICT"
	TypeInternal   Type = "INTERNAL"
)

// Error is an application error carrying a Type and an optional cause.
type Error struct {
	Type    Type
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NotFound returns a NOT_FOUND error.
func NotFound(format string, args ...interface{}) *Error {
	return &Error{Type: TypeNotFound, Message: fmt.Sprintf(format, args...)}
}

// Validation returns a VALIDATION error.
func Validation(format string, args ...interface{}) *Error {
	return &Error{Type: TypeValidation, Message: fmt.Sprintf(format, args...)}
}

// Conflict returns a CONFLICT error.
func Conflict(format string, args ...interface{}) *Error {
	return &Error{Type: TypeConflict, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a type and message to an underlying error.
func Wrap(t Type, err error, message string) *Error {
	return &Error{Type: t, Message: message, Err: err}
}

// TypeOf reports the Type of err, or TypeInternal when err is not an *Error.
func TypeOf(err error) Type {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Type
	}
	return TypeInternal
}

func IsNotFound(err error) bool   { return TypeOf(err) == TypeNotFound }
func IsValidation(err error) bool { return TypeOf(err) == TypeValidation }
func IsConflict(err error) bool   { return TypeOf(err) == TypeConflict }

// HTTPStatus maps err to the HTTP status code handlers should respond with.
func HTTPStatus(err error) int {
	switch TypeOf(err) {
	case TypeNotFound:
		return http.StatusNotFound
	case TypeValidation:
		return http.StatusBadRequest
	case TypeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
