package chatwire

import (
	"errors"
	"fmt"
	"strings"
)

const (
	StatusBadRequest          = 400
	StatusNotFound            = 404
	StatusConflict            = 409
	StatusTooManyRequests     = 429
	StatusInternalServerError = 500
	StatusGatewayTimeout      = 504
)

// Error represents a failure inside the coordinator or gateway.
// Scope names the component or conversation the error belongs to.
// Temporary errors are retryable by the caller.
type Error struct {
	Scope     string      `json:"scope,omitempty"`
	Message   string      `json:"message"`
	Code      int         `json:"code"`
	Temporary bool        `json:"temporary"`
	Details   interface{} `json:"details,omitempty"`
	cause     error
}

func (e *Error) Error() string {
	if e.Scope != "" {
		return fmt.Sprintf("%s: %s (code: %d)", e.Scope, e.Message, e.Code)
	}
	return fmt.Sprintf("%s (code: %d)", e.Message, e.Code)
}

func (e *Error) Unwrap() error {
	return e.cause
}

func (e *Error) withDetails(details interface{}) *Error {
	e.Details = details
	return e
}

func wrap(err error, message string) *Error {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		return &Error{
			Scope:     e.Scope,
			Message:   fmt.Sprintf("%s: %s", message, e.Message),
			Code:      e.Code,
			Temporary: e.Temporary,
			Details:   e.Details,
			cause:     e.cause,
		}
	}
	return &Error{
		Message: fmt.Sprintf("%s: %s", message, err),
		Code:    StatusInternalServerError,
		cause:   err,
	}
}

func wrapF(err error, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	return wrap(err, fmt.Sprintf(format, args...))
}

func badRequest(scope, message string) *Error {
	return &Error{
		Message:   message,
		Code:      StatusBadRequest,
		Scope:     scope,
		Temporary: false,
	}
}

func notFound(scope, message string) *Error {
	return &Error{
		Message:   message,
		Code:      StatusNotFound,
		Scope:     scope,
		Temporary: false,
	}
}

func conflict(scope, message string) *Error {
	return &Error{
		Message:   message,
		Code:      StatusConflict,
		Scope:     scope,
		Temporary: false,
	}
}

func internal(scope, message string) *Error {
	return &Error{
		Message:   message,
		Code:      StatusInternalServerError,
		Scope:     scope,
		Temporary: false,
	}
}

func timeout(scope, message string) *Error {
	return &Error{
		Message:   message,
		Code:      StatusGatewayTimeout,
		Scope:     scope,
		Temporary: true,
	}
}

type MultiError struct {
	errors []error
}

func (m *MultiError) Error() string {
	if len(m.errors) == 0 {
		return "no errors"
	}
	messages := make([]string, len(m.errors))

	for i, err := range m.errors {
		messages[i] = err.Error()
	}
	return strings.Join(messages, "; ")
}

func (m *MultiError) Unwrap() []error {
	return m.errors
}

func combine(errs ...error) error {

	var nonNil []error
	for _, err := range errs {
		if err != nil {
			nonNil = append(nonNil, err)
		}
	}
	if len(nonNil) == 0 {
		return nil
	}
	if len(nonNil) == 1 {
		return nonNil[0]
	}
	return &MultiError{errors: nonNil}
}

func addError(base, new error) error {
	if base == nil {
		return new
	}
	if new == nil {
		return base
	}

	var me *MultiError
	if errors.As(base, &me) {
		me.errors = append(me.errors, new)

		return me
	}
	return &MultiError{errors: []error{base, new}}
}
