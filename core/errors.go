package core

import "github.com/pkg/errors"

// FieldError ties an error message to a single input field.
type FieldError struct {
	Field string
	Error string
}

// ValidationError reports invalid input. Fields, when present, carries
// per-field messages for the API to shape into a response body.
type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{Err: err, Fields: flds}
}

func (err ValidationError) Error() string {
	if err.Err == nil {
		return ""
	}
	return err.Err.Error()
}

// shutdown marks a state the server cannot recover from.
type shutdown struct {
	message string
}

func NewShutdownError(msg string) error {
	return &shutdown{message: msg}
}

func (s shutdown) Error() string {
	return s.message
}

// IsShutdown checks whether err (or its cause) calls for a graceful shutdown.
func IsShutdown(err error) bool {
	_, ok := errors.Cause(err).(*shutdown)
	return ok
}
