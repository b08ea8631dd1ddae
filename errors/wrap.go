package errors

import (
	"errors"
	"fmt"
)

// New creates a classified error with no underlying cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a classified error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an existing error. A nil err yields nil. If err is already
// classified its original code is preserved and only context is added.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	var classified *Error
	if errors.As(err, &classified) {
		return &Error{Code: classified.Code, Message: message, Cause: err}
	}
	return &Error{Code: code, Message: message, Cause: err}
}

// CodeOf extracts the taxonomy code from an error chain. Unclassified errors
// map to CodeInternal so nothing raw ever reaches the wire.
func CodeOf(err error) Code {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Code
	}
	return CodeInternal
}

// MessageOf returns the classified message, or a generic one for raw errors.
func MessageOf(err error) string {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Message
	}
	return "internal error"
}

// Is reports whether any error in the chain carries the given code.
func Is(err error, code Code) bool {
	var classified *Error
	return errors.As(err, &classified) && classified.Code == code
}
