// Package apperr defines the error kinds surfaced at the membership facade
// boundary. Every lower-level failure is converted to one of them before it
// reaches the API layer.
package apperr

import (
	"errors"
	"fmt"
)

// ValidationError is bad input. It is rejected synchronously and never queued.
type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Code)
}

func Validation(field, code, message string) error {
	return &ValidationError{Field: field, Code: code, Message: message}
}

// LocalStorageError means the device store could not apply an operation.
type LocalStorageError struct {
	Op         string
	Collection string
	Err        error
}

func (e *LocalStorageError) Error() string {
	return fmt.Sprintf("local storage %s %s: %v", e.Op, e.Collection, e.Err)
}

func (e *LocalStorageError) Unwrap() error { return e.Err }

// RemoteUnavailableError covers network failures, timeouts, 5xx responses and
// an open circuit. The mutation is queued and reported as a soft success.
type RemoteUnavailableError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *RemoteUnavailableError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("remote %s unavailable (status %d): %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("remote %s unavailable: %v", e.Op, e.Err)
}

func (e *RemoteUnavailableError) Unwrap() error { return e.Err }

// RemoteRejectedError is a 4xx business-rule failure from the remote service.
type RemoteRejectedError struct {
	Op         string
	StatusCode int
	Code       string
	Message    string
}

func (e *RemoteRejectedError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Code
	}
	return fmt.Sprintf("remote %s rejected (status %d): %s", e.Op, e.StatusCode, msg)
}

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

func IsLocalStorage(err error) bool {
	var target *LocalStorageError
	return errors.As(err, &target)
}

func IsRemoteUnavailable(err error) bool {
	var target *RemoteUnavailableError
	return errors.As(err, &target)
}

func IsRemoteRejected(err error) bool {
	var target *RemoteRejectedError
	return errors.As(err, &target)
}

// AsRemoteRejected returns the rejection carried by err, if any.
func AsRemoteRejected(err error) (*RemoteRejectedError, bool) {
	var target *RemoteRejectedError
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}
