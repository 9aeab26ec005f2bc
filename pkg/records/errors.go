package records

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of a record store error.
type ErrorClass string

const (
	// ErrorClassConnectivity indicates a backend could not be reached. The
	// store turns remote connectivity failures into a mode transition.
	ErrorClassConnectivity ErrorClass = "connectivity"

	// ErrorClassDuplicateKey indicates the record key already exists.
	ErrorClassDuplicateKey ErrorClass = "duplicate_key"

	// ErrorClassNotFound indicates the record key does not exist.
	ErrorClassNotFound ErrorClass = "not_found"

	// ErrorClassValidation indicates invalid caller input: missing key or
	// required field, unknown collection, score out of range.
	ErrorClassValidation ErrorClass = "validation"

	// ErrorClassPartialCascade indicates a cascade delete stopped part way.
	ErrorClassPartialCascade ErrorClass = "partial_cascade"

	// ErrorClassInternal indicates an unexpected failure of the local backend.
	ErrorClassInternal ErrorClass = "internal"

	// ErrorClassCanceled indicates the caller cancelled the operation or its
	// deadline passed. The backend is not implicated.
	ErrorClassCanceled ErrorClass = "canceled"
)

// Error represents a classified record store error with context.
type Error struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Collection is the collection the operation targeted.
	Collection string `json:"collection,omitempty"`

	// Key is the record key that caused the error, if applicable.
	Key string `json:"key,omitempty"`

	// Field is the offending field, if applicable.
	Field string `json:"field,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	switch {
	case e.Key != "" && e.Field != "":
		msg += fmt.Sprintf(" (collection=%s, key=%s, field=%s)", e.Collection, e.Key, e.Field)
	case e.Key != "":
		msg += fmt.Sprintf(" (collection=%s, key=%s)", e.Collection, e.Key)
	case e.Field != "":
		msg += fmt.Sprintf(" (collection=%s, field=%s)", e.Collection, e.Field)
	case e.Collection != "":
		msg += fmt.Sprintf(" (collection=%s)", e.Collection)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same class.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Class == t.Class
}

func newError(class ErrorClass, message string, err error) *Error {
	return &Error{Class: class, Message: message, Err: err}
}

// NewConnectivityError creates a new connectivity error.
func NewConnectivityError(message string, err error) *Error {
	return newError(ErrorClassConnectivity, message, err)
}

// NewDuplicateKeyError creates a new duplicate key error.
func NewDuplicateKeyError(collection, key string) *Error {
	return newError(ErrorClassDuplicateKey, "record key already exists", nil).
		WithCollection(collection).WithKey(key)
}

// NewNotFoundError creates a new not-found error.
func NewNotFoundError(collection, key string) *Error {
	return newError(ErrorClassNotFound, "record not found", nil).
		WithCollection(collection).WithKey(key)
}

// NewValidationError creates a new validation error.
func NewValidationError(message string) *Error {
	return newError(ErrorClassValidation, message, nil)
}

// NewPartialCascadeError creates a new partial cascade error.
func NewPartialCascadeError(collection, key string, result CascadeResult, err error) *Error {
	return newError(ErrorClassPartialCascade, "cascade delete incomplete", err).
		WithCollection(collection).
		WithKey(key).
		WithDetail("dependents_removed", result.DependentsRemoved).
		WithDetail("parent_removed", result.ParentRemoved)
}

// NewInternalError creates a new internal error.
func NewInternalError(message string, err error) *Error {
	return newError(ErrorClassInternal, message, err)
}

// NewCanceledError creates a new cancellation error.
func NewCanceledError(err error) *Error {
	return newError(ErrorClassCanceled, "operation canceled", err)
}

// WithCollection adds collection context to an error.
func (e *Error) WithCollection(collection string) *Error {
	e.Collection = collection
	return e
}

// WithKey adds record key context to an error.
func (e *Error) WithKey(key string) *Error {
	e.Key = key
	return e
}

// WithField adds field context to an error.
func (e *Error) WithField(field string) *Error {
	e.Field = field
	return e
}

// WithDetail adds a detail field to the error context.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ClassOf returns the class of err, or "" if err is not a record store error.
func ClassOf(err error) ErrorClass {
	var e *Error
	if errors.As(err, &e) {
		return e.Class
	}
	return ""
}

// IsConnectivity returns true if the error is classified as connectivity.
func IsConnectivity(err error) bool {
	return ClassOf(err) == ErrorClassConnectivity
}

// IsDuplicateKey returns true if the error is classified as duplicate key.
func IsDuplicateKey(err error) bool {
	return ClassOf(err) == ErrorClassDuplicateKey
}

// IsNotFound returns true if the error is classified as not found.
func IsNotFound(err error) bool {
	return ClassOf(err) == ErrorClassNotFound
}

// IsValidation returns true if the error is classified as validation.
func IsValidation(err error) bool {
	return ClassOf(err) == ErrorClassValidation
}

// IsPartialCascade returns true if the error is a partial cascade failure.
func IsPartialCascade(err error) bool {
	return ClassOf(err) == ErrorClassPartialCascade
}

// IsCanceled returns true if the caller cancelled the operation.
func IsCanceled(err error) bool {
	return ClassOf(err) == ErrorClassCanceled
}

// IsInternal returns true if the error is classified as internal.
func IsInternal(err error) bool {
	return ClassOf(err) == ErrorClassInternal
}
