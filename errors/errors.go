// Package errors provides standardized error handling patterns for SceneSync
// components. It includes the wire-level error kind taxonomy shared with the
// control protocol, error classification for retry decisions, and helper
// functions for consistent error wrapping across the system.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind is the wire-level error taxonomy carried inside protocol responses.
// It crosses the IPC boundary, so values are stable.
type Kind uint8

const (
	// KindNoError indicates a successful response
	KindNoError Kind = iota
	// KindUnknownError indicates a server-side failure described in text
	KindUnknownError
	// KindMalformedResponse indicates a frame that could not be decoded
	KindMalformedResponse
	// KindProtocolVersionMismatch indicates an incompatible peer
	KindProtocolVersionMismatch
)

// String returns the string representation of Kind
func (k Kind) String() string {
	switch k {
	case KindNoError:
		return "no_error"
	case KindUnknownError:
		return "unknown_error"
	case KindMalformedResponse:
		return "malformed_response"
	case KindProtocolVersionMismatch:
		return "protocol_version_mismatch"
	default:
		return "unknown"
	}
}

// ErrorClass represents the classification of errors for handling purposes
type ErrorClass int

const (
	// ErrorTransient represents temporary errors that may be retried
	ErrorTransient ErrorClass = iota
	// ErrorInvalid represents errors due to invalid input or protocol misuse
	ErrorInvalid
	// ErrorFatal represents unrecoverable errors that should stop processing
	ErrorFatal
)

// String returns the string representation of ErrorClass
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorInvalid:
		return "invalid"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Standard error variables for common conditions
var (
	// Protocol errors
	ErrMalformedResponse       = errors.New("malformed response")
	ErrProtocolVersionMismatch = errors.New("protocol version mismatch")
	ErrUnexpectedResponse      = errors.New("unexpected response type")

	// Connection and networking errors
	ErrNoConnection      = errors.New("no connection available")
	ErrConnectionLost    = errors.New("connection lost")
	ErrConnectionTimeout = errors.New("connection timeout")
	ErrChannelClosed     = errors.New("channel closed")

	// Registry errors
	ErrUnknownConnection = errors.New("unknown connection id")
	ErrWrongState        = errors.New("connection in wrong state")
	ErrWrongType         = errors.New("connection has wrong type")

	// Data errors
	ErrInvalidData   = errors.New("invalid data format")
	ErrParsingFailed = errors.New("parsing failed")

	// Store errors
	ErrIndexOutOfRange  = errors.New("index out of range")
	ErrUnknownProgramme = errors.New("unknown programme")
	ErrUnknownElement   = errors.New("unknown element")
)

// KindError carries a wire-level error kind together with a description.
// Registry and codec failures are converted into one of these rather than
// letting a raw error cross the protocol boundary.
type KindError struct {
	Kind        Kind
	Description string
}

// Error implements the error interface
func (ke *KindError) Error() string {
	if ke.Description != "" {
		return fmt.Sprintf("%s: %s", ke.Kind, ke.Description)
	}
	return ke.Kind.String()
}

// NewKindError creates a KindError with the given kind and description
func NewKindError(kind Kind, description string) *KindError {
	return &KindError{Kind: kind, Description: description}
}

// Malformed creates a KindError signalling a decode failure
func Malformed(description string) *KindError {
	return &KindError{Kind: KindMalformedResponse, Description: description}
}

// Unknown creates a KindError signalling a server-side failure
func Unknown(description string) *KindError {
	return &KindError{Kind: KindUnknownError, Description: description}
}

// KindOf extracts the wire-level kind from an error chain.
// Errors with no embedded kind map to KindUnknownError.
func KindOf(err error) Kind {
	if err == nil {
		return KindNoError
	}
	var ke *KindError
	if errors.As(err, &ke) {
		return ke.Kind
	}
	if errors.Is(err, ErrMalformedResponse) || errors.Is(err, ErrParsingFailed) {
		return KindMalformedResponse
	}
	if errors.Is(err, ErrProtocolVersionMismatch) {
		return KindProtocolVersionMismatch
	}
	return KindUnknownError
}

// ClassifiedError wraps an error with its classification
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// IsTransient checks if an error is transient and should be retried
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorTransient
	}

	if errors.Is(err, ErrConnectionTimeout) ||
		errors.Is(err, ErrConnectionLost) ||
		errors.Is(err, ErrNoConnection) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return true
	}

	// Check error message for common transient patterns
	errStr := strings.ToLower(err.Error())
	transientPatterns := []string{
		"timeout",
		"connection",
		"network",
		"temporary",
		"unavailable",
	}

	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// IsFatal checks if an error is fatal and should stop processing
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorFatal
	}

	return errors.Is(err, ErrProtocolVersionMismatch)
}

// IsInvalid checks if an error is due to invalid input or protocol misuse
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorInvalid
	}

	return errors.Is(err, ErrInvalidData) ||
		errors.Is(err, ErrParsingFailed) ||
		errors.Is(err, ErrMalformedResponse) ||
		errors.Is(err, ErrUnexpectedResponse)
}

// Classify returns the error class for an error
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrorTransient // Default for nil
	}

	if IsFatal(err) {
		return ErrorFatal
	}
	if IsInvalid(err) {
		return ErrorInvalid
	}

	// Default to transient for unknown errors to allow retry
	return ErrorTransient
}

// newClassified creates a new classified error
// This is an internal helper - use WrapTransient(), WrapFatal(), or WrapInvalid() instead.
func newClassified(class ErrorClass, err error, component, operation, message string) *ClassifiedError {
	return &ClassifiedError{
		Class:     class,
		Err:       err,
		Message:   message,
		Component: component,
		Operation: operation,
	}
}

// Wrap creates a standardized error with context following the pattern:
// "component.method: action failed: %w"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

// WrapTransient wraps an error as transient with context
func WrapTransient(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorTransient, wrappedErr, component, method, wrappedErr.Error())
}

// WrapFatal wraps an error as fatal with context
func WrapFatal(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorFatal, wrappedErr, component, method, wrappedErr.Error())
}

// WrapInvalid wraps an error as invalid with context
func WrapInvalid(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorInvalid, wrappedErr, component, method, wrappedErr.Error())
}
