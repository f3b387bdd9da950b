package domain

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyInFlight = errors.New("record already in flight")
	// ErrClaimLost means the record left in_flight before the result was written.
	ErrClaimLost = errors.New("dispatch claim lost")
	ErrQueueFull = errors.New("dispatch queue is full")
)

// ValidationError rejects malformed input synchronously.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Reason)
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// ClassifierErrorKind enumerates classifier failures.
type ClassifierErrorKind string

const (
	ClassifierTimeout             ClassifierErrorKind = "timeout"
	ClassifierInvalidResponse     ClassifierErrorKind = "invalid_response"
	ClassifierUpstreamUnavailable ClassifierErrorKind = "upstream_unavailable"
)

type ClassifierError struct {
	Kind ClassifierErrorKind
	Err  error
}

func (e *ClassifierError) Error() string {
	if e.Err == nil {
		return "classifier: " + string(e.Kind)
	}
	return fmt.Sprintf("classifier: %s: %v", e.Kind, e.Err)
}

func (e *ClassifierError) Unwrap() error { return e.Err }

func NewClassifierError(kind ClassifierErrorKind, err error) *ClassifierError {
	return &ClassifierError{Kind: kind, Err: err}
}

// IsClassifierError reports whether err is a ClassifierError of the given kind.
// An empty kind matches any classifier error.
func IsClassifierError(err error, kind ClassifierErrorKind) bool {
	var ce *ClassifierError
	if !errors.As(err, &ce) {
		return false
	}
	return kind == "" || ce.Kind == kind
}

// DeliveryError records a failed notification delivery.
type DeliveryError struct {
	Channel    string
	RecordID   uuid.UUID
	Attempts   int
	StatusCode int
	Err        error
}

func (e *DeliveryError) Error() string {
	msg := fmt.Sprintf("delivery to %s failed after %d attempt(s)", e.Channel, e.Attempts)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// SuggestionError surfaces reply generation failures to the caller.
type SuggestionError struct {
	RecordID uuid.UUID
	Err      error
}

func (e *SuggestionError) Error() string {
	return fmt.Sprintf("reply suggestion for %s failed: %v", e.RecordID, e.Err)
}

func (e *SuggestionError) Unwrap() error { return e.Err }

// StoreError wraps any persistence failure.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func NewStoreError(op string, err error) *StoreError {
	return &StoreError{Op: op, Err: err}
}

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
