package domain

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors. The typed errors below match their sentinel through errors.Is.
var (
	ErrValidation      = errors.New("validation failed")
	ErrNetwork         = errors.New("network failure")
	ErrConflict        = errors.New("conflict")
	ErrDeliveryTimeout = errors.New("target not ready")

	ErrNavigationBlocked = errors.New("navigation blocked")
)

// Input errors caught before anything is mutated; all of them match ErrValidation.
var (
	ErrUnknownFeature    = fmt.Errorf("%w: unknown feature", ErrValidation)
	ErrUnknownOutputType = fmt.Errorf("%w: unknown output type", ErrValidation)
	ErrArtifactNotFound  = fmt.Errorf("%w: artifact not found", ErrValidation)
	ErrNotAccepted       = fmt.Errorf("%w: artifact type not accepted by target", ErrValidation)
	ErrNoHandler         = fmt.Errorf("%w: no handler for transfer action", ErrValidation)
)

// ValidationError is raised before any mutation happens: no optimistic state
// was applied and nothing needs to be rolled back.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Invalid builds a ValidationError.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// NetworkError reports that the server was unreachable or rejected the mutation.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: network failure", e.Op)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error        { return e.Err }
func (e *NetworkError) Is(target error) bool { return target == ErrNetwork }

// ConflictError reports that the entity was already absent or changed
// server-side. Deferred commits treat it as idempotent success.
type ConflictError struct {
	EntityKey string
	Err       error
}

func (e *ConflictError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("conflict on %s", e.EntityKey)
	}
	return fmt.Sprintf("conflict on %s: %v", e.EntityKey, e.Err)
}

func (e *ConflictError) Unwrap() error        { return e.Err }
func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// DeliveryTimeoutError reports that a transfer target never subscribed
// within the ready window.
type DeliveryTimeoutError struct {
	Target  Feature
	Timeout time.Duration
}

func (e *DeliveryTimeoutError) Error() string {
	return fmt.Sprintf("target not ready: %s did not subscribe within %s", e.Target, e.Timeout)
}

func (e *DeliveryTimeoutError) Is(target error) bool { return target == ErrDeliveryTimeout }

// ErrorClass buckets an error by the taxonomy that drives rollback decisions.
type ErrorClass string

const (
	ClassNone       ErrorClass = ""
	ClassValidation ErrorClass = "validation"
	ClassNetwork    ErrorClass = "network"
	ClassConflict   ErrorClass = "conflict"
	ClassTimeout    ErrorClass = "delivery_timeout"
	ClassUnknown    ErrorClass = "unknown"
)

// ClassifyError maps err onto the taxonomy. Unrecognised errors are ClassUnknown
// and are handled like network errors (they happened after the mutation began).
func ClassifyError(err error) ErrorClass {
	switch {
	case err == nil:
		return ClassNone
	case errors.Is(err, ErrValidation):
		return ClassValidation
	case errors.Is(err, ErrConflict):
		return ClassConflict
	case errors.Is(err, ErrNetwork):
		return ClassNetwork
	case errors.Is(err, ErrDeliveryTimeout):
		return ClassTimeout
	default:
		return ClassUnknown
	}
}
