package deploy

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies orchestrator failures for downstream handling.
type ErrorKind string

const (
	// ErrKindValidation rejects a malformed request before any resource
	// is touched.
	ErrKindValidation ErrorKind = "validation"
	// ErrKindProvisioning marks a failed external create or configure call.
	ErrKindProvisioning ErrorKind = "provisioning"
	// ErrKindTimeout marks a step that exceeded its allotted duration. It
	// is handled as a provisioning failure downstream.
	ErrKindTimeout ErrorKind = "timeout"
	// ErrKindTeardown marks a failed destroy during cleanup. Recorded,
	// never propagated as fatal.
	ErrKindTeardown ErrorKind = "teardown"
)

// Error is the orchestrator's error type. Step failures bubble up through
// the phase runner wrapped in one of these.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewValidationError(format string, args ...interface{}) *Error {
	return &Error{Kind: ErrKindValidation, Msg: fmt.Sprintf(format, args...)}
}

func NewProvisioningError(msg string, err error) *Error {
	return &Error{Kind: ErrKindProvisioning, Msg: msg, Err: err}
}

func NewTimeoutError(msg string, err error) *Error {
	return &Error{Kind: ErrKindTimeout, Msg: msg, Err: err}
}

// KindOf extracts the ErrorKind from err, defaulting to provisioning for
// anything a backend returned untyped.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrKindTimeout
	}
	return ErrKindProvisioning
}

// ErrCancelled stops the phase runner when the user deletes a deployment
// that is still provisioning.
var ErrCancelled = errors.New("deployment cancelled")
