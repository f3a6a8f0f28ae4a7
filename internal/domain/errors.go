package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies pipeline failures. Terminal kinds are surfaced to the
// user; transient kinds are routed into the reconnection path instead.
type ErrorKind string

const (
	// ErrPermission means device access was denied by the user or OS.
	ErrPermission ErrorKind = "permission_denied"
	// ErrDeviceUnavailable means the capture device is missing or busy.
	ErrDeviceUnavailable ErrorKind = "device_unavailable"
	// ErrConfiguration means the endpoint or settings are malformed.
	ErrConfiguration ErrorKind = "configuration"
	// ErrAuthentication means the backend rejected the access token.
	ErrAuthentication ErrorKind = "authentication"
	// ErrTransient covers recoverable connection failures.
	ErrTransient ErrorKind = "transient_connection"
	// ErrReconnectionExhausted means the retry ceiling was reached.
	ErrReconnectionExhausted ErrorKind = "reconnection_exhausted"
)

// Terminal reports whether this kind should stop the pipeline rather than retry.
func (k ErrorKind) Terminal() bool {
	return k != ErrTransient
}

// PipelineError is a classified pipeline failure, optionally attributed to a source.
type PipelineError struct {
	Kind   ErrorKind
	Source Source
	Msg    string
	Err    error
}

func (e *PipelineError) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Source != "" {
		return fmt.Sprintf("%s: %s: %s", e.Source, e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// Is lets errors.Is match against a bare *PipelineError carrying only a kind.
func (e *PipelineError) Is(target error) bool {
	var other *PipelineError
	if !errors.As(target, &other) {
		return false
	}
	return other.Kind == e.Kind && (other.Source == "" || other.Source == e.Source)
}

// NewError builds a classified error with a static message.
func NewError(kind ErrorKind, source Source, msg string) *PipelineError {
	return &PipelineError{Kind: kind, Source: source, Msg: msg}
}

// WrapError classifies an underlying error.
func WrapError(kind ErrorKind, source Source, err error) *PipelineError {
	return &PipelineError{Kind: kind, Source: source, Err: err}
}

// KindOf extracts the classification from err, defaulting to ErrTransient.
func KindOf(err error) ErrorKind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ErrTransient
}
