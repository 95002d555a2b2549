// Package errs holds the error taxonomy shared by the engine, the chat core
// and the HTTP layer. Errors carry a Kind so callers can classify them
// after wrapping with fmt.Errorf("...: %w").
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error.
type Kind string

const (
	KindModelNotFound         Kind = "model_not_found"
	KindInvalidModel          Kind = "invalid_model"
	KindContextOverflow       Kind = "context_overflow"
	KindSamplerConfigInvalid  Kind = "sampler_config_invalid"
	KindToolNotFound          Kind = "tool_not_found"
	KindToolExecution         Kind = "tool_execution"
	KindGenerationCancelled   Kind = "generation_cancelled"
	KindSessionBusy           Kind = "session_busy"
	KindSessionNotFound       Kind = "session_not_found"
	KindInvalidArgument       Kind = "invalid_argument"
	KindDependencyUnavailable Kind = "dependency_unavailable"
	KindTooBusy               Kind = "too_busy"
)

// Error is a classified error. Err, when set, is the underlying cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg == "" && e.Err == nil:
		return string(e.Kind)
	case e.Err == nil:
		return e.Msg
	case e.Msg == "":
		return e.Err.Error()
	}
	return e.Msg + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// New returns an error of the given kind.
func New(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies err. A nil err yields nil.
func Wrap(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of the outermost classified error in err's chain,
// or "" when err is unclassified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err (or anything it wraps) is of the given kind.
func Is(err error, kind Kind) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Err
	}
	return false
}

// ErrModelNotFound reports a missing model file or registry id.
func ErrModelNotFound(id string) error { return New(KindModelNotFound, "model not found: %s", id) }

// IsModelNotFound reports whether err indicates a missing model.
func IsModelNotFound(err error) bool { return Is(err, KindModelNotFound) }

// ErrSessionBusy is returned when a generation is already in flight.
func ErrSessionBusy(id string) error { return New(KindSessionBusy, "session busy: %s", id) }

// IsSessionBusy reports whether err indicates an in-flight generation.
func IsSessionBusy(err error) bool { return Is(err, KindSessionBusy) }

// ErrSessionNotFound reports an unknown session handle.
func ErrSessionNotFound(id string) error {
	return New(KindSessionNotFound, "session not found: %s", id)
}

// IsSessionNotFound reports whether err indicates an unknown session handle.
func IsSessionNotFound(err error) bool { return Is(err, KindSessionNotFound) }

// ErrDependencyUnavailable signals a missing runtime dependency (e.g. libllama)
// so the HTTP layer can answer 503 instead of 500.
func ErrDependencyUnavailable(msg string) error { return New(KindDependencyUnavailable, "%s", msg) }

// IsDependencyUnavailable reports whether err indicates a missing runtime dependency.
func IsDependencyUnavailable(err error) bool { return Is(err, KindDependencyUnavailable) }

// ErrTooBusy signals backpressure (a capacity limit was hit).
func ErrTooBusy(what string) error { return New(KindTooBusy, "too busy: %s", what) }

// IsTooBusy reports whether err indicates backpressure.
func IsTooBusy(err error) bool { return Is(err, KindTooBusy) }

// IsCancelled reports whether err is a cancelled generation.
func IsCancelled(err error) bool { return Is(err, KindGenerationCancelled) }
