package mallard

import (
	"errors"
	"fmt"

	"github.com/mallardjs/mallard/engine"
)

var (
	// ErrAlreadyDefined is returned when a binding would shadow an existing
	// global name.
	ErrAlreadyDefined = errors.New("already defined")

	// ErrContextClosed is returned by any operation on a context whose
	// teardown has begun.
	ErrContextClosed = errors.New("context closed")

	// ErrInvalidMethod is returned when a method descriptor cannot be
	// adapted to the native calling convention.
	ErrInvalidMethod = errors.New("invalid method")
)

// EvalError is an engine execution or compilation failure translated for the
// host caller. It carries the engine's formatted diagnostic.
type EvalError struct {
	Message  string
	FileName string
	// Dump holds an engine state dump when the engine provides one.
	Dump string
}

func (e *EvalError) Error() string {
	if e.FileName != "" {
		return fmt.Sprintf("eval error: %s (%s)", e.Message, e.FileName)
	}
	return "eval error: " + e.Message
}

func newEvalError(err error) error {
	var se *engine.ScriptError
	if errors.As(err, &se) {
		return &EvalError{Message: se.Message, FileName: se.FileName, Dump: se.Dump}
	}
	return &EvalError{Message: err.Error()}
}

// HostError wraps a host capability failure captured during a dispatch
// callback and re-raised once control returns across the boundary.
type HostError struct {
	Err error
}

func (e *HostError) Error() string { return "host error: " + e.Err.Error() }

func (e *HostError) Unwrap() error { return e.Err }

// FatalError is an unrecoverable internal engine error. It is delivered by
// panicking, since engine state after a fatal error is undefined.
type FatalError struct {
	Message string
}

func (e *FatalError) Error() string { return "fatal engine error: " + e.Message }
