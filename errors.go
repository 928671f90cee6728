// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package eventexecutor

import (
	"errors"
	"fmt"
)

// Standard errors.
var (
	// ErrRejectedExecution is returned by submission methods once the
	// executor no longer accepts work from the caller. It is always surfaced
	// synchronously, never recorded on a completion signal.
	ErrRejectedExecution = errors.New("eventexecutor: rejected execution")

	// ErrInvalidArgument is returned (wrapped) for negative delays, nil
	// actions, and invalid configuration.
	ErrInvalidArgument = errors.New("eventexecutor: invalid argument")

	// ErrCancelled is the error carried by a cancelled [Future].
	ErrCancelled = errors.New("eventexecutor: cancelled")

	// ErrFutureNotDone is returned by [Future.Result] while the future is
	// still pending.
	ErrFutureNotDone = errors.New("eventexecutor: future not done")

	// ErrGoexit fails the future of a unit that called runtime.Goexit.
	ErrGoexit = errors.New("eventexecutor: task exited via runtime.Goexit")

	// ErrExecutorShutDown is the cancellation cause given to scheduled tasks
	// that were still pending when the executor reached StateShutDown.
	ErrExecutorShutDown = errors.New("eventexecutor: executor shut down")
)

// PanicError is the failure recorded for a unit that panicked.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("eventexecutor: task panicked: %v", e.Value)
}

// Unwrap returns the panic value if it is an error, enabling [errors.Is] and
// [errors.As] through the panic.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

func invalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidArgument}, args...)...)
}

// cancelledError builds the error for a cancelled future, keeping the cause
// matchable.
func cancelledError(cause error) error {
	switch {
	case cause == nil:
		return ErrCancelled
	case errors.Is(cause, ErrCancelled):
		return cause
	default:
		return fmt.Errorf("%w: %w", ErrCancelled, cause)
	}
}
